// Package selector implements account ranking and eligibility: health
// scoring with passive recovery, per-model quota protection, an AIMD rate
// limiter, a per-account circuit breaker, sticky session affinity, and the
// top-level Selector that combines them into one eligible-account decision.
package selector

import (
	"sync"
	"time"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
)

// HealthMonitor tracks per-account health scores, generalizing the
// teacher's trackers.HealthTracker (reward on success, penalty on
// rate-limit/failure, passive hourly recovery, min-usable floor).
type HealthMonitor struct {
	mu     sync.RWMutex
	scores map[string]*healthRecord
	cfg    config.HealthScoreConfig
}

type healthRecord struct {
	score               float64
	lastUpdated         time.Time
	consecutiveFailures int
	disabledUntil       time.Time
}

func NewHealthMonitor(cfg config.HealthScoreConfig) *HealthMonitor {
	return &HealthMonitor{scores: make(map[string]*healthRecord), cfg: cfg}
}

func (h *HealthMonitor) Score(email string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.scoreLocked(email)
}

func (h *HealthMonitor) scoreLocked(email string) float64 {
	r, ok := h.scores[email]
	if !ok {
		return h.cfg.Initial
	}
	hours := time.Since(r.lastUpdated).Hours()
	recovered := r.score + hours*h.cfg.RecoveryPerHour
	if recovered > h.cfg.MaxScore {
		return h.cfg.MaxScore
	}
	return recovered
}

// Usable reports whether the account clears the minimum health floor and
// isn't inside its explicit disabled_until window (set after repeated
// consecutive failures independent of the passive recovery curve).
func (h *HealthMonitor) Usable(email string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.scores[email]; ok && time.Now().Before(r.disabledUntil) {
		return false
	}
	return h.scoreLocked(email) >= h.cfg.MinUsable
}

func (h *HealthMonitor) RecordSuccess(email string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	score := h.scoreLocked(email) + h.cfg.SuccessReward
	if score > h.cfg.MaxScore {
		score = h.cfg.MaxScore
	}
	h.scores[email] = &healthRecord{score: score, lastUpdated: time.Now()}
}

func (h *HealthMonitor) RecordRateLimit(email string) { h.penalize(email, h.cfg.RateLimitPenalty) }
func (h *HealthMonitor) RecordFailure(email string)    { h.penalize(email, h.cfg.FailurePenalty) }

func (h *HealthMonitor) penalize(email string, penalty float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.scores[email]
	consecutive := 0
	if prev != nil {
		consecutive = prev.consecutiveFailures
	}
	score := h.scoreLocked(email) + penalty
	if score < 0 {
		score = 0
	}
	consecutive++
	rec := &healthRecord{score: score, lastUpdated: time.Now(), consecutiveFailures: consecutive}
	if h.cfg.DisableCooldownMs > 0 && consecutive >= 3 {
		rec.disabledUntil = time.Now().Add(time.Duration(h.cfg.DisableCooldownMs) * time.Millisecond)
	}
	h.scores[email] = rec
}

func (h *HealthMonitor) ConsecutiveFailures(email string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.scores[email]; ok {
		return r.consecutiveFailures
	}
	return 0
}

func (h *HealthMonitor) Reset(email string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scores[email] = &healthRecord{score: h.cfg.Initial, lastUpdated: time.Now()}
}

// QuotaMonitor tracks per-model quota protection, generalizing the
// teacher's trackers.QuotaTracker to operate on the new account.Account type.
type QuotaMonitor struct {
	cfg config.QuotaConfig
}

func NewQuotaMonitor(cfg config.QuotaConfig) *QuotaMonitor { return &QuotaMonitor{cfg: cfg} }

func (q *QuotaMonitor) fresh(acc *account.Account) bool {
	if acc.Quota == nil || acc.Quota.LastChecked == 0 {
		return false
	}
	return time.Since(time.UnixMilli(acc.Quota.LastChecked)) < time.Duration(q.cfg.StaleMs)*time.Millisecond
}

// Critical reports whether acc's quota for modelID is at/below the
// critical threshold, honoring a per-account/per-model override.
func (q *QuotaMonitor) Critical(acc *account.Account, modelID string, override *float64) bool {
	fraction, ok := acc.QuotaFractionFor(modelID)
	if !ok || !q.fresh(acc) {
		return false
	}
	threshold := q.cfg.CriticalThreshold
	if override != nil && *override > 0 {
		threshold = *override
	}
	return fraction <= threshold
}

// Score returns a 0-100 score for ranking, discounted when the reading is stale.
func (q *QuotaMonitor) Score(acc *account.Account, modelID string) float64 {
	fraction, ok := acc.QuotaFractionFor(modelID)
	if !ok {
		return q.cfg.UnknownScore
	}
	score := fraction * 100
	if !q.fresh(acc) {
		score *= 0.9
	}
	return score
}

// EffectiveThreshold resolves per-model > per-account > global precedence,
// matching the teacher's HybridStrategy.getEffectiveThreshold.
func EffectiveThreshold(acc *account.Account, modelID string, global *float64) *float64 {
	if acc.ModelQuotaThresholds != nil {
		if t, ok := acc.ModelQuotaThresholds[modelID]; ok {
			return &t
		}
	}
	if acc.QuotaThreshold != nil {
		return acc.QuotaThreshold
	}
	return global
}
