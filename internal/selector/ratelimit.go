package selector

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/avlabs/gemini-gateway/internal/config"
)

// RateLimitTracker computes deduplicated, exponential-backoff delays for
// repeated 429s on the same account+model pair, adapted from the
// teacher's cloudcode.RateLimitState/GetRateLimitBackoff.
type RateLimitTracker struct {
	mu     sync.Mutex
	states map[string]*rlState
	cfg    config.RateLimitConfig
	rng    *rand.Rand
}

type rlState struct {
	consecutive429 int
	lastAt         time.Time
}

func NewRateLimitTracker(cfg config.RateLimitConfig) *RateLimitTracker {
	return &RateLimitTracker{
		states: make(map[string]*rlState),
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func dedupKey(email, model string) string { return email + ":" + model }

// BackoffResult mirrors the teacher's BackoffResult.
type BackoffResult struct {
	Attempt     int
	DelayMs     int64
	IsDuplicate bool
}

// Backoff records a 429 for email/model and returns the delay to apply,
// deduplicating rapid repeats within DedupWindowMs and resetting the
// attempt counter after StateResetMs of inactivity.
func (t *RateLimitTracker) Backoff(email, model string, serverRetryAfterMs int64) BackoffResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	key := dedupKey(email, model)
	prev := t.states[key]

	baseDelay := serverRetryAfterMs
	if baseDelay <= 0 {
		baseDelay = t.cfg.FirstRetryDelayMs
	}

	if prev != nil && now.Sub(prev.lastAt).Milliseconds() < t.cfg.DedupWindowMs {
		delay := int64(math.Min(float64(baseDelay)*math.Pow(2, float64(prev.consecutive429-1)), float64(t.cfg.MaxBackoffMs)))
		return BackoffResult{Attempt: prev.consecutive429, DelayMs: max64(baseDelay, delay), IsDuplicate: true}
	}

	attempt := 1
	if prev != nil && now.Sub(prev.lastAt).Milliseconds() < t.cfg.StateResetMs {
		attempt = prev.consecutive429 + 1
	}
	t.states[key] = &rlState{consecutive429: attempt, lastAt: now}

	delay := int64(math.Min(float64(baseDelay)*math.Pow(2, float64(attempt-1)), float64(t.cfg.MaxBackoffMs)))
	return BackoffResult{Attempt: attempt, DelayMs: max64(baseDelay, delay)}
}

// Clear drops the tracked state for email/model after a successful request.
func (t *RateLimitTracker) Clear(email, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, dedupKey(email, model))
}

// GC evicts entries idle for longer than StateResetMs.
func (t *RateLimitTracker) GC() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(t.cfg.StateResetMs) * time.Millisecond)
	var evicted int
	for k, s := range t.states {
		if s.lastAt.Before(cutoff) {
			delete(t.states, k)
			evicted++
		}
	}
	return evicted
}

// SmartBackoff derives a delay from the error classification itself when
// the server gave no explicit Retry-After/reset, matching
// CalculateSmartBackoff's reason-keyed tiers.
func (t *RateLimitTracker) SmartBackoff(errorText string, serverResetMs int64, consecutiveFailures int) int64 {
	if serverResetMs > 0 {
		return max64(serverResetMs, t.cfg.MinBackoffMs)
	}

	lower := strings.ToLower(errorText)
	switch {
	case strings.Contains(lower, "quota_exhausted") || strings.Contains(lower, "quota exceeded"):
		tiers := t.cfg.QuotaBackoffTiersMs
		idx := consecutiveFailures
		if idx >= len(tiers) {
			idx = len(tiers) - 1
		}
		if idx < 0 {
			idx = 0
		}
		return tiers[idx]
	case strings.Contains(lower, "rate_limit_exceeded") || strings.Contains(lower, "rate limit"):
		return t.cfg.BackoffByErrorType["RATE_LIMIT_EXCEEDED"]
	case strings.Contains(lower, "capacity_exhausted") || strings.Contains(lower, "overloaded"):
		jitter := t.rng.Int63n(t.cfg.CapacityJitterMaxMs)
		return t.cfg.BackoffByErrorType["MODEL_CAPACITY_EXHAUSTED"] + jitter
	case strings.Contains(lower, "server error") || strings.Contains(lower, "internal error"):
		return t.cfg.BackoffByErrorType["SERVER_ERROR"]
	default:
		return t.cfg.BackoffByErrorType["UNKNOWN"]
	}
}

// IsPermanentAuthFailure detects a 401-class error that requires
// re-authentication rather than rotation/backoff.
func IsPermanentAuthFailure(errorText string) bool {
	lower := strings.ToLower(errorText)
	for _, needle := range []string{
		"invalid_grant", "token revoked", "token has been expired or revoked",
		"token_revoked", "invalid_client", "credentials are invalid",
	} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// IsModelCapacityExhausted detects a 429 caused by upstream model
// capacity rather than the account's own quota.
func IsModelCapacityExhausted(errorText string) bool {
	lower := strings.ToLower(errorText)
	for _, needle := range []string{
		"model_capacity_exhausted", "capacity_exhausted",
		"model is currently overloaded", "service temporarily unavailable",
	} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
