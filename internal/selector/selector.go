package selector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
)

// FallbackLevel mirrors the teacher's HybridStrategy fallback ladder:
// normal candidates, then progressively relaxed filters when the pool is
// otherwise empty.
type FallbackLevel string

const (
	FallbackNormal     FallbackLevel = "normal"
	FallbackQuota      FallbackLevel = "quota"
	FallbackEmergency  FallbackLevel = "emergency"
	FallbackLastResort FallbackLevel = "lastResort"
)

// ActiveRequestGuard decrements the per-account in-flight counter exactly
// once, however the caller's request ends (success, error, or panic) —
// the scoped-resource idiom for a permit that must never leak.
type ActiveRequestGuard struct {
	release func()
	once    sync.Once
}

func (g *ActiveRequestGuard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		if g.release != nil {
			g.release()
		}
	})
}

// Result is what Selector.Select returns on success.
type Result struct {
	Account  *account.Account
	Guard    *ActiveRequestGuard
	Fallback FallbackLevel
	WaitMs   int64
}

// MetricsSink receives selection and adaptation telemetry. Nil (the
// zero value of Selector.Metrics) means no-op; the composition root
// wires it to internal/metrics once a registry exists.
type MetricsSink interface {
	RecordCandidates(modelID string, count int, fallback FallbackLevel)
	RecordAIMDReward(email string)
	RecordAIMDPenalize(email string)
	RecordCircuitTransition(email string, from, to CircuitState)
}

// Selector combines ranking, eligibility, preemptive throttling, and the
// per-account concurrency gate into a single selection decision,
// generalizing the teacher's HybridStrategy.SelectAccount (scoring) and
// StickyStrategy.SelectAccount (affinity) into one pass with both signals.
type Selector struct {
	manager  *account.Manager
	health   *HealthMonitor
	quota    *QuotaMonitor
	aimd     *AIMDController
	circuit  *CircuitBreakerManager
	sessions *SessionManager

	cfg config.SelectorConfig

	// Metrics is optional telemetry, left nil by New and set directly by
	// the composition root once internal/metrics is constructed.
	Metrics MetricsSink

	mu                   sync.Mutex
	inFlight             map[string]int
	globalQuotaThreshold *float64
}

func New(manager *account.Manager, health *HealthMonitor, quota *QuotaMonitor, aimd *AIMDController, circuit *CircuitBreakerManager, sessions *SessionManager, cfg config.SelectorConfig) *Selector {
	return &Selector{
		manager:  manager,
		health:   health,
		quota:    quota,
		aimd:     aimd,
		circuit:  circuit,
		sessions: sessions,
		cfg:      cfg,
		inFlight: make(map[string]int),
	}
}

// candidate pairs an account with its ranking score.
type candidate struct {
	acc   *account.Account
	score float64
}

// Select resolves (request_type, model, session?, force_account?, force_rotate,
// attempted) to an eligible Account plus its concurrency Guard, or a
// NoAccountsError if none qualify.
func (s *Selector) Select(ctx context.Context, modelID, sessionID string, forceAccount string, forceRotate bool, attempted map[string]struct{}) (*Result, error) {
	all := s.manager.All()
	if len(all) == 0 {
		return nil, errs.NewNoAccountsError("no accounts configured", false)
	}

	if forceAccount != "" && !forceRotate {
		if acc, ok := s.manager.Get(forceAccount); ok && s.eligible(acc, modelID, attempted) {
			return s.finalize(acc, FallbackNormal, 0)
		}
	}

	// Step: session affinity.
	if s.cfg.SessionAffinityEnabled && sessionID != "" {
		if preferred, ok := s.sessions.Preferred(sessionID); ok {
			if acc, found := s.manager.Get(preferred); found && s.eligible(acc, modelID, attempted) {
				return s.finalize(acc, FallbackNormal, 0)
			}
		}
	}

	candidates, fallback := s.buildCandidates(all, modelID, attempted)
	if s.Metrics != nil {
		s.Metrics.RecordCandidates(modelID, len(candidates), fallback)
	}
	if len(candidates) == 0 {
		return nil, errs.NewNoAccountsError("no eligible accounts", s.allRateLimited(all, modelID))
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	best := candidates[0]

	waitMs := int64(0)
	switch fallback {
	case FallbackLastResort:
		waitMs = 500
	case FallbackEmergency:
		waitMs = 250
	}

	return s.finalize(best.acc, fallback, waitMs)
}

func (s *Selector) finalize(acc *account.Account, fallback FallbackLevel, waitMs int64) (*Result, error) {
	guard := s.acquire(acc.Email)
	acc.LastUsed = time.Now().UnixMilli()
	return &Result{Account: acc, Guard: guard, Fallback: fallback, WaitMs: waitMs}, nil
}

// eligible applies the full per-account gate: usable, not rate-limited for
// the model, health floor, circuit closed/half-open, concurrency headroom,
// and the AIMD burst ceiling, collapsed into one predicate so the
// session-affinity fast path can reuse it.
func (s *Selector) eligible(acc *account.Account, modelID string, attempted map[string]struct{}) bool {
	if !acc.Usable() {
		return false
	}
	if _, tried := attempted[acc.Email]; tried {
		return false
	}
	if acc.IsRateLimitedFor(modelID, time.Now()) {
		return false
	}
	if blocked, _ := s.circuit.Check(acc.Email); blocked {
		return false
	}
	if !s.health.Usable(acc.Email) {
		return false
	}
	if s.cfg.MaxConcurrentPerAccount > 0 && s.concurrent(acc.Email) >= s.cfg.MaxConcurrentPerAccount {
		return false
	}
	return true
}

func (s *Selector) buildCandidates(all []*account.Account, modelID string, attempted map[string]struct{}) ([]candidate, FallbackLevel) {
	// Pass 1: full filter set, including quota.
	var normal []candidate
	for _, acc := range all {
		if !s.eligible(acc, modelID, attempted) {
			continue
		}
		threshold := EffectiveThreshold(acc, modelID, s.globalQuotaThreshold)
		if s.quota.Critical(acc, modelID, threshold) {
			continue
		}
		normal = append(normal, candidate{acc: acc, score: s.score(acc, modelID)})
	}
	if len(normal) > 0 {
		return normal, FallbackNormal
	}

	// Pass 2: bypass quota.
	var quotaBypass []candidate
	for _, acc := range all {
		if !s.eligible(acc, modelID, attempted) {
			continue
		}
		quotaBypass = append(quotaBypass, candidate{acc: acc, score: s.score(acc, modelID)})
	}
	if len(quotaBypass) > 0 {
		return quotaBypass, FallbackQuota
	}

	// Pass 3: bypass health too.
	var emergency []candidate
	for _, acc := range all {
		if !acc.Usable() {
			continue
		}
		if _, tried := attempted[acc.Email]; tried {
			continue
		}
		if acc.IsRateLimitedFor(modelID, time.Now()) {
			continue
		}
		if blocked, _ := s.circuit.Check(acc.Email); blocked {
			continue
		}
		emergency = append(emergency, candidate{acc: acc, score: s.score(acc, modelID)})
	}
	if len(emergency) > 0 {
		return emergency, FallbackEmergency
	}

	// Pass 4: last resort, bypass everything but Usable and attempted-set.
	var lastResort []candidate
	for _, acc := range all {
		if !acc.Usable() {
			continue
		}
		if _, tried := attempted[acc.Email]; tried {
			continue
		}
		lastResort = append(lastResort, candidate{acc: acc, score: s.score(acc, modelID)})
	}
	return lastResort, FallbackLastResort
}

// score implements the hybrid ranking formula:
// (Health×2) + ((Tokens/MaxTokens×100)×5) + (Quota×3) + (LRU×0.1),
// where "Tokens" here is the AIMD controller's current adaptive limit
// normalized against its configured max, generalizing the teacher's
// separate token-bucket tracker into the AIMD-driven limit this spec uses.
func (s *Selector) score(acc *account.Account, modelID string) float64 {
	w := s.cfg.Weights

	health := s.health.Score(acc.Email) * w.Health

	limit := float64(s.aimd.Limit(acc.Email))
	maxLimit := float64(maxUint64(s.aimd.cfg.MaxLimit, 1))
	tokenRatio := limit / maxLimit
	tokens := (tokenRatio * 100) * w.Tokens

	quota := s.quota.Score(acc, modelID) * w.Quota

	elapsed := time.Now().UnixMilli() - acc.LastUsed
	if acc.LastUsed == 0 {
		elapsed = 3_600_000
	}
	if elapsed > 3_600_000 {
		elapsed = 3_600_000
	}
	lru := (float64(elapsed) / 1000) * w.LRU

	return health + tokens + quota + lru
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func (s *Selector) allRateLimited(all []*account.Account, modelID string) bool {
	now := time.Now()
	for _, acc := range all {
		if !acc.Usable() {
			continue
		}
		if !acc.IsRateLimitedFor(modelID, now) {
			return false
		}
	}
	return true
}

// NotifySuccess updates health, AIMD, circuit, and session-affinity state
// after a successful upstream call.
func (s *Selector) NotifySuccess(acc *account.Account, modelID, sessionID string) {
	before := s.circuit.State(acc.Email)
	s.health.RecordSuccess(acc.Email)
	s.aimd.Reward(acc.Email)
	s.circuit.RecordSuccess(acc.Email)
	if s.cfg.SessionAffinityEnabled && sessionID != "" {
		s.sessions.SetPreferred(sessionID, acc.Email)
	}
	if s.Metrics != nil {
		s.Metrics.RecordAIMDReward(acc.Email)
		s.Metrics.RecordCircuitTransition(acc.Email, before, s.circuit.State(acc.Email))
	}
}

// NotifyRateLimit updates health, AIMD, and circuit state after a 429.
func (s *Selector) NotifyRateLimit(acc *account.Account, modelID, reason string) {
	before := s.circuit.State(acc.Email)
	s.health.RecordRateLimit(acc.Email)
	s.aimd.Penalize(acc.Email)
	s.circuit.RecordFailure(acc.Email, reason)
	if s.Metrics != nil {
		s.Metrics.RecordAIMDPenalize(acc.Email)
		s.Metrics.RecordCircuitTransition(acc.Email, before, s.circuit.State(acc.Email))
	}
}

// NotifyFailure updates health and circuit state after a non-rate-limit failure.
func (s *Selector) NotifyFailure(acc *account.Account, reason string) {
	before := s.circuit.State(acc.Email)
	s.health.RecordFailure(acc.Email)
	s.circuit.RecordFailure(acc.Email, reason)
	if s.Metrics != nil {
		s.Metrics.RecordCircuitTransition(acc.Email, before, s.circuit.State(acc.Email))
	}
}

// concurrency gate

func (s *Selector) concurrent(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[email]
}

func (s *Selector) acquire(email string) *ActiveRequestGuard {
	s.mu.Lock()
	s.inFlight[email]++
	s.mu.Unlock()

	return &ActiveRequestGuard{release: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.inFlight[email] > 0 {
			s.inFlight[email]--
		}
	}}
}

// ThrottleDelay returns how long to sleep before a preemptive retry when
// an account's usage ratio has crossed PreemptiveThrottleRatio; the caller
// is expected to honor ctx for cancellation while sleeping.
func (s *Selector) ThrottleDelay(ctx context.Context, acc *account.Account, currentUsage uint64) error {
	ratio := s.aimd.UsageRatio(acc.Email, currentUsage)
	if ratio < s.cfg.PreemptiveThrottleRatio {
		return nil
	}
	select {
	case <-time.After(time.Duration(s.cfg.ThrottleDelayMs) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("throttle wait canceled: %w", ctx.Err())
	}
}
