package selector

import (
	"math"
	"sync"

	"github.com/avlabs/gemini-gateway/internal/config"
)

// ProbeStrategy classifies how aggressively to try a secondary account
// based on how close the current account is to its adaptive limit.
type ProbeStrategy int

const (
	ProbeNone ProbeStrategy = iota
	ProbeCheap
	ProbeDelayedHedge
	ProbeImmediateHedge
)

func (p ProbeStrategy) String() string {
	switch p {
	case ProbeCheap:
		return "cheap_probe"
	case ProbeDelayedHedge:
		return "delayed_hedge"
	case ProbeImmediateHedge:
		return "immediate_hedge"
	default:
		return "none"
	}
}

// NeedsSecondary reports whether this strategy should also race a second candidate.
func (p ProbeStrategy) NeedsSecondary() bool {
	return p == ProbeDelayedHedge || p == ProbeImmediateHedge
}

// IsFireAndForget reports whether the secondary probe's result can be discarded.
func (p ProbeStrategy) IsFireAndForget() bool { return p == ProbeCheap }

// ProbeStrategyFromUsageRatio classifies a usage ratio into a probe
// strategy, thresholds lifted verbatim from the original AIMDController.
func ProbeStrategyFromUsageRatio(ratio float64) ProbeStrategy {
	switch {
	case ratio < 0.70:
		return ProbeNone
	case ratio < 0.85:
		return ProbeCheap
	case ratio < 0.95:
		return ProbeDelayedHedge
	default:
		return ProbeImmediateHedge
	}
}

// AIMDController implements additive-increase/multiplicative-decrease
// adaptive per-account rate limiting: reward() nudges the limit up a
// little on success, penalize() cuts it sharply on rate-limit/failure.
type AIMDController struct {
	mu     sync.Mutex
	limits map[string]uint64
	cfg    config.AIMDConfig
}

func NewAIMDController(cfg config.AIMDConfig) *AIMDController {
	return &AIMDController{limits: make(map[string]uint64), cfg: cfg}
}

func (a *AIMDController) current(email string) uint64 {
	if v, ok := a.limits[email]; ok {
		return v
	}
	return a.cfg.InitialLimit
}

// Limit returns the account's current adaptive limit.
func (a *AIMDController) Limit(email string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current(email)
}

// Reward grows the limit by AdditiveIncrease, capped at MaxLimit.
func (a *AIMDController) Reward(email string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.current(email)
	next := uint64(math.Ceil(float64(cur) * (1.0 + a.cfg.AdditiveIncrease)))
	if next > a.cfg.MaxLimit {
		next = a.cfg.MaxLimit
	}
	a.limits[email] = next
	return next
}

// Penalize shrinks the limit by MultiplicativeDecrease, floored at MinLimit.
func (a *AIMDController) Penalize(email string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.current(email)
	next := uint64(math.Floor(float64(cur) * a.cfg.MultiplicativeDecrease))
	if next < a.cfg.MinLimit {
		next = a.cfg.MinLimit
	}
	a.limits[email] = next
	return next
}

// UsageRatio computes currentUsage/limit for eligibility/probe decisions.
// A ratio above BurstRatio (deliberately > 1.0) means
// the account has burst past its nominal cap and should be deprioritized.
func (a *AIMDController) UsageRatio(email string, currentUsage uint64) float64 {
	limit := a.Limit(email)
	if limit == 0 {
		return math.Inf(1)
	}
	return float64(currentUsage) / float64(limit)
}

// WithinBurst reports whether usage is still inside the allowed burst.
func (a *AIMDController) WithinBurst(email string, currentUsage uint64) bool {
	return a.UsageRatio(email, currentUsage) <= a.cfg.BurstRatio
}
