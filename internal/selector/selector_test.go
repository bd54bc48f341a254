package selector

import (
	"context"
	"testing"
	"time"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSelector(t *testing.T, accounts ...*account.Account) (*Selector, *account.Manager) {
	t.Helper()
	store := account.NewMemoryStore()
	mgr := account.NewManager(store, account.OAuthConfig{})
	for _, acc := range accounts {
		require.NoError(t, mgr.Put(context.Background(), acc))
	}

	cfg := config.DefaultConfig()
	s := New(
		mgr,
		NewHealthMonitor(cfg.HealthScore),
		NewQuotaMonitor(cfg.Quota),
		NewAIMDController(cfg.AIMD),
		NewCircuitBreakerManager(cfg.CircuitBreaker),
		NewSessionManager(),
		cfg.Selector,
	)
	return s, mgr
}

func TestSelectorReturnsErrorWithNoAccounts(t *testing.T) {
	s, _ := newTestSelector(t)
	_, err := s.Select(context.Background(), "gemini-pro", "", "", false, nil)
	assert.Error(t, err)
}

func TestSelectorPicksEligibleAccount(t *testing.T) {
	acc := &account.Account{Email: "a@example.com", Enabled: true, APIKey: "key"}
	s, _ := newTestSelector(t, acc)

	res, err := s.Select(context.Background(), "gemini-pro", "", "", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", res.Account.Email)
	assert.Equal(t, FallbackNormal, res.Fallback)
	require.NotNil(t, res.Guard)
	res.Guard.Release()
}

func TestSelectorRespectsAttemptedSet(t *testing.T) {
	acc := &account.Account{Email: "a@example.com", Enabled: true, APIKey: "key"}
	s, _ := newTestSelector(t, acc)

	attempted := map[string]struct{}{"a@example.com": {}}
	_, err := s.Select(context.Background(), "gemini-pro", "", "", false, attempted)
	assert.Error(t, err)
}

func TestSelectorSessionAffinityPrefersPinnedAccount(t *testing.T) {
	a := &account.Account{Email: "a@example.com", Enabled: true, APIKey: "key"}
	b := &account.Account{Email: "b@example.com", Enabled: true, APIKey: "key"}
	s, _ := newTestSelector(t, a, b)

	s.sessions.SetPreferred("sess-1", "b@example.com")
	res, err := s.Select(context.Background(), "gemini-pro", "sess-1", "", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", res.Account.Email)
	res.Guard.Release()
}

func TestSelectorConcurrencyGateExcludesSaturatedAccount(t *testing.T) {
	acc := &account.Account{Email: "a@example.com", Enabled: true, APIKey: "key"}
	s, _ := newTestSelector(t, acc)
	s.cfg.MaxConcurrentPerAccount = 1

	res1, err := s.Select(context.Background(), "gemini-pro", "", "", false, nil)
	require.NoError(t, err)

	_, err = s.Select(context.Background(), "gemini-pro", "", "", false, nil)
	assert.Error(t, err)

	res1.Guard.Release()
	res2, err := s.Select(context.Background(), "gemini-pro", "", "", false, nil)
	require.NoError(t, err)
	res2.Guard.Release()
}

func TestSelectorFallsBackToEmergencyWhenAllQuotaCritical(t *testing.T) {
	acc := &account.Account{
		Email:   "a@example.com",
		Enabled: true,
		APIKey:  "key",
		Quota: &account.QuotaInfo{
			Models:      map[string]*account.ModelQuotaInfo{"gemini-pro": {RemainingFraction: 0.01}},
			LastChecked: time.Now().UnixMilli(),
		},
	}
	s, _ := newTestSelector(t, acc)

	res, err := s.Select(context.Background(), "gemini-pro", "", "", false, nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackQuota, res.Fallback)
	res.Guard.Release()
}

func TestActiveRequestGuardReleaseIsIdempotent(t *testing.T) {
	acc := &account.Account{Email: "a@example.com", Enabled: true, APIKey: "key"}
	s, _ := newTestSelector(t, acc)

	res, err := s.Select(context.Background(), "gemini-pro", "", "", false, nil)
	require.NoError(t, err)
	res.Guard.Release()
	res.Guard.Release()
	assert.Equal(t, 0, s.concurrent("a@example.com"))
}

type recordingMetrics struct {
	candidates        int
	rewards           int
	penalties         int
	transitions       int
}

func (m *recordingMetrics) RecordCandidates(modelID string, count int, fallback FallbackLevel) {
	m.candidates += count
}
func (m *recordingMetrics) RecordAIMDReward(email string)    { m.rewards++ }
func (m *recordingMetrics) RecordAIMDPenalize(email string)  { m.penalties++ }
func (m *recordingMetrics) RecordCircuitTransition(email string, from, to CircuitState) {
	m.transitions++
}

func TestSelectRecordsCandidateMetrics(t *testing.T) {
	acc := &account.Account{Email: "a@example.com", Enabled: true, APIKey: "key"}
	s, _ := newTestSelector(t, acc)
	m := &recordingMetrics{}
	s.Metrics = m

	res, err := s.Select(context.Background(), "gemini-pro", "", "", false, nil)
	require.NoError(t, err)
	res.Guard.Release()

	assert.Equal(t, 1, m.candidates)
}

func TestNotifySuccessRecordsRewardMetric(t *testing.T) {
	acc := &account.Account{Email: "a@example.com", Enabled: true, APIKey: "key"}
	s, _ := newTestSelector(t, acc)
	m := &recordingMetrics{}
	s.Metrics = m

	s.NotifySuccess(acc, "gemini-pro", "")

	assert.Equal(t, 1, m.rewards)
}

func TestNotifyRateLimitRecordsPenaltyAndTransitionMetrics(t *testing.T) {
	acc := &account.Account{Email: "a@example.com", Enabled: true, APIKey: "key"}
	s, _ := newTestSelector(t, acc)
	m := &recordingMetrics{}
	s.Metrics = m

	failures := config.DefaultCircuitBreakerConfig().FailureThresholdCount
	for i := 0; i < failures; i++ {
		s.NotifyRateLimit(acc, "gemini-pro", "rate_limited")
	}

	assert.Equal(t, failures, m.penalties)
	assert.GreaterOrEqual(t, m.transitions, 1)
}
