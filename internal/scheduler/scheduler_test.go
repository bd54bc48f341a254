package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/retryloop"
	"github.com/avlabs/gemini-gateway/internal/selector"
	"github.com/avlabs/gemini-gateway/internal/upstream"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRunOAuthStateGCRemovesExpiredEntries(t *testing.T) {
	states := account.NewOAuthStateStore()
	states.Put("stale", account.OAuthState{CreatedAt: time.Now().Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	go runOAuthStateGC(ctx, states, 5, 10, testLogger())

	deadline := time.Now().Add(2 * time.Second)
	for states.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if states.Len() != 0 {
		t.Fatalf("expected stale oauth state to be collected, len=%d", states.Len())
	}
}

func TestRunWarmupSkipsWhenNoWhitelistedModels(t *testing.T) {
	accounts := account.NewManager(account.NewMemoryStore(), account.OAuthConfig{})
	// No models configured: runWarmup must be a no-op and never touch loop.
	runWarmup(context.Background(), accounts, nil, nil, false, 0, testLogger())
}

func TestMatchesQuotaTierDefaultsToFullWhenUnknown(t *testing.T) {
	acc := &account.Account{Email: "a@example.com"}
	if !matchesQuotaTier(acc, "gemini-2.5-pro", false) {
		t.Fatalf("expected an account with no quota reading to match the full-quota tier")
	}
	if matchesQuotaTier(acc, "gemini-2.5-pro", true) {
		t.Fatalf("expected an account with no quota reading to NOT match the low-quota tier")
	}
}

func TestMatchesQuotaTierUsesRecordedFraction(t *testing.T) {
	acc := &account.Account{
		Email: "a@example.com",
		Quota: &account.QuotaInfo{Models: map[string]*account.ModelQuotaInfo{
			"gemini-2.5-pro": {RemainingFraction: 0.2},
		}},
	}
	if matchesQuotaTier(acc, "gemini-2.5-pro", false) {
		t.Fatalf("a 20%% account should not match the full-quota tier")
	}
	if !matchesQuotaTier(acc, "gemini-2.5-pro", true) {
		t.Fatalf("a 20%% account should match the low-quota tier")
	}
}

func TestRunWarmupPingsEligibleAccount(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	store := account.NewMemoryStore()
	mgr := account.NewManager(store, account.OAuthConfig{})
	acc := &account.Account{Email: "a@example.com", Enabled: true, APIKey: "key-a"}
	if err := mgr.Put(context.Background(), acc); err != nil {
		t.Fatalf("put account: %v", err)
	}

	cfg := config.DefaultConfig()
	sel := selector.New(
		mgr,
		selector.NewHealthMonitor(cfg.HealthScore),
		selector.NewQuotaMonitor(cfg.Quota),
		selector.NewAIMDController(cfg.AIMD),
		selector.NewCircuitBreakerManager(cfg.CircuitBreaker),
		selector.NewSessionManager(),
		cfg.Selector,
	)
	client := upstream.NewWithEndpoints(server.Client(), []string{server.URL})
	loop := retryloop.New(sel, mgr, client, selector.NewRateLimitTracker(cfg.RateLimit), cfg)

	runWarmup(context.Background(), mgr, loop, []string{"gemini-2.5-pro"}, false, 0, testLogger())

	if calls != 1 {
		t.Fatalf("expected exactly 1 warmup call, got %d", calls)
	}
}

func TestEverySpecFallsBackToDefaultOnNonPositive(t *testing.T) {
	if got := everySpec(0, 15); got != "@every 15m0s" {
		t.Fatalf("expected default-backed spec, got %q", got)
	}
	if got := everySpec(30, 15); got != "@every 30m0s" {
		t.Fatalf("expected configured-minutes spec, got %q", got)
	}
}
