package retryloop

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/protocol"
	"github.com/avlabs/gemini-gateway/internal/selector"
	"github.com/avlabs/gemini-gateway/internal/upstream"
)

// fakeMapper passes the client body straight through, so tests can drive
// the loop without depending on any real wire-format conversion.
type fakeMapper struct {
	toUpstreamErr error
}

func (f *fakeMapper) ToUpstream(ctx context.Context, body []byte, modelID string) (protocol.UpstreamRequest, error) {
	if f.toUpstreamErr != nil {
		return protocol.UpstreamRequest{}, f.toUpstreamErr
	}
	return protocol.UpstreamRequest{Body: body, Model: modelID}, nil
}

func (f *fakeMapper) FromUpstream(ctx context.Context, resp protocol.UpstreamResponse, modelID string) ([]byte, error) {
	return resp.Body, nil
}

func (f *fakeMapper) StreamFromUpstream(ctx context.Context, upstream io.Reader, modelID string) (<-chan protocol.ClientEvent, error) {
	ch := make(chan protocol.ClientEvent, 1)
	data, _ := io.ReadAll(upstream)
	ch <- protocol.ClientEvent{Type: protocol.EventData, Data: data}
	close(ch)
	return ch, nil
}

func (f *fakeMapper) Capabilities() protocol.Capabilities { return protocol.Capabilities{} }

func newTestLoop(t *testing.T, accounts []*account.Account, server *httptest.Server) (*Loop, *account.Manager) {
	t.Helper()
	store := account.NewMemoryStore()
	mgr := account.NewManager(store, account.OAuthConfig{})
	for _, a := range accounts {
		if err := mgr.Put(context.Background(), a); err != nil {
			t.Fatalf("put account: %v", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Retry.MaxRetryAttempts = len(accounts) + 1
	cfg.Retry.InnerRetryMaxAttempts = 2
	cfg.Retry.InnerRetryBaseMs = 1

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
	loop := New(sel, mgr, client, selector.NewRateLimitTracker(cfg.RateLimit), cfg)
	loop.sleep = func(context.Context, time.Duration) error { return nil }
	return loop, mgr
}

func TestExecuteSucceedsOnFirstAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	loop, _ := newTestLoop(t, []*account.Account{
		{Email: "a@example.com", Enabled: true, APIKey: "key-a"},
	}, server)

	out, err := loop.Execute(context.Background(), &fakeMapper{}, Request{
		Body: []byte(`{"contents":[]}`), ModelID: "gemini-2.5-pro",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"ok":true}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExecuteRotatesAccountOnRateLimit(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") == "Bearer key-bad" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limited"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	// good@ was "used" moments ago so its LRU score loses the tie-break to
	// bad@'s never-used (zero LastUsed, treated as maximally stale) score,
	// making selection order deterministic: bad@ is tried first.
	loop, _ := newTestLoop(t, []*account.Account{
		{Email: "bad@example.com", Enabled: true, APIKey: "key-bad"},
		{Email: "good@example.com", Enabled: true, APIKey: "key-good", LastUsed: time.Now().UnixMilli()},
	}, server)

	out, err := loop.Execute(context.Background(), &fakeMapper{}, Request{
		Body: []byte(`{"contents":[]}`), ModelID: "gemini-2.5-pro",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"ok":true}` {
		t.Fatalf("unexpected output: %s", out)
	}
	if calls < 2 {
		t.Fatalf("expected at least 2 upstream calls, got %d", calls)
	}
}

func TestExecuteReturnsNonRetryableBadRequestImmediately(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer server.Close()

	loop, _ := newTestLoop(t, []*account.Account{
		{Email: "a@example.com", Enabled: true, APIKey: "key-a"},
		{Email: "b@example.com", Enabled: true, APIKey: "key-b"},
	}, server)

	_, err := loop.Execute(context.Background(), &fakeMapper{}, Request{
		Body: []byte(`{"contents":[]}`), ModelID: "gemini-2.5-pro",
	})
	if _, ok := err.(*errs.BadRequestError); !ok {
		t.Fatalf("expected *errs.BadRequestError, got %T (%v)", err, err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 upstream call for a non-retryable error, got %d", calls)
	}
}

func TestExecuteMarksAccountInvalidOnPermanentAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid_grant: token revoked"))
	}))
	defer server.Close()

	loop, mgr := newTestLoop(t, []*account.Account{
		{Email: "a@example.com", Enabled: true, APIKey: "key-a"},
	}, server)

	_, err := loop.Execute(context.Background(), &fakeMapper{}, Request{
		Body: []byte(`{"contents":[]}`), ModelID: "gemini-2.5-pro",
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	acc, _ := mgr.Get("a@example.com")
	if !acc.IsInvalid {
		t.Fatalf("expected account to be marked invalid after permanent auth failure")
	}
}

func TestExecutePropagatesMapperTransformError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("upstream should not be called when ToUpstream fails")
	}))
	defer server.Close()

	loop, _ := newTestLoop(t, []*account.Account{
		{Email: "a@example.com", Enabled: true, APIKey: "key-a"},
	}, server)

	wantErr := errs.NewBadRequestError("malformed body")
	_, err := loop.Execute(context.Background(), &fakeMapper{toUpstreamErr: wantErr}, Request{
		Body: []byte(`not json`), ModelID: "gemini-2.5-pro",
	})
	if err != wantErr {
		t.Fatalf("expected the mapper's error to propagate unchanged, got %v", err)
	}
}

func TestStreamReturnsOpenChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {}\n\n"))
	}))
	defer server.Close()

	loop, _ := newTestLoop(t, []*account.Account{
		{Email: "a@example.com", Enabled: true, APIKey: "key-a"},
	}, server)

	events, err := loop.Stream(context.Background(), &fakeMapper{}, Request{
		Body: []byte(`{"contents":[]}`), ModelID: "gemini-2.5-pro",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evt, ok := <-events
	if !ok {
		t.Fatalf("expected at least one event")
	}
	if evt.Type != protocol.EventData {
		t.Fatalf("unexpected event type: %v", evt.Type)
	}
}

func TestExhaustsRetryBudgetWhenEveryAccountRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer server.Close()

	loop, _ := newTestLoop(t, []*account.Account{
		{Email: "a@example.com", Enabled: true, APIKey: "key-a"},
		{Email: "b@example.com", Enabled: true, APIKey: "key-b"},
	}, server)

	_, err := loop.Execute(context.Background(), &fakeMapper{}, Request{
		Body: []byte(`{"contents":[]}`), ModelID: "gemini-2.5-pro",
	})
	if err == nil {
		t.Fatalf("expected an error once every account is exhausted")
	}
	if _, ok := err.(*errs.NoAccountsError); !ok {
		if !errs.IsRateLimitError(err) {
			t.Fatalf("expected a rate-limit or no-accounts error, got %T (%v)", err, err)
		}
	}
}

type recordingMetrics struct {
	exhausted int
}

func (m *recordingMetrics) RecordRetryExhausted(modelID string) { m.exhausted++ }

// TestExecuteRecordsExhaustionMetricWhenBudgetRunsOutBeforeAccountsDo builds
// the loop with a retry budget smaller than the account pool, so every
// attempt finds an eligible account and the outer loop runs out of
// attempts rather than out of accounts — the only way the post-loop
// "exhausted" path (as opposed to the mid-loop NoAccountsError path) is
// reached.
func TestExecuteRecordsExhaustionMetricWhenBudgetRunsOutBeforeAccountsDo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer server.Close()

	accounts := []*account.Account{
		{Email: "a@example.com", Enabled: true, APIKey: "key-a"},
		{Email: "b@example.com", Enabled: true, APIKey: "key-b"},
		{Email: "c@example.com", Enabled: true, APIKey: "key-c"},
	}
	loop, _ := newTestLoop(t, accounts, server)
	loop.cfg.Retry.MaxRetryAttempts = 2
	m := &recordingMetrics{}
	loop.Metrics = m

	_, err := loop.Execute(context.Background(), &fakeMapper{}, Request{
		Body: []byte(`{"contents":[]}`), ModelID: "gemini-2.5-pro",
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if m.exhausted != 1 {
		t.Fatalf("expected exhaustion metric recorded once, got %d", m.exhausted)
	}
}
