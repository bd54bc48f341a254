// Package retryloop drives one client request through select account ->
// transform to the upstream shape -> call the backend -> classify the
// result -> update account state, retrying against a different account
// until the request succeeds, a non-retryable error is hit, or the retry
// budget is exhausted. A separate inner loop retries server-overload
// responses against the same account with exponential backoff before the
// outer loop gives up on it and rotates away.
package retryloop

import (
	"context"
	"time"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/protocol"
	"github.com/avlabs/gemini-gateway/internal/selector"
	"github.com/avlabs/gemini-gateway/internal/upstream"
)

// Request is one client call, already reduced to the fields the loop
// needs beyond the raw wire body.
type Request struct {
	Body         []byte
	ModelID      string
	SessionID    string
	ForceAccount string
	ForceRotate  bool
}

// MetricsSink receives retry-budget telemetry. Nil (the zero value of
// Loop.Metrics) means no-op.
type MetricsSink interface {
	RecordRetryExhausted(modelID string)
}

// Loop is the account-rotation/backoff orchestrator shared by every client
// wire surface; only the protocol.Mapper passed to Execute/Stream differs
// between them.
type Loop struct {
	selector   *selector.Selector
	accounts   *account.Manager
	upstream   *upstream.Client
	rateLimits *selector.RateLimitTracker
	cfg        *config.Config
	sleep      func(context.Context, time.Duration) error

	// Metrics is optional telemetry, set directly by the composition root
	// once internal/metrics is constructed.
	Metrics MetricsSink
}

type accountSinkKey struct{}

// WithAccountSink attaches a callback to ctx that run() invokes with the
// email of whichever account ultimately served the request. Per-request
// (via context) rather than a field on Loop, since Loop is shared across
// concurrent requests. The HTTP handlers use this to populate the
// X-Account-Email response header without Loop exposing its account type
// on every call's return signature.
func WithAccountSink(ctx context.Context, sink func(email string)) context.Context {
	return context.WithValue(ctx, accountSinkKey{}, sink)
}

// New constructs a Loop.
func New(sel *selector.Selector, accounts *account.Manager, client *upstream.Client, rateLimits *selector.RateLimitTracker, cfg *config.Config) *Loop {
	return &Loop{selector: sel, accounts: accounts, upstream: client, rateLimits: rateLimits, cfg: cfg, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs a non-streaming request to completion and returns the
// client-formatted response body.
func (l *Loop) Execute(ctx context.Context, mapper protocol.Mapper, req Request) ([]byte, error) {
	outcome, err := l.run(ctx, mapper, req, false)
	if err != nil {
		return nil, err
	}
	return mapper.FromUpstream(ctx, protocol.UpstreamResponse{Body: outcome.Body, StatusCode: outcome.StatusCode}, req.ModelID)
}

// Stream runs a streaming request to completion and returns the channel
// the upstream SSE body was translated into. Only a failure before any
// account produced an open stream surfaces here as an error; once a
// stream is open, the mapper funnels errors into the channel itself.
func (l *Loop) Stream(ctx context.Context, mapper protocol.Mapper, req Request) (<-chan protocol.ClientEvent, error) {
	outcome, err := l.run(ctx, mapper, req, true)
	if err != nil {
		return nil, err
	}
	return mapper.StreamFromUpstream(ctx, outcome.Stream, req.ModelID)
}

// run drives the outer, account-rotating retry loop. Each outer attempt
// selects an account, waits out any throttle delay the selector attached
// to that choice, then hands the call off to callWithInnerRetry.
func (l *Loop) run(ctx context.Context, mapper protocol.Mapper, req Request, stream bool) (*upstream.Outcome, error) {
	upReq, err := mapper.ToUpstream(ctx, req.Body, req.ModelID)
	if err != nil {
		return nil, err
	}
	upReq.Stream = stream
	upReq.SessionID = req.SessionID

	maxAttempts := l.cfg.Retry.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempted := map[string]struct{}{}
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, selErr := l.selector.Select(ctx, req.ModelID, req.SessionID, req.ForceAccount, req.ForceRotate, attempted)
		if selErr != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, selErr
		}

		if result.WaitMs > 0 {
			if sleepErr := l.sleep(ctx, time.Duration(result.WaitMs)*time.Millisecond); sleepErr != nil {
				result.Guard.Release()
				return nil, errs.NewTransientError(sleepErr.Error())
			}
		}

		outcome, callErr := l.callWithInnerRetry(ctx, result.Account, upReq)
		result.Guard.Release()

		if callErr == nil {
			l.rateLimits.Clear(result.Account.Email, req.ModelID)
			l.selector.NotifySuccess(result.Account, req.ModelID, req.SessionID)
			if sink, ok := ctx.Value(accountSinkKey{}).(func(string)); ok && sink != nil {
				sink(result.Account.Email)
			}
			return outcome, nil
		}

		attempted[result.Account.Email] = struct{}{}
		lastErr = callErr
		l.notify(ctx, result.Account, req.ModelID, callErr)

		if !errs.Retryable(callErr) {
			return nil, callErr
		}
	}
	if l.Metrics != nil {
		l.Metrics.RecordRetryExhausted(req.ModelID)
	}
	return nil, lastErr
}

// callWithInnerRetry retries a server-overload response against the same
// account with a capped exponential backoff before surfacing it to the
// outer loop for account rotation.
func (l *Loop) callWithInnerRetry(ctx context.Context, acc *account.Account, upReq protocol.UpstreamRequest) (*upstream.Outcome, error) {
	token, err := l.accounts.Token(ctx, acc)
	if err != nil {
		return nil, errs.NewAuthError(err.Error(), acc.Email, "token_refresh_failed")
	}

	maxInner := l.cfg.Retry.InnerRetryMaxAttempts
	baseMs := l.cfg.Retry.InnerRetryBaseMs

	for inner := 0; ; inner++ {
		outcome, callErr := l.upstream.Call(ctx, token, upReq)
		if callErr == nil {
			return outcome, nil
		}
		_, overload := callErr.(*errs.ServerOverloadError)
		if !overload || inner >= maxInner {
			return nil, callErr
		}

		shift := inner
		if shift > 3 {
			shift = 3
		}
		delay := time.Duration(baseMs<<uint(shift)) * time.Millisecond
		if sleepErr := l.sleep(ctx, delay); sleepErr != nil {
			return nil, errs.NewTransientError(sleepErr.Error())
		}
	}
}

// notify folds a classified failure back into account state: permanent
// auth failures disable the account outright, a 429/quota failure stamps a
// cooldown onto the account's per-model rate-limit snapshot (so the next
// Select call's eligibility check excludes it without consulting this
// loop again), and every failure updates the selector's health/circuit
// trackers for ranking.
func (l *Loop) notify(ctx context.Context, acc *account.Account, modelID string, err error) {
	switch e := err.(type) {
	case *errs.RateLimitError:
		resetMs := int64(-1)
		if e.ResetMs != nil {
			resetMs = *e.ResetMs
		}
		l.markRateLimited(ctx, acc, modelID, resetMs)
		l.selector.NotifyRateLimit(acc, modelID, "rate_limited")
	case *errs.QuotaExhaustedError:
		l.markRateLimited(ctx, acc, modelID, -1)
		l.selector.NotifyRateLimit(acc, modelID, "quota_exhausted")
	case *errs.AuthError:
		if e.Reason == "token_revoked" {
			_ = l.accounts.MarkInvalid(ctx, acc.Email, "token revoked, re-authentication required")
		}
		l.selector.NotifyFailure(acc, "auth_failed")
	case *errs.ServerOverloadError:
		l.selector.NotifyFailure(acc, "server_overload")
	case *errs.TransientError:
		l.selector.NotifyFailure(acc, "transient_error")
	}
}

// markRateLimited records a 429/quota-exhausted cooldown on the account's
// per-model snapshot, persisting it so it survives past this process and
// is visible to Account.IsRateLimitedFor on the very next Select call.
func (l *Loop) markRateLimited(ctx context.Context, acc *account.Account, modelID string, serverResetMs int64) {
	backoff := l.rateLimits.Backoff(acc.Email, modelID, serverResetMs)
	if acc.ModelRateLimits == nil {
		acc.ModelRateLimits = make(map[string]*account.RateLimitInfo)
	}
	acc.ModelRateLimits[modelID] = &account.RateLimitInfo{
		IsRateLimited: true,
		ResetTime:     time.Now().Add(time.Duration(backoff.DelayMs) * time.Millisecond).UnixMilli(),
		ActualResetMs: backoff.DelayMs,
	}
	_ = l.accounts.Put(ctx, acc)
}
