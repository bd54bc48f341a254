// Package upstream sends a mapper-produced request to the Gemini-style
// backend over HTTP, trying each endpoint in the fallback list, and
// classifies the response into the proxy's typed error taxonomy. It knows
// nothing about which client wire surface originated the request or which
// account it runs under beyond the bearer token/project id handed to it —
// account rotation and retry-budget bookkeeping belong to internal/retryloop.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/protocol"
)

// Outcome is a successful call's result: either a complete body (non-
// streaming) or an open Stream the caller must read to EOF and Close.
type Outcome struct {
	StatusCode int
	Body       []byte
	Stream     io.ReadCloser
}

// Client posts wrapped requests to the backend's generateContent/
// streamGenerateContent endpoints.
type Client struct {
	httpClient *http.Client
	endpoints  []string
}

// New constructs a Client. A nil httpClient gets a client with no
// per-call timeout of its own; callers supply the deadline via ctx.
func New(httpClient *http.Client) *Client {
	return NewWithEndpoints(httpClient, config.UpstreamEndpointFallbacks)
}

// NewWithEndpoints constructs a Client against an explicit endpoint list,
// bypassing the configured production/daily fallback order — used by
// tests to point at an httptest server.
func NewWithEndpoints(httpClient *http.Client, endpoints []string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, endpoints: endpoints}
}

// Call sends req to the backend as token's account, trying each configured
// endpoint in order on a connection failure. On a non-2xx response it
// returns a classified *errs.* error; the caller decides whether to retry.
func (c *Client) Call(ctx context.Context, token account.ProxyToken, req protocol.UpstreamRequest) (*Outcome, error) {
	body, err := wrapEnvelope(req.Body, req.Model, token.ProjectID, req.SessionID)
	if err != nil {
		return nil, errs.NewInternalError(err.Error())
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		outcome, err := c.callEndpoint(ctx, endpoint, token, req.Model, body, req.Stream)
		if err == nil {
			return outcome, nil
		}
		if _, transient := err.(*errs.TransientError); !transient {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) callEndpoint(ctx context.Context, endpoint string, token account.ProxyToken, model string, body []byte, stream bool) (*Outcome, error) {
	path := "/v1internal:generateContent"
	accept := "application/json"
	if stream {
		path = "/v1internal:streamGenerateContent?alt=sse"
		accept = "text/event-stream"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, errs.NewInternalError("upstream: build request: " + err.Error())
	}
	setHeaders(httpReq, token, model, accept)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.NewTransientError("upstream: " + err.Error())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if stream {
			return &Outcome{StatusCode: resp.StatusCode, Stream: resp.Body}, nil
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.NewTransientError("upstream: read response: " + err.Error())
		}
		return &Outcome{StatusCode: resp.StatusCode, Body: data}, nil
	}

	defer resp.Body.Close()
	errBody, _ := io.ReadAll(resp.Body)
	return nil, classify(resp, errBody)
}

func setHeaders(req *http.Request, token account.ProxyToken, model, accept string) {
	req.Header.Set("Authorization", "Bearer "+bearerValue(token))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	for k, v := range config.UpstreamHeaders() {
		req.Header.Set(k, v)
	}
	if config.GetModelFamily(model).IsClaude() && config.IsThinkingModel(model) {
		req.Header.Set("anthropic-beta", "interleaved-thinking-2025-05-14")
	}
}

// bearerValue prefers a raw API key over an OAuth access token, matching
// ProxyToken.IsAPIKey's precedence.
func bearerValue(token account.ProxyToken) string {
	if token.IsAPIKey() {
		return token.APIKey
	}
	return token.AccessToken
}

// resetMsFromHeaders reads a Retry-After (seconds or HTTP-date) or
// x-ratelimit-reset-after (seconds) header into milliseconds, or -1.
func resetMsFromHeaders(h http.Header) int64 {
	if ra := h.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return int64(secs) * 1000
		}
		if t, err := http.ParseTime(ra); err == nil {
			if d := time.Until(t).Milliseconds(); d > 0 {
				return d
			}
		}
	}
	if ra := h.Get("x-ratelimit-reset-after"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return int64(secs) * 1000
		}
	}
	return -1
}
