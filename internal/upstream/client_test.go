package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/protocol"
)

func tokenFor(server *httptest.Server) account.ProxyToken {
	return account.ProxyToken{AccountEmail: "a@example.com", ProjectID: "proj-1", AccessToken: "tok"}
}

func TestClientCallNonStreamingSuccess(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1internal:generateContent" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatalf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	c := New(server.Client())
	c.endpoints = []string{server.URL}

	out, err := c.Call(context.Background(), tokenFor(server), protocol.UpstreamRequest{
		Body:  []byte(`{"contents":[]}`),
		Model: "gemini-2.5-pro",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Body) != `{"candidates":[]}` {
		t.Fatalf("unexpected body: %s", out.Body)
	}
	if gotBody["project"] != "proj-1" || gotBody["model"] != "gemini-2.5-pro" {
		t.Fatalf("unexpected envelope: %#v", gotBody)
	}
}

func TestClientCallStreamingReturnsOpenReader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1internal:streamGenerateContent" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {}\n\n"))
	}))
	defer server.Close()

	c := New(server.Client())
	c.endpoints = []string{server.URL}

	out, err := c.Call(context.Background(), tokenFor(server), protocol.UpstreamRequest{
		Body: []byte(`{"contents":[]}`), Model: "gemini-2.5-pro", Stream: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer out.Stream.Close()
	data, _ := io.ReadAll(out.Stream)
	if string(data) != "data: {}\n\n" {
		t.Fatalf("unexpected stream body: %s", data)
	}
}

func TestClientCallClassifiesRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limit exceeded"))
	}))
	defer server.Close()

	c := New(server.Client())
	c.endpoints = []string{server.URL}

	_, err := c.Call(context.Background(), tokenFor(server), protocol.UpstreamRequest{Body: []byte(`{}`), Model: "gemini-2.5-flash"})
	rle, ok := err.(*errs.RateLimitError)
	if !ok {
		t.Fatalf("expected *errs.RateLimitError, got %T (%v)", err, err)
	}
	if rle.ResetMs == nil || *rle.ResetMs != 2000 {
		t.Fatalf("unexpected reset ms: %#v", rle.ResetMs)
	}
}

func TestClientCallClassifiesAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid_grant: token revoked"))
	}))
	defer server.Close()

	c := New(server.Client())
	c.endpoints = []string{server.URL}

	_, err := c.Call(context.Background(), tokenFor(server), protocol.UpstreamRequest{Body: []byte(`{}`), Model: "gemini-2.5-pro"})
	if _, ok := err.(*errs.AuthError); !ok {
		t.Fatalf("expected *errs.AuthError, got %T", err)
	}
}

func TestClientCallClassifiesServerOverload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer server.Close()

	c := New(server.Client())
	c.endpoints = []string{server.URL}

	_, err := c.Call(context.Background(), tokenFor(server), protocol.UpstreamRequest{Body: []byte(`{}`), Model: "gemini-2.5-pro"})
	if _, ok := err.(*errs.ServerOverloadError); !ok {
		t.Fatalf("expected *errs.ServerOverloadError, got %T", err)
	}
}

func TestClientCallFallsBackToSecondEndpointOnConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New(server.Client())
	c.endpoints = []string{"http://127.0.0.1:1", server.URL}

	out, err := c.Call(context.Background(), tokenFor(server), protocol.UpstreamRequest{Body: []byte(`{}`), Model: "gemini-2.5-pro"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", out.Body)
	}
}

func TestClientCallUsesAPIKeyOverAccessToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(server.Client())
	c.endpoints = []string{server.URL}

	token := account.ProxyToken{AccessToken: "oauth-tok", APIKey: "raw-key"}
	_, err := c.Call(context.Background(), token, protocol.UpstreamRequest{Body: []byte(`{}`), Model: "gemini-2.5-pro"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer raw-key" {
		t.Fatalf("expected API key to take precedence, got %q", gotAuth)
	}
}
