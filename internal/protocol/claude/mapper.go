package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/avlabs/gemini-gateway/internal/protocol"
	"github.com/avlabs/gemini-gateway/internal/signature"
	"github.com/avlabs/gemini-gateway/pkg/anthropic"
)

// Mapper implements protocol.Mapper for the Anthropic Messages API wire
// surface. It holds no request-scoped state across calls except the
// signature→family bridge, which is intentionally process-lifetime: a
// thinking signature observed in one response stays valid for compatibility
// checks on any later request that happens to replay it, regardless of
// which session produced it.
type Mapper struct {
	cache *signature.Cache

	mu       sync.Mutex
	familyOf map[string]string
}

// New constructs a Mapper backed by the given signature cache. cache may be
// nil, in which case thought-signature continuity across turns is disabled
// but conversion still works (every tool call without an inline signature
// falls back to config.GeminiSkipSignature).
func New(cache *signature.Cache) *Mapper {
	return &Mapper{cache: cache, familyOf: make(map[string]string)}
}

func (m *Mapper) snapshotFamilyOf() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]string, len(m.familyOf))
	for k, v := range m.familyOf {
		snap[k] = v
	}
	return snap
}

func (m *Mapper) mergeFamilyOf(updates map[string]string) {
	if len(updates) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range updates {
		m.familyOf[k] = v
	}
}

// ToUpstream parses a Claude Messages API request body into the common
// upstream request shape.
func (m *Mapper) ToUpstream(ctx context.Context, body []byte, modelID string) (protocol.UpstreamRequest, error) {
	var req anthropic.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.UpstreamRequest{}, fmt.Errorf("claude: decode request: %w", err)
	}
	if modelID != "" {
		req.Model = modelID
	}

	sessionID := ""
	if req.Metadata != nil {
		sessionID = req.Metadata.UserID
	}

	googleReq := ConvertAnthropicToGoogle(ctx, &req, m.cache, sessionID, m.snapshotFamilyOf())
	payload, err := json.Marshal(googleReq)
	if err != nil {
		return protocol.UpstreamRequest{}, fmt.Errorf("claude: encode upstream request: %w", err)
	}

	return protocol.UpstreamRequest{
		Body:      payload,
		Model:     req.Model,
		Stream:    req.Stream,
		SessionID: sessionID,
	}, nil
}

// FromUpstream converts a complete Gemini-style response into a Claude
// Messages API response body.
func (m *Mapper) FromUpstream(ctx context.Context, resp protocol.UpstreamResponse, modelID string) ([]byte, error) {
	var googleResp GoogleResponse
	if err := json.Unmarshal(resp.Body, &googleResp); err != nil {
		return nil, fmt.Errorf("claude: decode upstream response: %w", err)
	}

	updates := make(map[string]string)
	out := ConvertGoogleToAnthropic(ctx, &googleResp, modelID, "", m.cache, updates)
	m.mergeFamilyOf(updates)

	return json.Marshal(out)
}

// StreamFromUpstream converts a Gemini-style SSE body into a channel of
// Claude Messages API SSE frames.
func (m *Mapper) StreamFromUpstream(ctx context.Context, upstream io.Reader, modelID string) (<-chan protocol.ClientEvent, error) {
	familyOf := make(map[string]string)
	events := StreamFromUpstream(ctx, upstream, modelID, "", m.cache, familyOf)

	// Merge discovered signature families back into the shared map as the
	// stream progresses, rather than waiting for it to drain, so a
	// concurrent request on the same process can already benefit.
	merged := make(chan protocol.ClientEvent, 16)
	go func() {
		defer close(merged)
		for ev := range events {
			merged <- ev
		}
		m.mergeFamilyOf(familyOf)
	}()
	return merged, nil
}

// Capabilities reports the Claude Messages API surface's feature set.
func (m *Mapper) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		SupportsThinking:     true,
		SupportsTools:        true,
		SupportsStreaming:    true,
		NonStreamAutoConvert: true,
	}
}
