package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/avlabs/gemini-gateway/internal/protocol"
	"github.com/avlabs/gemini-gateway/internal/protocol/claude"
	"github.com/avlabs/gemini-gateway/internal/signature"
)

// Mapper implements protocol.Mapper for the OpenAI ChatCompletions wire
// surface, translating to and from the Gemini-style upstream shape shared
// with internal/protocol/claude.
type Mapper struct {
	cache *signature.Cache
}

// New constructs a Mapper backed by the given signature cache. cache may be
// nil, in which case reasoning_content signature continuity is disabled but
// conversion still works.
func New(cache *signature.Cache) *Mapper {
	return &Mapper{cache: cache}
}

// ToUpstream parses an OpenAI ChatCompletions request body into the common
// upstream request shape. The request's user field, when present, is used
// as the session key for reasoning_content signature continuity.
func (m *Mapper) ToUpstream(ctx context.Context, body []byte, modelID string) (protocol.UpstreamRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.UpstreamRequest{}, fmt.Errorf("openai: decode request: %w", err)
	}
	if modelID != "" {
		req.Model = modelID
	}

	googleReq := ConvertOpenAIToGoogle(ctx, &req, m.cache, req.User)
	payload, err := json.Marshal(googleReq)
	if err != nil {
		return protocol.UpstreamRequest{}, fmt.Errorf("openai: encode upstream request: %w", err)
	}

	return protocol.UpstreamRequest{
		Body:      payload,
		Model:     req.Model,
		Stream:    req.Stream,
		SessionID: req.User,
	}, nil
}

// FromUpstream converts a complete Gemini-style response into an OpenAI
// ChatCompletions response body.
func (m *Mapper) FromUpstream(ctx context.Context, resp protocol.UpstreamResponse, modelID string) ([]byte, error) {
	var googleResp claude.GoogleResponse
	if err := json.Unmarshal(resp.Body, &googleResp); err != nil {
		return nil, fmt.Errorf("openai: decode upstream response: %w", err)
	}
	out := ConvertGoogleToOpenAI(ctx, &googleResp, modelID, "", m.cache)
	return json.Marshal(out)
}

// StreamFromUpstream converts a Gemini-style SSE body into a channel of
// OpenAI ChatCompletions chunks.
func (m *Mapper) StreamFromUpstream(ctx context.Context, upstream io.Reader, modelID string) (<-chan protocol.ClientEvent, error) {
	return StreamFromUpstream(ctx, upstream, modelID, "", m.cache), nil
}

// Capabilities reports the OpenAI ChatCompletions surface's feature set.
// Thinking is exposed only as reasoning_content text, never as a distinct
// block type the client renders specially, which retryloop treats the same
// as "supports thinking" since the content survives round trips.
func (m *Mapper) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		SupportsThinking:     true,
		SupportsTools:        true,
		SupportsStreaming:    true,
		NonStreamAutoConvert: true,
	}
}
