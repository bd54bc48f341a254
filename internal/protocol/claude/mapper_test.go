package claude

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/avlabs/gemini-gateway/internal/protocol"
	"github.com/avlabs/gemini-gateway/internal/signature"
)

func TestMapperToUpstreamProducesGeminiRequest(t *testing.T) {
	m := New(signature.New(0, 0, nil, nil))
	body, _ := json.Marshal(map[string]interface{}{
		"model":      "claude-sonnet-4",
		"max_tokens": 512,
		"messages": []map[string]interface{}{
			{"role": "user", "content": []map[string]interface{}{{"type": "text", "text": "hi"}}},
		},
	})

	upstream, err := m.ToUpstream(context.Background(), body, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var googleReq GoogleRequest
	if err := json.Unmarshal(upstream.Body, &googleReq); err != nil {
		t.Fatalf("upstream body is not a valid GoogleRequest: %v", err)
	}
	if len(googleReq.Contents) != 1 {
		t.Fatalf("expected one content entry, got %d", len(googleReq.Contents))
	}
	if upstream.Model != "claude-sonnet-4" {
		t.Fatalf("unexpected model: %q", upstream.Model)
	}
}

func TestMapperFromUpstreamProducesMessagesResponse(t *testing.T) {
	m := New(nil)
	googleResp, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{"parts": []map[string]interface{}{{"text": "ok"}}}},
		},
	})
	out, err := m.FromUpstream(context.Background(), protocol.UpstreamResponse{Body: googleResp}, "claude-sonnet-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp["type"] != "message" {
		t.Fatalf("expected an Anthropic message envelope, got %#v", resp)
	}
}

func TestMapperCapabilities(t *testing.T) {
	m := New(nil)
	caps := m.Capabilities()
	if !caps.SupportsThinking || !caps.SupportsTools || !caps.SupportsStreaming {
		t.Fatalf("unexpected capabilities: %#v", caps)
	}
}

func TestMapperToUpstreamRejectsInvalidJSON(t *testing.T) {
	m := New(nil)
	_, err := m.ToUpstream(context.Background(), []byte("not json"), "")
	if err == nil {
		t.Fatal("expected an error for invalid request body")
	}
}
