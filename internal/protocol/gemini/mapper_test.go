package gemini

import (
	"context"
	"strings"
	"testing"

	"github.com/avlabs/gemini-gateway/internal/protocol"
	"github.com/tidwall/gjson"
)

func TestMapperToUpstreamSubstitutesResolvedModel(t *testing.T) {
	m := New()
	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	upstream, err := m.ToUpstream(context.Background(), body, "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gjson.GetBytes(upstream.Body, "model").String() != "gemini-2.5-pro" {
		t.Fatalf("expected the resolved model to be patched into the body, got %s", upstream.Body)
	}
	if upstream.Model != "gemini-2.5-pro" {
		t.Fatalf("unexpected upstream model: %q", upstream.Model)
	}
}

func TestMapperToUpstreamRejectsMissingContents(t *testing.T) {
	m := New()
	_, err := m.ToUpstream(context.Background(), []byte(`{"generationConfig":{}}`), "")
	if err == nil {
		t.Fatal("expected an error for a body with no contents")
	}
}

func TestMapperToUpstreamRejectsInvalidJSON(t *testing.T) {
	m := New()
	_, err := m.ToUpstream(context.Background(), []byte("not json"), "")
	if err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestMapperFromUpstreamPassesResponseThrough(t *testing.T) {
	m := New()
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	out, err := m.FromUpstream(context.Background(), protocol.UpstreamResponse{Body: body}, "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(body) {
		t.Fatalf("expected the response body to pass through unchanged, got %s", out)
	}
}

func TestMapperStreamFromUpstreamPassesFramesThrough(t *testing.T) {
	m := New()
	body := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hi\"}]}}]}\n\n"
	ch, err := m.StreamFromUpstream(context.Background(), strings.NewReader(body), "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var events []protocol.ClientEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 2 || events[0].Type != protocol.EventData || events[1].Type != protocol.EventDone {
		t.Fatalf("unexpected events: %#v", events)
	}
	if gjson.GetBytes(events[0].Data, "candidates.0.content.parts.0.text").String() != "hi" {
		t.Fatalf("unexpected frame payload: %s", events[0].Data)
	}
}

func TestMapperStreamFromUpstreamEmptyStreamEmitsError(t *testing.T) {
	m := New()
	ch, err := m.StreamFromUpstream(context.Background(), strings.NewReader(""), "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var events []protocol.ClientEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 1 || events[0].Type != protocol.EventError {
		t.Fatalf("expected a single error event, got %#v", events)
	}
}

func TestMapperCapabilities(t *testing.T) {
	caps := New().Capabilities()
	if caps.NonStreamAutoConvert {
		t.Fatal("expected a native client's non-streaming request to get a genuine non-streaming response")
	}
	if !caps.SupportsStreaming || !caps.SupportsThinking || !caps.SupportsTools {
		t.Fatalf("unexpected capabilities: %#v", caps)
	}
}
