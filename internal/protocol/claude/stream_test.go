package claude

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/avlabs/gemini-gateway/internal/protocol"
)

func sseLine(payload map[string]interface{}) string {
	data, _ := json.Marshal(payload)
	return "data: " + string(data) + "\n\n"
}

func drain(ch <-chan protocol.ClientEvent) []protocol.ClientEvent {
	var events []protocol.ClientEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStreamFromUpstreamTextOnly(t *testing.T) {
	body := sseLine(map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content":      map[string]interface{}{"parts": []interface{}{map[string]interface{}{"text": "hi"}}},
				"finishReason": "STOP",
			},
		},
	})
	ch := StreamFromUpstream(context.Background(), strings.NewReader(body), "gemini-2.5-flash", "", nil, nil)
	events := drain(ch)

	var names []string
	for _, ev := range events {
		if ev.Type == protocol.EventData {
			names = append(names, ev.Name)
		}
	}
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(names) != len(want) {
		t.Fatalf("got event names %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("event %d: got %q, want %q (full: %v)", i, names[i], want[i], names)
		}
	}
	last := events[len(events)-1]
	if last.Type != protocol.EventDone {
		t.Fatalf("expected a trailing EventDone, got %#v", last)
	}
}

func TestStreamFromUpstreamEmptyStreamEmitsError(t *testing.T) {
	ch := StreamFromUpstream(context.Background(), strings.NewReader(""), "gemini-2.5-flash", "", nil, nil)
	events := drain(ch)
	if len(events) != 1 || events[0].Type != protocol.EventError {
		t.Fatalf("expected a single error event, got %#v", events)
	}
}

func TestStreamFromUpstreamToolCallSetsStopReason(t *testing.T) {
	body := sseLine(map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content": map[string]interface{}{"parts": []interface{}{
					map[string]interface{}{"functionCall": map[string]interface{}{"name": "lookup", "args": map[string]interface{}{}}},
				}},
			},
		},
	})
	ch := StreamFromUpstream(context.Background(), strings.NewReader(body), "gemini-2.5-flash", "", nil, nil)
	events := drain(ch)

	var messageDeltaFound bool
	for _, ev := range events {
		if ev.Name == "message_delta" {
			messageDeltaFound = true
			var payload struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
			}
			_ = json.Unmarshal(ev.Data, &payload)
			if payload.Delta.StopReason != "tool_use" {
				t.Fatalf("expected stop_reason=tool_use, got %q", payload.Delta.StopReason)
			}
		}
	}
	if !messageDeltaFound {
		t.Fatal("expected a message_delta event")
	}
}
