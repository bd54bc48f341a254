package claude

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/avlabs/gemini-gateway/internal/signature"
	"github.com/avlabs/gemini-gateway/pkg/anthropic"
)

func newTestConverter(t *testing.T) *contentConverter {
	t.Helper()
	return &contentConverter{
		ctx:      context.Background(),
		cache:    signature.New(0, 0, nil, nil),
		familyOf: make(map[string]string),
	}
}

func TestConvertContentToPartsTextBlock(t *testing.T) {
	cc := newTestConverter(t)
	parts := cc.ConvertContentToParts([]anthropic.ContentBlock{{Type: "text", Text: "hello"}}, true, false)
	if len(parts) != 1 || parts[0].Text != "hello" {
		t.Fatalf("unexpected parts: %#v", parts)
	}
}

func TestConvertContentToPartsDropsEmptyText(t *testing.T) {
	cc := newTestConverter(t)
	parts := cc.ConvertContentToParts([]anthropic.ContentBlock{{Type: "text", Text: ""}}, true, false)
	if len(parts) != 0 {
		t.Fatalf("expected empty text block to be dropped, got %#v", parts)
	}
}

func TestConvertContentToPartsToolUseGeminiUsesSkipSignature(t *testing.T) {
	cc := newTestConverter(t)
	parts := cc.ConvertContentToParts([]anthropic.ContentBlock{{Type: "tool_use", ID: "t1", Name: "lookup"}}, false, true)
	if len(parts) != 1 || parts[0].FunctionCall == nil {
		t.Fatalf("expected a functionCall part, got %#v", parts)
	}
	if parts[0].ThoughtSignature == "" {
		t.Fatalf("expected a fallback thought signature for Gemini")
	}
}

func TestConvertContentToPartsToolUseRestoresCachedSignature(t *testing.T) {
	cc := newTestConverter(t)
	cc.cache.Store(cc.ctx, "", "", "t1", "flash", "cached-signature-value-padding-padding")
	parts := cc.ConvertContentToParts([]anthropic.ContentBlock{{Type: "tool_use", ID: "t1", Name: "lookup"}}, false, true)
	if parts[0].ThoughtSignature != "cached-signature-value-padding-padding" {
		t.Fatalf("expected cached signature to be restored, got %q", parts[0].ThoughtSignature)
	}
}

func TestConvertContentToPartsToolResultStringContent(t *testing.T) {
	cc := newTestConverter(t)
	block := anthropic.ContentBlock{Type: "tool_result", ToolUseID: "t1", Content: "the answer"}
	parts := cc.ConvertContentToParts([]anthropic.ContentBlock{block}, true, false)
	if len(parts) != 1 || parts[0].FunctionResponse == nil {
		t.Fatalf("expected a functionResponse part, got %#v", parts)
	}
	if parts[0].FunctionResponse.Response["result"] != "the answer" {
		t.Fatalf("unexpected response content: %#v", parts[0].FunctionResponse.Response)
	}
	if parts[0].FunctionResponse.ID != "t1" {
		t.Fatalf("expected Claude tool_result id to match tool_use_id, got %q", parts[0].FunctionResponse.ID)
	}
}

func TestConvertContentToPartsDefersToolResultImages(t *testing.T) {
	cc := newTestConverter(t)
	content := []interface{}{
		map[string]interface{}{"type": "image", "source": map[string]interface{}{"type": "base64", "media_type": "image/png", "data": "abc"}},
	}
	block := anthropic.ContentBlock{Type: "tool_result", ToolUseID: "t1", Content: content}
	parts := cc.ConvertContentToParts([]anthropic.ContentBlock{
		block,
		{Type: "text", Text: "after"},
	}, true, false)

	// The functionResponse and the trailing text part both come before the
	// deferred inline image, regardless of where the image appeared.
	lastIdx := len(parts) - 1
	if parts[lastIdx].InlineData == nil {
		t.Fatalf("expected inline image data to be deferred to the end, got %#v", parts)
	}
}

func TestConvertContentToPartsThinkingDroppedWithoutKnownFamily(t *testing.T) {
	cc := newTestConverter(t)
	block := anthropic.ContentBlock{Type: "thinking", Thinking: "reasoning", Signature: validSignature()}
	parts := cc.ConvertContentToParts([]anthropic.ContentBlock{block}, false, true)
	if len(parts) != 0 {
		t.Fatalf("expected thinking block with unknown signature origin to be dropped for Gemini, got %#v", parts)
	}
}

func TestConvertContentToPartsThinkingKeptWhenFamilyMatches(t *testing.T) {
	cc := newTestConverter(t)
	sig := validSignature()
	cc.familyOf[sig] = "gemini"
	block := anthropic.ContentBlock{Type: "thinking", Thinking: "reasoning", Signature: sig}
	parts := cc.ConvertContentToParts([]anthropic.ContentBlock{block}, false, true)
	if len(parts) != 1 || !parts[0].Thought {
		t.Fatalf("expected matching-family thinking block to survive, got %#v", parts)
	}
}

func TestConvertContentToPartsToolUseArgsRoundTrip(t *testing.T) {
	cc := newTestConverter(t)
	input, _ := json.Marshal(map[string]interface{}{"city": "NYC"})
	block := anthropic.ContentBlock{Type: "tool_use", ID: "t1", Name: "weather", Input: input}
	parts := cc.ConvertContentToParts([]anthropic.ContentBlock{block}, true, false)
	if parts[0].FunctionCall.Args["city"] != "NYC" {
		t.Fatalf("expected args to round-trip, got %#v", parts[0].FunctionCall.Args)
	}
}
