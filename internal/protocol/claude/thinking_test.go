package claude

import (
	"strings"
	"testing"

	"github.com/avlabs/gemini-gateway/pkg/anthropic"
)

func validSignature() string { return strings.Repeat("s", 60) }

func TestHasUnsignedThinkingBlocksDetectsMissingSignature(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "thinking", Thinking: "hm"}}},
	}
	if !HasUnsignedThinkingBlocks(messages) {
		t.Fatal("expected unsigned thinking block to be detected")
	}
}

func TestHasUnsignedThinkingBlocksFalseWhenSigned(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "thinking", Thinking: "hm", Signature: validSignature()}}},
	}
	if HasUnsignedThinkingBlocks(messages) {
		t.Fatal("did not expect unsigned thinking block")
	}
}

func TestHasGeminiHistoryDetectsSignedToolUse(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "tool_use", ID: "t1", ThoughtSignature: "sig"}}},
	}
	if !HasGeminiHistory(messages) {
		t.Fatal("expected Gemini history to be detected")
	}
}

func TestRestoreThinkingSignaturesDropsUnsigned(t *testing.T) {
	content := []anthropic.ContentBlock{
		{Type: "thinking", Thinking: "a"},
		{Type: "thinking", Thinking: "b", Signature: validSignature()},
		{Type: "text", Text: "hello"},
	}
	result := RestoreThinkingSignatures(content)
	if len(result) != 2 {
		t.Fatalf("expected 2 blocks to survive, got %d", len(result))
	}
	if result[0].Type != "thinking" || result[0].Thinking != "b" {
		t.Fatalf("expected signed thinking block to survive, got %#v", result[0])
	}
}

func TestRemoveTrailingThinkingBlocksStopsAtSignedBlock(t *testing.T) {
	content := []anthropic.ContentBlock{
		{Type: "thinking", Thinking: "a", Signature: validSignature()},
		{Type: "thinking", Thinking: "b"},
		{Type: "thinking", Thinking: "c"},
	}
	result := RemoveTrailingThinkingBlocks(content)
	if len(result) != 1 {
		t.Fatalf("expected trailing unsigned blocks to be stripped, got %d blocks", len(result))
	}
}

func TestReorderAssistantContentOrdersThinkingTextToolUse(t *testing.T) {
	content := []anthropic.ContentBlock{
		{Type: "tool_use", Name: "lookup"},
		{Type: "text", Text: "answer"},
		{Type: "thinking", Thinking: "reasoning", Signature: validSignature()},
	}
	result := ReorderAssistantContent(content)
	if result[0].Type != "thinking" || result[1].Type != "text" || result[2].Type != "tool_use" {
		t.Fatalf("unexpected order: %#v", result)
	}
}

func TestReorderAssistantContentDropsEmptyText(t *testing.T) {
	content := []anthropic.ContentBlock{{Type: "text", Text: ""}, {Type: "tool_use", Name: "x"}}
	result := ReorderAssistantContent(content)
	for _, block := range result {
		if block.Type == "text" {
			t.Fatalf("expected empty text block to be dropped, got %#v", result)
		}
	}
}

func TestNeedsThinkingRecoveryDetectsInterruptedToolLoop(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "go"}}},
		{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "tool_use", Name: "lookup", ID: "t1"}}},
	}
	if !NeedsThinkingRecovery(messages) {
		t.Fatal("expected recovery to be needed for tool_use without thinking")
	}
}

func TestNeedsThinkingRecoveryFalseWhenThinkingPresent(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "assistant", Content: []anthropic.ContentBlock{
			{Type: "thinking", Thinking: "plan", Signature: validSignature()},
			{Type: "tool_use", Name: "lookup", ID: "t1"},
		}},
	}
	if NeedsThinkingRecovery(messages) {
		t.Fatal("did not expect recovery when thinking is present")
	}
}

func TestCloseToolLoopForThinkingAppendsRecoveryMessage(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "tool_use", Name: "lookup", ID: "t1"}}},
	}
	result := CloseToolLoopForThinking(messages, "gemini")
	if len(result) != len(messages)+1 {
		t.Fatalf("expected one recovery message appended, got %d messages", len(result))
	}
	last := result[len(result)-1]
	if last.Role != "user" || len(last.Content) != 2 {
		t.Fatalf("unexpected recovery message shape: %#v", last)
	}
}
