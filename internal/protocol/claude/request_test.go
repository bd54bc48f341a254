package claude

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/avlabs/gemini-gateway/pkg/anthropic"
)

func TestConvertAnthropicToGoogleBasicTextMessage(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "gemini-2.5-flash",
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := ConvertAnthropicToGoogle(context.Background(), req, nil, "", nil)
	if len(out.Contents) != 1 || out.Contents[0].Role != "user" {
		t.Fatalf("unexpected contents: %#v", out.Contents)
	}
	if out.GenerationConfig.MaxOutputTokens != 1024 {
		t.Fatalf("expected max tokens carried over, got %d", out.GenerationConfig.MaxOutputTokens)
	}
}

func TestConvertAnthropicToGoogleSystemStringBecomesInstruction(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:  "claude-sonnet-4",
		System: "be terse",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := ConvertAnthropicToGoogle(context.Background(), req, nil, "", nil)
	if out.SystemInstruction == nil || out.SystemInstruction.Parts[0].Text != "be terse" {
		t.Fatalf("expected system instruction to carry the string, got %#v", out.SystemInstruction)
	}
}

func TestConvertAnthropicToGoogleClaudeThinkingBudgetBumpsMaxTokens(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-thinking",
		MaxTokens: 1000,
		Thinking:  &anthropic.ThinkingConfig{Type: "enabled", BudgetTokens: 2000},
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := ConvertAnthropicToGoogle(context.Background(), req, nil, "", nil)
	if out.GenerationConfig.MaxOutputTokens <= 2000 {
		t.Fatalf("expected max_tokens bumped above thinking_budget, got %d", out.GenerationConfig.MaxOutputTokens)
	}
	if out.GenerationConfig.ThinkingConfig.ThinkingBudget != 2000 {
		t.Fatalf("expected budget_tokens carried over, got %d", out.GenerationConfig.ThinkingConfig.ThinkingBudget)
	}
}

func TestConvertAnthropicToGoogleGeminiCapsMaxOutputTokens(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "gemini-2.5-pro",
		MaxTokens: 100000,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := ConvertAnthropicToGoogle(context.Background(), req, nil, "", nil)
	if out.GenerationConfig.MaxOutputTokens != 16384 {
		t.Fatalf("expected Gemini max_tokens capped at 16384, got %d", out.GenerationConfig.MaxOutputTokens)
	}
}

func TestConvertAnthropicToGoogleToolsGetClaudeValidatedMode(t *testing.T) {
	schema, _ := json.Marshal(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"q": map[string]interface{}{"type": "string"}}})
	req := &anthropic.MessagesRequest{
		Model: "claude-sonnet-4",
		Tools: []anthropic.Tool{{Name: "search", InputSchema: schema}},
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := ConvertAnthropicToGoogle(context.Background(), req, nil, "", nil)
	if len(out.Tools) != 1 || len(out.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("expected one function declaration, got %#v", out.Tools)
	}
	if out.ToolConfig == nil || out.ToolConfig.FunctionCallingConfig.Mode != "VALIDATED" {
		t.Fatalf("expected VALIDATED mode for Claude, got %#v", out.ToolConfig)
	}
}

func TestConvertAnthropicToGoogleEmptyPartsGetPlaceholder(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model: "claude-sonnet-4",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: ""}}},
		},
	}
	out := ConvertAnthropicToGoogle(context.Background(), req, nil, "", nil)
	if len(out.Contents[0].Parts) != 1 || out.Contents[0].Parts[0].Text != "." {
		t.Fatalf("expected placeholder part, got %#v", out.Contents[0].Parts)
	}
}
