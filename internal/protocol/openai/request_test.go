package openai

import (
	"context"
	"testing"

	"github.com/avlabs/gemini-gateway/internal/signature"
)

func TestConvertOpenAIToGoogleBasicTextMessage(t *testing.T) {
	req := &ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	}
	out := ConvertOpenAIToGoogle(context.Background(), req, nil, "")
	if len(out.Contents) != 1 || out.Contents[0].Role != "user" {
		t.Fatalf("unexpected contents: %#v", out.Contents)
	}
	if len(out.Contents[0].Parts) != 1 || out.Contents[0].Parts[0].Text != "hello" {
		t.Fatalf("unexpected parts: %#v", out.Contents[0].Parts)
	}
}

func TestConvertOpenAIToGoogleSystemMessageBecomesInstruction(t *testing.T) {
	req := &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "hi"},
		},
	}
	out := ConvertOpenAIToGoogle(context.Background(), req, nil, "")
	if out.SystemInstruction == nil || out.SystemInstruction.Parts[0].Text != "be terse" {
		t.Fatalf("expected system instruction, got %#v", out.SystemInstruction)
	}
	if len(out.Contents) != 1 {
		t.Fatalf("expected the system message to be excluded from contents, got %d", len(out.Contents))
	}
}

func TestConvertOpenAIToGoogleStopSequencesAcceptsStringOrArray(t *testing.T) {
	single := ConvertOpenAIToGoogle(context.Background(), &ChatRequest{Stop: "END"}, nil, "")
	if len(single.GenerationConfig.StopSequences) != 1 || single.GenerationConfig.StopSequences[0] != "END" {
		t.Fatalf("unexpected stop sequences: %#v", single.GenerationConfig.StopSequences)
	}
	multi := ConvertOpenAIToGoogle(context.Background(), &ChatRequest{Stop: []interface{}{"A", "B"}}, nil, "")
	if len(multi.GenerationConfig.StopSequences) != 2 {
		t.Fatalf("unexpected stop sequences: %#v", multi.GenerationConfig.StopSequences)
	}
}

func TestConvertOpenAIToGoogleToolCallAndResultRoundTrip(t *testing.T) {
	req := &ChatRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "what's the weather"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Type: "function", Function: FunctionCall{Name: "lookup", Arguments: `{"city":"NYC"}`}}}},
			{Role: RoleTool, ToolCallID: "call_1", Content: "72F"},
		},
	}
	out := ConvertOpenAIToGoogle(context.Background(), req, nil, "")
	if len(out.Contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(out.Contents))
	}
	call := out.Contents[1].Parts[0].FunctionCall
	if call == nil || call.Name != "lookup" || call.Args["city"] != "NYC" {
		t.Fatalf("unexpected function call: %#v", call)
	}
	result := out.Contents[2].Parts[0].FunctionResponse
	if result == nil || result.Name != "lookup" {
		t.Fatalf("expected the tool result to recover the function name from its call id, got %#v", result)
	}
}

func TestConvertOpenAIToGoogleRecoversCachedThoughtSignature(t *testing.T) {
	cache := signature.New(0, 0, nil, nil)
	reasoning := "because X implies Y"
	cache.Store(context.Background(), "sess-1", computeContentHash(reasoning), "", "", "sig-abc")

	req := &ChatRequest{
		Messages: []Message{{Role: RoleAssistant, ReasoningContent: reasoning}},
	}
	out := ConvertOpenAIToGoogle(context.Background(), req, cache, "sess-1")
	if out.Contents[0].Parts[0].ThoughtSignature != "sig-abc" {
		t.Fatalf("expected the cached signature to be recovered, got %#v", out.Contents[0].Parts[0])
	}
}

func TestConvertOpenAIToGoogleCleansToolSchema(t *testing.T) {
	req := &ChatRequest{
		Tools: []Tool{{Type: "function", Function: Function{Name: "weather.lookup", Parameters: map[string]interface{}{}}}},
	}
	out := ConvertOpenAIToGoogle(context.Background(), req, nil, "")
	if len(out.Tools) != 1 || len(out.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("expected one tool with one declaration, got %#v", out.Tools)
	}
	decl := out.Tools[0].FunctionDeclarations[0]
	if decl.Name != "weather_lookup" {
		t.Fatalf("expected the tool name to be cleaned, got %q", decl.Name)
	}
	if decl.Parameters["type"] != "object" {
		t.Fatalf("expected an empty schema to be replaced with a placeholder, got %#v", decl.Parameters)
	}
}
