package openai

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/protocol/claude"
	"github.com/avlabs/gemini-gateway/internal/signature"
)

// ConvertGoogleToOpenAI converts a complete Gemini-style response into an
// OpenAI ChatResponse. A thinking part is surfaced as reasoning_content on
// the assistant message, and its signature is cached under a hash of that
// text so a later turn replaying the same reasoning_content can recover it
// via ConvertOpenAIToGoogle.
func ConvertGoogleToOpenAI(ctx context.Context, resp *claude.GoogleResponse, model, sessionID string, cache *signature.Cache) *ChatResponse {
	var candidates []claude.Candidate
	var usage *claude.UsageMetadata
	if resp.Response != nil {
		candidates = resp.Response.Candidates
		usage = resp.Response.UsageMetadata
	} else {
		candidates = resp.Candidates
		usage = resp.UsageMetadata
	}

	var first claude.Candidate
	if len(candidates) > 0 {
		first = candidates[0]
	}
	var parts []claude.ResponsePart
	if first.Content != nil {
		parts = first.Content.Parts
	}

	family := config.GetModelFamily(model)
	msg := Message{Role: RoleAssistant}
	var textContent string
	var toolCalls []ToolCall

	for _, part := range parts {
		switch {
		case part.Text != "" && part.Thought:
			msg.ReasoningContent += part.Text
			if part.ThoughtSignature != "" && cache != nil {
				cache.Store(ctx, sessionID, computeContentHash(part.Text), "", string(family), part.ThoughtSignature)
			}
		case part.Text != "":
			textContent += part.Text
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = GenerateToolCallID()
			}
			argsJSON, _ := json.Marshal(part.FunctionCall.Args)
			toolCalls = append(toolCalls, ToolCall{
				ID:   id,
				Type: "function",
				Function: FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(argsJSON),
				},
			})
		}
	}

	if textContent != "" {
		msg.Content = textContent
	}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}

	finishReason := "stop"
	switch first.FinishReason {
	case "MAX_TOKENS":
		finishReason = "length"
	case "STOP", "TOOL_USE", "":
		if len(toolCalls) > 0 {
			finishReason = "tool_calls"
		}
	}

	out := &ChatResponse{
		ID:      GenerateChatCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{Index: 0, Message: &msg, FinishReason: finishReason}},
	}
	if usage != nil {
		out.Usage = Usage{
			PromptTokens:     usage.PromptTokenCount - usage.CachedContentTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.PromptTokenCount - usage.CachedContentTokenCount + usage.CandidatesTokenCount,
		}
	}
	return out
}
