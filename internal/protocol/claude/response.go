package claude

import (
	"context"
	"encoding/json"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/signature"
	"github.com/avlabs/gemini-gateway/pkg/anthropic"
)

// GoogleResponse is a non-streamed Gemini-style generateContent response.
// Response is populated when the backend wraps its payload in an extra
// envelope layer; callers fall back to the top-level Candidates/
// UsageMetadata otherwise.
type GoogleResponse struct {
	Response      *GoogleResponseInner `json:"response,omitempty"`
	Candidates    []Candidate          `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata       `json:"usageMetadata,omitempty"`
}

// GoogleResponseInner is the wrapped-response shape.
type GoogleResponseInner struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Candidate is one generated response candidate.
type Candidate struct {
	Content      *CandidateContent `json:"content,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
}

// CandidateContent is a candidate's content turn.
type CandidateContent struct {
	Parts []ResponsePart `json:"parts,omitempty"`
	Role  string         `json:"role,omitempty"`
}

// ResponsePart is one part of a response candidate.
type ResponsePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *ResponseFuncCall `json:"functionCall,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
}

// ResponseFuncCall is a model-issued tool invocation in a response.
type ResponseFuncCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

// UsageMetadata reports token accounting for a response.
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// ConvertGoogleToAnthropic converts a complete Gemini-style response into
// an Anthropic Messages API response. sessionID and cache let a thinking
// signature or tool-call signature be replayed on later turns; familyOf,
// if non-nil, is populated with signature→family entries this call
// resolves, so a following request in the same conversation can run the
// cross-model thinking-compatibility check in content.go.
func ConvertGoogleToAnthropic(ctx context.Context, resp *GoogleResponse, model, sessionID string, cache *signature.Cache, familyOf map[string]string) *anthropic.MessagesResponse {
	var candidates []Candidate
	var usage *UsageMetadata
	if resp.Response != nil {
		candidates = resp.Response.Candidates
		usage = resp.Response.UsageMetadata
	} else {
		candidates = resp.Candidates
		usage = resp.UsageMetadata
	}

	var first Candidate
	if len(candidates) > 0 {
		first = candidates[0]
	}
	var parts []ResponsePart
	if first.Content != nil {
		parts = first.Content.Parts
	}

	family := config.GetModelFamily(model)
	content := make([]anthropic.ContentBlock, 0, len(parts))
	hasToolCalls := false

	for _, part := range parts {
		switch {
		case part.Text != "" && part.Thought:
			sig := part.ThoughtSignature
			if sig != "" && len(sig) >= config.MinSignatureLength {
				if familyOf != nil {
					familyOf[sig] = string(family)
				}
			}
			content = append(content, anthropic.ContentBlock{Type: "thinking", Thinking: part.Text, Signature: sig})

		case part.Text != "":
			content = append(content, anthropic.ContentBlock{Type: "text", Text: part.Text})

		case part.FunctionCall != nil:
			toolID := part.FunctionCall.ID
			if toolID == "" {
				toolID = anthropic.GenerateToolUseID()
			}
			var inputJSON json.RawMessage
			if part.FunctionCall.Args != nil {
				inputJSON, _ = json.Marshal(part.FunctionCall.Args)
			} else {
				inputJSON = json.RawMessage("{}")
			}
			block := anthropic.ContentBlock{Type: "tool_use", ID: toolID, Name: part.FunctionCall.Name, Input: inputJSON}
			if part.ThoughtSignature != "" && len(part.ThoughtSignature) >= config.MinSignatureLength {
				block.ThoughtSignature = part.ThoughtSignature
				if cache != nil {
					cache.Store(ctx, sessionID, "", toolID, string(family), part.ThoughtSignature)
				}
			}
			content = append(content, block)
			hasToolCalls = true

		case part.InlineData != nil:
			content = append(content, anthropic.ContentBlock{
				Type:   "image",
				Source: &anthropic.ImageSource{Type: "base64", MediaType: part.InlineData.MimeType, Data: part.InlineData.Data},
			})
		}
	}

	stopReason := mapFinishReason(first.FinishReason, hasToolCalls)

	var promptTokens, cachedTokens, outputTokens int
	if usage != nil {
		promptTokens = usage.PromptTokenCount
		cachedTokens = usage.CachedContentTokenCount
		outputTokens = usage.CandidatesTokenCount
	}

	if len(content) == 0 {
		content = append(content, anthropic.ContentBlock{Type: "text", Text: ""})
	}

	return &anthropic.MessagesResponse{
		ID:         anthropic.GenerateMessageID(),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		Usage: &anthropic.Usage{
			InputTokens:          promptTokens - cachedTokens,
			OutputTokens:         outputTokens,
			CacheReadInputTokens: cachedTokens,
		},
	}
}

func mapFinishReason(finishReason string, hasToolCalls bool) string {
	switch {
	case finishReason == "MAX_TOKENS":
		return "max_tokens"
	case finishReason == "TOOL_USE" || hasToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}
