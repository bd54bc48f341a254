package claude

import (
	"context"
	"encoding/json"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/signature"
	"github.com/avlabs/gemini-gateway/pkg/anthropic"
)

// GoogleRequest is a Gemini-style generateContent request.
type GoogleRequest struct {
	Contents          []GoogleContent   `json:"contents"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *GoogleContent    `json:"systemInstruction,omitempty"`
	Tools             []GoogleTool      `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
}

// GoogleContent is one turn of a Gemini-style conversation.
type GoogleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GooglePart `json:"parts"`
}

// GenerationConfig holds sampling and thinking parameters.
type GenerationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// ThinkingConfig carries both wire spellings the two backend families use;
// only the relevant pair is populated for a given request.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"include_thoughts,omitempty"`
	ThinkingBudget  int  `json:"thinking_budget,omitempty"`

	IncludeThoughtsGemini bool `json:"includeThoughts,omitempty"`
	ThinkingBudgetGemini  int  `json:"thinkingBudget,omitempty"`
}

// GoogleTool wraps a set of function declarations.
type GoogleTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration is one tool's name/description/parameters triple.
type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolConfig constrains function-calling behavior.
type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

// FunctionCallingConfig selects the function-calling mode.
type FunctionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

// requestBuilder carries the per-call state ConvertAnthropicToGoogle's
// helpers share: the signature cache, session, and model classification.
type requestBuilder struct {
	cc          *contentConverter
	isClaude    bool
	isGemini    bool
	isThinking  bool
}

// ConvertAnthropicToGoogle converts a client Messages API request into the
// Gemini-style upstream request shape. cache and sessionID wire thought-
// signature continuity across turns; familyOf resolves a cached signature
// to the model family that produced it, for cross-model thinking checks.
func ConvertAnthropicToGoogle(ctx context.Context, req *anthropic.MessagesRequest, cache *signature.Cache, sessionID string, familyOf map[string]string) *GoogleRequest {
	messages := CleanCacheControl(req.Messages)

	family := config.GetModelFamily(req.Model)
	rb := &requestBuilder{
		cc:         &contentConverter{ctx: ctx, cache: cache, sessionID: sessionID, familyOf: familyOf},
		isClaude:   family.IsClaude(),
		isGemini:   family.IsGemini(),
		isThinking: config.IsThinkingModel(req.Model),
	}

	out := &GoogleRequest{
		Contents:         make([]GoogleContent, 0, len(messages)),
		GenerationConfig: &GenerationConfig{},
	}

	out.SystemInstruction = rb.buildSystemInstruction(req.System)
	rb.addInterleavedThinkingHint(out, req.Tools)

	processed := rb.applyThinkingRecovery(messages)
	for _, msg := range processed {
		out.Contents = append(out.Contents, rb.convertMessage(msg))
	}
	if rb.isClaude {
		out.Contents = filterUnsignedThinkingBlocksFromContents(out.Contents)
	}

	rb.applyGenerationConfig(out, req)
	rb.applyThinkingConfig(out, req)
	rb.applyTools(out, req.Tools)

	if rb.isGemini && out.GenerationConfig.MaxOutputTokens > config.GeminiMaxOutputTokens {
		out.GenerationConfig.MaxOutputTokens = config.GeminiMaxOutputTokens
	}
	return out
}

func (rb *requestBuilder) buildSystemInstruction(system anthropic.SystemContent) *GoogleContent {
	if system == nil {
		return nil
	}
	var parts []GooglePart
	switch s := system.(type) {
	case string:
		if s != "" {
			parts = append(parts, GooglePart{Text: s})
		}
	case []interface{}:
		for _, block := range s {
			if blockMap, ok := block.(map[string]interface{}); ok && blockMap["type"] == "text" {
				if text, ok := blockMap["text"].(string); ok {
					parts = append(parts, GooglePart{Text: text})
				}
			}
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &GoogleContent{Parts: parts}
}

func (rb *requestBuilder) addInterleavedThinkingHint(out *GoogleRequest, tools []anthropic.Tool) {
	if !(rb.isClaude && rb.isThinking && len(tools) > 0) {
		return
	}
	hint := "Interleaved thinking is enabled. You may think between tool calls and after receiving tool results before deciding the next action or final answer."
	if out.SystemInstruction == nil {
		out.SystemInstruction = &GoogleContent{Parts: []GooglePart{{Text: hint}}}
		return
	}
	last := &out.SystemInstruction.Parts[len(out.SystemInstruction.Parts)-1]
	if last.Text != "" {
		last.Text = last.Text + "\n\n" + hint
	} else {
		out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, GooglePart{Text: hint})
	}
}

func (rb *requestBuilder) applyThinkingRecovery(messages []anthropic.Message) []anthropic.Message {
	if rb.isGemini && rb.isThinking && NeedsThinkingRecovery(messages) {
		return CloseToolLoopForThinking(messages, "gemini")
	}
	needsClaudeRecovery := HasGeminiHistory(messages) || HasUnsignedThinkingBlocks(messages)
	if rb.isClaude && rb.isThinking && needsClaudeRecovery && NeedsThinkingRecovery(messages) {
		return CloseToolLoopForThinking(messages, "claude")
	}
	return messages
}

func (rb *requestBuilder) convertMessage(msg anthropic.Message) GoogleContent {
	content := msg.Content
	if (msg.Role == "assistant" || msg.Role == "model") && len(content) > 0 {
		content = RestoreThinkingSignatures(content)
		content = RemoveTrailingThinkingBlocks(content)
		content = ReorderAssistantContent(content)
	}

	parts := rb.cc.ConvertContentToParts(content, rb.isClaude, rb.isGemini)
	if len(parts) == 0 {
		parts = append(parts, GooglePart{Text: "."})
	}
	return GoogleContent{Role: ConvertRole(msg.Role), Parts: parts}
}

func filterUnsignedThinkingBlocksFromContents(contents []GoogleContent) []GoogleContent {
	result := make([]GoogleContent, 0, len(contents))
	for _, content := range contents {
		filtered := make([]GooglePart, 0, len(content.Parts))
		for _, part := range content.Parts {
			if part.Thought && (part.ThoughtSignature == "" || len(part.ThoughtSignature) < config.MinSignatureLength) {
				continue
			}
			filtered = append(filtered, part)
		}
		result = append(result, GoogleContent{Role: content.Role, Parts: filtered})
	}
	return result
}

func (rb *requestBuilder) applyGenerationConfig(out *GoogleRequest, req *anthropic.MessagesRequest) {
	if req.MaxTokens > 0 {
		out.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	out.GenerationConfig.Temperature = req.Temperature
	out.GenerationConfig.TopP = req.TopP
	out.GenerationConfig.TopK = req.TopK
	if len(req.StopSequences) > 0 {
		out.GenerationConfig.StopSequences = req.StopSequences
	}
}

func (rb *requestBuilder) applyThinkingConfig(out *GoogleRequest, req *anthropic.MessagesRequest) {
	if !rb.isThinking {
		return
	}
	if rb.isClaude {
		tc := &ThinkingConfig{IncludeThoughts: true}
		var budget int
		if req.Thinking != nil {
			budget = req.Thinking.BudgetTokens
		}
		if budget > 0 {
			tc.ThinkingBudget = budget
			if out.GenerationConfig.MaxOutputTokens > 0 && out.GenerationConfig.MaxOutputTokens <= budget {
				out.GenerationConfig.MaxOutputTokens = budget + config.ThinkingMinOverhead
			}
		}
		out.GenerationConfig.ThinkingConfig = tc
		return
	}
	if rb.isGemini {
		budget := config.ThinkingBudget
		if req.Thinking != nil && req.Thinking.BudgetTokens > 0 {
			budget = req.Thinking.BudgetTokens
		}
		out.GenerationConfig.ThinkingConfig = &ThinkingConfig{
			IncludeThoughtsGemini: true,
			ThinkingBudgetGemini:  budget,
		}
	}
}

func (rb *requestBuilder) applyTools(out *GoogleRequest, tools []anthropic.Tool) {
	if len(tools) == 0 {
		return
	}
	decls := make([]FunctionDeclaration, 0, len(tools))
	for idx, tool := range tools {
		name := tool.Name
		if name == "" {
			name = "tool-" + itoa(idx)
		}
		var schema map[string]interface{}
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				schema = map[string]interface{}{"type": "object"}
			}
		} else {
			schema = map[string]interface{}{"type": "object"}
		}
		parameters := CleanSchema(SanitizeSchema(schema))
		decls = append(decls, FunctionDeclaration{
			Name:        CleanToolName(name),
			Description: tool.Description,
			Parameters:  parameters,
		})
	}
	out.Tools = []GoogleTool{{FunctionDeclarations: decls}}
	if rb.isClaude {
		out.ToolConfig = &ToolConfig{FunctionCallingConfig: &FunctionCallingConfig{Mode: "VALIDATED"}}
	}
}
