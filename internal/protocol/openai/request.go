package openai

import (
	"context"
	"encoding/json"

	"github.com/avlabs/gemini-gateway/internal/protocol/claude"
	"github.com/avlabs/gemini-gateway/internal/signature"
)

// ConvertOpenAIToGoogle converts a ChatRequest into the shared Gemini-style
// upstream request shape. cache and sessionID let an assistant message's
// reasoning_content recover the thought signature the backend issued for
// it on an earlier turn, keyed by a hash of the reasoning text since
// OpenAI clients echo the text back without the signature.
func ConvertOpenAIToGoogle(ctx context.Context, req *ChatRequest, cache *signature.Cache, sessionID string) *claude.GoogleRequest {
	out := &claude.GoogleRequest{
		GenerationConfig: buildGenerationConfig(req),
	}

	if system := collectSystemText(req.Messages); system != "" {
		out.SystemInstruction = &claude.GoogleContent{Parts: []claude.GooglePart{{Text: system}}}
	}

	callNameByID := map[string]string{}
	for _, msg := range req.Messages {
		for _, tc := range msg.ToolCalls {
			callNameByID[tc.ID] = tc.Function.Name
		}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleTool, RoleFunction:
			out.Contents = append(out.Contents, toolResultContent(msg, callNameByID))
		default:
			out.Contents = append(out.Contents, convertMessage(ctx, msg, cache, sessionID))
		}
	}

	if len(req.Tools) > 0 {
		out.Tools = []claude.GoogleTool{{FunctionDeclarations: convertTools(req.Tools)}}
	}

	return out
}

func buildGenerationConfig(req *ChatRequest) *claude.GenerationConfig {
	cfg := &claude.GenerationConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
	}
	if req.MaxCompletionTokens > 0 && req.MaxTokens == 0 {
		cfg.MaxOutputTokens = req.MaxCompletionTokens
	}
	switch stop := req.Stop.(type) {
	case string:
		if stop != "" {
			cfg.StopSequences = []string{stop}
		}
	case []interface{}:
		for _, s := range stop {
			if str, ok := s.(string); ok {
				cfg.StopSequences = append(cfg.StopSequences, str)
			}
		}
	}
	return cfg
}

func collectSystemText(messages []Message) string {
	var system string
	for _, msg := range messages {
		if msg.Role != RoleSystem {
			continue
		}
		if text, ok := msg.Content.(string); ok {
			system += text
		}
	}
	return system
}

func toolResultContent(msg Message, callNameByID map[string]string) claude.GoogleContent {
	name := callNameByID[msg.ToolCallID]
	if name == "" {
		name = msg.ToolCallID
	}
	text, _ := msg.Content.(string)
	return claude.GoogleContent{
		Role: "user",
		Parts: []claude.GooglePart{{
			FunctionResponse: &claude.FunctionResponse{
				Name:     name,
				Response: map[string]interface{}{"result": text},
			},
		}},
	}
}

func convertMessage(ctx context.Context, msg Message, cache *signature.Cache, sessionID string) claude.GoogleContent {
	content := claude.GoogleContent{Role: claude.ConvertRole(string(msg.Role))}

	if msg.ReasoningContent != "" {
		content.Parts = append(content.Parts, thoughtPart(ctx, msg.ReasoningContent, cache, sessionID))
	}

	switch c := msg.Content.(type) {
	case string:
		if c != "" {
			content.Parts = append(content.Parts, claude.GooglePart{Text: c})
		}
	case []interface{}:
		for _, raw := range c {
			part, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if part["type"] != "text" {
				continue
			}
			if text, ok := part["text"].(string); ok && text != "" {
				content.Parts = append(content.Parts, claude.GooglePart{Text: text})
			}
		}
	}

	for _, tc := range msg.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		content.Parts = append(content.Parts, claude.GooglePart{
			FunctionCall: &claude.FunctionCall{Name: tc.Function.Name, Args: args, ID: tc.ID},
		})
	}

	return content
}

func thoughtPart(ctx context.Context, reasoning string, cache *signature.Cache, sessionID string) claude.GooglePart {
	part := claude.GooglePart{Text: reasoning, Thought: true}
	if cache == nil {
		return part
	}
	if sig, _, ok := cache.Lookup(ctx, sessionID, computeContentHash(reasoning), "", ""); ok {
		part.ThoughtSignature = sig
	}
	return part
}

func convertTools(tools []Tool) []claude.FunctionDeclaration {
	decls := make([]claude.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		params, _ := tool.Function.Parameters.(map[string]interface{})
		if params == nil {
			if raw, err := json.Marshal(tool.Function.Parameters); err == nil {
				_ = json.Unmarshal(raw, &params)
			}
		}
		cleaned := claude.CleanSchema(claude.SanitizeSchema(params))
		decls = append(decls, claude.FunctionDeclaration{
			Name:        claude.CleanToolName(tool.Function.Name),
			Description: tool.Function.Description,
			Parameters:  cleaned,
		})
	}
	return decls
}
