package claude

import (
	"context"
	"encoding/json"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/signature"
	"github.com/avlabs/gemini-gateway/pkg/anthropic"
)

// GooglePart is one part of a Gemini-style content entry.
type GooglePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FileData         *FileData         `json:"fileData,omitempty"`
}

// FunctionCall is a model-issued tool invocation.
type FunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

// FunctionResponse is a client-supplied tool result.
type FunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response,omitempty"`
	ID       string                 `json:"id,omitempty"`
}

// InlineData is a base64-encoded payload embedded directly in a part.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FileData is a URL reference to a file the backend fetches itself.
type FileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// ConvertRole maps an Anthropic role to the Gemini role name.
func ConvertRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// contentConverter holds the per-request context ConvertContentToParts needs
// to resolve and persist thought signatures: the shared cache, the
// request's session, and the instance-scoped signature→family map that
// bridges the cache's forward-only (key→signature) design to the reverse
// (signature→family) lookup cross-model thinking checks need.
type contentConverter struct {
	ctx       context.Context
	cache     *signature.Cache
	sessionID string
	familyOf  map[string]string
}

// ConvertContentToParts converts one message's Anthropic content blocks into
// Gemini-style parts. Tool-result inline image data is deferred to the end
// of the parts array: the backend associates a functionResponse with the
// image that immediately precedes it in conversation order, not the one
// interleaved with the response.
func (cc *contentConverter) ConvertContentToParts(content []anthropic.ContentBlock, isClaudeModel, isGeminiModel bool) []GooglePart {
	parts := make([]GooglePart, 0, len(content))
	var deferredInlineData []GooglePart

	for _, block := range content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, GooglePart{Text: block.Text})
			}

		case "image":
			if part, ok := cc.convertMediaSource(block.Source, "image/jpeg"); ok {
				parts = append(parts, part)
			}

		case "document":
			if part, ok := cc.convertMediaSource(block.Source, "application/pdf"); ok {
				parts = append(parts, part)
			}

		case "tool_use":
			parts = append(parts, cc.convertToolUse(block, isClaudeModel, isGeminiModel))

		case "tool_result":
			respPart, images := cc.convertToolResult(block, isClaudeModel)
			parts = append(parts, respPart)
			deferredInlineData = append(deferredInlineData, images...)

		case "thinking":
			if part, keep := cc.convertThinking(block, isClaudeModel, isGeminiModel); keep {
				parts = append(parts, part)
			}
		}
	}

	parts = append(parts, deferredInlineData...)
	return parts
}

func (cc *contentConverter) convertMediaSource(source *anthropic.ImageSource, defaultMime string) (GooglePart, bool) {
	if source == nil {
		return GooglePart{}, false
	}
	switch source.Type {
	case "base64":
		return GooglePart{InlineData: &InlineData{MimeType: source.MediaType, Data: source.Data}}, true
	case "url":
		mimeType := source.MediaType
		if mimeType == "" {
			mimeType = defaultMime
		}
		return GooglePart{FileData: &FileData{MimeType: mimeType, FileURI: source.URL}}, true
	}
	return GooglePart{}, false
}

func (cc *contentConverter) convertToolUse(block anthropic.ContentBlock, isClaudeModel, isGeminiModel bool) GooglePart {
	var args map[string]interface{}
	if len(block.Input) > 0 {
		_ = json.Unmarshal(block.Input, &args)
	}

	call := &FunctionCall{Name: block.Name, Args: args}
	if isClaudeModel && block.ID != "" {
		call.ID = block.ID
	}
	part := GooglePart{FunctionCall: call}

	if isGeminiModel {
		sig := block.ThoughtSignature
		if sig == "" && block.ID != "" && cc.cache != nil {
			if cached, _, ok := cc.cache.Lookup(cc.ctx, "", "", block.ID, ""); ok {
				sig = cached
			}
		}
		if sig == "" {
			sig = config.GeminiSkipSignature
		}
		part.ThoughtSignature = sig
	}
	return part
}

func (cc *contentConverter) convertToolResult(block anthropic.ContentBlock, isClaudeModel bool) (GooglePart, []GooglePart) {
	responseContent := make(map[string]interface{})
	var images []GooglePart

	switch c := block.Content.(type) {
	case string:
		responseContent["result"] = c
	case []interface{}:
		var texts []string
		for _, item := range c {
			itemMap, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			switch itemMap["type"] {
			case "image":
				if source, ok := itemMap["source"].(map[string]interface{}); ok && source["type"] == "base64" {
					mimeType, _ := source["media_type"].(string)
					data, _ := source["data"].(string)
					images = append(images, GooglePart{InlineData: &InlineData{MimeType: mimeType, Data: data}})
				}
			case "text":
				if text, ok := itemMap["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
		responseContent["result"] = resultTextOrPlaceholder(texts, images)
	case []anthropic.ContentBlock:
		var texts []string
		for _, item := range c {
			if item.IsImage() && item.Source != nil && item.Source.Type == "base64" {
				images = append(images, GooglePart{InlineData: &InlineData{MimeType: item.Source.MediaType, Data: item.Source.Data}})
			} else if item.IsText() {
				texts = append(texts, item.Text)
			}
		}
		responseContent["result"] = resultTextOrPlaceholder(texts, images)
	}

	funcName := block.ToolUseID
	if funcName == "" {
		funcName = "unknown"
	}
	resp := &FunctionResponse{Name: funcName, Response: responseContent}
	if isClaudeModel && block.ToolUseID != "" {
		resp.ID = block.ToolUseID
	}
	return GooglePart{FunctionResponse: resp}, images
}

func resultTextOrPlaceholder(texts []string, images []GooglePart) string {
	if len(texts) > 0 {
		return joinLines(texts)
	}
	if len(images) > 0 {
		return "Image attached"
	}
	return ""
}

func joinLines(lines []string) string {
	result := lines[0]
	for _, l := range lines[1:] {
		result += "\n" + l
	}
	return result
}

func (cc *contentConverter) convertThinking(block anthropic.ContentBlock, isClaudeModel, isGeminiModel bool) (GooglePart, bool) {
	if block.Signature == "" || len(block.Signature) < config.MinSignatureLength {
		return GooglePart{}, false
	}

	var targetFamily string
	if isClaudeModel {
		targetFamily = "claude"
	} else if isGeminiModel {
		targetFamily = "gemini"
	}

	if isGeminiModel && targetFamily != "" {
		family, known := cc.familyOf[block.Signature]
		if known && family != targetFamily {
			return GooglePart{}, false
		}
		if !known {
			return GooglePart{}, false
		}
	}

	return GooglePart{Text: block.Thinking, Thought: true, ThoughtSignature: block.Signature}, true
}
