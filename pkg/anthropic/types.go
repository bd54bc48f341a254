// Package anthropic defines the wire types for the Anthropic Messages API
// surface (POST /v1/messages, /v1/messages/count_tokens, GET /v1/models).
package anthropic

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

// Message is one turn of an Anthropic conversation.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a single block within a message's content array. Only
// the fields relevant to Type are populated; the rest are zero.
type ContentBlock struct {
	Type string `json:"type"`

	// Text block.
	Text string `json:"text,omitempty"`

	// Thinking block (Claude-style signature).
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Set when this block arrived from the Gemini wire as a "thought"
	// part rather than an Anthropic "thinking" block; distinguishes the
	// two signature conventions during conversion.
	Thought bool `json:"-"`

	// Tool use.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`

	// Gemini-side thought signature, carried on tool_use blocks.
	ThoughtSignature string `json:"thoughtSignature,omitempty"`

	// Image / document source.
	Source *ImageSource `json:"source,omitempty"`

	// redacted_thinking payload.
	Data string `json:"data,omitempty"`

	// Stripped before the request reaches the upstream backend.
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// ImageSource describes an inline or URL-referenced image/document.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
	URL       string `json:"url,omitempty"`
}

// CacheControl requests prompt caching on a block; the proxy strips it
// before forwarding upstream (the backend rejects the field).
type CacheControl struct {
	Type string `json:"type"`
}

// Tool is a client-supplied tool definition with a JSON Schema input shape.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice constrains which tool(s) the model may call.
type ToolChoice struct {
	Type                   string `json:"type"`
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

// ThinkingConfig requests extended thinking on a request.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// SystemContent is either a plain string or a []ContentBlock-shaped array.
type SystemContent interface{}

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	Stream        bool            `json:"stream,omitempty"`
	System        SystemContent   `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
}

// Metadata carries client-supplied request tracking fields.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessagesResponse is the body of a non-streamed POST /v1/messages reply.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// Usage reports token accounting for a response.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// SSEEventType enumerates the Anthropic streaming event names.
type SSEEventType string

const (
	SSEEventMessageStart      SSEEventType = "message_start"
	SSEEventContentBlockStart SSEEventType = "content_block_start"
	SSEEventContentBlockDelta SSEEventType = "content_block_delta"
	SSEEventContentBlockStop  SSEEventType = "content_block_stop"
	SSEEventMessageDelta      SSEEventType = "message_delta"
	SSEEventMessageStop       SSEEventType = "message_stop"
	SSEEventPing              SSEEventType = "ping"
	SSEEventError             SSEEventType = "error"
)

// SSEEvent is one frame of a streamed /v1/messages response.
type SSEEvent struct {
	Type         SSEEventType      `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        int               `json:"index,omitempty"`
	Delta        *ContentDelta     `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Error        *SSEError         `json:"error,omitempty"`
}

// ContentDelta is the payload of a content_block_delta event.
type ContentDelta struct {
	Type             string `json:"type"`
	Text             string `json:"text,omitempty"`
	Thinking         string `json:"thinking,omitempty"`
	Signature        string `json:"signature,omitempty"`
	PartialJSON      string `json:"partial_json,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
	ThoughtSignature string `json:"thoughtSignature,omitempty"`
}

// SSEError is the payload of an error event.
type SSEError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Model describes one entry of GET /v1/models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ErrorResponse is the Anthropic-shaped error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error type/message pair.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds an ErrorResponse envelope.
func NewErrorResponse(errorType, message string) *ErrorResponse {
	return &ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errorType, Message: message},
	}
}

// NewMessagesResponse builds a non-streamed response envelope.
func NewMessagesResponse(id, model string, content []ContentBlock, stopReason string, usage *Usage) *MessagesResponse {
	return &MessagesResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		Usage:      usage,
	}
}

// IsToolUse reports whether the block is a tool_use block.
func (cb *ContentBlock) IsToolUse() bool { return cb.Type == "tool_use" }

// IsToolResult reports whether the block is a tool_result block.
func (cb *ContentBlock) IsToolResult() bool { return cb.Type == "tool_result" }

// IsText reports whether the block is a text block.
func (cb *ContentBlock) IsText() bool { return cb.Type == "text" }

// IsThinking reports whether the block is a thinking block.
func (cb *ContentBlock) IsThinking() bool { return cb.Type == "thinking" }

// IsImage reports whether the block is an image block.
func (cb *ContentBlock) IsImage() bool { return cb.Type == "image" }

// HasSignature reports whether a thinking block carries a signature long
// enough to be a real continuation token rather than a placeholder.
func (cb *ContentBlock) HasSignature() bool {
	return cb.IsThinking() && len(cb.Signature) >= 50
}

// GenerateMessageID returns a fresh "msg_"-prefixed identifier.
func GenerateMessageID() string { return "msg_" + generateRandomHex(24) }

// GenerateToolUseID returns a fresh "toolu_"-prefixed identifier.
func GenerateToolUseID() string { return "toolu_" + generateRandomHex(24) }

// generateRandomHex returns a cryptographically random hex string of
// byteLength*2 characters.
func generateRandomHex(byteLength int) string {
	buf := make([]byte, byteLength)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// CloneContentBlock deep-copies a content block's pointer/slice fields.
func CloneContentBlock(cb ContentBlock) ContentBlock {
	clone := cb
	if cb.Input != nil {
		clone.Input = make(json.RawMessage, len(cb.Input))
		copy(clone.Input, cb.Input)
	}
	if cb.Source != nil {
		src := *cb.Source
		clone.Source = &src
	}
	if cb.CacheControl != nil {
		cc := *cb.CacheControl
		clone.CacheControl = &cc
	}
	return clone
}

// CloneMessage deep-copies a message and its content blocks.
func CloneMessage(msg Message) Message {
	clone := msg
	clone.Content = make([]ContentBlock, len(msg.Content))
	for i, cb := range msg.Content {
		clone.Content[i] = CloneContentBlock(cb)
	}
	return clone
}
