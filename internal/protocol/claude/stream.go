package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/protocol"
	"github.com/avlabs/gemini-gateway/internal/signature"
	"github.com/avlabs/gemini-gateway/pkg/anthropic"
)

// streamState tracks the currently-open Anthropic content block across SSE
// frames, so a run of thinking/text/tool_use/image parts gets a single
// content_block_start/stop pair instead of one per frame.
type streamState struct {
	messageID             string
	hasEmittedStart        bool
	blockIndex             int
	currentBlockType       string
	currentThinkingSig     string
	inputTokens            int
	outputTokens           int
	cacheReadTokens        int
	stopReason             string
}

// StreamFromUpstream parses a Gemini-style SSE body and emits it as a
// channel of protocol.ClientEvent, each already rendered as one Anthropic
// SSE frame's JSON payload. ctx cancellation stops the scan; the channel is
// always closed on return.
func StreamFromUpstream(ctx context.Context, reader io.Reader, model, sessionID string, cache *signature.Cache, familyOf map[string]string) <-chan protocol.ClientEvent {
	out := make(chan protocol.ClientEvent, 16)

	go func() {
		defer close(out)

		st := &streamState{messageID: anthropic.GenerateMessageID()}
		scanner := bufio.NewScanner(reader)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			jsonText := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if jsonText == "" {
				continue
			}

			var frame SSEFrame
			if err := json.Unmarshal([]byte(jsonText), &frame); err != nil {
				continue
			}

			inner := frame.Response
			if inner == nil {
				inner = &SSEInnerFrame{Candidates: frame.Candidates, UsageMetadata: frame.UsageMetadata}
			}
			if inner.UsageMetadata != nil {
				st.inputTokens = maxInt(st.inputTokens, inner.UsageMetadata.PromptTokenCount)
				st.outputTokens = maxInt(st.outputTokens, inner.UsageMetadata.CandidatesTokenCount)
				st.cacheReadTokens = maxInt(st.cacheReadTokens, inner.UsageMetadata.CachedContentTokenCount)
			}
			if len(inner.Candidates) == 0 {
				continue
			}

			first := inner.Candidates[0]
			if first.Content == nil {
				if first.FinishReason != "" && st.stopReason == "" {
					st.stopReason = mapFinishReason(first.FinishReason, false)
				}
				continue
			}

			if !st.hasEmittedStart && len(first.Content.Parts) > 0 {
				st.hasEmittedStart = true
				emit(out, anthropic.SSEEventMessageStart, &anthropic.SSEEvent{
					Type: anthropic.SSEEventMessageStart,
					Message: &anthropic.MessagesResponse{
						ID:      st.messageID,
						Type:    "message",
						Role:    "assistant",
						Content: []anthropic.ContentBlock{},
						Model:   model,
						Usage: &anthropic.Usage{
							InputTokens:          st.inputTokens - st.cacheReadTokens,
							CacheReadInputTokens: st.cacheReadTokens,
						},
					},
				})
			}

			for _, part := range first.Content.Parts {
				streamPart(ctx, out, st, part, model, sessionID, cache, familyOf)
			}

			if first.FinishReason != "" && st.stopReason == "" {
				st.stopReason = mapFinishReason(first.FinishReason, st.currentBlockType == "tool_use")
			}
		}

		if err := scanner.Err(); err != nil {
			out <- protocol.ClientEvent{Type: protocol.EventError, Err: err}
			return
		}

		if !st.hasEmittedStart {
			out <- protocol.ClientEvent{Type: protocol.EventError, Err: errs.NewEmptyResponseError("No content parts received from API")}
			return
		}

		if st.currentBlockType != "" {
			if st.currentBlockType == "thinking" && st.currentThinkingSig != "" {
				emitDelta(out, st.blockIndex, map[string]interface{}{"type": "signature_delta", "signature": st.currentThinkingSig})
			}
			emit(out, anthropic.SSEEventContentBlockStop, &anthropic.SSEEvent{Type: anthropic.SSEEventContentBlockStop, Index: st.blockIndex})
		}
		if st.stopReason == "" {
			st.stopReason = "end_turn"
		}
		emit(out, anthropic.SSEEventMessageDelta, &anthropic.SSEEvent{
			Type:  anthropic.SSEEventMessageDelta,
			Delta: &anthropic.ContentDelta{StopReason: st.stopReason},
			Usage: &anthropic.Usage{OutputTokens: st.outputTokens, CacheReadInputTokens: st.cacheReadTokens},
		})
		emit(out, anthropic.SSEEventMessageStop, &anthropic.SSEEvent{Type: anthropic.SSEEventMessageStop})
		out <- protocol.ClientEvent{Type: protocol.EventDone}
	}()

	return out
}

func streamPart(ctx context.Context, out chan<- protocol.ClientEvent, st *streamState, part SSEPart, model, sessionID string, cache *signature.Cache, familyOf map[string]string) {
	switch {
	case part.Thought:
		if st.currentBlockType != "thinking" {
			closeCurrentBlock(out, st)
			st.currentBlockType = "thinking"
			st.currentThinkingSig = ""
			emit(out, anthropic.SSEEventContentBlockStart, &anthropic.SSEEvent{
				Type: anthropic.SSEEventContentBlockStart, Index: st.blockIndex,
				ContentBlock: &anthropic.ContentBlock{Type: "thinking"},
			})
		}
		if part.ThoughtSignature != "" && len(part.ThoughtSignature) >= config.MinSignatureLength {
			st.currentThinkingSig = part.ThoughtSignature
			if familyOf != nil {
				familyOf[part.ThoughtSignature] = string(config.GetModelFamily(model))
			}
		}
		emitDelta(out, st.blockIndex, map[string]interface{}{"type": "thinking_delta", "thinking": part.Text})

	case part.Text != "":
		if st.currentBlockType != "text" {
			flushThinkingSignature(out, st)
			closeCurrentBlock(out, st)
			st.currentBlockType = "text"
			emit(out, anthropic.SSEEventContentBlockStart, &anthropic.SSEEvent{
				Type: anthropic.SSEEventContentBlockStart, Index: st.blockIndex,
				ContentBlock: &anthropic.ContentBlock{Type: "text"},
			})
		}
		emitDelta(out, st.blockIndex, map[string]interface{}{"type": "text_delta", "text": part.Text})

	case part.FunctionCall != nil:
		flushThinkingSignature(out, st)
		closeCurrentBlock(out, st)
		st.currentBlockType = "tool_use"
		st.stopReason = "tool_use"

		toolID := part.FunctionCall.ID
		if toolID == "" {
			toolID = anthropic.GenerateToolUseID()
		}
		block := &anthropic.ContentBlock{Type: "tool_use", ID: toolID, Name: part.FunctionCall.Name}
		if part.ThoughtSignature != "" && len(part.ThoughtSignature) >= config.MinSignatureLength {
			block.ThoughtSignature = part.ThoughtSignature
			if cache != nil {
				cache.Store(ctx, sessionID, "", toolID, string(config.GetModelFamily(model)), part.ThoughtSignature)
			}
		}
		emit(out, anthropic.SSEEventContentBlockStart, &anthropic.SSEEvent{Type: anthropic.SSEEventContentBlockStart, Index: st.blockIndex, ContentBlock: block})

		argsJSON, _ := json.Marshal(part.FunctionCall.Args)
		emitDelta(out, st.blockIndex, map[string]interface{}{"type": "input_json_delta", "partial_json": string(argsJSON)})

	case part.InlineData != nil:
		flushThinkingSignature(out, st)
		closeCurrentBlock(out, st)
		st.currentBlockType = "image"
		emit(out, anthropic.SSEEventContentBlockStart, &anthropic.SSEEvent{
			Type: anthropic.SSEEventContentBlockStart, Index: st.blockIndex,
			ContentBlock: &anthropic.ContentBlock{Type: "image", Source: &anthropic.ImageSource{Type: "base64", MediaType: part.InlineData.MimeType, Data: part.InlineData.Data}},
		})
		emit(out, anthropic.SSEEventContentBlockStop, &anthropic.SSEEvent{Type: anthropic.SSEEventContentBlockStop, Index: st.blockIndex})
		st.blockIndex++
		st.currentBlockType = ""
	}
}

func flushThinkingSignature(out chan<- protocol.ClientEvent, st *streamState) {
	if st.currentBlockType == "thinking" && st.currentThinkingSig != "" {
		emitDelta(out, st.blockIndex, map[string]interface{}{"type": "signature_delta", "signature": st.currentThinkingSig})
		st.currentThinkingSig = ""
	}
}

func closeCurrentBlock(out chan<- protocol.ClientEvent, st *streamState) {
	if st.currentBlockType != "" {
		emit(out, anthropic.SSEEventContentBlockStop, &anthropic.SSEEvent{Type: anthropic.SSEEventContentBlockStop, Index: st.blockIndex})
		st.blockIndex++
	}
}

func emitDelta(out chan<- protocol.ClientEvent, index int, delta map[string]interface{}) {
	payload := map[string]interface{}{"type": "content_block_delta", "index": index, "delta": delta}
	data, _ := json.Marshal(payload)
	out <- protocol.ClientEvent{Type: protocol.EventData, Name: "content_block_delta", Data: data}
}

func emit(out chan<- protocol.ClientEvent, eventType anthropic.SSEEventType, event *anthropic.SSEEvent) {
	data, _ := json.Marshal(event)
	out <- protocol.ClientEvent{Type: protocol.EventData, Name: string(eventType), Data: data}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SSEFrame is one "data: ..." payload in a Gemini-style SSE stream.
type SSEFrame struct {
	Response      *SSEInnerFrame `json:"response,omitempty"`
	Candidates    []SSECandidate `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// SSEInnerFrame is the wrapped-response shape of an SSEFrame.
type SSEInnerFrame struct {
	Candidates    []SSECandidate `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// SSECandidate is one streamed candidate update.
type SSECandidate struct {
	Content      *SSEContent `json:"content,omitempty"`
	FinishReason string      `json:"finishReason,omitempty"`
}

// SSEContent is a candidate's incremental content.
type SSEContent struct {
	Parts []SSEPart `json:"parts,omitempty"`
}

// SSEPart is one incremental part of a streamed candidate.
type SSEPart struct {
	Thought          bool          `json:"thought,omitempty"`
	Text             string        `json:"text,omitempty"`
	ThoughtSignature string        `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall `json:"functionCall,omitempty"`
	InlineData       *InlineData   `json:"inlineData,omitempty"`
}
