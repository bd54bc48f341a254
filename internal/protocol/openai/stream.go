package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/protocol"
	"github.com/avlabs/gemini-gateway/internal/protocol/claude"
	"github.com/avlabs/gemini-gateway/internal/signature"
)

// StreamFromUpstream parses a Gemini-style SSE body and emits it as a
// sequence of OpenAI "data: " chunks, one ClientEvent per chunk with an
// empty Name (OpenAI's wire format has no named SSE events). A final
// [DONE] marker is emitted as the EventDone event's payload.
func StreamFromUpstream(ctx context.Context, reader io.Reader, model, sessionID string, cache *signature.Cache) <-chan protocol.ClientEvent {
	out := make(chan protocol.ClientEvent, 16)

	go func() {
		defer close(out)

		id := GenerateChatCompletionID()
		created := time.Now().Unix()
		emittedAny := false
		var toolIndex int
		family := config.GetModelFamily(model)

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
			if jsonText == "" || jsonText == "[DONE]" {
				continue
			}

			var frame claude.SSEFrame
			if err := json.Unmarshal([]byte(jsonText), &frame); err != nil {
				continue
			}

			var candidates []claude.SSECandidate
			var usage *claude.UsageMetadata
			if frame.Response != nil {
				candidates = frame.Response.Candidates
				usage = frame.Response.UsageMetadata
			} else {
				candidates = frame.Candidates
				usage = frame.UsageMetadata
			}
			if len(candidates) == 0 {
				continue
			}
			candidate := candidates[0]

			if candidate.Content != nil {
				for _, part := range candidate.Content.Parts {
					emittedAny = true
					emitChunk(out, id, created, model, streamDelta(part, &toolIndex, ctx, cache, sessionID, family))
				}
			}

			if candidate.FinishReason != "" {
				emittedAny = true
				finish := "stop"
				switch {
				case candidate.FinishReason == "MAX_TOKENS":
					finish = "length"
				case toolIndex > 0:
					finish = "tool_calls"
				}
				chunk := StreamChunk{
					ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
					Choices: []Choice{{Index: 0, Delta: &Message{}, FinishReason: finish}},
				}
				if usage != nil {
					chunk.Usage = &Usage{
						PromptTokens:     usage.PromptTokenCount - usage.CachedContentTokenCount,
						CompletionTokens: usage.CandidatesTokenCount,
						TotalTokens:      usage.PromptTokenCount - usage.CachedContentTokenCount + usage.CandidatesTokenCount,
					}
				}
				send(out, chunk)
			}
		}

		if !emittedAny {
			out <- protocol.ClientEvent{Type: protocol.EventError, Err: errs.NewEmptyResponseError("no content parts received from upstream")}
			return
		}
		out <- protocol.ClientEvent{Type: protocol.EventDone, Data: []byte("[DONE]")}
	}()

	return out
}

func streamDelta(part claude.SSEPart, toolIndex *int, ctx context.Context, cache *signature.Cache, sessionID string, family config.ModelFamily) Message {
	switch {
	case part.Text != "" && part.Thought:
		if part.ThoughtSignature != "" && cache != nil {
			cache.Store(ctx, sessionID, computeContentHash(part.Text), "", string(family), part.ThoughtSignature)
		}
		return Message{ReasoningContent: part.Text}
	case part.Text != "":
		return Message{Content: part.Text}
	case part.FunctionCall != nil:
		id := part.FunctionCall.ID
		if id == "" {
			id = GenerateToolCallID()
		}
		argsJSON, _ := json.Marshal(part.FunctionCall.Args)
		index := *toolIndex
		*toolIndex++
		return Message{ToolCalls: []ToolCall{{
			Index: index, ID: id, Type: "function",
			Function: FunctionCall{Name: part.FunctionCall.Name, Arguments: string(argsJSON)},
		}}}
	default:
		return Message{}
	}
}

func emitChunk(out chan<- protocol.ClientEvent, id string, created int64, model string, delta Message) {
	send(out, StreamChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []Choice{{Index: 0, Delta: &delta}},
	})
}

func send(out chan<- protocol.ClientEvent, chunk StreamChunk) {
	data, _ := json.Marshal(chunk)
	out <- protocol.ClientEvent{Type: protocol.EventData, Data: data}
}
