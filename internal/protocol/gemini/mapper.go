// Package gemini implements protocol.Mapper for the Gemini-native wire
// surface: a client that already speaks the upstream's own
// generateContent/streamGenerateContent shape, needing only model-alias
// substitution and re-framing, not a structural transform. Because there
// is no fixed client-side schema to marshal into, this mapper manipulates
// the JSON in place with gjson/sjson rather than decoding into Go structs,
// unlike the fully-typed internal/protocol/claude and .../openai mappers.
package gemini

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/protocol"
)

// Mapper implements protocol.Mapper for the Gemini-native surface. It
// holds no state: a passthrough mapper has nothing to cache across calls.
type Mapper struct{}

// New constructs a Mapper.
func New() *Mapper {
	return &Mapper{}
}

// ToUpstream validates that body is a well-formed generateContent request
// and substitutes the resolved model, so a request made against a custom
// model alias or an image-variant id is forwarded under its real name.
func (m *Mapper) ToUpstream(ctx context.Context, body []byte, modelID string) (protocol.UpstreamRequest, error) {
	if !gjson.ValidBytes(body) {
		return protocol.UpstreamRequest{}, fmt.Errorf("gemini: request body is not valid JSON")
	}
	if !gjson.GetBytes(body, "contents").Exists() {
		return protocol.UpstreamRequest{}, fmt.Errorf("gemini: request body has no contents")
	}

	model := modelID
	if model == "" {
		model = gjson.GetBytes(body, "model").String()
	}

	out := body
	if modelID != "" {
		patched, err := sjson.SetBytes(body, "model", modelID)
		if err != nil {
			return protocol.UpstreamRequest{}, fmt.Errorf("gemini: set model field: %w", err)
		}
		out = patched
	}

	return protocol.UpstreamRequest{
		Body:      out,
		Model:     model,
		Stream:    gjson.GetBytes(body, "stream").Bool(),
		SessionID: gjson.GetBytes(body, "sessionId").String(),
	}, nil
}

// FromUpstream passes a complete response through unchanged: the Gemini-
// native client already expects exactly the upstream's own response shape.
func (m *Mapper) FromUpstream(ctx context.Context, resp protocol.UpstreamResponse, modelID string) ([]byte, error) {
	if !gjson.ValidBytes(resp.Body) {
		return nil, fmt.Errorf("gemini: upstream response is not valid JSON")
	}
	return resp.Body, nil
}

// StreamFromUpstream re-frames the upstream's own SSE stream as a channel
// of ClientEvent without reshaping each frame's JSON payload.
func (m *Mapper) StreamFromUpstream(ctx context.Context, upstream io.Reader, modelID string) (<-chan protocol.ClientEvent, error) {
	out := make(chan protocol.ClientEvent, 16)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(upstream)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		emittedAny := false
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
			if jsonText == "" || !gjson.Valid(jsonText) {
				continue
			}
			emittedAny = true
			out <- protocol.ClientEvent{Type: protocol.EventData, Data: []byte(jsonText)}
		}

		if !emittedAny {
			out <- protocol.ClientEvent{Type: protocol.EventError, Err: errs.NewEmptyResponseError("no content parts received from upstream")}
			return
		}
		out <- protocol.ClientEvent{Type: protocol.EventDone}
	}()

	return out, nil
}

// Capabilities reports the Gemini-native surface's feature set. Thinking
// and tools are the upstream's own representation, already understood by
// a client that speaks this surface directly, so every capability is
// advertised as supported; NonStreamAutoConvert is false since a native
// client's non-streaming request should get a genuine non-streaming
// response, not a collected stream.
func (m *Mapper) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		SupportsThinking:     true,
		SupportsTools:        true,
		SupportsStreaming:    true,
		NonStreamAutoConvert: false,
	}
}
