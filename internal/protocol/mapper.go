// Package protocol defines the shared client-wire-format abstraction that
// every supported API surface (Claude Messages, OpenAI ChatCompletions,
// Gemini-native) implements against the single upstream Gemini-style
// request/response shape. internal/protocol/claude, .../openai and
// .../gemini each provide a Mapper.
package protocol

import (
	"context"
	"io"
)

// ClientEventType distinguishes the kinds of events a Mapper emits while
// translating an upstream stream into the client's wire format.
type ClientEventType string

const (
	EventData  ClientEventType = "data"
	EventError ClientEventType = "error"
	EventDone  ClientEventType = "done"
)

// ClientEvent is one frame of a translated response stream, already
// rendered into the bytes the client's SSE/JSON framing expects.
type ClientEvent struct {
	Type ClientEventType
	// Name is the client wire-format's event name, if the surface uses
	// named SSE events (e.g. "content_block_delta"). Empty for surfaces
	// that send bare "data: ..." frames (OpenAI, Gemini-native).
	Name string
	Data []byte
	Err  error
}

// Mapper converts between a client-facing wire format and the internal
// upstream request/response representation (internal/upstream.Request /
// internal/upstream.Response). Each of claude.Mapper, openai.Mapper and
// gemini.Mapper implements this against its own request/response types,
// so internal/retryloop can drive any of them identically.
type Mapper interface {
	// ToUpstream parses a client request body and model override into the
	// common upstream request shape, keyed by opaque session/content
	// hashes the caller supplies for signature-cache lookups.
	ToUpstream(ctx context.Context, body []byte, modelID string) (UpstreamRequest, error)

	// FromUpstream converts a complete (non-streamed) upstream response
	// back into the client's wire format.
	FromUpstream(ctx context.Context, resp UpstreamResponse, modelID string) ([]byte, error)

	// StreamFromUpstream converts an upstream SSE body into a channel of
	// client-formatted events. The returned channel is closed when the
	// upstream stream ends or ctx is cancelled.
	StreamFromUpstream(ctx context.Context, upstream io.Reader, modelID string) (<-chan ClientEvent, error)

	// Capabilities reports which optional behaviors this surface supports,
	// so the retry loop and selector can adapt (e.g. whether a client
	// understands server-sent "thinking" deltas at all).
	Capabilities() Capabilities
}

// Capabilities is the "capability set" a Mapper advertises about its wire
// surface, consulted by internal/retryloop and internal/modelroute.
type Capabilities struct {
	SupportsThinking   bool
	SupportsTools      bool
	SupportsStreaming  bool
	NonStreamAutoConvert bool
}

// UpstreamRequest is the common shape internal/upstream sends to the
// Gemini-style backend, independent of which client surface produced it.
type UpstreamRequest struct {
	Body      []byte
	Model     string
	Stream    bool
	SessionID string
}

// UpstreamResponse is the common shape internal/upstream returns from a
// non-streamed call.
type UpstreamResponse struct {
	Body       []byte
	StatusCode int
}
