package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/modelroute"
	"github.com/avlabs/gemini-gateway/internal/protocol"
	"github.com/avlabs/gemini-gateway/internal/retryloop"
	"github.com/avlabs/gemini-gateway/internal/server/sse"
)

// resolveRequest peeks the raw client-supplied model and session-id fields
// out of body (via gjson, before any mapper-specific decoding) and
// resolves the model to its canonical upstream id. The retry loop's
// Request carries ModelID/SessionID independently of whatever the mapper's
// own ToUpstream later derives, so this step has to happen here rather
// than inside a Mapper.
func resolveRequest(cfg *config.Config, body []byte, sessionField string) (retryloop.Request, modelroute.Resolution, error) {
	rawModel := gjson.GetBytes(body, "model").String()
	res, err := modelroute.Resolve(cfg, rawModel)
	if err != nil {
		return retryloop.Request{}, modelroute.Resolution{}, err
	}

	sessionID := gjson.GetBytes(body, sessionField).String()

	return retryloop.Request{
		Body:         body,
		ModelID:      res.CanonicalModel,
		SessionID:    sessionID,
		ForceAccount: "",
	}, res, nil
}

// applyForceAccount reads X-Force-Account off the incoming request,
// letting an operator pin a call to a specific credential for debugging.
func applyForceAccount(c *gin.Context, req *retryloop.Request) {
	if email := c.GetHeader("X-Force-Account"); email != "" {
		req.ForceAccount = email
	}
}

// writeMappingHeaders stamps the response headers the external interface
// contract promises on every successful call.
func writeMappingHeaders(c *gin.Context, accountEmail string, res modelroute.Resolution) {
	c.Header("X-Account-Email", accountEmail)
	c.Header("X-Mapped-Model", res.CanonicalModel)
	c.Header("X-Mapping-Reason", res.Reason)
}

// execute runs a non-streaming call through loop and reports which
// account served it (run() resolves and calls the account synchronously
// before Execute returns, so the sink is populated by the time this
// function returns).
func execute(ctx context.Context, loop *retryloop.Loop, mapper protocol.Mapper, req retryloop.Request) (body []byte, accountEmail string, err error) {
	ctx = retryloop.WithAccountSink(ctx, func(email string) { accountEmail = email })
	body, err = loop.Execute(ctx, mapper, req)
	return body, accountEmail, err
}

// stream runs a streaming call through loop and reports which account
// served it, same caveat as execute.
func stream(ctx context.Context, loop *retryloop.Loop, mapper protocol.Mapper, req retryloop.Request) (events <-chan protocol.ClientEvent, accountEmail string, err error) {
	ctx = retryloop.WithAccountSink(ctx, func(email string) { accountEmail = email })
	events, err = loop.Stream(ctx, mapper, req)
	return events, accountEmail, err
}

// writeGatewayError renders err in the client's own error envelope via
// internal/errs's classification, used uniformly by every wire surface's
// non-streaming error path.
func writeGatewayError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), errs.FormatAPIError(err))
}

// streamEvents drains events onto an SSE response, translating the shared
// protocol.ClientEvent shape into the wire framing each surface expects:
// a named "event: ..." frame when the mapper attached one (Claude), a
// bare "data: ..." frame otherwise (OpenAI, Gemini-native).
func streamEvents(c *gin.Context, events <-chan protocol.ClientEvent) {
	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		writeGatewayError(c, errs.NewInternalError(err.Error()))
		return
	}
	w.SetHeaders()
	c.Status(200)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case protocol.EventError:
				msg := "stream error"
				if ev.Err != nil {
					msg = ev.Err.Error()
				}
				_ = w.WriteError("api_error", msg)
				return
			case protocol.EventData:
				if ev.Name != "" {
					_ = w.WriteRaw(ev.Name, ev.Data)
				} else {
					_ = w.WriteData(ev.Data)
				}
			case protocol.EventDone:
				if len(ev.Data) > 0 {
					_ = w.WriteData(ev.Data)
				}
				return
			}
		}
	}
}

// gjsonBool peeks a boolean field out of a raw request body without a
// full struct decode, used for the stream-vs-buffered dispatch decision
// that has to happen before any mapper-specific parsing.
func gjsonBool(body []byte, path string) bool {
	return gjson.GetBytes(body, path).Bool()
}

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// estimateChars sums the rendered character length of an Anthropic
// system/content field, which may be a plain string or a []ContentBlock-
// shaped array; used only for the count_tokens heuristic.
func estimateChars(v interface{}) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []interface{}:
		total := 0
		for _, part := range t {
			m, ok := part.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				total += len(text)
			}
		}
		return total
	default:
		return 0
	}
}

// splitGeminiAction splits a Gemini-native route's combined
// "{model}:{method}" path segment, e.g. "gemini-2.5-pro:streamGenerateContent".
func splitGeminiAction(action string) (model, method string, ok bool) {
	parts := strings.SplitN(action, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
