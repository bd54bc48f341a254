package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/protocol/claude"
	"github.com/avlabs/gemini-gateway/internal/retryloop"
)

// ClaudeHandler serves the Anthropic Messages API-compatible surface:
// POST /v1/messages and POST /v1/messages/count_tokens.
type ClaudeHandler struct {
	loop   *retryloop.Loop
	mapper *claude.Mapper
	cfg    *config.Config
}

func NewClaudeHandler(loop *retryloop.Loop, mapper *claude.Mapper, cfg *config.Config) *ClaudeHandler {
	return &ClaudeHandler{loop: loop, mapper: mapper, cfg: cfg}
}

// Messages handles POST /v1/messages, dispatching to a streaming or
// buffered response depending on the client-supplied "stream" field.
func (h *ClaudeHandler) Messages(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeGatewayError(c, errs.NewBadRequestError("failed to read request body"))
		return
	}

	req, res, err := resolveRequest(h.cfg, body, "metadata.user_id")
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	applyForceAccount(c, &req)

	wantsStream := gjsonBool(body, "stream")
	ctx := c.Request.Context()

	if wantsStream {
		events, accountEmail, err := stream(ctx, h.loop, h.mapper, req)
		if err != nil {
			writeGatewayError(c, err)
			return
		}
		writeMappingHeaders(c, accountEmail, res)
		streamEvents(c, events)
		return
	}

	out, accountEmail, err := execute(ctx, h.loop, h.mapper, req)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	writeMappingHeaders(c, accountEmail, res)
	c.Data(http.StatusOK, "application/json", out)
}

// CountTokens handles POST /v1/messages/count_tokens with a byte-length
// heuristic (roughly 4 characters per token across the rendered message
// text), since the upstream backend has no dedicated counting endpoint
// the proxy can forward to.
func (h *ClaudeHandler) CountTokens(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeGatewayError(c, errs.NewBadRequestError("failed to read request body"))
		return
	}

	var req struct {
		System   interface{} `json:"system"`
		Messages []struct {
			Content interface{} `json:"content"`
		} `json:"messages"`
	}
	if err := jsonUnmarshal(body, &req); err != nil {
		writeGatewayError(c, errs.NewBadRequestError("invalid request body"))
		return
	}

	chars := estimateChars(req.System)
	for _, m := range req.Messages {
		chars += estimateChars(m.Content)
	}

	c.JSON(http.StatusOK, gin.H{"input_tokens": chars/4 + 1})
}
