package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/protocol/openai"
	"github.com/avlabs/gemini-gateway/internal/retryloop"
)

// OpenAIHandler serves the OpenAI ChatCompletions-compatible surface:
// POST /v1/chat/completions and the deprecated POST /v1/completions.
type OpenAIHandler struct {
	loop   *retryloop.Loop
	mapper *openai.Mapper
	cfg    *config.Config
}

func NewOpenAIHandler(loop *retryloop.Loop, mapper *openai.Mapper, cfg *config.Config) *OpenAIHandler {
	return &OpenAIHandler{loop: loop, mapper: mapper, cfg: cfg}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeGatewayError(c, errs.NewBadRequestError("failed to read request body"))
		return
	}
	h.serve(c, body)
}

// Completions handles the deprecated POST /v1/completions by reshaping
// the legacy prompt-based body into a ChatRequest and reusing the same
// conversion path, then reshaping the response back on the way out.
func (h *OpenAIHandler) Completions(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeGatewayError(c, errs.NewBadRequestError("failed to read request body"))
		return
	}

	var legacy openai.LegacyCompletionRequest
	if err := json.Unmarshal(raw, &legacy); err != nil {
		writeGatewayError(c, errs.NewBadRequestError("invalid request body"))
		return
	}
	chatReq := legacy.ToChatRequest()
	body, err := json.Marshal(chatReq)
	if err != nil {
		writeGatewayError(c, errs.NewInternalError(err.Error()))
		return
	}

	if chatReq.Stream {
		h.serve(c, body)
		return
	}

	req, res, err := resolveRequest(h.cfg, body, "user")
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	applyForceAccount(c, &req)

	out, accountEmail, err := execute(c.Request.Context(), h.loop, h.mapper, req)
	if err != nil {
		writeGatewayError(c, err)
		return
	}

	var chatResp openai.ChatResponse
	if err := json.Unmarshal(out, &chatResp); err != nil {
		writeGatewayError(c, errs.NewInternalError("decode chat response: "+err.Error()))
		return
	}
	legacyResp := chatResp.ToLegacyCompletionResponse()
	payload, err := json.Marshal(legacyResp)
	if err != nil {
		writeGatewayError(c, errs.NewInternalError(err.Error()))
		return
	}

	writeMappingHeaders(c, accountEmail, res)
	c.Data(http.StatusOK, "application/json", payload)
}

func (h *OpenAIHandler) serve(c *gin.Context, body []byte) {
	req, res, err := resolveRequest(h.cfg, body, "user")
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	applyForceAccount(c, &req)

	ctx := c.Request.Context()
	if gjsonBool(body, "stream") {
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
