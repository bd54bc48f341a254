package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
	"github.com/avlabs/gemini-gateway/internal/modelroute"
	"github.com/avlabs/gemini-gateway/internal/protocol/gemini"
	"github.com/avlabs/gemini-gateway/internal/retryloop"
)

// GeminiHandler serves the Gemini-native passthrough surface, grounded on
// the generative-language API's "/v1beta/models/{model}:{method}" route
// shape: the combined ":action" path segment carries both the model name
// and the method (generateContent / streamGenerateContent / countTokens),
// split apart here rather than read from the request body.
type GeminiHandler struct {
	loop   *retryloop.Loop
	mapper *gemini.Mapper
	cfg    *config.Config
}

func NewGeminiHandler(loop *retryloop.Loop, mapper *gemini.Mapper, cfg *config.Config) *GeminiHandler {
	return &GeminiHandler{loop: loop, mapper: mapper, cfg: cfg}
}

// Handle serves POST /v1beta/models/:action.
func (h *GeminiHandler) Handle(c *gin.Context) {
	model, method, ok := splitGeminiAction(c.Param("action"))
	if !ok {
		writeGatewayError(c, errs.NewBadRequestError("malformed model:method path segment"))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeGatewayError(c, errs.NewBadRequestError("failed to read request body"))
		return
	}
	body, err = sjson.SetBytes(body, "model", model)
	if err != nil {
		writeGatewayError(c, errs.NewInternalError(err.Error()))
		return
	}

	switch method {
	case "countTokens":
		h.countTokens(c, body)
	case "streamGenerateContent":
		h.generate(c, body, model, true)
	default:
		h.generate(c, body, model, false)
	}
}

func (h *GeminiHandler) generate(c *gin.Context, body []byte, model string, wantsStream bool) {
	req, res, err := resolveRequest(h.cfg, body, "sessionId")
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	req.ModelID = model
	res.CanonicalModel = model
	res.Reason = modelroute.ReasonPassthrough
	applyForceAccount(c, &req)

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

// countTokens answers with the same byte-length heuristic the Claude
// surface uses, since the upstream backend exposes no counting endpoint
// this proxy can forward to.
func (h *GeminiHandler) countTokens(c *gin.Context, body []byte) {
	var req struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := jsonUnmarshal(body, &req); err != nil {
		writeGatewayError(c, errs.NewBadRequestError("invalid request body"))
		return
	}
	chars := 0
	for _, content := range req.Contents {
		for _, part := range content.Parts {
			chars += len(part.Text)
		}
	}
	c.JSON(http.StatusOK, gin.H{"totalTokens": chars/4 + 1})
}

// GetModel handles GET /v1beta/models/:action, where action here is a
// bare model id rather than a "model:method" pair, returning that model's
// static metadata (the GET route has no method suffix to dispatch on).
func (h *GeminiHandler) GetModel(c *gin.Context) {
	model := c.Param("action")
	res, err := modelroute.Resolve(h.cfg, model)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":                      "models/" + res.CanonicalModel,
		"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent", "countTokens"},
	})
}
