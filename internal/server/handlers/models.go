// Package handlers provides HTTP request handlers for the server.
// This file handles model listing endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avlabs/gemini-gateway/internal/modelroute"
)

// ModelsHandler serves the proxy's own canonical model catalog rather
// than a live upstream listing call: the set of models the proxy accepts
// is fixed by internal/modelroute, not by whatever a given account's
// project happens to expose, so a per-request upstream query would only
// add latency without changing the answer.
type ModelsHandler struct{}

func NewModelsHandler() *ModelsHandler { return &ModelsHandler{} }

var modelIDs = func() []string {
	ids := make([]string, 0, len(modelroute.CanonicalModelFor)+32)
	for _, id := range modelroute.CanonicalModelFor {
		ids = append(ids, id)
	}
	ids = append(ids, modelroute.AllImageVariants()...)
	return ids
}()

// ListModels handles GET /v1/models in the OpenAI-compatible shape,
// matching the teacher's own single-endpoint precedent for both client
// surfaces.
func (h *ModelsHandler) ListModels(c *gin.Context) {
	created := time.Now().Unix()
	data := make([]gin.H, 0, len(modelIDs))
	for _, id := range modelIDs {
		data = append(data, gin.H{
			"id":       id,
			"object":   "model",
			"created":  created,
			"owned_by": "gemini-gateway",
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}
