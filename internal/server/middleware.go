// Package server wires the account/selector/retryloop stack to HTTP: gin
// middleware, route setup, and the composition root used by cmd/server.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/logging"
)

// CORSMiddleware allows any origin, matching the proxy's use as a local
// client-facing gateway rather than a browser-trusted API.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Force-Account")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// APIKeyAuthMiddleware validates the Authorization: Bearer / X-API-Key
// header against cfg.APIKey. Skips validation entirely when no API key is
// configured, matching an operator running the proxy purely on localhost.
func APIKeyAuthMiddleware(cfg *config.Config, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := cfg.GetAPIKey()
		if apiKey == "" {
			c.Next()
			return
		}

		var provided string
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		} else if xKey := c.GetHeader("X-API-Key"); xKey != "" {
			provided = xKey
		}

		if provided == "" || provided != apiKey {
			log.Warnf("unauthorized request from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "invalid or missing API key",
				},
			})
			return
		}
		c.Next()
	}
}

// RequestLoggingMiddleware logs every request's method, path, status, and
// latency, dropping noisy/high-frequency paths to debug level.
func RequestLoggingMiddleware(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		entry := log.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      path,
			"status":    status,
			"latencyMs": duration.Milliseconds(),
		})

		if strings.HasPrefix(path, "/v1/messages/count_tokens") || strings.HasPrefix(path, "/.well-known/") {
			entry.Debug("request served")
			return
		}

		switch {
		case status >= 500:
			entry.Error("request served")
		case status >= 400:
			entry.Warn("request served")
		default:
			entry.Info("request served")
		}
	}
}

// BodyLimitMiddleware caps the request body at config.RequestBodyLimit so
// a misbehaving client can't exhaust memory before a handler even reads
// the body.
func BodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.RequestBodyLimit)
		c.Next()
	}
}
