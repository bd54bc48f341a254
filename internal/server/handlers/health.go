// Package handlers provides the proxy's HTTP request handlers.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avlabs/gemini-gateway/internal/account"
)

// HealthHandler reports per-account status derived from in-memory state
// only: rate-limit cooldowns and the last quota snapshot internal/scheduler's
// refreshQuotas job keeps current. Unlike the teacher's handler, it never
// makes a live upstream call on the request path, so a stalled account
// can't add latency to /health itself.
type HealthHandler struct {
	accounts *account.Manager
}

func NewHealthHandler(accounts *account.Manager) *HealthHandler {
	return &HealthHandler{accounts: accounts}
}

type accountDetail struct {
	Email                      string                 `json:"email"`
	Status                     string                 `json:"status"`
	Error                      string                 `json:"error,omitempty"`
	LastUsed                   string                 `json:"lastUsed,omitempty"`
	ModelRateLimits            map[string]interface{} `json:"modelRateLimits,omitempty"`
	RateLimitCooldownRemaining int64                  `json:"rateLimitCooldownRemaining"`
	Models                     map[string]interface{} `json:"models,omitempty"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	start := time.Now()
	all := h.accounts.All()

	details := make([]accountDetail, 0, len(all))
	var available, rateLimited, invalid int

	for _, acc := range all {
		detail := accountDetail{
			Email:           acc.Email,
			ModelRateLimits: make(map[string]interface{}),
			Models:          make(map[string]interface{}),
		}
		if acc.LastUsed > 0 {
			detail.LastUsed = time.UnixMilli(acc.LastUsed).Format(time.RFC3339)
		}

		if acc.IsInvalid {
			detail.Status = "invalid"
			detail.Error = acc.InvalidReason
			invalid++
			details = append(details, detail)
			continue
		}

		now := time.Now().UnixMilli()
		var soonestReset int64
		isRateLimited := false
		for modelID, limit := range acc.ModelRateLimits {
			if limit.IsRateLimited && limit.ResetTime > now {
				isRateLimited = true
				if soonestReset == 0 || limit.ResetTime < soonestReset {
					soonestReset = limit.ResetTime
				}
			}
			detail.ModelRateLimits[modelID] = map[string]interface{}{
				"isRateLimited": limit.IsRateLimited,
				"resetTime":     limit.ResetTime,
			}
		}
		if soonestReset > 0 {
			detail.RateLimitCooldownRemaining = soonestReset - now
		}

		if acc.Quota != nil {
			for modelID, info := range acc.Quota.Models {
				detail.Models[modelID] = map[string]interface{}{
					"remainingFraction": info.RemainingFraction,
					"resetTime":         info.ResetTime,
				}
			}
		}

		if isRateLimited {
			detail.Status = "rate-limited"
			rateLimited++
		} else {
			detail.Status = "ok"
			available++
		}
		details = append(details, detail)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"latencyMs": time.Since(start).Milliseconds(),
		"counts": gin.H{
			"total":       len(all),
			"available":   available,
			"rateLimited": rateLimited,
			"invalid":     invalid,
		},
		"accounts": details,
	})
}
