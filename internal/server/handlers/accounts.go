package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avlabs/gemini-gateway/internal/account"
)

// AccountsHandler serves account administration endpoints: the quota/
// rate-limit summary at GET /account-limits, and a forced token refresh
// at POST /refresh-token.
type AccountsHandler struct {
	accounts *account.Manager
}

func NewAccountsHandler(accounts *account.Manager) *AccountsHandler {
	return &AccountsHandler{accounts: accounts}
}

type accountLimitResult struct {
	Email   string                 `json:"email"`
	Status  string                 `json:"status"`
	Error   string                 `json:"error,omitempty"`
	Project string                 `json:"projectId,omitempty"`
	Models  map[string]interface{} `json:"models"`
}

// AccountLimits handles GET /account-limits, reporting the last-known
// quota snapshot rather than forcing a live upstream fetch.
func (h *AccountsHandler) AccountLimits(c *gin.Context) {
	all := h.accounts.All()
	results := make([]accountLimitResult, 0, len(all))

	for _, acc := range all {
		result := accountLimitResult{
			Email:   acc.Email,
			Project: acc.ProjectID,
			Models:  make(map[string]interface{}),
		}
		if acc.IsInvalid {
			result.Status = "invalid"
			result.Error = acc.InvalidReason
			results = append(results, result)
			continue
		}
		if acc.Quota == nil {
			result.Status = "unknown"
			results = append(results, result)
			continue
		}
		for modelID, q := range acc.Quota.Models {
			result.Models[modelID] = gin.H{
				"remainingFraction": q.RemainingFraction,
				"resetTime":         q.ResetTime,
			}
		}
		result.Status = "ok"
		results = append(results, result)
	}

	c.JSON(http.StatusOK, gin.H{"accounts": results})
}

// RefreshToken handles POST /refresh-token, forcing the next Token() call
// for the named account to re-exchange its refresh token instead of
// reusing whatever is cached.
func (h *AccountsHandler) RefreshToken(c *gin.Context) {
	var body struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	acc, ok := h.accounts.Get(body.Email)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	h.accounts.InvalidateToken(acc.Email)
	if _, err := h.accounts.Token(c.Request.Context(), acc); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "refreshed", "email": acc.Email})
}
