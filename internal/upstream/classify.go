package upstream

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/avlabs/gemini-gateway/internal/errs"
)

// classify turns a non-2xx upstream response into the proxy's typed error
// taxonomy, matching the status/body heuristics applied per status code.
func classify(resp *http.Response, body []byte) error {
	text := string(body)
	lower := strings.ToLower(text)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if isPermanentAuthFailure(lower) {
			return errs.NewAuthError(text, "", "token_revoked")
		}
		return errs.NewAuthError(text, "", "unknown")

	case http.StatusTooManyRequests:
		resetMs := resetMsFromHeaders(resp.Header)
		var reset *int64
		if resetMs >= 0 {
			reset = &resetMs
		}
		if isQuotaExhausted(lower) {
			return errs.NewQuotaExhaustedError(text, "", "")
		}
		return errs.NewRateLimitError(text, reset, "")

	case http.StatusBadRequest:
		return errs.NewBadRequestError(text)

	case http.StatusServiceUnavailable, 529:
		return errs.NewServerOverloadError(text, 0)

	default:
		if resp.StatusCode >= 500 {
			return errs.NewTransientError(fmt.Sprintf("upstream %d: %s", resp.StatusCode, text))
		}
		return errs.NewUpstream4xxOtherError(text, resp.StatusCode)
	}
}

func isPermanentAuthFailure(lower string) bool {
	for _, needle := range []string{
		"invalid_grant", "token revoked", "token has been expired or revoked",
		"token_revoked", "invalid_client", "credentials are invalid",
	} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

func isQuotaExhausted(lower string) bool {
	return strings.Contains(lower, "quota_exhausted") || strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "resource_exhausted")
}
