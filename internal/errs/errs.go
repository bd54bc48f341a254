// Package errs provides the proxy's typed error taxonomy: auth, rate-limit,
// quota-exhausted, server-overload, transient, bad-request, other upstream
// 4xx, and internal kinds, each carrying enough metadata to drive retry
// and HTTP-status decisions downstream.
package errs

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind classifies an error for retry/routing decisions.
type Kind string

const (
	KindAuth             Kind = "auth"
	KindRateLimited      Kind = "rate_limited"
	KindQuotaExhausted   Kind = "quota_exhausted"
	KindServerOverload   Kind = "server_overload"
	KindTransient        Kind = "transient"
	KindBadRequest       Kind = "bad_request"
	KindUpstream4xxOther Kind = "upstream_4xx_other"
	KindInternal         Kind = "internal"
)

// GatewayError is the base error type for all proxy operations.
type GatewayError struct {
	Message   string                 `json:"message"`
	Kind      Kind                   `json:"kind"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (e *GatewayError) Error() string { return e.Message }

// ToJSON renders the error in the proxy's generic wire shape.
func (e *GatewayError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"kind":      e.Kind,
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	for k, v := range e.Metadata {
		result[k] = v
	}
	return result
}

func (e *GatewayError) MarshalJSON() ([]byte, error) { return json.Marshal(e.ToJSON()) }

func newBase(kind Kind, message string, retryable bool, metadata map[string]interface{}) *GatewayError {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &GatewayError{Message: message, Kind: kind, Retryable: retryable, Metadata: metadata}
}

// AuthError: 401 or invalid refresh token. Not retriable on this account;
// the account should be force-refreshed, then disabled on repeat.
type AuthError struct {
	*GatewayError
	AccountEmail string `json:"accountEmail,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func NewAuthError(message, accountEmail, reason string) *AuthError {
	return &AuthError{
		GatewayError: newBase(KindAuth, message, false, map[string]interface{}{
			"accountEmail": accountEmail, "reason": reason,
		}),
		AccountEmail: accountEmail,
		Reason:       reason,
	}
}

// RateLimitError: 429. Retriable on another account.
type RateLimitError struct {
	*GatewayError
	ResetMs      *int64 `json:"resetMs,omitempty"`
	AccountEmail string `json:"accountEmail,omitempty"`
}

func NewRateLimitError(message string, resetMs *int64, accountEmail string) *RateLimitError {
	md := map[string]interface{}{"accountEmail": accountEmail}
	if resetMs != nil {
		md["resetMs"] = *resetMs
	}
	return &RateLimitError{
		GatewayError: newBase(KindRateLimited, message, true, md),
		ResetMs:      resetMs,
		AccountEmail: accountEmail,
	}
}

// QuotaExhaustedError: 403 with a quota body. Marks the model protected
// for this account rather than disabling the account outright.
type QuotaExhaustedError struct {
	*GatewayError
	Model        string `json:"model,omitempty"`
	AccountEmail string `json:"accountEmail,omitempty"`
}

func NewQuotaExhaustedError(message, model, accountEmail string) *QuotaExhaustedError {
	return &QuotaExhaustedError{
		GatewayError: newBase(KindQuotaExhausted, message, true, map[string]interface{}{
			"model": model, "accountEmail": accountEmail,
		}),
		Model:        model,
		AccountEmail: accountEmail,
	}
}

// ServerOverloadError: 503, exhausted the inner retry budget.
type ServerOverloadError struct {
	*GatewayError
	Attempts int `json:"attempts"`
}

func NewServerOverloadError(message string, attempts int) *ServerOverloadError {
	return &ServerOverloadError{
		GatewayError: newBase(KindServerOverload, message, true, map[string]interface{}{"attempts": attempts}),
		Attempts:     attempts,
	}
}

// TransientError: connect error or timeout reaching upstream.
type TransientError struct {
	*GatewayError
}

func NewTransientError(message string) *TransientError {
	return &TransientError{GatewayError: newBase(KindTransient, message, true, nil)}
}

// BadRequestError: 400. Never rotates accounts; returned to the client as-is.
type BadRequestError struct {
	*GatewayError
}

func NewBadRequestError(message string) *BadRequestError {
	return &BadRequestError{GatewayError: newBase(KindBadRequest, message, false, nil)}
}

// Upstream4xxOtherError: any other 4xx. Returned to the client with a
// sanitized body, not retried against another account.
type Upstream4xxOtherError struct {
	*GatewayError
	StatusCode int `json:"statusCode"`
}

func NewUpstream4xxOtherError(message string, statusCode int) *Upstream4xxOtherError {
	return &Upstream4xxOtherError{
		GatewayError: newBase(KindUpstream4xxOther, message, false, map[string]interface{}{"statusCode": statusCode}),
		StatusCode:   statusCode,
	}
}

// InternalError: mapper failure, JSON parse failure. 500, not retried.
type InternalError struct {
	*GatewayError
}

func NewInternalError(message string) *InternalError {
	return &InternalError{GatewayError: newBase(KindInternal, message, false, nil)}
}

// NoAccountsError: the selector found nothing eligible.
type NoAccountsError struct {
	*GatewayError
	AllRateLimited bool `json:"allRateLimited"`
}

func NewNoAccountsError(message string, allRateLimited bool) *NoAccountsError {
	if message == "" {
		message = "No accounts available"
	}
	return &NoAccountsError{
		GatewayError:   newBase(KindRateLimited, message, allRateLimited, map[string]interface{}{"allRateLimited": allRateLimited}),
		AllRateLimited: allRateLimited,
	}
}

// EmptyResponseError: upstream stream produced no content blocks at all.
type EmptyResponseError struct {
	*GatewayError
}

func NewEmptyResponseError(message string) *EmptyResponseError {
	if message == "" {
		message = "No content received from upstream"
	}
	return &EmptyResponseError{GatewayError: newBase(KindTransient, message, true, nil)}
}

// Classification helpers. Each type-asserts first, then falls back to
// substring matching on the error text — matching the teacher's own
// errors.IsRateLimitError / cloudcode.IsPermanentAuthFailure style.

func IsRateLimitError(err error) bool {
	if _, ok := err.(*RateLimitError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota_exhausted") || strings.Contains(msg, "rate limit")
}

func IsAuthError(err error) bool {
	if _, ok := err.(*AuthError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "AUTH_INVALID") || strings.Contains(msg, "INVALID_GRANT") ||
		strings.Contains(msg, "TOKEN REFRESH FAILED") || strings.Contains(msg, "TOKEN HAS BEEN EXPIRED OR REVOKED")
}

func IsQuotaExhausted(err error) bool {
	if _, ok := err.(*QuotaExhaustedError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") && strings.Contains(msg, "exceed")
}

// Retryable reports whether the classified error permits retrying against
// another account.
func Retryable(err error) bool {
	var ge *GatewayError
	switch e := err.(type) {
	case *AuthError:
		ge = e.GatewayError
	case *RateLimitError:
		ge = e.GatewayError
	case *QuotaExhaustedError:
		ge = e.GatewayError
	case *ServerOverloadError:
		ge = e.GatewayError
	case *TransientError:
		ge = e.GatewayError
	case *BadRequestError:
		ge = e.GatewayError
	case *Upstream4xxOtherError:
		ge = e.GatewayError
	case *InternalError:
		ge = e.GatewayError
	case *NoAccountsError:
		ge = e.GatewayError
	case *EmptyResponseError:
		ge = e.GatewayError
	default:
		return false
	}
	return ge.Retryable
}

// HTTPStatus maps a classified error to the HTTP status returned to the client.
func HTTPStatus(err error) int {
	switch e := err.(type) {
	case *RateLimitError:
		return 429
	case *AuthError:
		return 401
	case *QuotaExhaustedError:
		return 429
	case *ServerOverloadError:
		return 503
	case *TransientError:
		return 502
	case *BadRequestError:
		return 400
	case *Upstream4xxOtherError:
		return e.StatusCode
	case *InternalError:
		return 500
	case *NoAccountsError:
		if e.AllRateLimited {
			return 429
		}
		return 503
	case *EmptyResponseError:
		return 502
	default:
		return 500
	}
}

// FormatAPIError renders the error body returned to the client.
func FormatAPIError(err error) map[string]interface{} {
	if je, ok := err.(interface{ ToJSON() map[string]interface{} }); ok {
		return je.ToJSON()
	}
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": err.Error(),
		},
	}
}

// WithContext wraps err with a descriptive prefix, matching the teacher's
// errors.ErrorWithContext.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
