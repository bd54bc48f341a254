// Package account holds the account registry: credentials, quota/rate-limit
// state snapshots, and the lazily-refreshed access-token cache. Ranking and
// eligibility live in internal/selector, which consumes this package's
// types; this package owns only the data and its persistence.
package account

import "time"

// SubscriptionInfo records the detected plan tier for an account, refreshed
// opportunistically when the upstream reports it.
type SubscriptionInfo struct {
	Tier       string `json:"tier,omitempty"`
	ProjectID  string `json:"projectId,omitempty"`
	DetectedAt int64  `json:"detectedAt,omitempty"`
}

// ModelQuotaInfo is the last-known remaining-quota fraction for one model.
type ModelQuotaInfo struct {
	RemainingFraction float64 `json:"remainingFraction"`
	ResetTime         string  `json:"resetTime,omitempty"`
}

// QuotaInfo aggregates per-model quota snapshots for an account.
type QuotaInfo struct {
	Models      map[string]*ModelQuotaInfo `json:"models"`
	LastChecked int64                      `json:"lastChecked"`
}

// RateLimitInfo is the last-known 429 state for one account/model pair.
type RateLimitInfo struct {
	IsRateLimited bool  `json:"isRateLimited"`
	ResetTime     int64 `json:"resetTime,omitempty"`
	ActualResetMs int64 `json:"actualResetMs,omitempty"`
}

// CachedToken is a short-lived access token, keyed by account id.
type CachedToken struct {
	AccessToken string    `json:"accessToken"`
	ExtractedAt time.Time `json:"extractedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Account is one upstream credential the proxy may route requests through.
type Account struct {
	Email        string `json:"email"`
	Source       string `json:"source"`
	Enabled      bool   `json:"enabled"`
	RefreshToken string `json:"refreshToken,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`

	Subscription *SubscriptionInfo `json:"subscription,omitempty"`

	QuotaThreshold       *float64           `json:"quotaThreshold,omitempty"`
	ModelQuotaThresholds map[string]float64 `json:"modelQuotaThresholds,omitempty"`
	Quota                *QuotaInfo         `json:"quota,omitempty"`

	ModelRateLimits map[string]*RateLimitInfo `json:"modelRateLimits,omitempty"`

	LastUsed int64 `json:"lastUsed,omitempty"`

	IsInvalid     bool   `json:"isInvalid,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
	InvalidAt     int64  `json:"invalidAt,omitempty"`

	// Runtime-only fields, never persisted: the circuit breaker's cooldown
	// window and the reason it was opened, set by internal/selector.
	CoolingDownUntil int64  `json:"-"`
	CooldownReason   string `json:"-"`
}

// Usable reports whether the account can be considered for selection at
// all, independent of per-model rate-limit/quota state.
func (a *Account) Usable() bool {
	return a != nil && a.Enabled && !a.IsInvalid
}

// RateLimitFor returns the rate-limit snapshot for a model, or nil.
func (a *Account) RateLimitFor(modelID string) *RateLimitInfo {
	if a.ModelRateLimits == nil {
		return nil
	}
	return a.ModelRateLimits[modelID]
}

// IsRateLimitedFor reports whether the account's last-known rate-limit
// state for modelID is still in effect, expiring it lazily against now.
func (a *Account) IsRateLimitedFor(modelID string, now time.Time) bool {
	info := a.RateLimitFor(modelID)
	if info == nil || !info.IsRateLimited {
		return false
	}
	if info.ResetTime > 0 && now.After(time.UnixMilli(info.ResetTime)) {
		return false
	}
	return true
}

// QuotaFractionFor returns the last-known remaining-quota fraction for a
// model, and whether the reading is present at all.
func (a *Account) QuotaFractionFor(modelID string) (float64, bool) {
	if a.Quota == nil || a.Quota.Models == nil {
		return 0, false
	}
	info, ok := a.Quota.Models[modelID]
	if !ok {
		return 0, false
	}
	return info.RemainingFraction, true
}

// ProxyToken is the resolved, flattened credential handed to the upstream
// HTTP client for a single request: either a bearer access token minted
// from a refresh token, or a raw API key, whichever the account carries.
type ProxyToken struct {
	AccountEmail string
	ProjectID    string
	AccessToken  string
	APIKey       string
}

func (t ProxyToken) IsAPIKey() bool { return t.APIKey != "" }
