package account

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// OAuthConfig configures the upstream's OAuth2 token endpoint. Only the
// refresh-token-exchange leg is implemented here: authorization-URL
// construction, the PKCE device-flow, and local callback-server onboarding
// (the teacher's oauth.go GetAuthorizationURL/NewCallbackServer/
// CompleteOAuthFlow) assume an interactive operator obtaining a first
// refresh token out-of-band, which is out of scope for this proxy — it
// only ever consumes refresh tokens operators already hold.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

func (c OAuthConfig) toOAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: c.TokenURL},
	}
}

// RefreshParts splits a composite refresh token of the form
// "refreshToken|projectId|managedProjectId", matching the teacher's
// ParseRefreshParts. Accounts onboarded against a specific GCP project
// encode it alongside the bare refresh token rather than as a separate
// field, so the two must travel together through storage.
type RefreshParts struct {
	RefreshToken      string
	ProjectID         string
	ManagedProjectID  string
}

func ParseRefreshParts(composite string) RefreshParts {
	parts := strings.Split(composite, "|")
	rp := RefreshParts{RefreshToken: parts[0]}
	if len(parts) > 1 {
		rp.ProjectID = parts[1]
	}
	if len(parts) > 2 {
		rp.ManagedProjectID = parts[2]
	}
	return rp
}

// ExchangeRefreshToken redeems a (possibly composite) refresh token for a
// fresh access token via the configured OAuth2 token endpoint.
func ExchangeRefreshToken(ctx context.Context, cfg OAuthConfig, compositeRefresh string) (*oauth2.Token, error) {
	parts := ParseRefreshParts(compositeRefresh)
	if parts.RefreshToken == "" {
		return nil, fmt.Errorf("empty refresh token")
	}

	src := cfg.toOAuth2().TokenSource(ctx, &oauth2.Token{RefreshToken: parts.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token exchange: %w", err)
	}
	return tok, nil
}
