package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
)

// modelInfo is the subset of the backend's fetchAvailableModels response
// this package needs: the remaining-quota fraction and reset time per model.
type modelInfo struct {
	QuotaInfo *struct {
		RemainingFraction *float64 `json:"remainingFraction,omitempty"`
		ResetTime         *string  `json:"resetTime,omitempty"`
	} `json:"quotaInfo,omitempty"`
}

type fetchModelsResponse struct {
	Models map[string]*modelInfo `json:"models,omitempty"`
}

// fetchModelQuotas calls the backend's fetchAvailableModels method and
// returns the per-model quota snapshot for the account the token belongs
// to. It tries each configured endpoint in turn, the same fallback order
// internal/upstream uses for the generation calls, since a connection
// failure against one regional endpoint says nothing about the others.
func fetchModelQuotas(ctx context.Context, httpClient *http.Client, token account.ProxyToken) (map[string]*account.ModelQuotaInfo, error) {
	body, _ := json.Marshal(map[string]string{"project": token.ProjectID})

	var lastErr error
	for _, endpoint := range config.UpstreamEndpointFallbacks {
		url := endpoint + "/v1internal:fetchAvailableModels"

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		if token.IsAPIKey() {
			req.Header.Set("Authorization", "Bearer "+token.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		}
		for k, v := range config.UpstreamHeaders() {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("fetchAvailableModels at %s: status %d", endpoint, resp.StatusCode)
			continue
		}

		var data fetchModelsResponse
		err = json.NewDecoder(resp.Body).Decode(&data)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		return toQuotaSnapshot(data), nil
	}

	return nil, fmt.Errorf("fetchAvailableModels failed on all endpoints: %w", lastErr)
}

// toQuotaSnapshot converts the wire response into the account package's
// quota type. A model reporting a resetTime but no remainingFraction has
// exhausted its quota (the backend omits the field rather than sending 0).
func toQuotaSnapshot(data fetchModelsResponse) map[string]*account.ModelQuotaInfo {
	out := make(map[string]*account.ModelQuotaInfo, len(data.Models))
	for modelID, info := range data.Models {
		if info == nil || info.QuotaInfo == nil {
			continue
		}
		q := &account.ModelQuotaInfo{}
		if info.QuotaInfo.ResetTime != nil {
			q.ResetTime = *info.QuotaInfo.ResetTime
		}
		switch {
		case info.QuotaInfo.RemainingFraction != nil:
			q.RemainingFraction = *info.QuotaInfo.RemainingFraction
		case info.QuotaInfo.ResetTime != nil:
			q.RemainingFraction = 0
		default:
			continue
		}
		out[modelID] = q
	}
	return out
}

func quotaHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
