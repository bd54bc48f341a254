package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// envelope is the wrapper every request to the backend travels in,
// regardless of which client wire surface produced the inner Gemini-shape
// request body.
type envelope struct {
	Project     string          `json:"project"`
	Model       string          `json:"model"`
	Request     json.RawMessage `json:"request"`
	UserAgent   string          `json:"userAgent"`
	RequestType string          `json:"requestType"`
	RequestID   string          `json:"requestId"`
}

// wrapEnvelope stamps a session id into the mapper-produced request body
// (for signature-cache continuity on the backend side, mirroring the
// sessionId field the selector's SessionManager keys affinity on) and
// wraps it in the project/model envelope the backend expects.
func wrapEnvelope(body []byte, model, projectID, sessionID string) ([]byte, error) {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("upstream: decode request body: %w", err)
	}
	if sessionID != "" {
		req["sessionId"] = sessionID
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: re-encode request body: %w", err)
	}

	env := envelope{
		Project:     projectID,
		Model:       model,
		Request:     reqBytes,
		UserAgent:   "antigravity",
		RequestType: "agent",
		RequestID:   "agent-" + uuid.New().String(),
	}
	return json.Marshal(env)
}
