// Package agent implements the Agent Adapter (C4): it obtains a signed,
// per-call session URL from the conversational-AI provider and defines
// the event grammar the Media Bridge decodes from that session's socket.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"voxcampaign/internal/config"
)

// OpenSessionRequest carries the per-call prompt and dynamic variables
// templated into it by the conversational-AI provider.
type OpenSessionRequest struct {
	Prompt       string            `json:"prompt"`
	FirstMessage string            `json:"first_message"`
	DynamicVars  map[string]string `json:"dynamic_variables,omitempty"`
}

// OpenSessionResult is returned immediately; conversationId is recorded
// against the Call right away so later webhooks can be correlated even
// if the session dies mid-call.
type OpenSessionResult struct {
	SessionURL     string `json:"session_url"`
	ConversationID string `json:"conversation_id"`
}

// Adapter is a thin HTTP client, grounded on apicall's own plain
// net/http usage in cmd/apicall-cli's sendPost helper: apicall never
// reaches for an HTTP client library, and neither does this.
type Adapter struct {
	cfg    config.AgentConfig
	client *http.Client
}

func NewAdapter(cfg config.AgentConfig) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.SessionOpenTimeout()},
	}
}

func (a *Adapter) OpenSession(ctx context.Context, req OpenSessionRequest) (*OpenSessionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding open-session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building open-session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("opening agent session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("agent session open rejected: %s", resp.Status)
	}

	var out OpenSessionResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding open-session response: %w", err)
	}
	return &out, nil
}
