package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dockfleet/pkg/domains"
)

// maxAgentResponseBytes bounds how much of an agent response is read.
const maxAgentResponseBytes = 8 << 20

// AgentAPIClient calls the HTTP API an agent exposes on its own host
type AgentAPIClient struct {
	httpClient *http.Client
}

// NewAgentAPIClient creates a client whose calls are bounded by timeout
func NewAgentAPIClient(timeout time.Duration) *AgentAPIClient {
	return &AgentAPIClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListStacks fetches the compose stacks known to the agent at baseURL.
// The agent may answer with a bare array or with a {"success","data"} envelope.
func (c *AgentAPIClient) ListStacks(ctx context.Context, baseURL string) ([]domains.Stack, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("agent has no API url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/stacks", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAgentResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return decodeStacks(body)
}

func decodeStacks(body []byte) ([]domains.Stack, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var stacks []domains.Stack
		if err := json.Unmarshal(body, &stacks); err != nil {
			return nil, fmt.Errorf("failed to decode stacks: %w", err)
		}
		return stacks, nil
	}

	var envelope struct {
		Success *bool           `json:"success"`
		Data    []domains.Stack `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode stacks: %w", err)
	}
	if envelope.Success != nil && !*envelope.Success {
		return nil, fmt.Errorf("agent reported failure: %s", envelope.Error)
	}
	return envelope.Data, nil
}
