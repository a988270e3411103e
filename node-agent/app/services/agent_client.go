package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"dockfleet/node-agent/app/clients"
	"dockfleet/pkg/domains"
)

// Registration is the identity an agent presents to the controller
type Registration struct {
	ID           string   `json:"id"`
	Hostname     string   `json:"hostname"`
	Platform     string   `json:"platform,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	URL          string   `json:"url,omitempty"`
}

// HeartbeatPayload is the periodic liveness signal
type HeartbeatPayload struct {
	AgentID  string                 `json:"agentId"`
	Status   string                 `json:"status"`
	Metrics  *domains.AgentMetrics  `json:"metrics,omitempty"`
	Docker   *domains.RuntimeInfo   `json:"docker,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TaskResult is an agent's report for one task
type TaskResult struct {
	Status string      `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  *string     `json:"error,omitempty"`
}

// AgentClient provides high-level API methods for the controller
type AgentClient struct {
	httpClient *clients.HTTPClient
}

// NewAgentClient creates a new agent client
func NewAgentClient(httpClient *clients.HTTPClient) *AgentClient {
	return &AgentClient{
		httpClient: httpClient,
	}
}

// GetHTTPClient returns the underlying HTTP client (for token updates)
func (c *AgentClient) GetHTTPClient() *clients.HTTPClient {
	return c.httpClient
}

// RegisterAgent registers the agent and returns its poll token
func (c *AgentClient) RegisterAgent(ctx context.Context, reg Registration) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.httpClient.DoRequest(ctx, http.MethodPost, "/v1/agents/register", reg, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("registration response carried no token")
	}
	return resp.Token, nil
}

// Heartbeat sends a heartbeat
func (c *AgentClient) Heartbeat(ctx context.Context, hb HeartbeatPayload) error {
	return c.httpClient.DoRequest(ctx, http.MethodPost, "/v1/agents/heartbeat", hb, nil)
}

// PendingTasks fetches pending tasks, holding the request up to waitSec seconds when none are queued
func (c *AgentClient) PendingTasks(ctx context.Context, agentID string, waitSec int) ([]*domains.Task, error) {
	path := fmt.Sprintf("/v1/agents/%s/tasks/pending", url.PathEscape(agentID))
	if waitSec > 0 {
		path += "?wait=" + strconv.Itoa(waitSec)
	}

	var resp struct {
		Tasks []*domains.Task `json:"tasks"`
	}
	if err := c.httpClient.DoRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// SubmitResult reports a task outcome
func (c *AgentClient) SubmitResult(ctx context.Context, agentID, taskID string, result TaskResult) error {
	path := fmt.Sprintf("/v1/agents/%s/tasks/%s/result", url.PathEscape(agentID), url.PathEscape(taskID))
	return c.httpClient.DoRequest(ctx, http.MethodPost, path, result, nil)
}
