package dto

import (
	"time"

	"dockfleet/pkg/domains"
)

// RegisterAgentRequest represents an agent registration request
type RegisterAgentRequest struct {
	ID           string   `json:"id" validate:"required"`
	Hostname     string   `json:"hostname" validate:"required"`
	Platform     string   `json:"platform,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	URL          string   `json:"url,omitempty" validate:"omitempty,url"`
}

// ToDomain converts the request to a registration
func (r RegisterAgentRequest) ToDomain() domains.AgentRegistration {
	return domains.AgentRegistration{
		ID:           r.ID,
		Hostname:     r.Hostname,
		Platform:     r.Platform,
		Version:      r.Version,
		Capabilities: r.Capabilities,
		URL:          r.URL,
	}
}

// HeartbeatRequest represents an agent heartbeat.
// Status and Timestamp are accepted for compatibility; the server clock decides lastSeen.
type HeartbeatRequest struct {
	AgentID   string                 `json:"agentId" validate:"required"`
	Status    string                 `json:"status,omitempty" validate:"omitempty,oneof=online offline"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
	Metrics   *domains.AgentMetrics  `json:"metrics,omitempty"`
	Docker    *domains.RuntimeInfo   `json:"docker,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToDomain converts the request to a heartbeat
func (r HeartbeatRequest) ToDomain() domains.Heartbeat {
	return domains.Heartbeat{
		Metrics:  r.Metrics,
		Docker:   r.Docker,
		Metadata: r.Metadata,
	}
}

// UpdateAgentRequest represents a partial agent edit
type UpdateAgentRequest struct {
	Hostname     *string                `json:"hostname,omitempty"`
	Platform     *string                `json:"platform,omitempty"`
	Version      *string                `json:"version,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	URL          *string                `json:"url,omitempty" validate:"omitempty,url"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToDomain converts the request to an update
func (r UpdateAgentRequest) ToDomain() domains.AgentUpdate {
	return domains.AgentUpdate{
		Hostname:     r.Hostname,
		Platform:     r.Platform,
		Version:      r.Version,
		Capabilities: r.Capabilities,
		URL:          r.URL,
		Metadata:     r.Metadata,
	}
}

// DispatchTaskRequest represents a task submission for one agent
type DispatchTaskRequest struct {
	Type    string                 `json:"type" validate:"required"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// SubmitTaskResultRequest represents an agent's report for a task
type SubmitTaskResultRequest struct {
	Status string      `json:"status" validate:"required"`
	Result interface{} `json:"result,omitempty"`
	Error  *string     `json:"error,omitempty"`
}
