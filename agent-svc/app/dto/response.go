package dto

import (
	"time"

	"dockfleet/pkg/domains"
)

// RegisterResponse represents a registration response
type RegisterResponse struct {
	Agent     AgentResponse `json:"agent"`
	Token     string        `json:"token"`
	ExpiresIn int64         `json:"expiresIn"`
}

// AgentResponse is an agent with its effective status.
// ReportedStatus is the last value stored by register or heartbeat.
type AgentResponse struct {
	*domains.Agent
	Status         domains.AgentStatus `json:"status"`
	ReportedStatus domains.AgentStatus `json:"reportedStatus"`
}

// NewAgentResponse pairs an agent with the status computed for it
func NewAgentResponse(agent *domains.Agent, effective domains.AgentStatus) AgentResponse {
	return AgentResponse{
		Agent:          agent,
		Status:         effective,
		ReportedStatus: agent.Status,
	}
}

// ListAgentsResponse represents the agent list
type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
}

// HeartbeatResponse represents a heartbeat acknowledgement
type HeartbeatResponse struct {
	OK       bool      `json:"ok"`
	LastSeen time.Time `json:"lastSeen"`
}

// ListTasksResponse represents a task list
type ListTasksResponse struct {
	Tasks []*domains.Task `json:"tasks"`
}

// ListDeploymentsResponse represents a deployment list
type ListDeploymentsResponse struct {
	Deployments []*domains.Deployment `json:"deployments"`
}

// ListStacksResponse represents the stacks of a remote agent
type ListStacksResponse struct {
	Stacks []domains.Stack `json:"stacks"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}
