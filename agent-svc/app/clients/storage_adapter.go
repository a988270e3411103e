package clients

import (
	"context"
	"time"

	"dockfleet/pkg/domains"
)

// AgentStore persists agent records.
// Lookups and mutations of an unknown id return an apperrors NotFound error.
type AgentStore interface {
	// UpsertAgent creates the agent or refreshes its identity fields, marking it online at now.
	UpsertAgent(ctx context.Context, reg domains.AgentRegistration, now time.Time) (*domains.Agent, error)
	GetAgent(ctx context.Context, agentID string) (*domains.Agent, error)
	// ListAgents returns agents in registration order.
	ListAgents(ctx context.Context) ([]*domains.Agent, error)
	UpdateAgent(ctx context.Context, agentID string, upd domains.AgentUpdate, now time.Time) (*domains.Agent, error)
	// RecordHeartbeat never moves lastSeen backwards.
	RecordHeartbeat(ctx context.Context, agentID string, hb domains.Heartbeat, now time.Time) (*domains.Agent, error)
	// DeleteAgent fails with Conflict while the agent owns pending or running tasks.
	DeleteAgent(ctx context.Context, agentID string) error
}

// TaskStore persists tasks and enforces atomic state changes.
type TaskStore interface {
	// CreateTask fails with Validation when the owning agent does not exist.
	CreateTask(ctx context.Context, task *domains.Task) error
	GetTask(ctx context.Context, taskID string) (*domains.Task, error)
	// ListTasksByAgent returns tasks in creation order.
	ListTasksByAgent(ctx context.Context, agentID string) ([]*domains.Task, error)
	// ListPendingTasks returns up to limit of the agent's oldest pending tasks.
	ListPendingTasks(ctx context.Context, agentID string, limit int) ([]*domains.Task, error)
	// TransitionTask applies tr only if the task is not terminal, otherwise it fails with Conflict.
	// The check and the write are atomic.
	TransitionTask(ctx context.Context, taskID string, tr domains.TaskTransition, now time.Time) (*domains.Task, error)
	// PurgeTerminalTasks deletes completed and failed tasks last updated before cutoff.
	PurgeTerminalTasks(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeploymentStore persists deployment records.
type DeploymentStore interface {
	CreateDeployment(ctx context.Context, d *domains.Deployment) error
	// ListDeployments returns the agent's deployments, newest first, with status read from the task.
	ListDeployments(ctx context.Context, agentID string) ([]*domains.Deployment, error)
}

// StorageAdapter is the full storage surface of the controller.
type StorageAdapter interface {
	AgentStore
	TaskStore
	DeploymentStore
	Ping(ctx context.Context) error
	Close()
}
