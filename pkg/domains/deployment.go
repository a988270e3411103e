package domains

import "time"

// Deployment links a stack_deploy task to the stack it deploys.
// Status is copied from the task whenever the record is read.
type Deployment struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"taskId"`
	AgentID   string     `json:"agentId"`
	StackID   string     `json:"stackId"`
	Status    TaskStatus `json:"status"`
	Error     *string    `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
