package domains

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType is the closed set of work an agent can be asked to do.
type TaskType string

const (
	TaskDockerCommand    TaskType = "docker_command"
	TaskStackDeploy      TaskType = "stack_deploy"
	TaskImagePull        TaskType = "image_pull"
	TaskContainerStart   TaskType = "container_start"
	TaskContainerStop    TaskType = "container_stop"
	TaskContainerRestart TaskType = "container_restart"
	TaskContainerRemove  TaskType = "container_remove"
	TaskHealthCheck      TaskType = "health_check"
	TaskAgentUpgrade     TaskType = "agent_upgrade"
)

// TaskTypes lists every valid task type.
var TaskTypes = []TaskType{
	TaskDockerCommand,
	TaskStackDeploy,
	TaskImagePull,
	TaskContainerStart,
	TaskContainerStop,
	TaskContainerRestart,
	TaskContainerRemove,
	TaskHealthCheck,
	TaskAgentUpgrade,
}

// Valid reports whether t is part of the closed enumeration.
func (t TaskType) Valid() bool {
	for _, known := range TaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions are accepted.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Reportable reports whether an agent may submit s as a task outcome.
func (s TaskStatus) Reportable() bool {
	return s == TaskRunning || s == TaskCompleted || s == TaskFailed
}

// Task is a unit of work dispatched to one agent.
type Task struct {
	ID        string      `json:"id"`
	AgentID   string      `json:"agentId"`
	Type      TaskType    `json:"type"`
	Payload   TaskPayload `json:"payload"`
	Status    TaskStatus  `json:"status"`
	Result    interface{} `json:"result"`
	Error     *string     `json:"error"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Clone returns a copy safe to hand out of a store. Payloads are treated as immutable.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	return &c
}

// UnmarshalJSON decodes the payload into the variant selected by the type field.
func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	var raw struct {
		plain
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Task(raw.plain)
	if !t.Type.Valid() {
		return fmt.Errorf("unknown task type: %q", t.Type)
	}
	payload, err := DecodePayload(t.Type, raw.Payload)
	if err != nil {
		return err
	}
	t.Payload = payload
	return nil
}

// TaskTransition is a requested state change with its outcome.
type TaskTransition struct {
	Status TaskStatus
	Result interface{}
	Error  *string
}
