package domains

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TaskPayload is the typed body of a task. The concrete variant is selected by the task type.
type TaskPayload interface {
	// Schema names the payload shape, shared by the container action variants.
	Schema() string
}

// DockerCommandPayload runs a docker CLI command on the agent.
type DockerCommandPayload struct {
	Command string   `json:"command" validate:"required"`
	Args    []string `json:"args"`
}

// StackDeployPayload deploys a compose project.
type StackDeployPayload struct {
	StackID        string `json:"stackId" validate:"required"`
	ComposeContent string `json:"composeContent" validate:"required"`
	EnvContent     string `json:"envContent,omitempty"`
}

// ImagePullPayload pulls an image reference.
type ImagePullPayload struct {
	ImageName string `json:"imageName" validate:"required"`
}

// ContainerActionPayload targets a container for start, stop, restart or remove.
type ContainerActionPayload struct {
	ContainerID string `json:"containerId" validate:"required"`
	Force       bool   `json:"force,omitempty"`
}

// HealthCheckPayload carries no fields.
type HealthCheckPayload struct{}

// AgentUpgradePayload asks the agent to upgrade itself.
type AgentUpgradePayload struct {
	Action  string `json:"action" validate:"required,eq=upgrade"`
	Version string `json:"version,omitempty"`
}

func (*DockerCommandPayload) Schema() string   { return "docker_command" }
func (*StackDeployPayload) Schema() string     { return "stack_deploy" }
func (*ImagePullPayload) Schema() string       { return "image_pull" }
func (*ContainerActionPayload) Schema() string { return "container_action" }
func (*HealthCheckPayload) Schema() string     { return "health_check" }
func (*AgentUpgradePayload) Schema() string    { return "agent_upgrade" }

// NewPayload returns an empty payload variant for t.
func NewPayload(t TaskType) (TaskPayload, error) {
	switch t {
	case TaskDockerCommand:
		return &DockerCommandPayload{}, nil
	case TaskStackDeploy:
		return &StackDeployPayload{}, nil
	case TaskImagePull:
		return &ImagePullPayload{}, nil
	case TaskContainerStart, TaskContainerStop, TaskContainerRestart, TaskContainerRemove:
		return &ContainerActionPayload{}, nil
	case TaskHealthCheck:
		return &HealthCheckPayload{}, nil
	case TaskAgentUpgrade:
		return &AgentUpgradePayload{}, nil
	}
	return nil, fmt.Errorf("unknown task type: %q", t)
}

// DecodePayload strictly decodes raw into the variant for t. Unknown fields are rejected.
// An empty or null document yields the zero variant.
func DecodePayload(t TaskType, raw []byte) (TaskPayload, error) {
	payload, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return payload, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", payload.Schema(), err)
	}
	return payload, nil
}
