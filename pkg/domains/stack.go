package domains

// StackService is one service container of a compose stack.
type StackService struct {
	Name        string `json:"name"`
	ContainerID string `json:"containerId,omitempty"`
	Image       string `json:"image,omitempty"`
	State       string `json:"state"`
	Status      string `json:"status,omitempty"`
}

// Stack is a compose project in the shape used for locally managed stacks.
type Stack struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	ServiceCount int            `json:"serviceCount"`
	RunningCount int            `json:"runningCount"`
	Services     []StackService `json:"services"`
	AgentID      string         `json:"agentId,omitempty"`
	Source       string         `json:"source,omitempty"`
}

const (
	StackRunning          = "running"
	StackPartiallyRunning = "partially running"
	StackStopped          = "stopped"
)

// DeriveStackStatus computes the stack status from its service counts.
func DeriveStackStatus(running, total int) string {
	switch {
	case total > 0 && running == total:
		return StackRunning
	case running > 0:
		return StackPartiallyRunning
	default:
		return StackStopped
	}
}
