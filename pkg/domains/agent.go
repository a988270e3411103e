package domains

import "time"

// AgentStatus is the online/offline state of an agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// AgentMetrics is the last-known resource count snapshot reported by an agent.
type AgentMetrics struct {
	ContainerCount int `json:"containerCount"`
	ImageCount     int `json:"imageCount"`
	StackCount     int `json:"stackCount"`
	NetworkCount   int `json:"networkCount"`
	VolumeCount    int `json:"volumeCount"`
}

// RuntimeInfo is the container engine snapshot reported by an agent.
type RuntimeInfo struct {
	Version    string `json:"version"`
	Containers int    `json:"containers"`
	Images     int    `json:"images"`
}

// Agent represents a registered remote agent.
// Status is the last self-reported value; consumers derive liveness through the liveness package.
type Agent struct {
	ID           string                 `json:"id"`
	Hostname     string                 `json:"hostname"`
	Platform     string                 `json:"platform,omitempty"`
	Version      string                 `json:"version,omitempty"`
	Capabilities []string               `json:"capabilities"`
	URL          string                 `json:"url,omitempty"`
	Status       AgentStatus            `json:"status"`
	LastSeen     *time.Time             `json:"lastSeen,omitempty"`
	RegisteredAt time.Time              `json:"registeredAt"`
	Metrics      *AgentMetrics          `json:"metrics,omitempty"`
	Docker       *RuntimeInfo           `json:"docker,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// Clone returns a deep copy so stored records are never shared with callers.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	if a.Capabilities != nil {
		c.Capabilities = append([]string(nil), a.Capabilities...)
	}
	if a.LastSeen != nil {
		ls := *a.LastSeen
		c.LastSeen = &ls
	}
	if a.Metrics != nil {
		m := *a.Metrics
		c.Metrics = &m
	}
	if a.Docker != nil {
		d := *a.Docker
		c.Docker = &d
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// AgentRegistration carries the identity fields an agent presents on register.
type AgentRegistration struct {
	ID           string
	Hostname     string
	Platform     string
	Version      string
	Capabilities []string
	URL          string
}

// AgentUpdate is a partial edit; nil fields are left untouched.
type AgentUpdate struct {
	Hostname     *string
	Platform     *string
	Version      *string
	Capabilities []string
	URL          *string
	Metadata     map[string]interface{}
}

// Heartbeat is a liveness signal with optional snapshots.
type Heartbeat struct {
	Metrics  *AgentMetrics
	Docker   *RuntimeInfo
	Metadata map[string]interface{}
}
