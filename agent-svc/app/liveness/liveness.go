// Package liveness derives an agent's effective status from its heartbeat recency.
//
// The stored status of an agent is only what it last reported. Every surface that
// shows or acts on agent availability goes through EffectiveStatus instead.
package liveness

import (
	"time"

	"dockfleet/pkg/domains"
)

// DefaultTimeout is how long after its last heartbeat an agent is still considered online.
const DefaultTimeout = 5 * time.Minute

// EffectiveStatus returns online when the agent's last heartbeat is at most timeout old.
// A zero or negative timeout selects DefaultTimeout.
func EffectiveStatus(agent *domains.Agent, now time.Time, timeout time.Duration) domains.AgentStatus {
	if agent == nil || agent.LastSeen == nil {
		return domains.AgentOffline
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if now.Sub(*agent.LastSeen) > timeout {
		return domains.AgentOffline
	}
	return domains.AgentOnline
}

// IsOnline is shorthand for EffectiveStatus(...) == online.
func IsOnline(agent *domains.Agent, now time.Time, timeout time.Duration) bool {
	return EffectiveStatus(agent, now, timeout) == domains.AgentOnline
}

// Evaluator binds a clock and timeout so callers don't thread them through.
type Evaluator struct {
	Timeout time.Duration
	Now     func() time.Time
}

// NewEvaluator creates an evaluator on the wall clock.
func NewEvaluator(timeout time.Duration) *Evaluator {
	return &Evaluator{Timeout: timeout, Now: time.Now}
}

// Status evaluates agent at the current time.
func (e *Evaluator) Status(agent *domains.Agent) domains.AgentStatus {
	return EffectiveStatus(agent, e.Now(), e.Timeout)
}
