package services

import (
	"context"
	"fmt"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/agent-svc/app/liveness"
	"dockfleet/agent-svc/app/metrics"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"go.uber.org/zap"
)

// StackLister fetches stacks from an agent's own API
type StackLister interface {
	ListStacks(ctx context.Context, baseURL string) ([]domains.Stack, error)
}

// RemoteProxyService serves stack queries for remote agents in the local stack shape
type RemoteProxyService struct {
	client   StackLister
	liveness *liveness.Evaluator
	log      *logger.Logger
}

// NewRemoteProxyService creates a new remote proxy service
func NewRemoteProxyService(client StackLister, evaluator *liveness.Evaluator, log *logger.Logger) *RemoteProxyService {
	return &RemoteProxyService{client: client, liveness: evaluator, log: log}
}

// ListRemoteStacks returns the agent's stacks. An offline agent is a Conflict; an unreachable one
// yields an empty list so aggregate views keep working.
func (s *RemoteProxyService) ListRemoteStacks(ctx context.Context, agent *domains.Agent) ([]domains.Stack, error) {
	if status := s.liveness.Status(agent); status != domains.AgentOnline {
		return nil, apperrors.Conflict(fmt.Sprintf("Agent is not online (status: %s)", status))
	}

	raw, err := s.client.ListStacks(ctx, agent.URL)
	if err != nil {
		metrics.RemoteProxyFailures.WithLabelValues(failureReason(ctx, agent)).Inc()
		s.log.WithAgentID(agent.ID).WithError(err).Warn("failed to fetch remote stacks",
			zap.String("url", agent.URL))
		return []domains.Stack{}, nil
	}

	stacks := make([]domains.Stack, 0, len(raw))
	for _, st := range raw {
		stacks = append(stacks, normalizeStack(st, agent.ID))
	}
	return stacks, nil
}

// GetRemoteStack finds one of the agent's stacks by name
func (s *RemoteProxyService) GetRemoteStack(ctx context.Context, agent *domains.Agent, name string) (*domains.Stack, error) {
	stacks, err := s.ListRemoteStacks(ctx, agent)
	if err != nil {
		return nil, err
	}
	for i := range stacks {
		if stacks[i].Name == name {
			return &stacks[i], nil
		}
	}
	return nil, apperrors.NotFound("stack", name)
}

func normalizeStack(st domains.Stack, agentID string) domains.Stack {
	if st.ID == "" {
		st.ID = st.Name
	}
	if st.Services == nil {
		st.Services = []domains.StackService{}
	}
	if len(st.Services) > 0 {
		running := 0
		for _, svc := range st.Services {
			if svc.State == "running" {
				running++
			}
		}
		st.ServiceCount = len(st.Services)
		st.RunningCount = running
	}
	if st.Status == "" {
		st.Status = domains.DeriveStackStatus(st.RunningCount, st.ServiceCount)
	}
	st.AgentID = agentID
	st.Source = "remote"
	return st
}

func failureReason(ctx context.Context, agent *domains.Agent) string {
	switch {
	case agent.URL == "":
		return "no_url"
	case ctx.Err() != nil:
		return "canceled"
	default:
		return "transport"
	}
}
