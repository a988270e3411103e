package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/agent-svc/app/clients"
	"dockfleet/agent-svc/app/metrics"
	"dockfleet/agent-svc/app/utils"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"go.uber.org/zap"
)

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

// AgentRegistryService handles agent registry operations
type AgentRegistryService struct {
	storage clients.AgentStore
	log     *logger.Logger
	now     Clock
}

// NewAgentRegistryService creates a new agent registry service
func NewAgentRegistryService(storage clients.AgentStore, log *logger.Logger) *AgentRegistryService {
	return &AgentRegistryService{
		storage: storage,
		log:     log,
		now:     time.Now,
	}
}

// WithClock replaces the wall clock
func (s *AgentRegistryService) WithClock(now Clock) *AgentRegistryService {
	s.now = now
	return s
}

// Register creates the agent or refreshes its identity. Re-registering never fails on "already exists".
func (s *AgentRegistryService) Register(ctx context.Context, reg domains.AgentRegistration) (*domains.Agent, error) {
	reg.ID = strings.TrimSpace(reg.ID)
	reg.Hostname = strings.TrimSpace(reg.Hostname)
	missing := map[string]string{}
	if reg.ID == "" {
		missing["id"] = "is required"
	}
	if reg.Hostname == "" {
		missing["hostname"] = "is required"
	}
	if len(missing) > 0 {
		return nil, apperrors.ValidationFields("id and hostname are required", missing)
	}
	reg.Platform = utils.NormalizePlatform(reg.Platform)
	reg.Capabilities = dedupe(reg.Capabilities)

	agent, err := s.storage.UpsertAgent(ctx, reg, s.now().UTC())
	if err != nil {
		return nil, apperrors.Wrap(err, fmt.Sprintf("failed to register agent %s", reg.ID))
	}

	metrics.AgentRegistrations.Inc()
	s.log.WithAgentID(agent.ID).Info("agent registered",
		zap.String("hostname", agent.Hostname),
		zap.String("platform", agent.Platform),
		zap.String("version", agent.Version),
		zap.Strings("capabilities", agent.Capabilities),
	)
	return agent, nil
}

// Get retrieves an agent by ID
func (s *AgentRegistryService) Get(ctx context.Context, agentID string) (*domains.Agent, error) {
	return s.storage.GetAgent(ctx, agentID)
}

// List retrieves all agents in registration order
func (s *AgentRegistryService) List(ctx context.Context) ([]*domains.Agent, error) {
	return s.storage.ListAgents(ctx)
}

// Update merges the provided fields into an agent
func (s *AgentRegistryService) Update(ctx context.Context, agentID string, upd domains.AgentUpdate) (*domains.Agent, error) {
	if upd.Hostname != nil && strings.TrimSpace(*upd.Hostname) == "" {
		return nil, apperrors.ValidationFields("hostname cannot be empty", map[string]string{"hostname": "is required"})
	}
	if upd.Platform != nil {
		p := utils.NormalizePlatform(*upd.Platform)
		upd.Platform = &p
	}
	if upd.Capabilities != nil {
		upd.Capabilities = dedupe(upd.Capabilities)
	}

	before, err := s.storage.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	agent, err := s.storage.UpdateAgent(ctx, agentID, upd, s.now().UTC())
	if err != nil {
		return nil, apperrors.Wrap(err, fmt.Sprintf("failed to update agent %s", agentID))
	}

	s.log.WithAgentID(agentID).Info("agent updated",
		zap.Strings("metadata_changed", utils.DiffMetadata(before.Metadata, upd.Metadata)),
	)
	return agent, nil
}

// RecordHeartbeat marks the agent as seen now. Unknown agents get NotFound and must register first.
func (s *AgentRegistryService) RecordHeartbeat(ctx context.Context, agentID string, hb domains.Heartbeat) (*domains.Agent, error) {
	agent, err := s.storage.RecordHeartbeat(ctx, agentID, hb, s.now().UTC())
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.log.WithAgentID(agentID).Warn("heartbeat from unregistered agent")
		}
		return nil, err
	}
	metrics.Heartbeats.Inc()
	s.log.WithAgentID(agentID).Debug("heartbeat recorded")
	return agent, nil
}

// Delete removes an agent that has no pending or running tasks
func (s *AgentRegistryService) Delete(ctx context.Context, agentID string) error {
	if err := s.storage.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	s.log.WithAgentID(agentID).Info("agent deleted")
	return nil
}

func dedupe(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
