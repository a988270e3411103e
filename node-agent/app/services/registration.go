package services

import (
	"context"
	"fmt"

	"dockfleet/node-agent/app/identity"
	"dockfleet/node-agent/app/utils"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"go.uber.org/zap"
)

// RegistrationService registers the agent with the controller and keeps its token current
type RegistrationService struct {
	client       *AgentClient
	identityMgr  *identity.Manager
	collector    *identity.Collector
	configuredID string
	advertiseURL string
	version      string
	log          *logger.Logger
}

// NewRegistrationService creates a new registration service. configuredID may be empty.
func NewRegistrationService(client *AgentClient, identityMgr *identity.Manager, collector *identity.Collector, configuredID, advertiseURL, version string, log *logger.Logger) *RegistrationService {
	return &RegistrationService{
		client:       client,
		identityMgr:  identityMgr,
		collector:    collector,
		configuredID: configuredID,
		advertiseURL: advertiseURL,
		version:      version,
		log:          log,
	}
}

// Capabilities lists the task types this agent executes
func Capabilities() []string {
	caps := make([]string, 0, len(domains.TaskTypes))
	for _, t := range domains.TaskTypes {
		caps = append(caps, string(t))
	}
	return caps
}

// Register upserts this agent on the controller. The agent id persists across restarts;
// registration is repeated on every start since the controller treats it as an idempotent upsert.
func (r *RegistrationService) Register(ctx context.Context) (*identity.Identity, error) {
	ident, err := r.identityMgr.LoadOrCreate(r.configuredID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	meta := r.collector.Collect()
	reg := Registration{
		ID:           ident.AgentID,
		Hostname:     meta.Hostname,
		Platform:     meta.Platform(),
		Version:      r.version,
		Capabilities: Capabilities(),
		URL:          r.advertiseURL,
	}

	token, err := r.client.RegisterAgent(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}

	r.client.GetHTTPClient().UpdateToken(token)
	if err := r.identityMgr.UpdateToken(token); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}
	ident.Token = token

	r.log.WithAgentID(ident.AgentID).Info("registered with controller",
		zap.String("hostname", reg.Hostname),
		zap.String("url", reg.URL),
	)
	return ident, nil
}

// RegisterWithRetry retries Register under policy until it succeeds or ctx is done
func (r *RegistrationService) RegisterWithRetry(ctx context.Context, policy *utils.RetryPolicy) (*identity.Identity, error) {
	var ident *identity.Identity
	attempt := 0
	err := policy.Execute(ctx, func() error {
		attempt++
		var err error
		ident, err = r.Register(ctx)
		if err != nil {
			r.log.Warn("registration attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register after %d attempts: %w", attempt, err)
	}
	return ident, nil
}
