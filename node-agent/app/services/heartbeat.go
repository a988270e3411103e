package services

import (
	"context"
	"net/http"
	"time"

	"dockfleet/node-agent/app/clients"
	"dockfleet/node-agent/app/identity"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"go.uber.org/zap"
)

// EngineSnapshotter reports engine resource counts
type EngineSnapshotter interface {
	Snapshot(ctx context.Context) (*domains.AgentMetrics, *domains.RuntimeInfo, error)
}

// Reregisterer restores the agent's registration after the controller forgot it
type Reregisterer interface {
	Register(ctx context.Context) (*identity.Identity, error)
}

// HeartbeatService sends periodic heartbeats to the controller
type HeartbeatService struct {
	client       *AgentClient
	agentID      string
	interval     time.Duration
	engine       EngineSnapshotter
	collector    *identity.Collector
	registration Reregisterer
	extra        func() map[string]interface{}
	log          *logger.Logger
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(client *AgentClient, agentID string, interval time.Duration, engine EngineSnapshotter, collector *identity.Collector, registration Reregisterer, log *logger.Logger) *HeartbeatService {
	return &HeartbeatService{
		client:       client,
		agentID:      agentID,
		interval:     interval,
		engine:       engine,
		collector:    collector,
		registration: registration,
		log:          log.WithAgentID(agentID),
	}
}

// WithMetadata adds fields returned by fn to every heartbeat's metadata
func (h *HeartbeatService) WithMetadata(fn func() map[string]interface{}) *HeartbeatService {
	h.extra = fn
	return h
}

// Start sends a heartbeat immediately and then every interval until ctx is done
func (h *HeartbeatService) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Beat(ctx)
		}
	}
}

// Beat sends one heartbeat, re-registering when the controller does not know this agent
func (h *HeartbeatService) Beat(ctx context.Context) {
	err := h.client.Heartbeat(ctx, h.payload(ctx))
	if err == nil {
		return
	}

	switch clients.StatusCode(err) {
	case http.StatusNotFound:
		h.log.Warn("heartbeat rejected, agent not registered; re-registering")
		if _, err := h.registration.Register(ctx); err != nil {
			h.log.WithError(err).Error("re-registration failed")
			return
		}
		if err := h.client.Heartbeat(ctx, h.payload(ctx)); err != nil {
			h.log.WithError(err).Warn("heartbeat after re-registration failed")
		}
	case http.StatusTooManyRequests:
		h.log.Debug("heartbeat throttled by controller")
	default:
		if ctx.Err() == nil {
			h.log.WithError(err).Warn("heartbeat failed")
		}
	}
}

func (h *HeartbeatService) payload(ctx context.Context) HeartbeatPayload {
	hb := HeartbeatPayload{
		AgentID: h.agentID,
		Status:  string(domains.AgentOnline),
	}

	snapCtx, cancel := context.WithTimeout(ctx, h.interval/2)
	defer cancel()
	metrics, runtime, err := h.engine.Snapshot(snapCtx)
	if err != nil {
		h.log.Debug("engine snapshot failed", zap.Error(err))
	} else {
		hb.Metrics = metrics
		hb.Docker = runtime
	}

	hb.Metadata = h.collector.Collect().Map()
	if h.extra != nil {
		for k, v := range h.extra() {
			hb.Metadata[k] = v
		}
	}
	return hb
}
