package handlers

import (
	"context"
	"net/http"
	"time"

	"dockfleet/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	store Pinger
	log   *logger.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, log *logger.Logger) *HealthHandler {
	return &HealthHandler{store: store, log: log}
}

// Health handles health check
func (h *HealthHandler) Health(c *gin.Context) {
	respondJSON(c, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready reports ready once the store answers a ping
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("readiness check failed", zap.Error(err))
		respondJSON(c, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		return
	}
	respondJSON(c, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
