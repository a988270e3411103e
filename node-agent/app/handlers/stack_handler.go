package handlers

import (
	"context"
	"net/http"
	"time"

	"dockfleet/node-agent/app/executor"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContainerLister lists the engine's containers
type ContainerLister interface {
	ListContainers(ctx context.Context) ([]executor.ContainerInfo, error)
	Health(ctx context.Context) (*executor.EngineHealth, error)
}

// envelope is the response shape of the local API
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StackHandler serves the agent's local API, which the controller proxies to
type StackHandler struct {
	engine  ContainerLister
	agentID string
	log     *logger.Logger
}

// NewStackHandler creates a new stack handler
func NewStackHandler(engine ContainerLister, agentID string, log *logger.Logger) *StackHandler {
	return &StackHandler{engine: engine, agentID: agentID, log: log}
}

// Register mounts the local API routes
func (h *StackHandler) Register(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/api/stacks", h.ListStacks)
	router.GET("/api/stacks/:name", h.GetStack)
}

// Health reports whether the engine is reachable
func (h *StackHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	health, err := h.engine.Health(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, envelope{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: gin.H{"agentId": h.agentID, "docker": health}})
}

// ListStacks returns the compose projects on this host
func (h *StackHandler) ListStacks(c *gin.Context) {
	stacks, ok := h.stacks(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: stacks})
}

// GetStack returns one compose project by name
func (h *StackHandler) GetStack(c *gin.Context) {
	stacks, ok := h.stacks(c)
	if !ok {
		return
	}
	name := c.Param("name")
	for _, stack := range stacks {
		if stack.Name == name {
			c.JSON(http.StatusOK, envelope{Success: true, Data: stack})
			return
		}
	}
	c.JSON(http.StatusNotFound, envelope{Success: false, Error: "stack not found: " + name})
}

func (h *StackHandler) stacks(c *gin.Context) ([]domains.Stack, bool) {
	containers, err := h.engine.ListContainers(c.Request.Context())
	if err != nil {
		h.log.Error("failed to list containers", zap.Error(err))
		c.JSON(http.StatusBadGateway, envelope{Success: false, Error: "container engine unavailable"})
		return nil, false
	}
	stacks := executor.GroupStacks(containers)
	for i := range stacks {
		stacks[i].AgentID = h.agentID
	}
	return stacks, true
}
