package handlers

import (
	"net/http"

	"dockfleet/agent-svc/app/dto"
	"dockfleet/agent-svc/app/services"
	"dockfleet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StackHandler proxies stack queries to remote agents
type StackHandler struct {
	registry *services.AgentRegistryService
	proxy    *services.RemoteProxyService
	log      *logger.Logger
}

// NewStackHandler creates a new stack handler
func NewStackHandler(registry *services.AgentRegistryService, proxy *services.RemoteProxyService, log *logger.Logger) *StackHandler {
	return &StackHandler{registry: registry, proxy: proxy, log: log}
}

// List returns the stacks running on an agent
func (h *StackHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	agent, err := h.registry.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	stacks, err := h.proxy.ListRemoteStacks(ctx, agent)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, dto.ListStacksResponse{Stacks: stacks})
}

// Get returns one stack of an agent by name
func (h *StackHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	agent, err := h.registry.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	stack, err := h.proxy.GetRemoteStack(ctx, agent, c.Param("name"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, stack)
}
