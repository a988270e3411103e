package handlers

import (
	"net/http"

	"dockfleet/agent-svc/app/dto"
	"dockfleet/agent-svc/app/liveness"
	"dockfleet/agent-svc/app/services"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AgentHandler handles agent registry endpoints
type AgentHandler struct {
	registry   *services.AgentRegistryService
	jwtService *services.JWTService
	liveness   *liveness.Evaluator
	log        *logger.Logger
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(
	registry *services.AgentRegistryService,
	jwtService *services.JWTService,
	evaluator *liveness.Evaluator,
	log *logger.Logger,
) *AgentHandler {
	return &AgentHandler{
		registry:   registry,
		jwtService: jwtService,
		liveness:   evaluator,
		log:        log,
	}
}

// Register handles agent registration and issues the agent's poll token
func (h *AgentHandler) Register(c *gin.Context) {
	var req dto.RegisterAgentRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	agent, err := h.registry.Register(c.Request.Context(), req.ToDomain())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	token, err := h.jwtService.GenerateToken(agent.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respondJSON(c, http.StatusOK, dto.RegisterResponse{
		Agent:     h.view(agent),
		Token:     token,
		ExpiresIn: int64(h.jwtService.Expiration().Seconds()),
	})
}

// Heartbeat records an agent heartbeat
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	var req dto.HeartbeatRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	agent, err := h.registry.RecordHeartbeat(c.Request.Context(), req.AgentID, req.ToDomain())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respondJSON(c, http.StatusOK, dto.HeartbeatResponse{OK: true, LastSeen: *agent.LastSeen})
}

// List returns every agent in registration order
func (h *AgentHandler) List(c *gin.Context) {
	agents, err := h.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	out := make([]dto.AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, h.view(a))
	}
	respondJSON(c, http.StatusOK, dto.ListAgentsResponse{Agents: out})
}

// Get returns one agent
func (h *AgentHandler) Get(c *gin.Context) {
	agent, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, h.view(agent))
}

// Update merges fields into an agent
func (h *AgentHandler) Update(c *gin.Context) {
	var req dto.UpdateAgentRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	agent, err := h.registry.Update(c.Request.Context(), c.Param("id"), req.ToDomain())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, h.view(agent))
}

// Delete removes an agent with no unfinished tasks
func (h *AgentHandler) Delete(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AgentHandler) view(agent *domains.Agent) dto.AgentResponse {
	return dto.NewAgentResponse(agent, h.liveness.Status(agent))
}
