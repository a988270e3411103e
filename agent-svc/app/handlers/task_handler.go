package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"dockfleet/agent-svc/app/dto"
	"dockfleet/agent-svc/app/services"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	defaultPendingLimit = 10
	maxPendingWait      = 60
)

// TaskHandler handles task dispatch, delivery and result endpoints
type TaskHandler struct {
	dispatcher   *services.DispatcherService
	queue        *services.TaskQueueService
	results      *services.ResultService
	log          *logger.Logger
	pollInterval time.Duration
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(
	dispatcher *services.DispatcherService,
	queue *services.TaskQueueService,
	results *services.ResultService,
	log *logger.Logger,
) *TaskHandler {
	return &TaskHandler{
		dispatcher:   dispatcher,
		queue:        queue,
		results:      results,
		log:          log,
		pollInterval: time.Second,
	}
}

// Dispatch queues a task for an online agent
func (h *TaskHandler) Dispatch(c *gin.Context) {
	var req dto.DispatchTaskRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	task, err := h.dispatcher.Dispatch(c.Request.Context(), c.Param("id"), domains.TaskType(req.Type), req.Payload)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusCreated, task)
}

// ListByAgent returns an agent's tasks in creation order
func (h *TaskHandler) ListByAgent(c *gin.Context) {
	tasks, err := h.queue.ListByAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, dto.ListTasksResponse{Tasks: tasks})
}

// Get returns one task
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.queue.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, task)
}

// Pending delivers pending tasks to the authenticated agent.
// With ?wait=N the request is held up to N seconds until a task appears.
func (h *TaskHandler) Pending(c *gin.Context) {
	agentID := c.Param("id")

	limit := defaultPendingLimit
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	waitSeconds := 0
	if w, err := strconv.Atoi(c.Query("wait")); err == nil && w > 0 && w <= maxPendingWait {
		waitSeconds = w
	}

	tasks, err := h.queue.ListPending(c.Request.Context(), agentID, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if len(tasks) > 0 || waitSeconds == 0 {
		respondJSON(c, http.StatusOK, dto.ListTasksResponse{Tasks: tasks})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(waitSeconds)*time.Second)
	defer cancel()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			respondJSON(c, http.StatusOK, dto.ListTasksResponse{Tasks: []*domains.Task{}})
			return
		case <-ticker.C:
			tasks, err := h.queue.ListPending(ctx, agentID, limit)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				respondError(c, h.log, err)
				return
			}
			if len(tasks) > 0 {
				respondJSON(c, http.StatusOK, dto.ListTasksResponse{Tasks: tasks})
				return
			}
		}
	}
}

// SubmitResult applies an agent's report for one of its tasks
func (h *TaskHandler) SubmitResult(c *gin.Context) {
	var req dto.SubmitTaskResultRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	task, err := h.results.SubmitResult(
		c.Request.Context(),
		c.Param("id"),
		c.Param("taskId"),
		domains.TaskStatus(req.Status),
		req.Result,
		req.Error,
	)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, task)
}

// ListDeployments returns an agent's deployments
func (h *TaskHandler) ListDeployments(c *gin.Context) {
	deployments, err := h.dispatcher.ListDeployments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, dto.ListDeploymentsResponse{Deployments: deployments})
}
