package services

import (
	"context"
	"fmt"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/agent-svc/app/clients"
	"dockfleet/agent-svc/app/liveness"
	"dockfleet/agent-svc/app/metrics"
	"dockfleet/agent-svc/app/utils"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DispatcherService admits tasks for online agents
type DispatcherService struct {
	registry    *AgentRegistryService
	queue       *TaskQueueService
	deployments clients.DeploymentStore
	liveness    *liveness.Evaluator
	log         *logger.Logger
}

// NewDispatcherService creates a new dispatcher service
func NewDispatcherService(
	registry *AgentRegistryService,
	queue *TaskQueueService,
	deployments clients.DeploymentStore,
	evaluator *liveness.Evaluator,
	log *logger.Logger,
) *DispatcherService {
	return &DispatcherService{
		registry:    registry,
		queue:       queue,
		deployments: deployments,
		liveness:    evaluator,
		log:         log,
	}
}

// Dispatch validates and queues a task for an agent.
// The agent must exist and be online, and the payload must match the task type, before anything is stored.
func (s *DispatcherService) Dispatch(ctx context.Context, agentID string, taskType domains.TaskType, payload map[string]interface{}) (*domains.Task, error) {
	log := s.log.WithAgentID(agentID)

	agent, err := s.registry.Get(ctx, agentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			metrics.DispatchRejected.WithLabelValues("agent_not_found").Inc()
		}
		return nil, err
	}

	if status := s.liveness.Status(agent); status != domains.AgentOnline {
		metrics.DispatchRejected.WithLabelValues("agent_offline").Inc()
		log.Warn("dispatch rejected, agent not online", zap.String("type", string(taskType)))
		return nil, apperrors.Conflict(fmt.Sprintf("Agent is not online (status: %s)", status))
	}

	typed, err := utils.ValidateTaskPayload(taskType, payload)
	if err != nil {
		metrics.DispatchRejected.WithLabelValues("invalid_payload").Inc()
		return nil, err
	}

	task, err := s.queue.Create(ctx, agentID, taskType, typed)
	if err != nil {
		return nil, err
	}
	metrics.TasksDispatched.WithLabelValues(string(taskType)).Inc()

	if deploy, ok := typed.(*domains.StackDeployPayload); ok {
		s.recordDeployment(ctx, task, deploy.StackID)
	}
	return task, nil
}

// ListDeployments retrieves an agent's deployments, newest first
func (s *DispatcherService) ListDeployments(ctx context.Context, agentID string) ([]*domains.Deployment, error) {
	if _, err := s.registry.Get(ctx, agentID); err != nil {
		return nil, err
	}
	return s.deployments.ListDeployments(ctx, agentID)
}

// recordDeployment is best effort: the task is already durable and remains the source of truth.
func (s *DispatcherService) recordDeployment(ctx context.Context, task *domains.Task, stackID string) {
	d := &domains.Deployment{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		StackID:   stackID,
		Status:    task.Status,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
	if err := s.deployments.CreateDeployment(ctx, d); err != nil {
		s.log.WithAgentID(task.AgentID).WithTaskID(task.ID).WithError(err).Error("failed to record deployment",
			zap.String("stack_id", stackID))
	}
}
