package services

import (
	"context"
	"fmt"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/agent-svc/app/metrics"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"go.uber.org/zap"
)

// ResultService applies task outcomes reported by agents
type ResultService struct {
	queue *TaskQueueService
	log   *logger.Logger
}

// NewResultService creates a new result service
func NewResultService(queue *TaskQueueService, log *logger.Logger) *ResultService {
	return &ResultService{queue: queue, log: log}
}

// SubmitResult applies an agent's report for one of its tasks and returns the stored task.
// Reports for a task that is already completed or failed are absorbed and return the final state,
// since an agent cannot tell whether an earlier submission arrived.
func (s *ResultService) SubmitResult(ctx context.Context, agentID, taskID string, status domains.TaskStatus, result interface{}, errMsg *string) (*domains.Task, error) {
	log := s.log.WithAgentID(agentID).WithTaskID(taskID)

	task, err := s.queue.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.AgentID != agentID {
		log.Warn("result rejected, task belongs to another agent", zap.String("owner", task.AgentID))
		return nil, apperrors.Mismatch(fmt.Sprintf("task %s does not belong to agent %s", taskID, agentID))
	}

	if !status.Reportable() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid status %q: must be running, completed or failed", status))
	}

	// late reports for a finished task are absorbed whatever their shape
	if task.Status.Terminal() {
		return s.ignoreLate(log, task, status), nil
	}

	updated, err := s.queue.Transition(ctx, taskID, status, result, errMsg)
	if apperrors.IsConflict(err) {
		current, getErr := s.queue.Get(ctx, taskID)
		if getErr != nil {
			return nil, getErr
		}
		return s.ignoreLate(log, current, status), nil
	}
	if err != nil {
		return nil, err
	}

	metrics.TaskResults.WithLabelValues(string(status)).Inc()
	return updated, nil
}

func (s *ResultService) ignoreLate(log *logger.Logger, current *domains.Task, reported domains.TaskStatus) *domains.Task {
	metrics.DuplicateResults.Inc()
	log.Debug("ignoring result for terminal task",
		zap.String("reported", string(reported)),
		zap.String("current", string(current.Status)),
	)
	return current
}
