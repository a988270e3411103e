package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/agent-svc/app/clients"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskQueueService stores tasks and enforces their state machine
type TaskQueueService struct {
	agents clients.AgentStore
	tasks  clients.TaskStore
	log    *logger.Logger
	now    Clock
}

// NewTaskQueueService creates a new task queue service
func NewTaskQueueService(agents clients.AgentStore, tasks clients.TaskStore, log *logger.Logger) *TaskQueueService {
	return &TaskQueueService{
		agents: agents,
		tasks:  tasks,
		log:    log,
		now:    time.Now,
	}
}

// WithClock replaces the wall clock
func (s *TaskQueueService) WithClock(now Clock) *TaskQueueService {
	s.now = now
	return s
}

// Create stores a pending task for an agent
func (s *TaskQueueService) Create(ctx context.Context, agentID string, taskType domains.TaskType, payload domains.TaskPayload) (*domains.Task, error) {
	if !taskType.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown task type: %s", taskType))
	}
	want, _ := domains.NewPayload(taskType)
	if payload == nil || payload.Schema() != want.Schema() {
		return nil, apperrors.Validation(fmt.Sprintf("task type %s requires a %s payload", taskType, want.Schema()))
	}
	if _, err := s.agents.GetAgent(ctx, agentID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Validation(fmt.Sprintf("unknown agent: %s", agentID))
		}
		return nil, err
	}

	now := s.now().UTC()
	task := &domains.Task{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Type:      taskType,
		Payload:   payload,
		Status:    domains.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, apperrors.Wrap(err, "failed to create task")
	}

	s.log.WithAgentID(agentID).WithTaskID(task.ID).Info("task created", zap.String("type", string(taskType)))
	return task, nil
}

// Get retrieves a task by ID
func (s *TaskQueueService) Get(ctx context.Context, taskID string) (*domains.Task, error) {
	return s.tasks.GetTask(ctx, taskID)
}

// ListByAgent retrieves an agent's tasks in creation order
func (s *TaskQueueService) ListByAgent(ctx context.Context, agentID string) ([]*domains.Task, error) {
	if _, err := s.agents.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.tasks.ListTasksByAgent(ctx, agentID)
}

// ListPending retrieves up to limit pending tasks for delivery to an agent
func (s *TaskQueueService) ListPending(ctx context.Context, agentID string, limit int) ([]*domains.Task, error) {
	if _, err := s.agents.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.tasks.ListPendingTasks(ctx, agentID, limit)
}

// Transition moves a task to status. Terminal tasks reject every transition with Conflict.
// A failed task keeps only its error; result and error are never both set on a terminal task.
func (s *TaskQueueService) Transition(ctx context.Context, taskID string, status domains.TaskStatus, result interface{}, errMsg *string) (*domains.Task, error) {
	if errMsg != nil && strings.TrimSpace(*errMsg) == "" {
		errMsg = nil
	}

	switch status {
	case domains.TaskRunning:
		if errMsg != nil {
			return nil, apperrors.Validation("a running task cannot carry an error")
		}
	case domains.TaskCompleted:
		if errMsg != nil {
			return nil, apperrors.Validation("a completed task cannot carry an error")
		}
	case domains.TaskFailed:
		if errMsg == nil {
			return nil, apperrors.Validation("a failed task requires an error")
		}
		result = nil
	default:
		return nil, apperrors.Validation(fmt.Sprintf("invalid status %q: must be running, completed or failed", status))
	}

	task, err := s.tasks.TransitionTask(ctx, taskID, domains.TaskTransition{
		Status: status,
		Result: result,
		Error:  errMsg,
	}, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.log.WithAgentID(task.AgentID).WithTaskID(taskID).Info("task transitioned", zap.String("status", string(status)))
	return task, nil
}

// PurgeTerminal deletes completed and failed tasks older than retention
func (s *TaskQueueService) PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention)
	n, err := s.tasks.PurgeTerminalTasks(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to purge tasks")
	}
	if n > 0 {
		s.log.Info("purged terminal tasks", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
