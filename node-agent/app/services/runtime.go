package services

import (
	"context"
	"net/http"
	"time"

	"dockfleet/node-agent/app/clients"
	"dockfleet/node-agent/app/storage"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"go.uber.org/zap"
)

// interruptedError is reported for tasks that were running when the agent stopped
const interruptedError = "agent restarted while the task was running"

// TaskSource is the controller side of task delivery
type TaskSource interface {
	PendingTasks(ctx context.Context, agentID string, waitSec int) ([]*domains.Task, error)
	SubmitResult(ctx context.Context, agentID, taskID string, result TaskResult) error
}

// TaskRunner executes one task
type TaskRunner interface {
	Execute(ctx context.Context, task *domains.Task) (interface{}, error)
}

// RuntimeConfig holds polling and worker pool settings
type RuntimeConfig struct {
	PollInterval time.Duration
	PollWait     time.Duration
	Workers      int
	QueueSize    int
}

// RuntimeService polls the controller for tasks, journals them and runs them on a worker pool
type RuntimeService struct {
	store    *storage.Store
	source   TaskSource
	runner   TaskRunner
	outbox   *ResultOutbox
	agentID  string
	cfg      RuntimeConfig
	taskChan chan storage.LocalTask
	now      func() time.Time
	log      *logger.Logger
}

// NewRuntimeService creates a new runtime service
func NewRuntimeService(store *storage.Store, source TaskSource, runner TaskRunner, outbox *ResultOutbox, agentID string, cfg RuntimeConfig, log *logger.Logger) *RuntimeService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	return &RuntimeService{
		store:    store,
		source:   source,
		runner:   runner,
		outbox:   outbox,
		agentID:  agentID,
		cfg:      cfg,
		taskChan: make(chan storage.LocalTask, cfg.QueueSize),
		now:      time.Now,
		log:      log.WithAgentID(agentID),
	}
}

// Start runs the poll loop and worker pool until ctx is done
func (r *RuntimeService) Start(ctx context.Context) {
	r.failInterrupted(ctx)

	for i := 0; i < r.cfg.Workers; i++ {
		go r.worker(ctx)
	}

	r.enqueueQueued(ctx)
	for {
		received, err := r.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		r.enqueueQueued(ctx)

		// a held long poll already paced the loop
		if err == nil && (received > 0 || r.cfg.PollWait > 0) {
			continue
		}
		if err != nil {
			r.log.Warn("task poll failed", zap.Error(err))
		}

		timer := time.NewTimer(r.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Poll fetches pending tasks and journals the ones not seen before. It returns how many were new.
func (r *RuntimeService) Poll(ctx context.Context) (int, error) {
	tasks, err := r.source.PendingTasks(ctx, r.agentID, int(r.cfg.PollWait/time.Second))
	if err != nil {
		return 0, err
	}

	received := 0
	for _, task := range tasks {
		inserted, err := r.store.SaveTask(ctx, task, r.now())
		if err != nil {
			return received, err
		}
		if inserted {
			received++
			r.log.WithTaskID(task.ID).Info("task received", zap.String("type", string(task.Type)))
		}
	}
	return received, nil
}

// enqueueQueued hands journaled tasks to the workers without blocking the poll loop
func (r *RuntimeService) enqueueQueued(ctx context.Context) {
	tasks, err := r.store.QueuedTasks(ctx, cap(r.taskChan))
	if err != nil {
		r.log.WithError(err).Error("failed to read queued tasks")
		return
	}
	for _, task := range tasks {
		select {
		case r.taskChan <- task:
		case <-ctx.Done():
			return
		default:
			// channel is full; the task stays queued for the next pass
			return
		}
	}
}

func (r *RuntimeService) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.taskChan:
			r.Run(ctx, task)
		}
	}
}

// Run claims and executes one journaled task, then hands its outcome to the outbox
func (r *RuntimeService) Run(ctx context.Context, local storage.LocalTask) {
	log := r.log.WithTaskID(local.TaskID)

	claimed, err := r.store.ClaimTask(ctx, local.TaskID, r.now())
	if err != nil {
		log.WithError(err).Error("failed to claim task")
		return
	}
	if !claimed {
		return
	}

	task, err := local.Task(r.agentID)
	if err != nil {
		r.finish(ctx, local.TaskID, domains.TaskFailed, nil, err.Error())
		return
	}

	// the running report is informational; only a rejection stops execution
	if err := r.source.SubmitResult(ctx, r.agentID, task.ID, TaskResult{Status: string(domains.TaskRunning)}); err != nil {
		switch clients.StatusCode(err) {
		case http.StatusNotFound, http.StatusForbidden:
			log.Warn("controller rejected task, skipping", zap.Error(err))
			msg := err.Error()
			if err := r.store.FinishTask(ctx, task.ID, &msg, r.now()); err != nil {
				log.WithError(err).Error("failed to update task")
			}
			return
		default:
			log.Debug("running report failed", zap.Error(err))
		}
	}

	start := r.now()
	result, execErr := r.runner.Execute(ctx, task)
	if ctx.Err() != nil {
		// shutdown; the task stays running and is reported as interrupted on next start
		return
	}
	if execErr != nil {
		log.Warn("task failed", zap.Duration("elapsed", r.now().Sub(start)), zap.Error(execErr))
		r.finish(ctx, task.ID, domains.TaskFailed, nil, execErr.Error())
		return
	}
	log.Info("task completed", zap.Duration("elapsed", r.now().Sub(start)))
	r.finish(ctx, task.ID, domains.TaskCompleted, result, "")
}

func (r *RuntimeService) finish(ctx context.Context, taskID string, status domains.TaskStatus, result interface{}, errMsg string) {
	log := r.log.WithTaskID(taskID)

	if status == domains.TaskFailed && errMsg == "" {
		errMsg = "task failed"
	}
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	if err := r.outbox.Submit(ctx, taskID, status, result, errPtr); err != nil {
		log.WithError(err).Error("failed to store result")
	}
	if err := r.store.FinishTask(ctx, taskID, errPtr, r.now()); err != nil {
		log.WithError(err).Error("failed to update task")
	}
}

// failInterrupted reports tasks left running by a previous process as failed
func (r *RuntimeService) failInterrupted(ctx context.Context) {
	tasks, err := r.store.InterruptedTasks(ctx)
	if err != nil {
		r.log.WithError(err).Error("failed to read interrupted tasks")
		return
	}
	for _, task := range tasks {
		r.log.WithTaskID(task.TaskID).Warn("task interrupted by restart")
		r.finish(ctx, task.TaskID, domains.TaskFailed, nil, interruptedError)
	}
}
