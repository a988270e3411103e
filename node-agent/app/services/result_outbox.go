package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"dockfleet/node-agent/app/clients"
	"dockfleet/node-agent/app/storage"
	"dockfleet/node-agent/app/utils"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"go.uber.org/zap"
)

// ResultSender delivers a task result to the controller
type ResultSender interface {
	SubmitResult(ctx context.Context, agentID, taskID string, result TaskResult) error
}

// ResultOutbox persists terminal results and delivers them until the controller acknowledges them
type ResultOutbox struct {
	store    *storage.Store
	sender   ResultSender
	agentID  string
	policy   *utils.RetryPolicy
	interval time.Duration
	batch    int
	now      func() time.Time
	wake     chan struct{}
	log      *logger.Logger
}

// NewResultOutbox creates a new result outbox
func NewResultOutbox(store *storage.Store, sender ResultSender, agentID string, policy *utils.RetryPolicy, log *logger.Logger) *ResultOutbox {
	return &ResultOutbox{
		store:    store,
		sender:   sender,
		agentID:  agentID,
		policy:   policy,
		interval: time.Second,
		batch:    50,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		log:      log,
	}
}

// Submit stores a terminal result and schedules immediate delivery
func (o *ResultOutbox) Submit(ctx context.Context, taskID string, status domains.TaskStatus, result interface{}, errMsg *string) error {
	if err := o.store.EnqueueResult(ctx, taskID, status, result, errMsg, o.now()); err != nil {
		return err
	}
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start delivers due results until ctx is done
func (o *ResultOutbox) Start(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.wake:
		}
		if _, err := o.Flush(ctx); err != nil && ctx.Err() == nil {
			o.log.WithError(err).Warn("result outbox flush failed")
		}
	}
}

// Flush attempts every due result once and returns how many were acknowledged
func (o *ResultOutbox) Flush(ctx context.Context) (int, error) {
	entries, err := o.store.DueResults(ctx, o.now(), o.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		log := o.log.WithTaskID(entry.TaskID)

		err := o.sender.SubmitResult(ctx, o.agentID, entry.TaskID, toTaskResult(entry))
		switch {
		case err == nil:
			sent++
			if err := o.store.DeleteResult(ctx, entry.ID); err != nil {
				return sent, err
			}
			log.Debug("result delivered", zap.String("status", string(entry.Status)))

		case permanentFailure(err):
			log.Warn("result rejected by controller, dropping", zap.Error(err))
			if err := o.store.DeleteResult(ctx, entry.ID); err != nil {
				return sent, err
			}

		case o.policy.Exhausted(entry.Attempts + 1):
			log.Error("result delivery abandoned", zap.Int("attempts", entry.Attempts+1), zap.Error(err))
			if err := o.store.DeleteResult(ctx, entry.ID); err != nil {
				return sent, err
			}

		default:
			delay := o.policy.CalculateDelay(entry.Attempts)
			if retryAfter := retryAfterOf(err); retryAfter > delay {
				delay = retryAfter
			}
			log.Debug("result delivery failed, will retry", zap.Duration("in", delay), zap.Error(err))
			if err := o.store.ScheduleRetry(ctx, entry.ID, o.now().Add(delay)); err != nil {
				return sent, err
			}
		}
	}
	return sent, nil
}

func toTaskResult(entry storage.OutboxEntry) TaskResult {
	r := TaskResult{Status: string(entry.Status), Error: entry.ErrorMsg}
	if len(entry.Result) > 0 {
		r.Result = json.RawMessage(entry.Result)
	}
	return r
}

// permanentFailure reports controller rejections that a retry cannot fix
func permanentFailure(err error) bool {
	code := clients.StatusCode(err)
	if code < 400 || code >= 500 {
		return false
	}
	return code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

func retryAfterOf(err error) time.Duration {
	if httpErr, ok := err.(*clients.HTTPError); ok {
		return httpErr.RetryAfter
	}
	return 0
}
