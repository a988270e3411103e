// Package memory is an in-process StorageAdapter used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/pkg/domains"
)

// Store holds agents, tasks and deployments in memory.
// A single lock guards everything, so every task transition is a serialized check-then-write.
type Store struct {
	mu          sync.RWMutex
	agents      map[string]*domains.Agent
	agentOrder  []string
	tasks       map[string]*domains.Task
	taskOrder   []string
	deployments []*domains.Deployment
}

// NewStore creates an empty memory store.
func NewStore() *Store {
	return &Store{
		agents: make(map[string]*domains.Agent),
		tasks:  make(map[string]*domains.Task),
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// --- Agents ---

func (s *Store) UpsertAgent(ctx context.Context, reg domains.AgentRegistration, now time.Time) (*domains.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps := append([]string{}, reg.Capabilities...)
	a, ok := s.agents[reg.ID]
	if !ok {
		seen := now
		a = &domains.Agent{
			ID:           reg.ID,
			RegisteredAt: now,
			CreatedAt:    now,
			LastSeen:     &seen,
			Metadata:     map[string]interface{}{},
		}
		s.agents[reg.ID] = a
		s.agentOrder = append(s.agentOrder, reg.ID)
	}
	a.Hostname = reg.Hostname
	a.Platform = reg.Platform
	a.Version = reg.Version
	a.Capabilities = caps
	a.URL = reg.URL
	a.Status = domains.AgentOnline
	touch(a, now)
	a.UpdatedAt = now
	return a.Clone(), nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (*domains.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, apperrors.NotFound("agent", agentID)
	}
	return a.Clone(), nil
}

func (s *Store) ListAgents(ctx context.Context) ([]*domains.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domains.Agent, 0, len(s.agentOrder))
	for _, id := range s.agentOrder {
		out = append(out, s.agents[id].Clone())
	}
	return out, nil
}

func (s *Store) UpdateAgent(ctx context.Context, agentID string, upd domains.AgentUpdate, now time.Time) (*domains.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, apperrors.NotFound("agent", agentID)
	}
	if upd.Hostname != nil {
		a.Hostname = *upd.Hostname
	}
	if upd.Platform != nil {
		a.Platform = *upd.Platform
	}
	if upd.Version != nil {
		a.Version = *upd.Version
	}
	if upd.Capabilities != nil {
		a.Capabilities = append([]string{}, upd.Capabilities...)
	}
	if upd.URL != nil {
		a.URL = *upd.URL
	}
	mergeMetadata(a, upd.Metadata)
	a.UpdatedAt = now
	return a.Clone(), nil
}

func (s *Store) RecordHeartbeat(ctx context.Context, agentID string, hb domains.Heartbeat, now time.Time) (*domains.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, apperrors.NotFound("agent", agentID)
	}
	a.Status = domains.AgentOnline
	touch(a, now)
	if hb.Metrics != nil {
		m := *hb.Metrics
		a.Metrics = &m
	}
	if hb.Docker != nil {
		d := *hb.Docker
		a.Docker = &d
	}
	mergeMetadata(a, hb.Metadata)
	a.UpdatedAt = now
	return a.Clone(), nil
}

func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[agentID]; !ok {
		return apperrors.NotFound("agent", agentID)
	}
	unfinished := 0
	for _, t := range s.tasks {
		if t.AgentID == agentID && !t.Status.Terminal() {
			unfinished++
		}
	}
	if unfinished > 0 {
		return apperrors.Conflict(fmt.Sprintf("agent %s has %d unfinished tasks", agentID, unfinished))
	}

	delete(s.agents, agentID)
	s.agentOrder = removeID(s.agentOrder, agentID)
	s.dropTasks(func(t *domains.Task) bool { return t.AgentID == agentID })
	return nil
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, task *domains.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[task.AgentID]; !ok {
		return apperrors.Validation(fmt.Sprintf("unknown agent: %s", task.AgentID))
	}
	if _, dup := s.tasks[task.ID]; dup {
		return apperrors.Conflict(fmt.Sprintf("task %s already exists", task.ID))
	}
	s.tasks[task.ID] = task.Clone()
	s.taskOrder = append(s.taskOrder, task.ID)
	return nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*domains.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, apperrors.NotFound("task", taskID)
	}
	return t.Clone(), nil
}

func (s *Store) ListTasksByAgent(ctx context.Context, agentID string) ([]*domains.Task, error) {
	return s.filterTasks(func(t *domains.Task) bool { return t.AgentID == agentID }, 0), nil
}

func (s *Store) ListPendingTasks(ctx context.Context, agentID string, limit int) ([]*domains.Task, error) {
	return s.filterTasks(func(t *domains.Task) bool {
		return t.AgentID == agentID && t.Status == domains.TaskPending
	}, limit), nil
}

func (s *Store) TransitionTask(ctx context.Context, taskID string, tr domains.TaskTransition, now time.Time) (*domains.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, apperrors.NotFound("task", taskID)
	}
	if t.Status.Terminal() {
		return nil, apperrors.Conflict(fmt.Sprintf("task %s is already %s", taskID, t.Status))
	}
	t.Status = tr.Status
	t.Result = tr.Result
	t.Error = tr.Error
	t.UpdatedAt = now
	return t.Clone(), nil
}

func (s *Store) PurgeTerminalTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.dropTasks(func(t *domains.Task) bool {
		return t.Status.Terminal() && t.UpdatedAt.Before(cutoff)
	})
	return int64(n), nil
}

// --- Deployments ---

func (s *Store) CreateDeployment(ctx context.Context, d *domains.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[d.TaskID]; !ok {
		return apperrors.Validation(fmt.Sprintf("unknown task: %s", d.TaskID))
	}
	c := *d
	s.deployments = append(s.deployments, &c)
	return nil
}

func (s *Store) ListDeployments(ctx context.Context, agentID string) ([]*domains.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domains.Deployment, 0)
	for _, d := range s.deployments {
		if d.AgentID != agentID {
			continue
		}
		c := *d
		if t, ok := s.tasks[d.TaskID]; ok {
			c.Status = t.Status
			c.Error = t.Clone().Error
			c.UpdatedAt = t.UpdatedAt
		}
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- helpers ---

func (s *Store) filterTasks(match func(*domains.Task) bool, limit int) []*domains.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domains.Task, 0)
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if !match(t) {
			continue
		}
		out = append(out, t.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// dropTasks removes matching tasks and their deployments. Caller holds the write lock.
func (s *Store) dropTasks(match func(*domains.Task) bool) int {
	removed := make(map[string]bool)
	kept := s.taskOrder[:0]
	for _, id := range s.taskOrder {
		if match(s.tasks[id]) {
			removed[id] = true
			delete(s.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.taskOrder = kept

	if len(removed) > 0 {
		deps := s.deployments[:0]
		for _, d := range s.deployments {
			if !removed[d.TaskID] {
				deps = append(deps, d)
			}
		}
		s.deployments = deps
	}
	return len(removed)
}

// touch advances lastSeen to now unless it is already later.
func touch(a *domains.Agent, now time.Time) {
	if a.LastSeen == nil || now.After(*a.LastSeen) {
		seen := now
		a.LastSeen = &seen
	}
}

func mergeMetadata(a *domains.Agent, md map[string]interface{}) {
	if len(md) == 0 {
		return
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{}, len(md))
	}
	for k, v := range md {
		a.Metadata[k] = v
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
