package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/agent-svc/app/liveness"
	"dockfleet/agent-svc/storage/memory"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fleet struct {
	clock      *fakeClock
	store      *memory.Store
	liveness   *liveness.Evaluator
	registry   *AgentRegistryService
	queue      *TaskQueueService
	dispatcher *DispatcherService
	results    *ResultService
}

func newFleet(t *testing.T) *fleet {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	log := logger.NewNop()

	evaluator := &liveness.Evaluator{Timeout: liveness.DefaultTimeout, Now: clock.Now}
	registry := NewAgentRegistryService(store, log).WithClock(clock.Now)
	queue := NewTaskQueueService(store, store, log).WithClock(clock.Now)
	return &fleet{
		clock:      clock,
		store:      store,
		liveness:   evaluator,
		registry:   registry,
		queue:      queue,
		dispatcher: NewDispatcherService(registry, queue, store, evaluator, log),
		results:    NewResultService(queue, log),
	}
}

func (f *fleet) register(t *testing.T, id string) *domains.Agent {
	t.Helper()
	a, err := f.registry.Register(context.Background(), domains.AgentRegistration{ID: id, Hostname: id + "-host"})
	require.NoError(t, err)
	return a
}

func (f *fleet) dispatchPull(t *testing.T, agentID string) *domains.Task {
	t.Helper()
	task, err := f.dispatcher.Dispatch(context.Background(), agentID, domains.TaskImagePull,
		map[string]interface{}{"imageName": "nginx:latest"})
	require.NoError(t, err)
	return task
}

func strPtr(s string) *string { return &s }

func TestRegister_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)

	_, err := f.registry.Register(ctx, domains.AgentRegistration{ID: "a1", Hostname: "h1"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.registry.Register(ctx, domains.AgentRegistration{ID: "a1", Hostname: "h2"})
	require.NoError(t, err)

	agents, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "h2", agents[0].Hostname)
}

func TestRegister_RequiresIDAndHostname(t *testing.T) {
	f := newFleet(t)

	_, err := f.registry.Register(context.Background(), domains.AgentRegistration{ID: " ", Hostname: ""})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Details, "id")
	assert.Contains(t, appErr.Details, "hostname")
}

func TestRegister_NormalizesPlatformAndCapabilities(t *testing.T) {
	f := newFleet(t)

	a, err := f.registry.Register(context.Background(), domains.AgentRegistration{
		ID:           "a1",
		Hostname:     "h1",
		Platform:     "Linux/x86_64",
		Capabilities: []string{"docker", "compose", "docker", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, "linux/amd64", a.Platform)
	assert.Equal(t, []string{"docker", "compose"}, a.Capabilities)
}

func TestUpdate_MergesFields(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")

	a, err := f.registry.Update(ctx, "a1", domains.AgentUpdate{
		Version:  strPtr("2.0.0"),
		Metadata: map[string]interface{}{"region": "eu"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", a.Version)
	assert.Equal(t, "a1-host", a.Hostname)
	assert.Equal(t, "eu", a.Metadata["region"])

	_, err = f.registry.Update(ctx, "missing", domains.AgentUpdate{Version: strPtr("1")})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.registry.Update(ctx, "a1", domains.AgentUpdate{Hostname: strPtr("  ")})
	assert.True(t, apperrors.IsValidation(err))
}

func TestRecordHeartbeat(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")

	t.Run("unknown agent is not registered implicitly", func(t *testing.T) {
		_, err := f.registry.RecordHeartbeat(ctx, "ghost", domains.Heartbeat{})
		assert.True(t, apperrors.IsNotFound(err))

		agents, err := f.registry.List(ctx)
		require.NoError(t, err)
		assert.Len(t, agents, 1)
	})

	t.Run("sets online and merges metrics", func(t *testing.T) {
		f.clock.Advance(10 * time.Minute)
		before, err := f.registry.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, domains.AgentOffline, f.liveness.Status(before))

		a, err := f.registry.RecordHeartbeat(ctx, "a1", domains.Heartbeat{
			Metrics: &domains.AgentMetrics{ContainerCount: 3, StackCount: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, domains.AgentOnline, a.Status)
		assert.Equal(t, f.clock.Now(), *a.LastSeen)
		assert.Equal(t, 3, a.Metrics.ContainerCount)
		assert.Equal(t, domains.AgentOnline, f.liveness.Status(a))
	})
}

func TestDispatch_LivenessBoundary(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		wantErr bool
	}{
		{"299s since heartbeat", 299 * time.Second, false},
		{"exactly 300s", 300 * time.Second, false},
		{"301s since heartbeat", 301 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFleet(t)
			f.register(t, "a1")
			f.clock.Advance(tt.age)

			_, err := f.dispatcher.Dispatch(context.Background(), "a1", domains.TaskHealthCheck, nil)
			if tt.wantErr {
				assert.True(t, apperrors.IsConflict(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDispatch_AdmissionControl(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")
	f.clock.Advance(10 * time.Minute)

	_, err := f.dispatcher.Dispatch(ctx, "a1", domains.TaskImagePull, map[string]interface{}{"imageName": "nginx"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Agent is not online (status: offline)", appErr.Message)

	tasks, err := f.queue.ListByAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDispatch_CheckOrder(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)

	_, err := f.dispatcher.Dispatch(ctx, "ghost", domains.TaskStackDeploy, map[string]interface{}{})
	assert.True(t, apperrors.IsNotFound(err), "unknown agent is reported before payload problems")

	f.register(t, "a1")
	f.clock.Advance(time.Hour)
	_, err = f.dispatcher.Dispatch(ctx, "a1", domains.TaskStackDeploy, map[string]interface{}{})
	assert.True(t, apperrors.IsConflict(err), "offline agent is reported before payload problems")
}

func TestDispatch_PayloadValidation(t *testing.T) {
	tests := []struct {
		name     string
		taskType domains.TaskType
		payload  map[string]interface{}
	}{
		{"stack deploy missing compose", domains.TaskStackDeploy, map[string]interface{}{}},
		{"stack deploy compose without services", domains.TaskStackDeploy, map[string]interface{}{
			"stackId": "web", "composeContent": "version: '3'\n",
		}},
		{"docker command missing command", domains.TaskDockerCommand, map[string]interface{}{"args": []string{"ps"}}},
		{"image pull missing image", domains.TaskImagePull, map[string]interface{}{}},
		{"container stop missing id", domains.TaskContainerStop, map[string]interface{}{"force": true}},
		{"upgrade with wrong action", domains.TaskAgentUpgrade, map[string]interface{}{"action": "downgrade"}},
		{"unknown field", domains.TaskImagePull, map[string]interface{}{"imageName": "nginx", "tag": "x"}},
		{"unknown type", domains.TaskType("reboot"), map[string]interface{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFleet(t)
			f.register(t, "a1")

			_, err := f.dispatcher.Dispatch(ctx, "a1", tt.taskType, tt.payload)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)

			tasks, err := f.queue.ListByAgent(ctx, "a1")
			require.NoError(t, err)
			assert.Empty(t, tasks)
		})
	}
}

func TestDispatch_AcceptsEveryType(t *testing.T) {
	payloads := map[domains.TaskType]map[string]interface{}{
		domains.TaskDockerCommand: {"command": "ps", "args": []string{"-a"}},
		domains.TaskStackDeploy: {
			"stackId":        "web",
			"composeContent": "services:\n  web:\n    image: nginx\n",
			"envContent":     "A=1",
		},
		domains.TaskImagePull:        {"imageName": "nginx:latest"},
		domains.TaskContainerStart:   {"containerId": "abc"},
		domains.TaskContainerStop:    {"containerId": "abc", "force": true},
		domains.TaskContainerRestart: {"containerId": "abc"},
		domains.TaskContainerRemove:  {"containerId": "abc", "force": true},
		domains.TaskHealthCheck:      nil,
		domains.TaskAgentUpgrade:     {"action": "upgrade", "version": "1.2.0"},
	}

	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")

	for _, taskType := range domains.TaskTypes {
		task, err := f.dispatcher.Dispatch(ctx, "a1", taskType, payloads[taskType])
		require.NoError(t, err, taskType)
		assert.Equal(t, domains.TaskPending, task.Status)
		assert.Equal(t, taskType, task.Type)
	}

	tasks, err := f.queue.ListByAgent(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, tasks, len(domains.TaskTypes))
	for i, taskType := range domains.TaskTypes {
		assert.Equal(t, taskType, tasks[i].Type, "tasks are listed in creation order")
	}
}

func TestDispatch_StackDeployRecordsDeployment(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")

	task, err := f.dispatcher.Dispatch(ctx, "a1", domains.TaskStackDeploy, map[string]interface{}{
		"stackId":        "web",
		"composeContent": "services:\n  web:\n    image: nginx\n",
	})
	require.NoError(t, err)

	_, err = f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskFailed, nil, strPtr("compose up failed"))
	require.NoError(t, err)

	deployments, err := f.dispatcher.ListDeployments(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, "web", deployments[0].StackID)
	assert.Equal(t, task.ID, deployments[0].TaskID)
	assert.Equal(t, domains.TaskFailed, deployments[0].Status)
	require.NotNil(t, deployments[0].Error)
	assert.Equal(t, "compose up failed", *deployments[0].Error)

	_, err = f.dispatcher.ListDeployments(ctx, "ghost")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCreate_RejectsUnknownAgent(t *testing.T) {
	f := newFleet(t)

	_, err := f.queue.Create(context.Background(), "ghost", domains.TaskHealthCheck, &domains.HealthCheckPayload{})
	assert.True(t, apperrors.IsValidation(err))
}

func TestCreate_RejectsPayloadOfAnotherType(t *testing.T) {
	f := newFleet(t)
	f.register(t, "a1")

	_, err := f.queue.Create(context.Background(), "a1", domains.TaskImagePull, &domains.HealthCheckPayload{})
	assert.True(t, apperrors.IsValidation(err))
}

func TestTransition_Rules(t *testing.T) {
	tests := []struct {
		name   string
		status domains.TaskStatus
		errMsg *string
		check  func(error) bool
	}{
		{"pending is not a target", domains.TaskPending, nil, apperrors.IsValidation},
		{"unknown status", domains.TaskStatus("done"), nil, apperrors.IsValidation},
		{"completed with error", domains.TaskCompleted, strPtr("boom"), apperrors.IsValidation},
		{"failed without error", domains.TaskFailed, nil, apperrors.IsValidation},
		{"failed with blank error", domains.TaskFailed, strPtr("  "), apperrors.IsValidation},
		{"running with error", domains.TaskRunning, strPtr("boom"), apperrors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFleet(t)
			f.register(t, "a1")
			task := f.dispatchPull(t, "a1")

			_, err := f.queue.Transition(context.Background(), task.ID, tt.status, nil, tt.errMsg)
			assert.True(t, tt.check(err), "got %v", err)

			stored, err := f.queue.Get(context.Background(), task.ID)
			require.NoError(t, err)
			assert.Equal(t, domains.TaskPending, stored.Status)
		})
	}
}

func TestTransition_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")

	t.Run("pending to running to completed", func(t *testing.T) {
		task := f.dispatchPull(t, "a1")
		running, err := f.queue.Transition(ctx, task.ID, domains.TaskRunning, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, domains.TaskRunning, running.Status)

		done, err := f.queue.Transition(ctx, task.ID, domains.TaskCompleted, map[string]interface{}{"ok": true}, nil)
		require.NoError(t, err)
		assert.Equal(t, domains.TaskCompleted, done.Status)
		assert.Nil(t, done.Error)
	})

	t.Run("pending straight to failed drops result", func(t *testing.T) {
		task := f.dispatchPull(t, "a1")
		failed, err := f.queue.Transition(ctx, task.ID, domains.TaskFailed, "partial", strPtr("pull denied"))
		require.NoError(t, err)
		assert.Equal(t, domains.TaskFailed, failed.Status)
		assert.Nil(t, failed.Result)
		require.NotNil(t, failed.Error)
		assert.Equal(t, "pull denied", *failed.Error)
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := f.queue.Transition(ctx, "nope", domains.TaskRunning, nil, nil)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestTerminalStateImmutability(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")
	task := f.dispatchPull(t, "a1")

	failed, err := f.queue.Transition(ctx, task.ID, domains.TaskFailed, nil, strPtr("no space left"))
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	_, err = f.queue.Transition(ctx, task.ID, domains.TaskCompleted, "late", nil)
	assert.True(t, apperrors.IsConflict(err), "the queue reports the rejected transition")

	got, err := f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskCompleted, "late", nil)
	require.NoError(t, err, "result ingestion absorbs it")
	assert.Equal(t, failed, got)

	stored, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, failed, stored)
}

func TestSubmitResult_LateReportOfAnyShapeIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")
	task := f.dispatchPull(t, "a1")

	failed, err := f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskFailed, nil, strPtr("pull denied"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		status domains.TaskStatus
		result interface{}
		errMsg *string
	}{
		{"completed with error", domains.TaskCompleted, nil, strPtr("boom")},
		{"failed without error", domains.TaskFailed, nil, nil},
		{"running", domains.TaskRunning, nil, nil},
		{"completed", domains.TaskCompleted, "late", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.results.SubmitResult(ctx, "a1", task.ID, tt.status, tt.result, tt.errMsg)
			require.NoError(t, err)
			assert.Equal(t, failed, got)
		})
	}

	_, err = f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskPending, nil, nil)
	assert.True(t, apperrors.IsValidation(err), "unknown statuses are still rejected")

	stored, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, failed, stored)
}

func TestSubmitResult_CrossAgentProtection(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "A")
	f.register(t, "B")
	task := f.dispatchPull(t, "A")

	_, err := f.results.SubmitResult(ctx, "B", task.ID, domains.TaskCompleted, "stolen", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsMismatch(err))

	stored, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, stored)
}

func TestSubmitResult_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")
	task := f.dispatchPull(t, "a1")

	_, err := f.results.SubmitResult(ctx, "a1", "missing", domains.TaskCompleted, nil, nil)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskPending, nil, nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskFailed, nil, nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestSubmitResult_ConcurrentTerminalReports(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")
	task := f.dispatchPull(t, "a1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskCompleted, i, nil)
			} else {
				_, err = f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskFailed, nil, strPtr("lost race"))
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.Status.Terminal())
	if stored.Status == domains.TaskCompleted {
		assert.Nil(t, stored.Error)
	} else {
		assert.Nil(t, stored.Result)
	}
}

func TestPurgeTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")

	old := f.dispatchPull(t, "a1")
	_, err := f.queue.Transition(ctx, old.ID, domains.TaskCompleted, nil, nil)
	require.NoError(t, err)
	stuck := f.dispatchPull(t, "a1")

	f.clock.Advance(8 * 24 * time.Hour)
	n, err := f.queue.PurgeTerminal(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.queue.Get(ctx, old.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.queue.Get(ctx, stuck.ID)
	assert.NoError(t, err, "pending tasks are never purged")
}

func TestDelete_WithUnfinishedTasks(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	f.register(t, "a1")
	task := f.dispatchPull(t, "a1")

	err := f.registry.Delete(ctx, "a1")
	assert.True(t, apperrors.IsConflict(err))

	_, err = f.queue.Transition(ctx, task.ID, domains.TaskCompleted, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.registry.Delete(ctx, "a1"))

	_, err = f.registry.Get(ctx, "a1")
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(f.registry.Delete(ctx, "a1")))
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)

	_, err := f.registry.Register(ctx, domains.AgentRegistration{ID: "a1", Hostname: "h1"})
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	_, err = f.registry.RecordHeartbeat(ctx, "a1", domains.Heartbeat{})
	require.NoError(t, err)

	agents, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].ID)
	assert.Equal(t, domains.AgentOnline, f.liveness.Status(agents[0]))

	task, err := f.dispatcher.Dispatch(ctx, "a1", domains.TaskImagePull, map[string]interface{}{"imageName": "nginx:latest"})
	require.NoError(t, err)
	assert.Equal(t, domains.TaskPending, task.Status)
	assert.Equal(t, &domains.ImagePullPayload{ImageName: "nginx:latest"}, task.Payload)

	result := map[string]interface{}{"digest": "sha256:4c0fdaa8b6341bfdeca5f18f7837462c80cff90527ee35ef185571e1c327beac"}
	f.clock.Advance(time.Second)
	first, err := f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskCompleted, result, nil)
	require.NoError(t, err)

	got, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domains.TaskCompleted, got.Status)
	assert.Equal(t, result, got.Result)
	assert.Nil(t, got.Error)

	f.clock.Advance(time.Second)
	second, err := f.results.SubmitResult(ctx, "a1", task.ID, domains.TaskCompleted, result, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
