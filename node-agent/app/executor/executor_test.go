package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockfleet/node-agent/app/storage"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"
)

type fakeEngine struct {
	calls      []string
	err        error
	containers []ContainerInfo
}

func (f *fakeEngine) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeEngine) PullImage(_ context.Context, image string) error { return f.record("pull " + image) }
func (f *fakeEngine) StartContainer(_ context.Context, id string) error {
	return f.record("start " + id)
}
func (f *fakeEngine) StopContainer(_ context.Context, id string, _ time.Duration) error {
	return f.record("stop " + id)
}
func (f *fakeEngine) RestartContainer(_ context.Context, id string, _ time.Duration) error {
	return f.record("restart " + id)
}
func (f *fakeEngine) RemoveContainer(_ context.Context, id string, force bool) error {
	if force {
		return f.record("remove -f " + id)
	}
	return f.record("remove " + id)
}
func (f *fakeEngine) Health(context.Context) (*EngineHealth, error) {
	if err := f.record("health"); err != nil {
		return nil, err
	}
	return &EngineHealth{Healthy: true, Version: "28.5.2"}, nil
}
func (f *fakeEngine) ListContainers(context.Context) ([]ContainerInfo, error) {
	return f.containers, f.err
}
func (f *fakeEngine) Snapshot(context.Context) (*domains.AgentMetrics, *domains.RuntimeInfo, error) {
	return &domains.AgentMetrics{}, &domains.RuntimeInfo{}, f.err
}

type fakeRunner struct {
	name   string
	args   []string
	dir    string
	result *ExecutionResult
	err    error
}

func (f *fakeRunner) Execute(_ context.Context, name string, args []string, dir string) (*ExecutionResult, error) {
	f.name, f.args, f.dir = name, args, dir
	if f.result == nil {
		f.result = &ExecutionResult{}
	}
	return f.result, f.err
}

func newTestExecutor(t *testing.T) (*TaskExecutor, *fakeEngine, *fakeRunner, string) {
	t.Helper()
	base := t.TempDir()
	stacks, err := storage.NewFSStore(base)
	require.NoError(t, err)
	engine := &fakeEngine{}
	runner := &fakeRunner{}
	return NewTaskExecutor(engine, runner, stacks, "1.0.0", logger.NewNop()), engine, runner, base
}

func task(t domains.TaskType, payload domains.TaskPayload) *domains.Task {
	return &domains.Task{ID: "t1", AgentID: "a1", Type: t, Payload: payload}
}

func TestExecute_ContainerActions(t *testing.T) {
	exec, engine, _, _ := newTestExecutor(t)
	ctx := context.Background()

	cases := []struct {
		taskType domains.TaskType
		payload  *domains.ContainerActionPayload
		call     string
		action   string
	}{
		{domains.TaskContainerStart, &domains.ContainerActionPayload{ContainerID: "c1"}, "start c1", "start"},
		{domains.TaskContainerStop, &domains.ContainerActionPayload{ContainerID: "c1"}, "stop c1", "stop"},
		{domains.TaskContainerRestart, &domains.ContainerActionPayload{ContainerID: "c1"}, "restart c1", "restart"},
		{domains.TaskContainerRemove, &domains.ContainerActionPayload{ContainerID: "c1", Force: true}, "remove -f c1", "remove"},
	}
	for _, tc := range cases {
		t.Run(string(tc.taskType), func(t *testing.T) {
			result, err := exec.Execute(ctx, task(tc.taskType, tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.call, engine.calls[len(engine.calls)-1])
			assert.Equal(t, tc.action, result.(map[string]interface{})["action"])
		})
	}
}

func TestExecute_EngineErrorFailsTask(t *testing.T) {
	exec, engine, _, _ := newTestExecutor(t)
	engine.err = errors.New("no such image")

	result, err := exec.Execute(context.Background(), task(domains.TaskImagePull, &domains.ImagePullPayload{ImageName: "nope"}))
	assert.EqualError(t, err, "no such image")
	assert.Nil(t, result)

	result, err = exec.Execute(context.Background(), task(domains.TaskHealthCheck, &domains.HealthCheckPayload{}))
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestExecute_HealthCheck(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)

	result, err := exec.Execute(context.Background(), task(domains.TaskHealthCheck, &domains.HealthCheckPayload{}))
	require.NoError(t, err)
	health := result.(*EngineHealth)
	assert.True(t, health.Healthy)
	assert.Equal(t, "28.5.2", health.Version)
}

func TestExecute_DockerCommand(t *testing.T) {
	exec, _, runner, _ := newTestExecutor(t)
	runner.result = &ExecutionResult{Stdout: "CONTAINER ID\n"}

	_, err := exec.Execute(context.Background(), task(domains.TaskDockerCommand,
		&domains.DockerCommandPayload{Command: "ps", Args: []string{"-a"}}))
	require.NoError(t, err)
	assert.Equal(t, "docker", runner.name)
	assert.Equal(t, []string{"ps", "-a"}, runner.args)

	runner.result = &ExecutionResult{ExitCode: 1, Stderr: "warning\nError: No such container: x"}
	_, err = exec.Execute(context.Background(), task(domains.TaskDockerCommand,
		&domains.DockerCommandPayload{Command: "rm x"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1: Error: No such container: x")
	assert.Equal(t, []string{"rm", "x"}, runner.args)
}

func TestExecute_StackDeploy(t *testing.T) {
	exec, _, runner, base := newTestExecutor(t)
	compose := "services:\n  web:\n    image: nginx\n  db:\n    image: postgres\n"

	result, err := exec.Execute(context.Background(), task(domains.TaskStackDeploy,
		&domains.StackDeployPayload{StackID: "shop", ComposeContent: compose, EnvContent: "A=1"}))
	require.NoError(t, err)

	composePath := filepath.Join(base, "shop", storage.ComposeFileName)
	written, err := os.ReadFile(composePath)
	require.NoError(t, err)
	assert.Equal(t, compose, string(written))

	assert.Equal(t, []string{"compose", "-p", "shop", "-f", composePath, "up", "-d", "--remove-orphans"}, runner.args)
	assert.Equal(t, filepath.Join(base, "shop"), runner.dir)
	assert.Equal(t, []string{"db", "web"}, result.(map[string]interface{})["services"])
}

func TestExecute_StackDeployRejectsBadInput(t *testing.T) {
	exec, _, runner, _ := newTestExecutor(t)

	_, err := exec.Execute(context.Background(), task(domains.TaskStackDeploy,
		&domains.StackDeployPayload{StackID: "shop", ComposeContent: "version: '3'\n"}))
	assert.ErrorContains(t, err, "no services")

	_, err = exec.Execute(context.Background(), task(domains.TaskStackDeploy,
		&domains.StackDeployPayload{StackID: "../etc", ComposeContent: "services:\n  a:\n    image: x\n"}))
	assert.ErrorContains(t, err, "invalid stack id")
	assert.Empty(t, runner.name, "nothing may run for a rejected deploy")
}

func TestExecute_AgentUpgradeRecordsVersion(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)
	assert.Empty(t, exec.PendingUpgrade())

	result, err := exec.Execute(context.Background(), task(domains.TaskAgentUpgrade,
		&domains.AgentUpgradePayload{Action: "upgrade", Version: "1.2.0"}))
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", exec.PendingUpgrade())
	assert.Equal(t, "1.0.0", result.(map[string]interface{})["currentVersion"])
}

func TestGroupStacks(t *testing.T) {
	labels := func(project, service string) map[string]string {
		return map[string]string{composeProjectLabel: project, composeServiceLabel: service}
	}
	stacks := GroupStacks([]ContainerInfo{
		{ID: "1", Name: "web-nginx-1", State: "running", Labels: labels("web", "nginx")},
		{ID: "2", Name: "web-api-1", State: "exited", Labels: labels("web", "api")},
		{ID: "3", Name: "db-pg-1", State: "running", Labels: labels("db", "pg")},
		{ID: "4", Name: "cache-redis-1", State: "exited", Labels: labels("cache", "redis")},
		{ID: "5", Name: "loose", State: "running"},
	})

	require.Len(t, stacks, 3)
	assert.Equal(t, []string{"cache", "db", "web"}, []string{stacks[0].Name, stacks[1].Name, stacks[2].Name})

	assert.Equal(t, domains.StackStopped, stacks[0].Status)
	assert.Equal(t, domains.StackRunning, stacks[1].Status)

	web := stacks[2]
	assert.Equal(t, domains.StackPartiallyRunning, web.Status)
	assert.Equal(t, 2, web.ServiceCount)
	assert.Equal(t, 1, web.RunningCount)
	assert.Equal(t, "api", web.Services[0].Name)
	assert.Equal(t, "nginx", web.Services[1].Name)
}

func TestExecutor_CapturesOutputAndExitCode(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no shell available")
	}
	e := NewExecutor(5 * time.Second)

	result, err := e.Execute(context.Background(), "/bin/sh", []string{"-c", "echo out; echo err >&2; exit 3"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)

	_, err = e.Execute(context.Background(), "/nonexistent/binary", nil, "")
	assert.Error(t, err)
}

func TestExecutor_Timeout(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no shell available")
	}
	e := NewExecutor(100 * time.Millisecond)

	_, err := e.Execute(context.Background(), "/bin/sh", []string{"-c", "sleep 5"}, "")
	assert.ErrorContains(t, err, "timed out")
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.truncated)
}
