package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dockfleet/node-agent/app/storage"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const defaultStopTimeout = 10 * time.Second

// TaskExecutor runs controller tasks against the local engine
type TaskExecutor struct {
	engine      Engine
	runner      CommandRunner
	stacks      *storage.FSStore
	log         *logger.Logger
	stopTimeout time.Duration

	mu             sync.Mutex
	version        string
	pendingVersion string
}

// NewTaskExecutor creates a task executor. version is the running agent version.
func NewTaskExecutor(engine Engine, runner CommandRunner, stacks *storage.FSStore, version string, log *logger.Logger) *TaskExecutor {
	return &TaskExecutor{
		engine:      engine,
		runner:      runner,
		stacks:      stacks,
		log:         log,
		stopTimeout: defaultStopTimeout,
		version:     version,
	}
}

// Execute runs task and returns its result. An error means the task failed.
func (e *TaskExecutor) Execute(ctx context.Context, task *domains.Task) (interface{}, error) {
	log := e.log.WithTaskID(task.ID).WithFields(zap.String("type", string(task.Type)))
	log.Info("executing task")

	switch p := task.Payload.(type) {
	case *domains.DockerCommandPayload:
		return e.dockerCommand(ctx, p)
	case *domains.StackDeployPayload:
		return e.stackDeploy(ctx, p)
	case *domains.ImagePullPayload:
		if err := e.engine.PullImage(ctx, p.ImageName); err != nil {
			return nil, err
		}
		return map[string]interface{}{"imageName": p.ImageName, "pulled": true}, nil
	case *domains.ContainerActionPayload:
		return e.containerAction(ctx, task.Type, p)
	case *domains.HealthCheckPayload:
		health, err := e.engine.Health(ctx)
		if err != nil {
			return nil, err
		}
		return health, nil
	case *domains.AgentUpgradePayload:
		return e.agentUpgrade(p), nil
	default:
		return nil, fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

func (e *TaskExecutor) dockerCommand(ctx context.Context, p *domains.DockerCommandPayload) (interface{}, error) {
	args := append(strings.Fields(p.Command), p.Args...)
	if len(args) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	result, err := e.runner.Execute(ctx, "docker", args, "")
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return result, fmt.Errorf("docker %s exited with code %d: %s", args[0], result.ExitCode, lastLine(result.Stderr))
	}
	return result, nil
}

func (e *TaskExecutor) stackDeploy(ctx context.Context, p *domains.StackDeployPayload) (interface{}, error) {
	services, err := composeServices(p.ComposeContent)
	if err != nil {
		return nil, err
	}

	composePath, err := e.stacks.WriteStack(p.StackID, p.ComposeContent, p.EnvContent)
	if err != nil {
		return nil, err
	}
	dir, err := e.stacks.StackDir(p.StackID)
	if err != nil {
		return nil, err
	}

	args := []string{"compose", "-p", p.StackID, "-f", composePath, "up", "-d", "--remove-orphans"}
	result, err := e.runner.Execute(ctx, "docker", args, dir)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return result, fmt.Errorf("docker compose up exited with code %d: %s", result.ExitCode, lastLine(result.Stderr))
	}

	return map[string]interface{}{
		"stackId":     p.StackID,
		"composeFile": composePath,
		"services":    services,
		"output":      result.Stdout + result.Stderr,
	}, nil
}

func (e *TaskExecutor) containerAction(ctx context.Context, taskType domains.TaskType, p *domains.ContainerActionPayload) (interface{}, error) {
	var err error
	switch taskType {
	case domains.TaskContainerStart:
		err = e.engine.StartContainer(ctx, p.ContainerID)
	case domains.TaskContainerStop:
		err = e.engine.StopContainer(ctx, p.ContainerID, e.stopTimeout)
	case domains.TaskContainerRestart:
		err = e.engine.RestartContainer(ctx, p.ContainerID, e.stopTimeout)
	case domains.TaskContainerRemove:
		err = e.engine.RemoveContainer(ctx, p.ContainerID, p.Force)
	default:
		err = fmt.Errorf("unsupported container action: %s", taskType)
	}
	if err != nil {
		return nil, err
	}
	action := strings.TrimPrefix(string(taskType), "container_")
	return map[string]interface{}{"containerId": p.ContainerID, "action": action}, nil
}

// agentUpgrade records the requested version; replacing the binary is left to the host's supervisor
func (e *TaskExecutor) agentUpgrade(p *domains.AgentUpgradePayload) interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pendingVersion = p.Version
	e.log.Info("agent upgrade requested",
		zap.String("current_version", e.version),
		zap.String("target_version", p.Version),
	)
	return map[string]interface{}{
		"currentVersion": e.version,
		"targetVersion":  p.Version,
		"scheduled":      true,
	}
}

// PendingUpgrade returns the version requested by the latest agent_upgrade task, if any
func (e *TaskExecutor) PendingUpgrade() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingVersion
}

// composeServices returns the sorted service names declared by a compose document
func composeServices(content string) ([]string, error) {
	var doc struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("invalid compose file: %w", err)
	}
	if len(doc.Services) == 0 {
		return nil, fmt.Errorf("compose file declares no services")
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
