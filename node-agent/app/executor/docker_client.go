package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// ContainerInfo is the subset of a container listing the agent reports
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	State  string
	Status string
	Labels map[string]string
}

// EngineHealth is the outcome of a health_check task
type EngineHealth struct {
	Healthy       bool   `json:"healthy"`
	Version       string `json:"version"`
	APIVersion    string `json:"apiVersion"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	KernelVersion string `json:"kernelVersion,omitempty"`
}

// Engine is the container engine surface used by the executor and heartbeats
type Engine interface {
	PullImage(ctx context.Context, imageName string) error
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	RestartContainer(ctx context.Context, containerID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	Health(ctx context.Context) (*EngineHealth, error)
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	Snapshot(ctx context.Context) (*domains.AgentMetrics, *domains.RuntimeInfo, error)
}

// DockerClient wraps the Docker SDK client
type DockerClient struct {
	cli    *client.Client
	logger *logger.Logger
}

// NewDockerClient creates a Docker client for host, or from the environment when host is empty
func NewDockerClient(host string, log *logger.Logger) (*DockerClient, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	log.Info("docker client created", zap.String("host", cli.DaemonHost()))
	return &DockerClient{cli: cli, logger: log}, nil
}

// Close closes the Docker client
func (c *DockerClient) Close() error {
	return c.cli.Close()
}

// PullImage pulls an image and waits for the pull to finish
func (c *DockerClient) PullImage(ctx context.Context, imageName string) error {
	c.logger.Info("pulling image", zap.String("image", imageName))

	reader, err := c.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()

	// the pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error reading image pull output: %w", err)
	}

	c.logger.Info("image pulled", zap.String("image", imageName))
	return nil
}

// StartContainer starts a container
func (c *DockerClient) StartContainer(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	return nil
}

// StopContainer stops a container, killing it after timeout
func (c *DockerClient) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	timeoutSeconds := int(timeout.Seconds())
	if err := c.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

// RestartContainer restarts a container
func (c *DockerClient) RestartContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	timeoutSeconds := int(timeout.Seconds())
	if err := c.cli.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", containerID, err)
	}
	return nil
}

// RemoveContainer removes a container
func (c *DockerClient) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

// Health pings the daemon and reports its version
func (c *DockerClient) Health(ctx context.Context) (*EngineHealth, error) {
	if _, err := c.cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker ping failed: %w", err)
	}

	v, err := c.cli.ServerVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get docker version: %w", err)
	}
	return &EngineHealth{
		Healthy:       true,
		Version:       v.Version,
		APIVersion:    v.APIVersion,
		OS:            v.Os,
		Arch:          v.Arch,
		KernelVersion: v.KernelVersion,
	}, nil
}

// ListContainers lists all containers, including stopped ones
func (c *DockerClient) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		infos = append(infos, ContainerInfo{
			ID:     ctr.ID,
			Name:   name,
			Image:  ctr.Image,
			State:  string(ctr.State),
			Status: ctr.Status,
			Labels: ctr.Labels,
		})
	}
	return infos, nil
}

// Snapshot collects the resource counts sent with heartbeats
func (c *DockerClient) Snapshot(ctx context.Context) (*domains.AgentMetrics, *domains.RuntimeInfo, error) {
	info, err := c.cli.Info(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get docker info: %w", err)
	}
	runtime := &domains.RuntimeInfo{
		Version:    info.ServerVersion,
		Containers: info.Containers,
		Images:     info.Images,
	}

	metrics := &domains.AgentMetrics{
		ContainerCount: info.Containers,
		ImageCount:     info.Images,
	}

	// partial counts are still worth reporting
	if images, err := c.cli.ImageList(ctx, image.ListOptions{}); err == nil {
		metrics.ImageCount = len(images)
	} else {
		c.logger.Debug("image list failed", zap.Error(err))
	}
	if networks, err := c.cli.NetworkList(ctx, network.ListOptions{}); err == nil {
		metrics.NetworkCount = len(networks)
	} else {
		c.logger.Debug("network list failed", zap.Error(err))
	}
	if volumes, err := c.cli.VolumeList(ctx, volume.ListOptions{}); err == nil {
		metrics.VolumeCount = len(volumes.Volumes)
	} else {
		c.logger.Debug("volume list failed", zap.Error(err))
	}
	if containers, err := c.ListContainers(ctx); err == nil {
		metrics.StackCount = len(GroupStacks(containers))
	} else {
		c.logger.Debug("container list failed", zap.Error(err))
	}

	return metrics, runtime, nil
}
