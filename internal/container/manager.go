// Package container provides Docker management for the renderer sandbox.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// MountPath is where the workspace appears inside the renderer.
	MountPath       = "/manim"
	stopTimeoutSecs = 10

	// Resource limits.
	memoryLimitBytes = 2 * 1024 * 1024 * 1024 // 2GB
	cpuQuota         = 100000                 // 1 CPU
	pidsLimit        = 256

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond

	rendererLabel = "scenegen.role"
)

// Config describes the long-lived renderer container.
type Config struct {
	Name    string
	Image   string
	Runtime string // "" = default (runc), "runsc" = gVisor
	HostDir string // Bind mount source as seen by the Docker daemon.
}

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Output   string // tail of stdout and stderr, interleaved in arrival order
}

// Manager defines the operations used to drive the renderer container.
type Manager interface {
	// EnsureRenderer ensures the renderer container exists and is running.
	EnsureRenderer(ctx context.Context) (string, error)

	// Exec runs cmd in the container's workspace directory and waits for it.
	Exec(ctx context.Context, containerID string, cmd []string) (ExecResult, error)

	// StopContainer stops and removes a container.
	StopContainer(ctx context.Context, containerID string) error

	// IsRunning checks if a container is currently running.
	IsRunning(ctx context.Context, containerID string) (bool, error)

	// Ping checks that the Docker daemon is reachable.
	Ping(ctx context.Context) error
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli *client.Client
	cfg Config

	mu          sync.Mutex
	containerID string
}

// NewDockerManager creates a new Docker-backed container manager.
func NewDockerManager(cfg Config) (*DockerManager, error) {
	if cfg.Name == "" || cfg.Image == "" {
		return nil, fmt.Errorf("container name and image are required")
	}
	if cfg.HostDir == "" {
		return nil, fmt.Errorf("host workspace directory is required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	runtime := cfg.Runtime
	if runtime == "" {
		runtime = "default"
	}
	slog.Info("Docker client initialized", "runtime", runtime, "image", cfg.Image, "container", cfg.Name)
	return &DockerManager{cli: cli, cfg: cfg}, nil
}

// EnsureRenderer returns the id of a running renderer container, starting or
// creating it as needed. Concurrent callers share one container.
func (m *DockerManager) EnsureRenderer(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.containerID != "" {
		running, err := m.IsRunning(ctx, m.containerID)
		if err == nil && running {
			return m.containerID, nil
		}
		m.containerID = ""
	}

	inspect, err := m.cli.ContainerInspect(ctx, m.cfg.Name)
	switch {
	case err == nil && inspect.State.Running:
		slog.Info("Renderer already running", "container_id", inspect.ID)
		m.containerID = inspect.ID
		return inspect.ID, nil
	case err == nil:
		slog.Info("Starting stopped renderer", "container_id", inspect.ID)
		startErr := m.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{})
		if startErr == nil {
			m.containerID = inspect.ID
			return inspect.ID, nil
		}
		slog.Warn("Failed to start existing renderer, recreating", "container_id", inspect.ID, "error", startErr)
		if stopErr := m.StopContainer(ctx, inspect.ID); stopErr != nil {
			slog.Warn("Failed to remove renderer before recreation", "container_id", inspect.ID, "error", stopErr)
		}
	case !errdefs.IsNotFound(err):
		return "", fmt.Errorf("inspect renderer %s: %w", m.cfg.Name, err)
	}

	id, err := m.create(ctx)
	if err != nil {
		return "", err
	}
	m.containerID = id
	return id, nil
}

func (m *DockerManager) create(ctx context.Context) (string, error) {
	slog.Info("Creating renderer container", "name", m.cfg.Name, "image", m.cfg.Image, "host_dir", m.cfg.HostDir)

	config := &container.Config{
		Image:      m.cfg.Image,
		WorkingDir: MountPath,
		Cmd:        []string{"sleep", "infinity"},
		Labels:     map[string]string{rendererLabel: "renderer"},
	}

	hostConfig := &container.HostConfig{
		Runtime:     m.cfg.Runtime,
		NetworkMode: container.NetworkMode("none"),
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: m.cfg.HostDir,
			Target: MountPath,
		}},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, m.cfg.Name)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("create renderer: %w", createErr)
		}

		// A concurrent/delayed removal can leave the old named container briefly.
		slog.Warn("Renderer name conflict during create, retrying",
			"container_name", m.cfg.Name,
			"attempt", i+1,
			"error", createErr,
		)

		if inspect, inspectErr := m.cli.ContainerInspect(ctx, m.cfg.Name); inspectErr == nil {
			if stopErr := m.StopContainer(ctx, inspect.ID); stopErr != nil {
				slog.Warn("Failed to stop conflicting container before retry", "container_id", inspect.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("create renderer after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove renderer after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start renderer %s: %w", resp.ID, err)
	}

	slog.Info("Renderer created and started", "container_id", resp.ID)
	return resp.ID, nil
}

// Exec runs cmd inside the container and collects its output.
// A canceled ctx abandons the exec and returns ctx.Err().
func (m *DockerManager) Exec(ctx context.Context, containerID string, cmd []string) (ExecResult, error) {
	resp, err := m.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   MountPath,
		Cmd:          cmd,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("create exec in container %s: %w", containerID, err)
	}

	attachResp, err := m.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attach to exec %s: %w", resp.ID, err)
	}
	defer attachResp.Close()

	out := newTailBuffer(maxExecOutput)
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(out, out, attachResp.Reader)
		done <- copyErr
	}()

	select {
	case <-ctx.Done():
		attachResp.Close()
		<-done
		return ExecResult{}, ctx.Err()
	case copyErr := <-done:
		if copyErr != nil {
			return ExecResult{}, fmt.Errorf("read exec %s output: %w", resp.ID, copyErr)
		}
	}

	inspect, err := m.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}
	if out.Dropped() > 0 {
		slog.Debug("Exec output truncated", "exec_id", resp.ID, "dropped_bytes", out.Dropped())
	}
	return ExecResult{ExitCode: inspect.ExitCode, Output: out.String()}, nil
}

// StopContainer stops and removes a container.
// It is idempotent and handles concurrent calls gracefully.
func (m *DockerManager) StopContainer(ctx context.Context, containerID string) error {
	slog.Info("Stopping container", "container_id", containerID)

	_, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already removed", "container_id", containerID)
			return nil
		}
		return fmt.Errorf("inspect container %s: %w", containerID, err)
	}

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already stopped/removed", "container_id", containerID)
		} else {
			slog.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
		}
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, container may still be removed", "container_id", containerID, "error", err)
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}

	slog.Info("Container stopped and removed", "container_id", containerID)
	return nil
}

// IsRunning checks if a container is currently running.
func (m *DockerManager) IsRunning(ctx context.Context, containerID string) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return inspect.State.Running, nil
}

// Ping checks that the Docker daemon is reachable.
func (m *DockerManager) Ping(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker: %w", err)
	}
	return nil
}

// Shutdown removes the renderer container if this process started one.
func (m *DockerManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	id := m.containerID
	m.containerID = ""
	m.mu.Unlock()
	if id == "" {
		return nil
	}
	return m.StopContainer(ctx, id)
}

// Close releases the Docker client.
func (m *DockerManager) Close() error {
	return m.cli.Close()
}

func ptr[T any](v T) *T {
	return &v
}
