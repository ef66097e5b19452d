// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DefaultImage runs the analysis code. Overridable for deployments that
// mirror images internally.
const DefaultImage = "python:3.11-alpine"

// DockerRunner executes validated code in a throwaway container with no
// network, a read-only root filesystem and hard resource caps. Every
// container is force-removed when the run ends, success or not.
type DockerRunner struct {
	Image string

	// newClient is swapped in tests.
	newClient func() (dockerClient, error)
}

// dockerClient is the slice of the Docker SDK the runner uses.
type dockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig interface{}, platform interface{}, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	Close() error
}

// sdkClient adapts *client.Client to the narrowed interface.
type sdkClient struct {
	cli *client.Client
}

func (s *sdkClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
	_ interface{}, _ interface{}, containerName string) (container.CreateResponse, error) {
	return s.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
}

func (s *sdkClient) ContainerStart(ctx context.Context, id string, opts types.ContainerStartOptions) error {
	return s.cli.ContainerStart(ctx, id, opts)
}

func (s *sdkClient) ContainerWait(ctx context.Context, id string, cond container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return s.cli.ContainerWait(ctx, id, cond)
}

func (s *sdkClient) ContainerLogs(ctx context.Context, id string, opts types.ContainerLogsOptions) (io.ReadCloser, error) {
	return s.cli.ContainerLogs(ctx, id, opts)
}

func (s *sdkClient) ContainerRemove(ctx context.Context, id string, opts types.ContainerRemoveOptions) error {
	return s.cli.ContainerRemove(ctx, id, opts)
}

func (s *sdkClient) Close() error { return s.cli.Close() }

// NewDockerRunner creates a runner talking to the local Docker daemon.
func NewDockerRunner(image string) *DockerRunner {
	if image == "" {
		image = DefaultImage
	}
	return &DockerRunner{
		Image: image,
		newClient: func() (dockerClient, error) {
			cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				return nil, err
			}
			return &sdkClient{cli: cli}, nil
		},
	}
}

// Available probes the Docker daemon. The control plane calls this at
// startup to decide whether the restricted fallback is needed.
func (d *DockerRunner) Available(ctx context.Context) bool {
	cli, err := d.newClient()
	if err != nil {
		return false
	}
	cli.Close()
	return true
}

func (d *DockerRunner) Run(ctx context.Context, code string) (*Result, error) {
	if _, err := Validate(code); err != nil {
		return nil, err
	}

	start := time.Now()
	cli, err := d.newClient()
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()

	runCtx, cancel := context.WithTimeout(ctx, RunTimeout)
	defer cancel()

	pids := int64(PidsLimit)
	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			NanoCPUs:  int64(CPUQuota * 1_000_000_000),
			Memory:    MemoryBytes,
			PidsLimit: &pids,
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=16m",
		},
	}

	resp, err := cli.ContainerCreate(runCtx, &container.Config{
		Image:           d.Image,
		Cmd:             []string{"python3", "-c", code},
		Tty:             false,
		NetworkDisabled: true,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	// Destruction is unconditional. A background context so removal
	// still happens after a timeout.
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		_ = cli.ContainerRemove(rmCtx, resp.ID, types.ContainerRemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(runCtx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	waitCh, errCh := cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case <-runCtx.Done():
		return nil, ErrTimeout
	case err := <-errCh:
		return nil, fmt.Errorf("container wait: %w", err)
	case status := <-waitCh:
		if status.StatusCode != 0 {
			return nil, fmt.Errorf("analysis exited with status %d", status.StatusCode)
		}
	}

	logs, err := cli.ContainerLogs(runCtx, resp.ID, types.ContainerLogsOptions{ShowStdout: true})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, io.LimitReader(logs, MaxOutputBytes*4)); err != nil {
		return nil, fmt.Errorf("demux logs: %w", err)
	}

	out, truncated := truncate(bytes.TrimSpace(stdout.Bytes()))
	return &Result{
		Output:    out,
		Truncated: truncated,
		Backend:   "docker",
		Duration:  time.Since(start),
	}, nil
}
