package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ContainerSpec describes one worker container to launch.
type ContainerSpec struct {
	Name       string
	Image      string
	Labels     map[string]string
	Env        []string
	BundlePath string // host directory mounted read-only at /config
}

// ContainerState is the runtime's view of one container.
type ContainerState struct {
	ID      string
	Running bool
	Status  string
}

// Runtime is the narrow port the supervisor talks to. Any container
// runtime that can create with labels, start, inspect, stop and remove
// satisfies it; tests plug a fake.
type Runtime interface {
	Launch(ctx context.Context, spec ContainerSpec) (string, error)
	Stop(ctx context.Context, nameOrID string, grace time.Duration) error
	Remove(ctx context.Context, nameOrID string) error
	Inspect(ctx context.Context, nameOrID string) (*ContainerState, error)
}

// Worker resource caps: a capture loop has no business using more.
const (
	memoryHardLimit   = 256 << 20 // bytes
	memoryReservation = 128 << 20
	nanoCPUHardLimit  = 500_000_000 // 0.5 CPU
	cpuShares         = 256         // ~0.25 CPU relative weight
	pidsLimit         = int64(50)
)

// dockerRuntime implements Runtime over the Docker daemon socket.
type dockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the Docker daemon. host overrides
// DOCKER_HOST when non-empty.
func NewDockerRuntime(host string) (Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &dockerRuntime{cli: cli}, nil
}

func (r *dockerRuntime) Launch(ctx context.Context, spec ContainerSpec) (string, error) {
	limit := pidsLimit
	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  spec.Image,
			Labels: spec.Labels,
			Env:    spec.Env,
		},
		&container.HostConfig{
			Binds: []string{spec.BundlePath + ":/config:ro"},
			RestartPolicy: container.RestartPolicy{
				Name: container.RestartPolicyUnlessStopped,
			},
			Resources: container.Resources{
				Memory:            memoryHardLimit,
				MemoryReservation: memoryReservation,
				NanoCPUs:          nanoCPUHardLimit,
				CPUShares:         cpuShares,
				PidsLimit:         &limit,
			},
		},
		nil, nil, spec.Name,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// Best effort: do not leave the created-but-never-started shell
		// around.
		_ = r.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	return created.ID, nil
}

func (r *dockerRuntime) Stop(ctx context.Context, nameOrID string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	err := r.cli.ContainerStop(ctx, nameOrID, container.StopOptions{Timeout: &seconds})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", nameOrID, err)
	}
	return nil
}

func (r *dockerRuntime) Remove(ctx context.Context, nameOrID string) error {
	err := r.cli.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", nameOrID, err)
	}
	return nil
}

func (r *dockerRuntime) Inspect(ctx context.Context, nameOrID string) (*ContainerState, error) {
	info, err := r.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", nameOrID, err)
	}

	state := &ContainerState{ID: info.ID}
	if info.State != nil {
		state.Running = info.State.Running
		state.Status = info.State.Status
	}
	return state, nil
}
