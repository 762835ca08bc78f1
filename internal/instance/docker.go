package instance

import (
	"context"
	"fmt"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/ConclaveHQ/conclave/internal/logger"
)

const workspaceLabel = "conclave.workspace"

// DockerProvisioner runs instances as Docker containers.
type DockerProvisioner struct {
	client *client.Client
}

// NewDockerProvisioner creates a provisioner against the local Docker
// daemon.
func NewDockerProvisioner() (*DockerProvisioner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerProvisioner{client: cli}, nil
}

// Ping verifies connectivity to the Docker daemon.
func (p *DockerProvisioner) Ping(ctx context.Context) error {
	_, err := p.client.Ping(ctx)
	return err
}

// Provision creates and starts an instance container.
func (p *DockerProvisioner) Provision(ctx context.Context, spec Spec) (*Instance, error) {
	labels := map[string]string{workspaceLabel: spec.WorkspaceID}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	cfg := &dockercontainer.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: labels,
		Tty:    false,
	}
	hostCfg := &dockercontainer.HostConfig{
		Resources: buildResources(spec.MemoryMB, spec.CPUs),
	}

	resp, err := p.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance container: %w", err)
	}
	if err := p.client.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		// Best effort: do not leave a created-but-dead container behind.
		_ = p.client.ContainerRemove(ctx, resp.ID, dockercontainer.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start instance container: %w", err)
	}

	logger.Info("provisioned instance %s (image %s, workspace %s)", resp.ID[:12], spec.Image, spec.WorkspaceID)
	return p.Status(ctx, resp.ID)
}

// Stop stops and removes an instance container.
func (p *DockerProvisioner) Stop(ctx context.Context, id string) error {
	timeout := 10
	if err := p.client.ContainerStop(ctx, id, dockercontainer.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop instance %s: %w", id, err)
	}
	if err := p.client.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove instance %s: %w", id, err)
	}
	logger.Info("stopped instance %s", id)
	return nil
}

// Status inspects an instance container.
func (p *DockerProvisioner) Status(ctx context.Context, id string) (*Instance, error) {
	info, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect instance %s: %w", id, err)
	}
	return &Instance{
		ID:          info.ID,
		Name:        info.Name,
		Image:       info.Config.Image,
		WorkspaceID: info.Config.Labels[workspaceLabel],
		State:       info.State.Status,
	}, nil
}

// List returns the instance containers labeled for a workspace.
func (p *DockerProvisioner) List(ctx context.Context, workspaceID string) ([]*Instance, error) {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=%s", workspaceLabel, workspaceID))
	containers, err := p.client.ContainerList(ctx, dockercontainer.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	out := make([]*Instance, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		out = append(out, &Instance{
			ID:          c.ID,
			Name:        name,
			Image:       c.Image,
			WorkspaceID: workspaceID,
			State:       c.State,
		})
	}
	return out, nil
}

// Close releases the Docker client.
func (p *DockerProvisioner) Close() error {
	return p.client.Close()
}

func buildResources(memoryMB int64, cpus float64) dockercontainer.Resources {
	var res dockercontainer.Resources
	if memoryMB > 0 {
		res.Memory = memoryMB * 1024 * 1024
	}
	if cpus > 0 {
		res.NanoCPUs = int64(cpus * 1e9)
	}
	return res
}
