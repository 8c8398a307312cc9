package driver

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/corral-io/corral/shared/types"
)

// diskPath is where the local container runtime keeps its state; used for
// the disk utilization sample. "/" on a typical worker host.
const diskPath = "/"

// Docker is the default Driver, backed by the Docker Engine SDK. The
// runtime id it hands back to the caller is the Docker container name,
// which doubles as the argument to every subsequent call.
type Docker struct {
	client   *dockerclient.Client
	capacity int
}

// NewDocker connects to the Docker daemon at socketPath (empty string for
// the SDK default: DOCKER_HOST, or /var/run/docker.sock). capacity is the
// number of containers this worker advertises as its placement ceiling.
func NewDocker(socketPath string, capacity int) (*Docker, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, dockerclient.WithHost("unix://"+socketPath))
	}

	c, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("driver: connect to docker: %w: %w", types.ErrRuntimeFailure, err)
	}
	return &Docker{client: c, capacity: capacity}, nil
}

// Create provisions (but does not start) a container from cfg. If the
// image is not present locally, it is pulled and creation retried — the
// same two-step flow the pack's Docker helpers use.
func (d *Docker) Create(ctx context.Context, cfg types.ContainerConfig) (string, error) {
	name := cfg.Name

	containerCfg := &container.Config{
		Image: cfg.Image,
		Env:   envSlice(cfg.Environment),
	}

	hostCfg := &container.HostConfig{
		Privileged: cfg.Privileged,
		Binds:      cfg.Mounts,
	}
	if cfg.CPULimit > 0 {
		hostCfg.Resources.NanoCPUs = int64(cfg.CPULimit) * 1_000_000_000
	}
	if cfg.MemoryLimitMB > 0 {
		hostCfg.Resources.Memory = int64(cfg.MemoryLimitMB) * 1024 * 1024
	}
	if cfg.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(cfg.Network)
	}

	netCfg := &network.NetworkingConfig{}

	_, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return "", fmt.Errorf("driver: create container %s: %w: %w", name, types.ErrRuntimeFailure, err)
		}
		if err := d.pullImage(ctx, cfg.Image); err != nil {
			return "", err
		}
		if _, err = d.client.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name); err != nil {
			return "", fmt.Errorf("driver: create container %s after pull: %w: %w", name, types.ErrRuntimeFailure, err)
		}
	}

	return name, nil
}

func (d *Docker) pullImage(ctx context.Context, img string) error {
	resp, err := d.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("driver: pull image %s: %w: %w", img, types.ErrRuntimeFailure, err)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("driver: pull image %s: read response: %w: %w", img, types.ErrRuntimeFailure, err)
	}
	return nil
}

// Start starts a previously created container.
func (d *Docker) Start(ctx context.Context, runtimeID string) error {
	if err := d.client.ContainerStart(ctx, runtimeID, container.StartOptions{}); err != nil {
		return fmt.Errorf("driver: start container %s: %w: %w", runtimeID, types.ErrRuntimeFailure, err)
	}
	return nil
}

// Stop stops a running container. Already-stopped is not an error.
func (d *Docker) Stop(ctx context.Context, runtimeID string) error {
	if err := d.client.ContainerStop(ctx, runtimeID, container.StopOptions{}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("driver: stop container %s: %w: %w", runtimeID, types.ErrRuntimeFailure, err)
		}
	}
	return nil
}

// Destroy force-removes a container. Already-absent is not an error.
func (d *Docker) Destroy(ctx context.Context, runtimeID string) error {
	if err := d.client.ContainerRemove(ctx, runtimeID, container.RemoveOptions{Force: true}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("driver: remove container %s: %w: %w", runtimeID, types.ErrRuntimeFailure, err)
		}
	}
	return nil
}

// Sample reports host cpu/mem/disk utilization, the number of containers
// the Docker daemon knows about (running or not), and this worker's
// configured capacity.
func (d *Docker) Sample(ctx context.Context) (types.ResourceSample, error) {
	sample := types.ResourceSample{Capacity: d.capacity}

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return sample, fmt.Errorf("driver: sample cpu: %w: %w", types.ErrRuntimeFailure, err)
	}
	if len(cpuPercents) > 0 {
		sample.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("driver: sample memory: %w: %w", types.ErrRuntimeFailure, err)
	}
	sample.MemPercent = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return sample, fmt.Errorf("driver: sample disk: %w: %w", types.ErrRuntimeFailure, err)
	}
	sample.DiskPercent = du.UsedPercent

	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return sample, fmt.Errorf("driver: list containers: %w: %w", types.ErrRuntimeFailure, err)
	}
	sample.ContainerCount = len(containers)

	return sample, nil
}

// Close releases the underlying Docker client resources.
func (d *Docker) Close() error {
	return d.client.Close()
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
