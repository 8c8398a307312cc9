// Package driver is the worker's local container runtime collaborator
// (spec.md §4.6). It is deliberately narrow: create/start/stop/destroy one
// container at a time, plus a host resource sample for the heartbeat loop.
package driver

import (
	"context"

	"github.com/corral-io/corral/shared/types"
)

// Driver is the local container runtime used by the executor.
type Driver interface {
	// Create provisions a container from cfg without starting it, and
	// returns the runtime's own identifier for it.
	Create(ctx context.Context, cfg types.ContainerConfig) (runtimeID string, err error)
	Start(ctx context.Context, runtimeID string) error
	Stop(ctx context.Context, runtimeID string) error
	Destroy(ctx context.Context, runtimeID string) error
	// Sample reports current host resource utilization for the heartbeat
	// loop; it does not depend on any single container's state.
	Sample(ctx context.Context) (types.ResourceSample, error)
}
