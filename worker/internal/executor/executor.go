// Package executor maintains the worker's local container table and
// carries out DEPLOY/START/STOP/DELETE commands against a driver.Driver
// (spec.md §4.6). It is the worker-side mirror of the coordinator's
// containerindex: the coordinator holds the authoritative intent, the
// executor holds the authoritative observed state and reports it back via
// CONTAINER_STATUS.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corral-io/corral/shared/types"
	"github.com/corral-io/corral/worker/internal/driver"
)

// StatusReporter emits a CONTAINER_STATUS message for a record whose state
// changed. Implemented by the connection manager.
type StatusReporter interface {
	ReportContainerStatus(rec types.ContainerRecord)
}

// Executor runs container lifecycle commands against a driver and keeps
// the worker's local view of each container it has ever deployed.
type Executor struct {
	mu         sync.Mutex
	containers map[string]*types.ContainerRecord // keyed by name, not full id
	drv        driver.Driver
	workerID   string
	logger     *zap.Logger
}

// New creates an Executor for the given driver. workerID is used to build
// the globally unique container id reported in CONTAINER_STATUS.
func New(drv driver.Driver, workerID string, logger *zap.Logger) *Executor {
	return &Executor{
		containers: make(map[string]*types.ContainerRecord),
		drv:        drv,
		workerID:   workerID,
		logger:     logger.Named("executor"),
	}
}

// Deploy creates (but does not start) a container from cfg and records it
// in the Stopped state. Returns the ACK text the connection manager should
// send back, or an error describing why deployment failed.
func (e *Executor) Deploy(ctx context.Context, cfg types.ContainerConfig) (string, error) {
	if _, err := e.drv.Create(ctx, cfg); err != nil {
		e.logger.Error("deploy failed", zap.String("name", cfg.Name), zap.Error(err))
		return "", fmt.Errorf("deployment failed: %w", err)
	}

	e.mu.Lock()
	e.containers[cfg.Name] = &types.ContainerRecord{
		ID:        types.ContainerID(e.workerID, cfg.Name),
		Name:      cfg.Name,
		WorkerID:  e.workerID,
		State:     types.ContainerStopped,
		Config:    cfg,
		CreatedAt: time.Now(),
	}
	e.mu.Unlock()

	e.logger.Info("container deployed", zap.String("name", cfg.Name))
	return "deployed", nil
}

// Start starts a previously deployed container, reporting its new state to
// reporter on success.
func (e *Executor) Start(ctx context.Context, name string, reporter StatusReporter) error {
	rec, ok := e.get(name)
	if !ok {
		return fmt.Errorf("container %s: %w", name, types.ErrUnknown)
	}

	e.setState(name, types.ContainerStarting)

	if err := e.drv.Start(ctx, name); err != nil {
		e.setState(name, types.ContainerError)
		e.logger.Error("start failed", zap.String("name", name), zap.Error(err))
		return err
	}

	rec.State = types.ContainerRunning
	rec.StartedAt = time.Now()
	e.put(name, rec)
	reporter.ReportContainerStatus(*rec)
	e.logger.Info("container started", zap.String("name", name))
	return nil
}

// Stop stops a running container, reporting its new state to reporter on
// success.
func (e *Executor) Stop(ctx context.Context, name string, reporter StatusReporter) error {
	rec, ok := e.get(name)
	if !ok {
		return fmt.Errorf("container %s: %w", name, types.ErrUnknown)
	}

	e.setState(name, types.ContainerStopping)

	if err := e.drv.Stop(ctx, name); err != nil {
		e.setState(name, types.ContainerError)
		e.logger.Error("stop failed", zap.String("name", name), zap.Error(err))
		return err
	}

	rec.State = types.ContainerStopped
	e.put(name, rec)
	reporter.ReportContainerStatus(*rec)
	e.logger.Info("container stopped", zap.String("name", name))
	return nil
}

// Delete destroys a container and removes it from the local table
// regardless of whether the driver call succeeds, mirroring the
// coordinator's own delete-is-best-effort semantics.
func (e *Executor) Delete(ctx context.Context, name string) error {
	_, ok := e.get(name)
	if !ok {
		return fmt.Errorf("container %s: %w", name, types.ErrUnknown)
	}

	err := e.drv.Destroy(ctx, name)
	if err != nil {
		e.logger.Warn("destroy failed, removing from local table anyway", zap.String("name", name), zap.Error(err))
	}

	e.mu.Lock()
	delete(e.containers, name)
	e.mu.Unlock()

	e.logger.Info("container deleted", zap.String("name", name))
	return err
}

func (e *Executor) get(name string) (*types.ContainerRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.containers[name]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

func (e *Executor) put(name string, rec *types.ContainerRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.containers[name] = rec
}

func (e *Executor) setState(name string, state types.ContainerState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.containers[name]; ok {
		rec.State = state
	}
}

// Count returns the number of containers currently tracked, for capacity
// reporting if the driver's own Sample does not enumerate them directly.
func (e *Executor) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.containers)
}
