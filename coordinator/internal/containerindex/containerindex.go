// Package containerindex is the coordinator's directory of deployed
// containers and their authoritative state (spec.md §4.5).
//
// All accesses are serialized under a container-index-wide mutex distinct
// from the registry's. Container-index operations send messages *while
// holding* this lock, by design: this serializes lifecycle transitions per
// container and prevents racing deletes (spec.md §5). While holding this
// lock, Deploy and the lifecycle commands call into the registry
// (Connection, AppendContainer), which briefly takes the registry lock, so
// the two locks are held together in the fixed order index → registry.
// Callers must not hold the registry lock when calling into the index: the
// placement-then-deploy path takes a registry snapshot, releases it, and
// only then calls into the index.
package containerindex

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corral-io/corral/coordinator/internal/metrics"
	"github.com/corral-io/corral/coordinator/internal/registry"
	"github.com/corral-io/corral/shared/types"
	"github.com/corral-io/corral/shared/wire"
)

// Index is the coordinator's container directory.
// The zero value is not usable — create instances with New.
type Index struct {
	mu         sync.Mutex
	containers map[string]*types.ContainerRecord
	registry   *registry.Registry
	selfID     string
	logger     *zap.Logger
}

// New creates an empty Index. selfID is the coordinator's own id, sent as
// the sender_id on every outbound message.
func New(reg *registry.Registry, selfID string, logger *zap.Logger) *Index {
	return &Index{
		containers: make(map[string]*types.ContainerRecord),
		registry:   reg,
		selfID:     selfID,
		logger:     logger.Named("containerindex"),
	}
}

func (ix *Index) send(conn *registry.Conn, workerID string, tag wire.Tag, data []byte) error {
	err := conn.Send(wire.Message{
		Tag:         tag,
		SenderID:    ix.selfID,
		RecipientID: workerID,
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("containerindex: send %s to %s: %w", tag, workerID, err)
	}
	return nil
}

// Deploy constructs id = "<workerID>_<config.Name>", emits DEPLOY to the
// worker, and — only on successful send — inserts a Starting record and
// mirrors it into the worker's local container list (spec.md §4.5). A send
// failure returns a transport error without touching the index.
func (ix *Index) Deploy(workerID string, cfg types.ContainerConfig) (types.ContainerRecord, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(ix.containers) >= types.MaxContainers {
		return types.ContainerRecord{}, fmt.Errorf("containerindex: %w", types.ErrCapacity)
	}

	conn := ix.registry.Connection(workerID)
	if conn == nil {
		return types.ContainerRecord{}, fmt.Errorf("containerindex: worker %s unreachable: %w", workerID, types.ErrTransport)
	}

	id := types.ContainerID(workerID, cfg.Name)

	if err := ix.send(conn, workerID, wire.TagDeploy, wire.EncodeContainerConfig(cfg)); err != nil {
		metrics.LifecycleCommands.WithLabelValues(wire.TagDeploy.String(), "failed").Inc()
		return types.ContainerRecord{}, err
	}

	rec := types.ContainerRecord{
		ID:        id,
		Name:      cfg.Name,
		WorkerID:  workerID,
		State:     types.ContainerStarting,
		Config:    cfg,
		CreatedAt: time.Now(),
	}
	ix.containers[id] = &rec
	ix.registry.AppendContainer(workerID, id)
	metrics.LifecycleCommands.WithLabelValues(wire.TagDeploy.String(), "sent").Inc()
	metrics.TrackedContainers.Set(float64(len(ix.containers)))

	ix.logger.Info("container deployed",
		zap.String("container_id", id),
		zap.String("worker_id", workerID),
	)

	return rec, nil
}

// lifecycle emits tag to the container's owning worker, then — regardless
// of send outcome for delete, only on success otherwise — applies the
// local intent transition. The subsequent CONTAINER_STATUS from the worker
// is the reconciling truth (spec.md §4.5).
func (ix *Index) lifecycle(containerID string, tag wire.Tag, onSuccess types.ContainerState, deleteOnly bool) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rec, ok := ix.containers[containerID]
	if !ok {
		return fmt.Errorf("containerindex: container %s: %w", containerID, types.ErrUnknown)
	}

	conn := ix.registry.Connection(rec.WorkerID)
	var sendErr error
	if conn == nil {
		sendErr = fmt.Errorf("containerindex: worker %s unreachable: %w", rec.WorkerID, types.ErrTransport)
	} else {
		sendErr = ix.send(conn, rec.WorkerID, tag, []byte(rec.Name))
	}

	if deleteOnly {
		// delete removes the record even if the send fails (warn only);
		// see spec.md §9 Open Questions.
		outcome := "sent"
		if sendErr != nil {
			ix.logger.Warn("delete sent to unreachable worker, removing anyway",
				zap.String("container_id", containerID), zap.Error(sendErr))
			outcome = "sent_unreachable"
		}
		metrics.LifecycleCommands.WithLabelValues(tag.String(), outcome).Inc()
		delete(ix.containers, containerID)
		metrics.TrackedContainers.Set(float64(len(ix.containers)))
		return nil
	}

	if sendErr != nil {
		metrics.LifecycleCommands.WithLabelValues(tag.String(), "failed").Inc()
		return sendErr
	}
	metrics.LifecycleCommands.WithLabelValues(tag.String(), "sent").Inc()
	rec.State = onSuccess
	return nil
}

// Start emits START and locally transitions the record to Starting.
func (ix *Index) Start(containerID string) error {
	return ix.lifecycle(containerID, wire.TagStart, types.ContainerStarting, false)
}

// Stop emits STOP and locally transitions the record to Stopping.
func (ix *Index) Stop(containerID string) error {
	return ix.lifecycle(containerID, wire.TagStop, types.ContainerStopping, false)
}

// Delete emits DELETE and removes the record from the index even if the
// worker cannot be reached (spec.md §4.5, §9 Open Questions).
func (ix *Index) Delete(containerID string) error {
	return ix.lifecycle(containerID, wire.TagDelete, "", true)
}

// Status returns the current state of a container, or ContainerError for
// an unknown id (spec.md §4.5).
func (ix *Index) Status(containerID string) types.ContainerState {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rec, ok := ix.containers[containerID]
	if !ok {
		return types.ContainerError
	}
	return rec.State
}

// Get returns a copy of the container record, or false if unknown.
func (ix *Index) Get(containerID string) (types.ContainerRecord, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rec, ok := ix.containers[containerID]
	if !ok {
		return types.ContainerRecord{}, false
	}
	return *rec, true
}

// List returns a copy of every container record, for the command surface's
// "list containers".
func (ix *Index) List() []types.ContainerRecord {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]types.ContainerRecord, 0, len(ix.containers))
	for _, rec := range ix.containers {
		out = append(out, *rec)
	}
	return out
}

// ApplyStatus overwrites the index entry for a CONTAINER_STATUS report from
// its owning worker — the reconciling truth for the local intent
// transitions applied by Start/Stop/Deploy (spec.md §4.3, §8).
func (ix *Index) ApplyStatus(rec types.ContainerRecord) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cp := rec
	ix.containers[rec.ID] = &cp
	metrics.TrackedContainers.Set(float64(len(ix.containers)))
}
