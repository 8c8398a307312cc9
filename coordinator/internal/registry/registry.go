// Package registry is the coordinator's process-wide directory of known
// workers and their last observed state (spec.md §4.2).
//
// All methods are serialized under a single registry-wide mutex; Snapshot
// returns a by-value copy suitable for decision-making (placement) outside
// the lock, per spec.md §5.
package registry

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corral-io/corral/coordinator/internal/metrics"
	"github.com/corral-io/corral/shared/types"
	"github.com/corral-io/corral/shared/wire"
)

// Conn wraps a worker's open stream connection with the write mutex that
// serializes every message sent to it — the session handler's REGISTER ack
// and the container index's lifecycle commands can both write to the same
// connection, so writes must be serialized per spec.md §5.
type Conn struct {
	raw net.Conn
	mu  sync.Mutex
}

// NewConn wraps a freshly accepted connection.
func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw}
}

// Raw returns the underlying net.Conn for reading. Only the session
// handler's single read loop reads from a connection, so reads need no
// locking of their own.
func (c *Conn) Raw() net.Conn { return c.raw }

// Send writes msg to the connection under the write mutex.
func (c *Conn) Send(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteMessage(c.raw, msg)
}

// entry pairs a worker's persisted record with its live connection handle.
// The connection handle is ephemeral: CloseConnection clears it but the
// record itself is retained (spec.md §3 Lifecycles).
type entry struct {
	record types.WorkerRecord
	conn   *Conn
}

// Registry is the in-memory directory of worker records.
// The zero value is not usable — create instances with New.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*entry
	logger  *zap.Logger
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		workers: make(map[string]*entry),
		logger:  logger.Named("registry"),
	}
}

// Upsert creates a new worker record (when capacity permits) or, if id is
// already known, overwrites hostname/address, sets state Connected, and
// resets last_heartbeat to now — it never duplicates an id (spec.md §3
// invariant 1, §4.2).
func (r *Registry) Upsert(id, hostname, address string) (types.WorkerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	e, exists := r.workers[id]
	if !exists {
		if len(r.workers) >= types.MaxWorkers {
			r.logger.Warn("registry full, rejecting registration",
				zap.String("worker_id", id),
				zap.Int("capacity", types.MaxWorkers),
			)
			metrics.WorkerRegistrations.WithLabelValues("rejected_capacity").Inc()
			return types.WorkerRecord{}, types.ErrCapacity
		}
		e = &entry{record: types.WorkerRecord{ID: id, RegisteredAt: now}}
		r.workers[id] = e
		r.logger.Info("worker registered",
			zap.String("worker_id", id),
			zap.String("hostname", hostname),
			zap.Int("total", len(r.workers)),
		)
		metrics.WorkerRegistrations.WithLabelValues("registered").Inc()
	} else {
		r.logger.Info("worker re-registered",
			zap.String("worker_id", id),
			zap.String("hostname", hostname),
		)
		metrics.WorkerRegistrations.WithLabelValues("re_registered").Inc()
	}

	e.record.Hostname = hostname
	e.record.Address = address
	e.record.State = types.WorkerConnected
	e.record.LastHeartbeat = now

	metrics.ConnectedWorkers.Set(float64(r.countConnectedLocked()))

	return e.record, nil
}

// countConnectedLocked counts workers in the Connected state. Callers must
// hold r.mu.
func (r *Registry) countConnectedLocked() int {
	n := 0
	for _, e := range r.workers {
		if e.record.State == types.WorkerConnected {
			n++
		}
	}
	return n
}

// Find returns a by-value copy of the worker record for id, or false if no
// such worker is known.
func (r *Registry) Find(id string) (types.WorkerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok {
		return types.WorkerRecord{}, false
	}
	return e.record, true
}

// Remove deletes a worker record entirely. This is the operator-initiated
// "unregister" of spec.md §3 Lifecycles — connection close alone must not
// call this (use CloseConnection instead).
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[id]; !ok {
		return false
	}
	delete(r.workers, id)
	r.logger.Info("worker unregistered", zap.String("worker_id", id))
	metrics.ConnectedWorkers.Set(float64(r.countConnectedLocked()))
	return true
}

// Snapshot returns a consistent by-value copy of every known worker record,
// taken under the registry's exclusion discipline (spec.md §3 invariant 6).
// Callers operate on this copy outside the lock.
func (r *Registry) Snapshot() []types.WorkerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.WorkerRecord, 0, len(r.workers))
	for _, e := range r.workers {
		out = append(out, e.record)
	}
	return out
}

// Touch records a HEARTBEAT: it sets state Connected, updates the resource
// sample, and resets last_heartbeat to now (spec.md §4.2). Returns false if
// id is not known.
func (r *Registry) Touch(id string, sample types.ResourceSample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok {
		return false
	}
	e.record.State = types.WorkerConnected
	e.record.LastSample = sample
	e.record.LastHeartbeat = time.Now()
	metrics.ConnectedWorkers.Set(float64(r.countConnectedLocked()))
	return true
}

// BindConnection associates an open connection handle with a worker record.
// Called by the session handler immediately after a successful REGISTER.
func (r *Registry) BindConnection(id string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.workers[id]; ok {
		e.conn = conn
	}
}

// CloseConnection moves a worker record to Disconnected and clears its
// connection handle; the record itself is retained so its containers
// remain inspectable (spec.md §4.2, §9 Design Notes).
func (r *Registry) CloseConnection(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok {
		return
	}
	e.conn = nil
	e.record.State = types.WorkerDisconnected
	r.logger.Info("worker disconnected", zap.String("worker_id", id))
	metrics.ConnectedWorkers.Set(float64(r.countConnectedLocked()))
}

// Connection returns the live connection handle for id, or nil if the
// worker is not known or currently disconnected.
func (r *Registry) Connection(id string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok {
		return nil
	}
	return e.conn
}

// AppendContainer records containerID in the worker's local view, mirrored
// from the coordinator's container index on successful deploy.
func (r *Registry) AppendContainer(workerID, containerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[workerID]
	if !ok {
		return
	}
	e.record.Containers = append(e.record.Containers, containerID)
}
