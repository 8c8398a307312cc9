// Package types defines the shared domain types used by both the
// coordinator and the worker: worker records, container records, resource
// samples, and the error kinds raised across the control plane.
package types

import (
	"errors"
	"time"
)

// ─── Worker ──────────────────────────────────────────────────────────────────

// WorkerState is the lifecycle state of a worker as observed by the
// coordinator.
type WorkerState string

const (
	WorkerDisconnected WorkerState = "disconnected"
	WorkerConnecting   WorkerState = "connecting"
	WorkerConnected    WorkerState = "connected"
	WorkerBusy         WorkerState = "busy"
	WorkerError        WorkerState = "error"
)

// ResourceSample is a point-in-time snapshot of a worker's host resource
// utilization, reported on every HEARTBEAT.
type ResourceSample struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemPercent     float64 `json:"mem_percent"`
	DiskPercent    float64 `json:"disk_percent"`
	ContainerCount int     `json:"container_count"`
	Capacity       int     `json:"capacity"`
}

// WorkerRecord is the coordinator's authoritative bookkeeping entry for a
// single worker. ID is the stable string the worker chose at first contact
// (spec.md §3 invariant 1): re-registration with an existing ID updates the
// record in place.
type WorkerRecord struct {
	ID            string
	Hostname      string
	Address       string // advertised ip:port
	State         WorkerState
	LastSample    ResourceSample
	LastHeartbeat time.Time
	RegisteredAt  time.Time
	Containers    []string // container ids placed on this worker, local view
}

// ─── Container ───────────────────────────────────────────────────────────────

// ContainerState is the lifecycle state of a container as carried in the
// coordinator's container index (the authoritative view, spec.md §3
// invariant 3).
type ContainerState string

const (
	ContainerStopped  ContainerState = "stopped"
	ContainerStarting ContainerState = "starting"
	ContainerRunning  ContainerState = "running"
	ContainerStopping ContainerState = "stopping"
	ContainerError    ContainerState = "error"
)

// ContainerConfig is the configuration snapshot parsed from a declarative
// container description (spec.md §4.8 / §6). Environment, Mounts, and
// Network are carried as opaque length-prefixed byte blobs on the wire —
// here they are the already-parsed key/value pairs.
type ContainerConfig struct {
	Name          string            `json:"name"`
	Image         string            `json:"image"`
	Config        string            `json:"config"`
	CPULimit      int               `json:"cpu_limit"`
	MemoryLimitMB int               `json:"memory_limit"`
	Privileged    bool              `json:"privileged"`
	Environment   map[string]string `json:"environment,omitempty"`
	Mounts        []string          `json:"mounts,omitempty"`
	Network       string            `json:"network,omitempty"`
}

// ContainerRecord is the coordinator's authoritative entry for a deployed
// container. ID is always "<WorkerID>_<Name>".
type ContainerRecord struct {
	ID        string
	Name      string
	WorkerID  string
	State     ContainerState
	Config    ContainerConfig
	CreatedAt time.Time
	StartedAt time.Time
}

// ContainerID derives the globally unique container id from its owning
// worker and name, per spec.md §3.
func ContainerID(workerID, name string) string {
	return workerID + "_" + name
}

// ─── Error kinds ─────────────────────────────────────────────────────────────
//
// spec.md §7 describes these as a taxonomy of kinds, not a type hierarchy.
// They are represented as sentinel errors checked with errors.Is, following
// the teacher's fmt.Errorf("...: %w", err) wrapping idiom.

var (
	// ErrTransport covers short reads/writes, framing mismatches, and a
	// peer closing the connection.
	ErrTransport = errors.New("transport error")
	// ErrNoCandidate is returned by placement when no worker is eligible.
	ErrNoCandidate = errors.New("no candidate worker")
	// ErrUnknown covers a referenced container or worker id that does not
	// exist.
	ErrUnknown = errors.New("unknown id")
	// ErrCapacity covers the registry or container index being full.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrRuntimeFailure covers the local driver failing to
	// create/start/stop/destroy a container.
	ErrRuntimeFailure = errors.New("runtime failure")
	// ErrMalformed covers an unparseable REGISTER payload or container
	// configuration.
	ErrMalformed = errors.New("malformed payload")
)

// Capacity limits from spec.md §3/§7.
const (
	MaxWorkers    = 256
	MaxContainers = 1024
)

// LivenessWindow is the heartbeat staleness bound from spec.md §3
// invariant 4 / §4.4.
const LivenessWindow = 30 * time.Second

// HeartbeatInterval is how often a worker emits a HEARTBEAT, spec.md §4.6.
const HeartbeatInterval = 10 * time.Second
