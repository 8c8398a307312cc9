// Package placement chooses a worker for a new container from a registry
// snapshot (spec.md §4.4).
package placement

import (
	"time"

	"github.com/corral-io/corral/shared/types"
)

// score weights from spec.md §4.4. They sum to 1.0.
const (
	weightCPU       = 0.30
	weightMem       = 0.30
	weightDisk      = 0.20
	weightHeadroom  = 0.20
)

// Score computes the placement score for a single worker's resource
// sample, per spec.md §4.4:
//
//	score = 0.30·(100-cpu%) + 0.30·(100-mem%) + 0.20·(100-disk%)
//	      + 0.20·100·(1 - container_count/capacity)
func Score(s types.ResourceSample) float64 {
	headroom := 1.0
	if s.Capacity > 0 {
		headroom = 1.0 - float64(s.ContainerCount)/float64(s.Capacity)
	}
	return weightCPU*(100-s.CPUPercent) +
		weightMem*(100-s.MemPercent) +
		weightDisk*(100-s.DiskPercent) +
		weightHeadroom*100*headroom
}

// eligible reports whether a worker record may receive a new placement:
// Connected, a heartbeat within the liveness window, and spare capacity
// (spec.md §3 invariants 4–5).
func eligible(w types.WorkerRecord, now time.Time) bool {
	if w.State != types.WorkerConnected {
		return false
	}
	if now.Sub(w.LastHeartbeat) > types.LivenessWindow {
		return false
	}
	return w.LastSample.ContainerCount < w.LastSample.Capacity
}

// Choose picks the highest-scoring eligible worker from a registry
// snapshot, ties broken by earliest registered (spec.md §4.4). snapshot is
// assumed to be a stable, already-taken-under-lock copy — Choose itself
// performs no locking.
func Choose(snapshot []types.WorkerRecord, now time.Time) (types.WorkerRecord, error) {
	var (
		best      types.WorkerRecord
		bestScore float64
		found     bool
	)

	for _, w := range snapshot {
		if !eligible(w, now) {
			continue
		}
		s := Score(w.LastSample)
		switch {
		case !found:
			best, bestScore, found = w, s, true
		case s > bestScore:
			best, bestScore = w, s
		case s == bestScore && w.RegisteredAt.Before(best.RegisteredAt):
			best = w
		}
	}

	if !found {
		return types.WorkerRecord{}, types.ErrNoCandidate
	}
	return best, nil
}
