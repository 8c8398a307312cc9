package placement_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-io/corral/coordinator/internal/placement"
	"github.com/corral-io/corral/shared/types"
)

func TestScoreWeightsSumToOneAndIdleWorkerScoresMax(t *testing.T) {
	s := types.ResourceSample{CPUPercent: 0, MemPercent: 0, DiskPercent: 0, ContainerCount: 0, Capacity: 1}
	assert.InDelta(t, 100, placement.Score(s), 0.0001)
}

func TestScoreRankingPrefersLowerUtilization(t *testing.T) {
	// spec.md §8 scenario 3.
	a := types.ResourceSample{CPUPercent: 80, MemPercent: 80, DiskPercent: 80, ContainerCount: 10, Capacity: 50}
	b := types.ResourceSample{CPUPercent: 20, MemPercent: 20, DiskPercent: 20, ContainerCount: 10, Capacity: 50}

	assert.InDelta(t, 32, placement.Score(a), 0.0001)
	assert.InDelta(t, 80, placement.Score(b), 0.0001)
	assert.Greater(t, placement.Score(b), placement.Score(a))
}

func TestChoosePicksHighestScoringEligibleWorker(t *testing.T) {
	now := time.Now()
	snapshot := []types.WorkerRecord{
		{ID: "a", State: types.WorkerConnected, LastHeartbeat: now, RegisteredAt: now,
			LastSample: types.ResourceSample{CPUPercent: 80, MemPercent: 80, DiskPercent: 80, ContainerCount: 10, Capacity: 50}},
		{ID: "b", State: types.WorkerConnected, LastHeartbeat: now, RegisteredAt: now,
			LastSample: types.ResourceSample{CPUPercent: 20, MemPercent: 20, DiskPercent: 20, ContainerCount: 10, Capacity: 50}},
	}

	chosen, err := placement.Choose(snapshot, now)
	require.NoError(t, err)
	assert.Equal(t, "b", chosen.ID)
}

func TestChooseSkipsStaleWorker(t *testing.T) {
	// spec.md §8 scenario 2: heartbeat older than 30s is ineligible
	// regardless of utilization.
	now := time.Now()
	snapshot := []types.WorkerRecord{
		{ID: "a", State: types.WorkerConnected, LastHeartbeat: now, RegisteredAt: now,
			LastSample: types.ResourceSample{CPUPercent: 50, MemPercent: 50, DiskPercent: 50, ContainerCount: 0, Capacity: 10}},
		{ID: "stale-but-idle", State: types.WorkerConnected, LastHeartbeat: now.Add(-31 * time.Second), RegisteredAt: now,
			LastSample: types.ResourceSample{CPUPercent: 0, MemPercent: 0, DiskPercent: 0, ContainerCount: 0, Capacity: 10}},
	}

	chosen, err := placement.Choose(snapshot, now)
	require.NoError(t, err)
	assert.Equal(t, "a", chosen.ID)
}

func TestHeartbeatExactlyAtThirtySecondsIsEligible(t *testing.T) {
	now := time.Now()
	snapshot := []types.WorkerRecord{
		{ID: "a", State: types.WorkerConnected, LastHeartbeat: now.Add(-30 * time.Second), RegisteredAt: now,
			LastSample: types.ResourceSample{ContainerCount: 0, Capacity: 1}},
	}
	_, err := placement.Choose(snapshot, now)
	require.NoError(t, err)
}

func TestHeartbeatJustOverThirtySecondsIsIneligible(t *testing.T) {
	now := time.Now()
	snapshot := []types.WorkerRecord{
		{ID: "a", State: types.WorkerConnected, LastHeartbeat: now.Add(-30*time.Second - time.Millisecond), RegisteredAt: now,
			LastSample: types.ResourceSample{ContainerCount: 0, Capacity: 1}},
	}
	_, err := placement.Choose(snapshot, now)
	require.ErrorIs(t, err, types.ErrNoCandidate)
}

func TestChooseSkipsFullWorker(t *testing.T) {
	// spec.md §8 scenario 4: a full worker loses to a less-idle worker with
	// spare capacity.
	now := time.Now()
	snapshot := []types.WorkerRecord{
		{ID: "full", State: types.WorkerConnected, LastHeartbeat: now, RegisteredAt: now,
			LastSample: types.ResourceSample{CPUPercent: 10, MemPercent: 10, DiskPercent: 10, ContainerCount: 50, Capacity: 50}},
		{ID: "almost-full", State: types.WorkerConnected, LastHeartbeat: now, RegisteredAt: now,
			LastSample: types.ResourceSample{CPUPercent: 60, MemPercent: 60, DiskPercent: 60, ContainerCount: 49, Capacity: 50}},
	}

	chosen, err := placement.Choose(snapshot, now)
	require.NoError(t, err)
	assert.Equal(t, "almost-full", chosen.ID)
}

func TestChooseTieBreaksOnEarliestRegistered(t *testing.T) {
	now := time.Now()
	sample := types.ResourceSample{CPUPercent: 10, MemPercent: 10, DiskPercent: 10, ContainerCount: 1, Capacity: 10}
	snapshot := []types.WorkerRecord{
		{ID: "later", State: types.WorkerConnected, LastHeartbeat: now, RegisteredAt: now, LastSample: sample},
		{ID: "earlier", State: types.WorkerConnected, LastHeartbeat: now, RegisteredAt: now.Add(-time.Hour), LastSample: sample},
	}

	chosen, err := placement.Choose(snapshot, now)
	require.NoError(t, err)
	assert.Equal(t, "earlier", chosen.ID)
}

func TestChooseReturnsNoCandidateWhenSetEmpty(t *testing.T) {
	_, err := placement.Choose(nil, time.Now())
	require.ErrorIs(t, err, types.ErrNoCandidate)
}
