// Package stats periodically logs a snapshot of cluster state: connected
// worker count, aggregate resource utilization, and tracked container
// count. It wraps gocron the same way the teacher's job scheduler did,
// reduced to a single recurring tick since this domain has no per-policy
// job concept.
package stats

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/corral-io/corral/coordinator/internal/containerindex"
	"github.com/corral-io/corral/coordinator/internal/registry"
	"github.com/corral-io/corral/shared/types"
)

// TickInterval is how often the cluster snapshot is logged.
const TickInterval = 30 * time.Second

// Reporter wraps gocron and logs a cluster snapshot on every tick.
// The zero value is not usable — create instances with New.
type Reporter struct {
	cron   gocron.Scheduler
	reg    *registry.Registry
	index  *containerindex.Index
	logger *zap.Logger
}

// New creates and configures a new Reporter. Call Start to begin ticking.
func New(reg *registry.Registry, index *containerindex.Index, logger *zap.Logger) (*Reporter, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("stats: create scheduler: %w", err)
	}

	return &Reporter{
		cron:   s,
		reg:    reg,
		index:  index,
		logger: logger.Named("stats"),
	}, nil
}

// Start registers the recurring snapshot job and starts the underlying
// gocron scheduler.
func (r *Reporter) Start() error {
	_, err := r.cron.NewJob(
		gocron.DurationJob(TickInterval),
		gocron.NewTask(r.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("stats: schedule tick job: %w", err)
	}
	r.cron.Start()
	r.logger.Info("stats reporter started", zap.Duration("interval", TickInterval))
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler.
func (r *Reporter) Stop() error {
	if err := r.cron.Shutdown(); err != nil {
		return fmt.Errorf("stats: shutdown: %w", err)
	}
	r.logger.Info("stats reporter stopped")
	return nil
}

// tick logs one cluster snapshot. It is the task body invoked by gocron on
// every interval.
func (r *Reporter) tick() {
	now := time.Now()
	snapshot := r.reg.Snapshot()

	connected, stale := 0, 0
	var cpuSum, memSum, diskSum float64
	var containerCount, capacitySum int

	for _, w := range snapshot {
		if w.State != types.WorkerConnected {
			continue
		}
		connected++
		if now.Sub(w.LastHeartbeat) > types.LivenessWindow {
			stale++
		}
		cpuSum += w.LastSample.CPUPercent
		memSum += w.LastSample.MemPercent
		diskSum += w.LastSample.DiskPercent
		containerCount += w.LastSample.ContainerCount
		capacitySum += w.LastSample.Capacity
	}

	fields := []zap.Field{
		zap.Int("workers_total", len(snapshot)),
		zap.Int("workers_connected", connected),
		zap.Int("workers_stale", stale),
		zap.Int("containers_tracked", len(r.index.List())),
		zap.Int("worker_container_count", containerCount),
		zap.Int("worker_capacity_total", capacitySum),
	}
	if connected > 0 {
		fields = append(fields,
			zap.Float64("avg_cpu_percent", cpuSum/float64(connected)),
			zap.Float64("avg_mem_percent", memSum/float64(connected)),
			zap.Float64("avg_disk_percent", diskSum/float64(connected)),
		)
	}

	r.logger.Info("cluster snapshot", fields...)
}
