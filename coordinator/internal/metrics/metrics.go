// Package metrics exposes coordinator runtime counters via
// prometheus/client_golang, served on a dedicated HTTP listener separate
// from the worker wire protocol.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedWorkers tracks the number of workers currently in the
	// Connected state.
	ConnectedWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_connected_workers",
			Help: "Number of workers currently connected to the coordinator.",
		},
	)

	// TrackedContainers tracks the total number of container records held
	// in the container index, regardless of state.
	TrackedContainers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_tracked_containers",
			Help: "Number of container records held in the coordinator's index.",
		},
	)

	// PlacementDecisions counts placement outcomes by result.
	PlacementDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_placement_decisions_total",
			Help: "Total placement decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// WorkerRegistrations counts REGISTER messages processed, by outcome.
	WorkerRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_worker_registrations_total",
			Help: "Total REGISTER messages processed by outcome.",
		},
		[]string{"outcome"},
	)

	// LifecycleCommands counts DEPLOY/START/STOP/DELETE sends by tag and
	// outcome.
	LifecycleCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_lifecycle_commands_total",
			Help: "Total lifecycle commands sent to workers, by command and outcome.",
		},
		[]string{"command", "outcome"},
	)
)

// Serve runs the /metrics HTTP endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
