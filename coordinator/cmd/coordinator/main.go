package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corral-io/corral/coordinator/internal/containerindex"
	"github.com/corral-io/corral/coordinator/internal/metrics"
	"github.com/corral-io/corral/coordinator/internal/registry"
	"github.com/corral-io/corral/coordinator/internal/session"
	"github.com/corral-io/corral/coordinator/internal/shell"
	"github.com/corral-io/corral/coordinator/internal/stats"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// selfID is the sender_id the coordinator puts on every outbound message.
const selfID = "coordinator"

type config struct {
	listenAddr  string
	metricsAddr string
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "corral-coordinatord",
		Short: "Corral coordinator — cluster control plane for container workers",
		Long: `The coordinator accepts worker registrations, tracks their liveness and
resource utilization, places and tracks containers, and exposes an
interactive command surface for deploying and managing them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.listenAddr, "listen-addr", envOrDefault("CORRAL_LISTEN_ADDR", ":8888"), "Cluster protocol listen address for workers")
	root.PersistentFlags().StringVar(&cfg.metricsAddr, "metrics-addr", envOrDefault("CORRAL_METRICS_ADDR", ":9100"), "Prometheus /metrics listen address")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("CORRAL_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corral-coordinatord %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting corral coordinator",
		zap.String("version", version),
		zap.String("listen_addr", cfg.listenAddr),
		zap.String("metrics_addr", cfg.metricsAddr),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Registry and container index ---
	reg := registry.New(logger)
	index := containerindex.New(reg, selfID, logger)

	// --- 2. Cluster protocol listener ---
	ln, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.listenAddr, err)
	}

	sessionSrv := session.NewServer(reg, index, selfID, logger)
	go func() {
		if err := sessionSrv.Serve(ctx, ln); err != nil {
			logger.Error("session server error", zap.Error(err))
			cancel()
		}
	}()

	// --- 3. Metrics listener ---
	go func() {
		if err := metrics.Serve(ctx, cfg.metricsAddr); err != nil {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	// --- 4. Periodic cluster-stats log ---
	reporter, err := stats.New(reg, index, logger)
	if err != nil {
		return fmt.Errorf("failed to create stats reporter: %w", err)
	}
	if err := reporter.Start(); err != nil {
		return fmt.Errorf("failed to start stats reporter: %w", err)
	}
	defer func() {
		if err := reporter.Stop(); err != nil {
			logger.Warn("stats reporter shutdown error", zap.Error(err))
		}
	}()

	// --- 5. Command surface ---
	sh := shell.New(reg, index, logger)
	shellDone := make(chan error, 1)
	go func() { shellDone <- sh.Run() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down corral coordinator")
	case err := <-shellDone:
		cancel()
		if err != nil {
			logger.Warn("command surface read error", zap.Error(err))
		}
	}

	ln.Close()
	logger.Info("corral coordinator stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
