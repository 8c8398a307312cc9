// Package main is the entry point for the corral worker binary. It wires
// the driver, executor, and connection manager together and runs the
// single-shot registration + heartbeat/command loop described in
// spec.md §4.6.
//
// Startup sequence:
//  1. Parse CLI flags / positional args (coordinator_ip, coordinator_port)
//  2. Build logger
//  3. Connect to the local container runtime (Docker)
//  4. Build executor and connection manager
//  5. Dial the coordinator, REGISTER — exit 1 on any failure (when no
//     advertise IP is given, a short probe dial precedes this one)
//  6. Run the heartbeat + command loop until SIGINT/SIGTERM or the
//     connection ends
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

	"github.com/corral-io/corral/worker/internal/connection"
	"github.com/corral-io/corral/worker/internal/driver"
	"github.com/corral-io/corral/worker/internal/executor"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	capacity      int
	dockerSocket  string
	advertiseIP   string
	advertisePort string
	logLevel      string
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
		Use:   "corral-worker <coordinator_ip> <coordinator_port>",
		Short: "Corral worker — runs containers on behalf of the coordinator",
		Long: `The worker connects once to the coordinator, registers itself, and then
runs a heartbeat loop and a command loop over the same connection,
creating, starting, stopping, and destroying containers on request.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, args[0], args[1])
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().IntVar(&cfg.capacity, "capacity", envOrDefaultInt("CORRAL_CAPACITY", 50), "Maximum number of containers this worker accepts")
	root.PersistentFlags().StringVar(&cfg.dockerSocket, "docker-socket", envOrDefault("CORRAL_DOCKER_SOCKET", ""), "Docker socket path (empty = SDK default)")
	root.PersistentFlags().StringVar(&cfg.advertiseIP, "advertise-ip", envOrDefault("CORRAL_ADVERTISE_IP", ""), "IP advertised to the coordinator on REGISTER (empty = detect from the outbound connection)")
	root.PersistentFlags().StringVar(&cfg.advertisePort, "advertise-port", envOrDefault("CORRAL_ADVERTISE_PORT", "0"), "Port advertised to the coordinator on REGISTER (the worker does not itself listen)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("CORRAL_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corral-worker %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config, coordinatorIP, coordinatorPort string) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	workerID := fmt.Sprintf("%s_%d", hostname, os.Getpid())

	coordinatorAddr := net.JoinHostPort(coordinatorIP, coordinatorPort)

	logger.Info("starting corral worker",
		zap.String("version", version),
		zap.String("worker_id", workerID),
		zap.String("coordinator", coordinatorAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	drv, err := driver.NewDocker(cfg.dockerSocket, cfg.capacity)
	if err != nil {
		return fmt.Errorf("failed to connect to container runtime: %w", err)
	}
	defer drv.Close() //nolint:errcheck

	exec := executor.New(drv, workerID, logger)
	mgr := connection.New(workerID, drv, exec, logger)

	advertiseIP := cfg.advertiseIP
	if advertiseIP == "" {
		advertiseIP = detectOutboundIP(coordinatorAddr)
	}

	if err := mgr.Connect(ctx, coordinatorAddr, hostname, advertiseIP, cfg.advertisePort); err != nil {
		return fmt.Errorf("failed to register with coordinator: %w", err)
	}

	if err := mgr.Run(ctx); err != nil {
		logger.Info("connection to coordinator ended", zap.Error(err))
		if ctx.Err() == nil {
			return fmt.Errorf("connection to coordinator lost: %w", err)
		}
	}

	logger.Info("corral worker stopped")
	return nil
}

// detectOutboundIP dials the coordinator briefly to learn which local
// address the OS would route through, then closes it — Connect performs
// the real, separate dial afterward. Falls back to "0.0.0.0" if this probe
// fails; the real dial in Connect then surfaces the actual error.
func detectOutboundIP(addr string) string {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "0.0.0.0"
	}
	defer conn.Close()
	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return "0.0.0.0"
	}
	return local.IP.String()
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

func envOrDefaultInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
