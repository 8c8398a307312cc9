// Package shell implements the coordinator's interactive command surface
// (spec.md §4.7): a line-oriented REPL reading "deploy <path>", "start
// <id>", "stop <id>", "delete <id>", "list containers", "list nodes", and
// "quit" from an input stream.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/corral-io/corral/coordinator/internal/containerindex"
	"github.com/corral-io/corral/coordinator/internal/metrics"
	"github.com/corral-io/corral/coordinator/internal/placement"
	"github.com/corral-io/corral/coordinator/internal/registry"
	"github.com/corral-io/corral/shared/config"
	"github.com/corral-io/corral/shared/types"
)

// Prompt is printed before each read, per spec.md §6.
const Prompt = "coordinator> "

// Shell reads commands from r and writes responses to w.
// The zero value is not usable — create instances with New.
type Shell struct {
	reg    *registry.Registry
	index  *containerindex.Index
	logger *zap.Logger
	in     io.Reader
	out    io.Writer
}

// New creates a Shell reading from stdin and writing to stdout, for use by
// the coordinator binary.
func New(reg *registry.Registry, index *containerindex.Index, logger *zap.Logger) *Shell {
	return NewWithIO(reg, index, logger, os.Stdin, os.Stdout)
}

// NewWithIO creates a Shell over an arbitrary input/output pair, for tests
// and embedding.
func NewWithIO(reg *registry.Registry, index *containerindex.Index, logger *zap.Logger, in io.Reader, out io.Writer) *Shell {
	return &Shell{reg: reg, index: index, logger: logger.Named("shell"), in: in, out: out}
}

// Run reads commands until "quit", EOF, or a read error. Returns nil on a
// clean quit or EOF.
func (s *Shell) Run() error {
	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, Prompt)
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" {
			return nil
		}
		s.dispatch(line)
	}
}

func (s *Shell) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]

	switch {
	case cmd == "deploy" && len(fields) == 2:
		s.deploy(fields[1])
	case cmd == "start" && len(fields) == 2:
		s.lifecycle("start", fields[1], s.index.Start)
	case cmd == "stop" && len(fields) == 2:
		s.lifecycle("stop", fields[1], s.index.Stop)
	case cmd == "delete" && len(fields) == 2:
		s.lifecycle("delete", fields[1], s.index.Delete)
	case cmd == "list" && len(fields) == 2 && fields[1] == "containers":
		s.listContainers()
	case cmd == "list" && len(fields) == 2 && fields[1] == "nodes":
		s.listNodes()
	default:
		fmt.Fprintf(s.out, "unrecognized command: %s\n", line)
	}
}

func (s *Shell) deploy(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(s.out, "error: reading %s: %v\n", path, err)
		return
	}

	cfg, err := config.Parse(data)
	if err != nil {
		fmt.Fprintf(s.out, "error: parsing %s: %v\n", path, err)
		return
	}

	chosen, err := placement.Choose(s.reg.Snapshot(), time.Now())
	if err != nil {
		metrics.PlacementDecisions.WithLabelValues("no_candidate").Inc()
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	metrics.PlacementDecisions.WithLabelValues("placed").Inc()

	rec, err := s.index.Deploy(chosen.ID, cfg)
	if err != nil {
		fmt.Fprintf(s.out, "error: deploy to %s: %v\n", chosen.ID, err)
		return
	}

	fmt.Fprintf(s.out, "deployed %s on %s\n", rec.ID, chosen.ID)
}

func (s *Shell) lifecycle(verb, containerID string, fn func(string) error) {
	if err := fn(containerID); err != nil {
		fmt.Fprintf(s.out, "error: %s %s: %v\n", verb, containerID, err)
		return
	}
	fmt.Fprintf(s.out, "%s: ok\n", containerID)
}

func (s *Shell) listContainers() {
	recs := s.index.List()
	if len(recs) == 0 {
		fmt.Fprintln(s.out, "no containers")
		return
	}
	for _, rec := range recs {
		fmt.Fprintf(s.out, "%-24s %-10s worker=%-16s image=%-24s created=%s\n",
			rec.ID, rec.State, rec.WorkerID, rec.Config.Image, humanize.Time(rec.CreatedAt))
	}
}

func (s *Shell) listNodes() {
	workers := s.reg.Snapshot()
	if len(workers) == 0 {
		fmt.Fprintln(s.out, "no workers")
		return
	}
	for _, w := range workers {
		fmt.Fprintf(s.out, "%-16s %-12s heartbeat=%-14s cpu=%.0f%% mem=%.0f%% disk=%.0f%% containers=%d/%d\n",
			w.ID, w.State, humanize.Time(w.LastHeartbeat),
			w.LastSample.CPUPercent, w.LastSample.MemPercent, w.LastSample.DiskPercent,
			w.LastSample.ContainerCount, w.LastSample.Capacity)
	}
}
