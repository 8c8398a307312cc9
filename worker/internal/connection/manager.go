// Package connection owns the worker's single TCP connection to the
// coordinator (spec.md §4.6): one dial, one REGISTER, then a heartbeat
// loop and a command loop sharing that connection for the rest of the
// process's life.
//
// Unlike a long-running agent that reconnects under backoff and persists
// its identity across restarts, a worker here makes exactly one connection
// attempt. Registration failure is fatal — the process exits non-zero
// (spec.md §6) rather than retrying, and nothing is written to disk: there
// is no state to resume, because persistence across restarts is explicitly
// out of scope. See DESIGN.md for why the reconnect/backoff machinery this
// package's predecessor had is not carried over.
package connection

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corral-io/corral/shared/types"
	"github.com/corral-io/corral/shared/wire"
	"github.com/corral-io/corral/worker/internal/driver"
	"github.com/corral-io/corral/worker/internal/executor"
)

// Manager owns the worker's connection to the coordinator and dispatches
// inbound lifecycle commands to an Executor. It implements
// executor.StatusReporter so the executor can report container state
// changes without knowing about the wire protocol.
type Manager struct {
	conn     net.Conn
	writeMu  sync.Mutex
	workerID string

	drv    driver.Driver
	exec   *executor.Executor
	logger *zap.Logger
}

// New creates a Manager. workerID is the stable identity this process
// presents on REGISTER (spec.md §4.6 convention: "<hostname>_<pid>",
// chosen by the caller).
func New(workerID string, drv driver.Driver, exec *executor.Executor, logger *zap.Logger) *Manager {
	return &Manager{
		workerID: workerID,
		drv:      drv,
		exec:     exec,
		logger:   logger.Named("connection"),
	}
}

// Connect dials the coordinator once and performs REGISTER. A dial
// failure, a transport error, or an ERROR reply from the coordinator are
// all fatal — the caller should exit non-zero (spec.md §6); there is no
// retry loop.
func (m *Manager) Connect(ctx context.Context, coordinatorAddr, hostname, advertisedIP, advertisedPort string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", coordinatorAddr)
	if err != nil {
		return fmt.Errorf("connection: dial %s: %w: %w", coordinatorAddr, types.ErrTransport, err)
	}
	m.conn = conn

	if err := m.send(wire.Message{
		Tag:         wire.TagRegister,
		SenderID:    m.workerID,
		RecipientID: "coordinator",
		Data:        wire.EncodeRegister(hostname, advertisedIP, advertisedPort),
	}); err != nil {
		conn.Close()
		return err
	}

	reply, err := wire.ReadMessage(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("connection: awaiting registration reply: %w", err)
	}
	if reply.Tag != wire.TagACK {
		conn.Close()
		return fmt.Errorf("connection: registration rejected: %s", string(reply.Data))
	}

	m.logger.Info("registered with coordinator",
		zap.String("worker_id", m.workerID),
		zap.String("coordinator_addr", coordinatorAddr),
	)
	return nil
}

// send serializes a write to the shared connection; both the heartbeat
// loop and the command loop's replies use it.
func (m *Manager) send(msg wire.Message) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return wire.WriteMessage(m.conn, msg)
}

// ReportContainerStatus implements executor.StatusReporter: it emits a
// CONTAINER_STATUS message for the given record.
func (m *Manager) ReportContainerStatus(rec types.ContainerRecord) {
	if err := m.send(wire.Message{
		Tag:         wire.TagContainerStatus,
		SenderID:    m.workerID,
		RecipientID: "coordinator",
		Data:        wire.EncodeContainerStatus(rec),
	}); err != nil {
		m.logger.Warn("failed to report container status", zap.String("container_id", rec.ID), zap.Error(err))
	}
}

// Run starts the heartbeat loop and blocks on the command loop until the
// connection ends or ctx is cancelled. It is the last call the caller
// makes after a successful Connect.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go m.heartbeatLoop(ctx)

	go func() {
		<-ctx.Done()
		m.conn.Close()
	}()

	return m.commandLoop()
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(types.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := m.drv.Sample(ctx)
			if err != nil {
				m.logger.Warn("resource sample failed", zap.Error(err))
				continue
			}
			if err := m.send(wire.Message{
				Tag:         wire.TagHeartbeat,
				SenderID:    m.workerID,
				RecipientID: "coordinator",
				Data:        wire.EncodeResourceSample(sample),
			}); err != nil {
				m.logger.Warn("heartbeat send failed", zap.Error(err))
			}
		}
	}
}

// commandLoop reads DEPLOY/START/STOP/DELETE messages until the connection
// fails, dispatching each to the executor and replying ACK or ERROR
// (spec.md §4.6).
func (m *Manager) commandLoop() error {
	for {
		msg, err := wire.ReadMessage(m.conn)
		if err != nil {
			m.logger.Info("connection to coordinator ended", zap.Error(err))
			return err
		}
		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg wire.Message) {
	ctx := context.Background()

	switch msg.Tag {
	case wire.TagDeploy:
		cfg, err := wire.DecodeContainerConfig(msg.Data)
		if err != nil {
			m.reply(msg, wire.TagError, []byte(err.Error()))
			return
		}
		ack, err := m.exec.Deploy(ctx, cfg)
		if err != nil {
			m.reply(msg, wire.TagError, []byte(err.Error()))
			return
		}
		m.reply(msg, wire.TagACK, []byte(ack))

	case wire.TagStart:
		name := string(msg.Data)
		if err := m.exec.Start(ctx, name, m); err != nil {
			m.reply(msg, wire.TagError, []byte(err.Error()))
			return
		}
		m.reply(msg, wire.TagACK, []byte("started"))

	case wire.TagStop:
		name := string(msg.Data)
		if err := m.exec.Stop(ctx, name, m); err != nil {
			m.reply(msg, wire.TagError, []byte(err.Error()))
			return
		}
		m.reply(msg, wire.TagACK, []byte("stopped"))

	case wire.TagDelete:
		name := string(msg.Data)
		if err := m.exec.Delete(ctx, name); err != nil {
			m.reply(msg, wire.TagError, []byte(err.Error()))
			return
		}
		m.reply(msg, wire.TagACK, []byte("deleted"))

	default:
		m.logger.Debug("ignoring message", zap.String("tag", msg.Tag.String()))
	}
}

func (m *Manager) reply(to wire.Message, tag wire.Tag, data []byte) {
	if err := m.send(wire.Message{Tag: tag, SenderID: m.workerID, RecipientID: to.SenderID, Data: data}); err != nil {
		m.logger.Warn("failed to send reply", zap.String("tag", tag.String()), zap.Error(err))
	}
}
