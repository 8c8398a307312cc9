// Package session implements the coordinator side of the per-worker
// session protocol (spec.md §4.3): one handler per accepted connection,
// reading messages until end of stream and dispatching them against the
// registry and container index.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/corral-io/corral/coordinator/internal/containerindex"
	"github.com/corral-io/corral/coordinator/internal/registry"
	"github.com/corral-io/corral/shared/types"
	"github.com/corral-io/corral/shared/wire"
)

// Server accepts worker connections and spawns one Handler per connection.
// The zero value is not usable — create instances with NewServer.
type Server struct {
	reg    *registry.Registry
	index  *containerindex.Index
	selfID string
	logger *zap.Logger
}

// NewServer creates a Server bound to the given registry and container
// index.
func NewServer(reg *registry.Registry, index *containerindex.Index, selfID string, logger *zap.Logger) *Server {
	return &Server{reg: reg, index: index, selfID: selfID, logger: logger.Named("session")}
}

// Serve runs the acceptor loop: one goroutine blocked on ln.Accept, one
// Handler goroutine per connection. Blocks until ctx is cancelled or
// Accept returns an error; Accept errors are not retried.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session: accept: %w", err)
		}
		h := newHandler(conn, s.reg, s.index, s.selfID, s.logger)
		go h.serve()
	}
}

// handler owns one connection until end of stream (spec.md §4.3).
type handler struct {
	conn     *registry.Conn
	reg      *registry.Registry
	index    *containerindex.Index
	selfID   string
	logger   *zap.Logger
	workerID string // bound once REGISTER succeeds; empty until then
}

func newHandler(raw net.Conn, reg *registry.Registry, index *containerindex.Index, selfID string, logger *zap.Logger) *handler {
	return &handler{
		conn:   registry.NewConn(raw),
		reg:    reg,
		index:  index,
		selfID: selfID,
		logger: logger,
	}
}

// serve is the per-connection read/dispatch loop (spec.md §4.3).
func (h *handler) serve() {
	defer func() {
		if h.workerID != "" {
			h.reg.CloseConnection(h.workerID)
		}
		h.conn.Raw().Close()
	}()

	for {
		msg, err := wire.ReadMessage(h.conn.Raw())
		if err != nil {
			if h.workerID != "" {
				h.logger.Info("session ended", zap.String("worker_id", h.workerID), zap.Error(err))
			} else if !errors.Is(err, types.ErrTransport) {
				h.logger.Warn("session read failed before registration", zap.Error(err))
			}
			return
		}

		if err := h.dispatch(msg); err != nil {
			h.logger.Warn("dispatch failed",
				zap.String("tag", msg.Tag.String()),
				zap.String("sender_id", msg.SenderID),
				zap.Error(err),
			)
		}
	}
}

func (h *handler) dispatch(msg wire.Message) error {
	switch msg.Tag {
	case wire.TagRegister:
		return h.handleRegister(msg)
	case wire.TagHeartbeat:
		return h.handleHeartbeat(msg)
	case wire.TagContainerStatus:
		return h.handleContainerStatus(msg)
	case wire.TagError:
		h.logger.Warn("worker reported error",
			zap.String("worker_id", msg.SenderID),
			zap.String("message", string(msg.Data)),
		)
		return nil
	default:
		// ACK and anything unrecognized: log and continue, per spec.md §4.3.
		h.logger.Debug("ignoring message", zap.String("tag", msg.Tag.String()), zap.String("sender_id", msg.SenderID))
		return nil
	}
}

func (h *handler) handleRegister(msg wire.Message) error {
	hostname, ip, port, err := wire.DecodeRegister(msg.Data)
	if err != nil {
		return h.conn.Send(wire.Message{Tag: wire.TagError, SenderID: h.selfID, RecipientID: msg.SenderID, Data: []byte(err.Error())})
	}

	address := fmt.Sprintf("%s:%s", ip, port)
	if _, err := h.reg.Upsert(msg.SenderID, hostname, address); err != nil {
		return h.conn.Send(wire.Message{Tag: wire.TagError, SenderID: h.selfID, RecipientID: msg.SenderID, Data: []byte(err.Error())})
	}

	h.workerID = msg.SenderID
	h.reg.BindConnection(h.workerID, h.conn)

	return h.conn.Send(wire.Message{
		Tag:         wire.TagACK,
		SenderID:    h.selfID,
		RecipientID: h.workerID,
		Data:        []byte("registered"),
	})
}

func (h *handler) handleHeartbeat(msg wire.Message) error {
	if len(msg.Data) < wire.MinResourceSampleSize {
		return nil
	}
	sample, err := wire.DecodeResourceSample(msg.Data)
	if err != nil {
		return err
	}
	h.reg.Touch(msg.SenderID, sample)
	return nil
}

func (h *handler) handleContainerStatus(msg wire.Message) error {
	rec, err := wire.DecodeContainerStatus(msg.Data)
	if err != nil {
		return err
	}
	h.index.ApplyStatus(rec)
	return nil
}
