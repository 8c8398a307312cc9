package connection_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corral-io/corral/shared/types"
	"github.com/corral-io/corral/shared/wire"
	"github.com/corral-io/corral/worker/internal/connection"
	"github.com/corral-io/corral/worker/internal/executor"
)

type fakeDriver struct{}

func (fakeDriver) Create(context.Context, types.ContainerConfig) (string, error) { return "", nil }
func (fakeDriver) Start(context.Context, string) error                           { return nil }
func (fakeDriver) Stop(context.Context, string) error                           { return nil }
func (fakeDriver) Destroy(context.Context, string) error                        { return nil }
func (fakeDriver) Sample(context.Context) (types.ResourceSample, error) {
	return types.ResourceSample{CPUPercent: 1, Capacity: 4}, nil
}

func TestConnectSendsRegisterAndWaitsForACK(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	exec := executor.New(fakeDriver{}, "w1", zap.NewNop())
	mgr := connection.New("w1", fakeDriver{}, exec, zap.NewNop())

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- mgr.Connect(context.Background(), ln.Addr().String(), "host1", "127.0.0.1", "7000")
	}()

	serverConn := <-accepted
	defer serverConn.Close()

	msg, err := wire.ReadMessage(serverConn)
	require.NoError(t, err)
	assert.Equal(t, wire.TagRegister, msg.Tag)
	assert.Equal(t, "w1", msg.SenderID)

	hostname, ip, port, err := wire.DecodeRegister(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, "host1", hostname)
	assert.Equal(t, "127.0.0.1", ip)
	assert.Equal(t, "7000", port)

	require.NoError(t, wire.WriteMessage(serverConn, wire.Message{
		Tag: wire.TagACK, SenderID: "coordinator", RecipientID: "w1", Data: []byte("registered"),
	}))

	require.NoError(t, <-connectErr)
}

func TestConnectFailsOnRejection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		if _, err := wire.ReadMessage(c); err != nil {
			return
		}
		wire.WriteMessage(c, wire.Message{Tag: wire.TagError, SenderID: "coordinator", RecipientID: "w1", Data: []byte("registry full")})
	}()

	exec := executor.New(fakeDriver{}, "w1", zap.NewNop())
	mgr := connection.New("w1", fakeDriver{}, exec, zap.NewNop())

	err = mgr.Connect(context.Background(), ln.Addr().String(), "host1", "127.0.0.1", "7000")
	assert.Error(t, err)
}

func TestRunDispatchesDeployAndReplies(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	exec := executor.New(fakeDriver{}, "w1", zap.NewNop())
	mgr := connection.New("w1", fakeDriver{}, exec, zap.NewNop())

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- mgr.Connect(context.Background(), ln.Addr().String(), "host1", "127.0.0.1", "7000")
	}()

	serverConn := <-accepted
	defer serverConn.Close()

	if _, err := wire.ReadMessage(serverConn); err != nil {
		t.Fatalf("read register: %v", err)
	}
	require.NoError(t, wire.WriteMessage(serverConn, wire.Message{
		Tag: wire.TagACK, SenderID: "coordinator", RecipientID: "w1", Data: []byte("registered"),
	}))
	require.NoError(t, <-connectErr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	cfg := types.ContainerConfig{Name: "web", Image: "nginx"}
	require.NoError(t, wire.WriteMessage(serverConn, wire.Message{
		Tag: wire.TagDeploy, SenderID: "coordinator", RecipientID: "w1", Data: wire.EncodeContainerConfig(cfg),
	}))

	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := wire.ReadMessage(serverConn)
	require.NoError(t, err)
	assert.Equal(t, wire.TagACK, reply.Tag)
	assert.Equal(t, "deployed", string(reply.Data))
}
