package session_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corral-io/corral/coordinator/internal/containerindex"
	"github.com/corral-io/corral/coordinator/internal/registry"
	"github.com/corral-io/corral/coordinator/internal/session"
	"github.com/corral-io/corral/shared/types"
	"github.com/corral-io/corral/shared/wire"
)

func startServer(t *testing.T, reg *registry.Registry, ix *containerindex.Index) (net.Addr, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := session.NewServer(reg, ix, "coordinator", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)

	return ln.Addr(), func() {
		cancel()
		ln.Close()
	}
}

func TestRegisterRoundTripYieldsACKAndRegistersWorker(t *testing.T) {
	reg := registry.New(zap.NewNop())
	ix := containerindex.New(reg, "coordinator", zap.NewNop())
	addr, stop := startServer(t, reg, ix)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteMessage(conn, wire.Message{
		Tag: wire.TagRegister, SenderID: "w1", RecipientID: "coordinator",
		Data: wire.EncodeRegister("host1", "10.0.0.5", "7000"),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, wire.TagACK, reply.Tag)
	assert.Equal(t, "registered", string(reply.Data))

	rec, ok := reg.Find("w1")
	require.True(t, ok)
	assert.Equal(t, "host1", rec.Hostname)
	assert.Equal(t, "10.0.0.5:7000", rec.Address)
	assert.Equal(t, types.WorkerConnected, rec.State)
}

func TestReRegisterOnNewConnectionUpdatesAddress(t *testing.T) {
	// spec.md §8 scenario 6: re-registration overwrites hostname/address
	// rather than creating a duplicate record.
	reg := registry.New(zap.NewNop())
	ix := containerindex.New(reg, "coordinator", zap.NewNop())
	addr, stop := startServer(t, reg, ix)
	defer stop()

	register := func(ip string) {
		conn, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, wire.WriteMessage(conn, wire.Message{
			Tag: wire.TagRegister, SenderID: "w1", RecipientID: "coordinator",
			Data: wire.EncodeRegister("host1", ip, "7000"),
		}))
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		reply, err := wire.ReadMessage(conn)
		require.NoError(t, err)
		require.Equal(t, wire.TagACK, reply.Tag)
	}

	register("10.0.0.5")
	register("10.0.0.6")

	rec, ok := reg.Find("w1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.6:7000", rec.Address)
}

func TestHeartbeatUpdatesResourceSample(t *testing.T) {
	reg := registry.New(zap.NewNop())
	ix := containerindex.New(reg, "coordinator", zap.NewNop())
	addr, stop := startServer(t, reg, ix)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteMessage(conn, wire.Message{
		Tag: wire.TagRegister, SenderID: "w1", RecipientID: "coordinator",
		Data: wire.EncodeRegister("host1", "10.0.0.5", "7000"),
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = wire.ReadMessage(conn)
	require.NoError(t, err)

	sample := types.ResourceSample{CPUPercent: 42, MemPercent: 10, DiskPercent: 5, ContainerCount: 1, Capacity: 10}
	require.NoError(t, wire.WriteMessage(conn, wire.Message{
		Tag: wire.TagHeartbeat, SenderID: "w1", RecipientID: "coordinator",
		Data: wire.EncodeResourceSample(sample),
	}))

	require.Eventually(t, func() bool {
		rec, ok := reg.Find("w1")
		return ok && rec.LastSample.CPUPercent == 42
	}, time.Second, 10*time.Millisecond)
}

func TestContainerStatusAppliesToIndex(t *testing.T) {
	reg := registry.New(zap.NewNop())
	ix := containerindex.New(reg, "coordinator", zap.NewNop())
	addr, stop := startServer(t, reg, ix)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteMessage(conn, wire.Message{
		Tag: wire.TagRegister, SenderID: "w1", RecipientID: "coordinator",
		Data: wire.EncodeRegister("host1", "10.0.0.5", "7000"),
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = wire.ReadMessage(conn)
	require.NoError(t, err)

	rec := types.ContainerRecord{ID: "w1_web", Name: "web", WorkerID: "w1", State: types.ContainerRunning}
	require.NoError(t, wire.WriteMessage(conn, wire.Message{
		Tag: wire.TagContainerStatus, SenderID: "w1", RecipientID: "coordinator",
		Data: wire.EncodeContainerStatus(rec),
	}))

	require.Eventually(t, func() bool {
		got, ok := ix.Get("w1_web")
		return ok && got.State == types.ContainerRunning
	}, time.Second, 10*time.Millisecond)
}
