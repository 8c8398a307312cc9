package wire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-io/corral/shared/types"
	"github.com/corral-io/corral/shared/wire"
)

func TestMessageRoundTrip(t *testing.T) {
	m := wire.Message{
		Tag:         wire.TagHeartbeat,
		SenderID:    "worker-1",
		RecipientID: "coordinator",
		Data:        wire.EncodeResourceSample(types.ResourceSample{CPUPercent: 12.5, MemPercent: 40, DiskPercent: 10, ContainerCount: 2, Capacity: 50}),
	}

	var buf bytes.Buffer
	require.NoError(t, wire.WriteMessage(&buf, m))
	assert.Equal(t, wire.RecordSize, buf.Len())

	got, err := wire.ReadMessage(&buf)
	require.NoError(t, err)

	assert.Equal(t, m.Tag, got.Tag)
	assert.Equal(t, m.SenderID, got.SenderID)
	assert.Equal(t, m.RecipientID, got.RecipientID)
	assert.Equal(t, m.Data, got.Data)
}

func TestWriteMessageTruncatesOversizedPayloadSilently(t *testing.T) {
	oversized := bytes.Repeat([]byte("x"), wire.MaxPayload+500)
	m := wire.Message{Tag: wire.TagACK, SenderID: "a", RecipientID: "b", Data: oversized}

	var buf bytes.Buffer
	require.NoError(t, wire.WriteMessage(&buf, m))

	got, err := wire.ReadMessage(&buf)
	require.NoError(t, err)
	assert.Len(t, got.Data, wire.MaxPayload)
}

func TestReadMessageShortReadIsTransportError(t *testing.T) {
	short := bytes.NewReader(make([]byte, 10))
	_, err := wire.ReadMessage(short)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
}

func TestReadMessageCleanEOFIsTransportError(t *testing.T) {
	_, err := wire.ReadMessage(bytes.NewReader(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMessagesDeliveredInSendOrder(t *testing.T) {
	var buf bytes.Buffer
	tags := []wire.Tag{wire.TagRegister, wire.TagHeartbeat, wire.TagDeploy}
	for _, tag := range tags {
		require.NoError(t, wire.WriteMessage(&buf, wire.Message{Tag: tag, SenderID: "w", RecipientID: "c"}))
	}

	for _, want := range tags {
		got, err := wire.ReadMessage(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got.Tag)
	}
}

func TestContainerConfigRoundTrip(t *testing.T) {
	cfg := types.ContainerConfig{
		Name:          "web",
		Image:         "ubuntu:20.04",
		CPULimit:      2,
		MemoryLimitMB: 512,
		Privileged:    false,
		Environment:   map[string]string{"FOO": "bar"},
		Mounts:        []string{"/data:/data"},
		Network:       "bridge",
	}

	got, err := wire.DecodeContainerConfig(wire.EncodeContainerConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestRegisterPayloadRoundTrip(t *testing.T) {
	data := wire.EncodeRegister("host-1", "10.0.0.5", "7000")
	hostname, ip, port, err := wire.DecodeRegister(data)
	require.NoError(t, err)
	assert.Equal(t, "host-1", hostname)
	assert.Equal(t, "10.0.0.5", ip)
	assert.Equal(t, "7000", port)
}

func TestRegisterPayloadMalformed(t *testing.T) {
	_, _, _, err := wire.DecodeRegister([]byte("not-enough-fields"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMalformed)
}
