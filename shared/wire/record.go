// Package wire implements the coordinator↔worker message framing described
// in spec.md §4.1/§6: a fixed-layout, self-describing binary record on a
// stream socket. One record is exactly one message; short reads and short
// writes are fatal to the connection.
//
// This is a deliberate divergence from the teacher's gRPC+protobuf
// transport — the spec's record layout is a fixed byte structure, not a
// negotiated serializer, so it is implemented directly over net.Conn with
// encoding/binary rather than protobuf framing. See DESIGN.md.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/corral-io/corral/shared/types"
)

// Tag identifies the kind of a message and fixes the interpretation of its
// payload, per spec.md §4.1.
type Tag uint32

const (
	TagRegister Tag = iota + 1
	TagHeartbeat
	TagDeploy
	TagStart
	TagStop
	TagDelete
	TagContainerStatus
	TagNodeStatus
	TagError
	TagACK
)

func (t Tag) String() string {
	switch t {
	case TagRegister:
		return "REGISTER"
	case TagHeartbeat:
		return "HEARTBEAT"
	case TagDeploy:
		return "DEPLOY"
	case TagStart:
		return "START"
	case TagStop:
		return "STOP"
	case TagDelete:
		return "DELETE"
	case TagContainerStatus:
		return "CONTAINER_STATUS"
	case TagNodeStatus:
		return "NODE_STATUS"
	case TagError:
		return "ERROR"
	case TagACK:
		return "ACK"
	default:
		return fmt.Sprintf("TAG(%d)", uint32(t))
	}
}

// Record layout constants, spec.md §6: tag (4 bytes), sender_id (256 bytes,
// NUL-terminated), recipient_id (256 bytes, NUL-terminated), data_length (4
// bytes), data (remainder).
const (
	RecordSize    = 8192
	tagSize       = 4
	idSize        = 256
	lengthSize    = 4
	headerSize    = tagSize + idSize + idSize + lengthSize
	MaxPayload    = RecordSize - headerSize
)

// Message is the decoded form of one wire record.
type Message struct {
	Tag         Tag
	SenderID    string
	RecipientID string
	Data        []byte
}

func putID(buf []byte, id string) error {
	if len(id) > idSize-1 {
		return fmt.Errorf("wire: id %q exceeds %d bytes: %w", id, idSize-1, types.ErrMalformed)
	}
	copy(buf, id)
	for i := len(id); i < idSize; i++ {
		buf[i] = 0
	}
	return nil
}

func getID(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// WriteMessage encodes m into a single fixed-size record and writes it in
// one call. Payload truncation on send is silent to MaxPayload, per
// spec.md §4.1; the declared data_length always matches what is sent.
func WriteMessage(w io.Writer, m Message) error {
	data := m.Data
	if len(data) > MaxPayload {
		data = data[:MaxPayload]
	}

	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[0:tagSize], uint32(m.Tag))

	off := tagSize
	if err := putID(buf[off:off+idSize], m.SenderID); err != nil {
		return err
	}
	off += idSize
	if err := putID(buf[off:off+idSize], m.RecipientID); err != nil {
		return err
	}
	off += idSize

	binary.LittleEndian.PutUint32(buf[off:off+lengthSize], uint32(len(data)))
	off += lengthSize

	copy(buf[off:], data)

	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("wire: write record: %w: %w", types.ErrTransport, err)
	}
	if n != RecordSize {
		return fmt.Errorf("wire: short write (%d/%d bytes): %w", n, RecordSize, types.ErrTransport)
	}
	return nil
}

// ReadMessage reads exactly one fixed-size record and decodes it. A short
// read (including a clean EOF with zero bytes read) is reported as
// types.ErrTransport so the caller can terminate the session per spec.md
// §4.3 step 1.
func ReadMessage(r io.Reader) (Message, error) {
	buf := make([]byte, RecordSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return Message{}, fmt.Errorf("wire: read record (%d/%d bytes): %w: %w", n, RecordSize, types.ErrTransport, err)
	}

	tag := Tag(binary.LittleEndian.Uint32(buf[0:tagSize]))
	off := tagSize
	sender := getID(buf[off : off+idSize])
	off += idSize
	recipient := getID(buf[off : off+idSize])
	off += idSize

	declared := binary.LittleEndian.Uint32(buf[off : off+lengthSize])
	off += lengthSize

	if int(declared) > RecordSize-off {
		return Message{}, fmt.Errorf("wire: declared length %d exceeds payload capacity: %w", declared, types.ErrMalformed)
	}

	data := make([]byte, declared)
	copy(data, buf[off:off+int(declared)])

	return Message{Tag: tag, SenderID: sender, RecipientID: recipient, Data: data}, nil
}
