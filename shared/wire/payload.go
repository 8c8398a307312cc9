package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/corral-io/corral/shared/types"
)

// ─── REGISTER ────────────────────────────────────────────────────────────────

// EncodeRegister builds the ASCII "<hostname> <ip> <port>" payload, spec.md
// §4.1.
func EncodeRegister(hostname, ip, port string) []byte {
	return []byte(fmt.Sprintf("%s %s %s", hostname, ip, port))
}

// DecodeRegister parses the REGISTER payload. It rejects anything that does
// not split into exactly three space-separated fields.
func DecodeRegister(data []byte) (hostname, ip, port string, err error) {
	fields := bytes.Fields(data)
	if len(fields) != 3 {
		return "", "", "", fmt.Errorf("wire: register payload %q: %w", data, types.ErrMalformed)
	}
	return string(fields[0]), string(fields[1]), string(fields[2]), nil
}

// ─── ResourceSample ──────────────────────────────────────────────────────────
//
// Fixed 32-byte record: three float64 percentages, then two int32 counts.

// MinResourceSampleSize is the fixed wire size of a ResourceSample record.
// Callers decoding a HEARTBEAT payload check length against this before
// calling DecodeResourceSample (spec.md §4.3 step 2).
const MinResourceSampleSize = 8*3 + 4*2

const resourceSampleSize = MinResourceSampleSize

// EncodeResourceSample encodes a fixed-size resource sample record.
func EncodeResourceSample(s types.ResourceSample) []byte {
	buf := make([]byte, resourceSampleSize)
	binary.LittleEndian.PutUint64(buf[0:8], mathFloatBits(s.CPUPercent))
	binary.LittleEndian.PutUint64(buf[8:16], mathFloatBits(s.MemPercent))
	binary.LittleEndian.PutUint64(buf[16:24], mathFloatBits(s.DiskPercent))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(int32(s.ContainerCount)))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(int32(s.Capacity)))
	return buf
}

// DecodeResourceSample decodes a resource sample record. Per spec.md §4.3
// step 2 (HEARTBEAT), the caller checks len(payload) >= sample size before
// calling this.
func DecodeResourceSample(data []byte) (types.ResourceSample, error) {
	if len(data) < resourceSampleSize {
		return types.ResourceSample{}, fmt.Errorf("wire: resource sample payload too short (%d bytes): %w", len(data), types.ErrMalformed)
	}
	return types.ResourceSample{
		CPUPercent:     mathFloatFromBits(binary.LittleEndian.Uint64(data[0:8])),
		MemPercent:     mathFloatFromBits(binary.LittleEndian.Uint64(data[8:16])),
		DiskPercent:    mathFloatFromBits(binary.LittleEndian.Uint64(data[16:24])),
		ContainerCount: int(int32(binary.LittleEndian.Uint32(data[24:28]))),
		Capacity:       int(int32(binary.LittleEndian.Uint32(data[28:32]))),
	}, nil
}

// ─── ContainerConfig ─────────────────────────────────────────────────────────
//
// Dynamic-length fields (environment, mounts, network) are carried as
// length-prefixed byte strings within the payload, per spec.md §9 Design
// Notes ("Deep struct-by-value messaging").

// EncodeContainerConfig serializes a container configuration.
func EncodeContainerConfig(cfg types.ContainerConfig) []byte {
	var buf bytes.Buffer
	putString(&buf, cfg.Name)
	putString(&buf, cfg.Image)
	putString(&buf, cfg.Config)
	putInt32(&buf, int32(cfg.CPULimit))
	putInt32(&buf, int32(cfg.MemoryLimitMB))
	if cfg.Privileged {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	putUint16(&buf, uint16(len(cfg.Environment)))
	for k, v := range cfg.Environment {
		putString(&buf, k)
		putString(&buf, v)
	}
	putUint16(&buf, uint16(len(cfg.Mounts)))
	for _, m := range cfg.Mounts {
		putString(&buf, m)
	}
	putString(&buf, cfg.Network)
	return buf.Bytes()
}

// DecodeContainerConfig deserializes a container configuration.
func DecodeContainerConfig(data []byte) (types.ContainerConfig, error) {
	r := &reader{data: data}
	var cfg types.ContainerConfig
	var err error

	if cfg.Name, err = r.string(); err != nil {
		return cfg, err
	}
	if cfg.Image, err = r.string(); err != nil {
		return cfg, err
	}
	if cfg.Config, err = r.string(); err != nil {
		return cfg, err
	}
	cpu, err := r.int32()
	if err != nil {
		return cfg, err
	}
	cfg.CPULimit = int(cpu)
	mem, err := r.int32()
	if err != nil {
		return cfg, err
	}
	cfg.MemoryLimitMB = int(mem)
	priv, err := r.byte()
	if err != nil {
		return cfg, err
	}
	cfg.Privileged = priv != 0

	envCount, err := r.uint16()
	if err != nil {
		return cfg, err
	}
	if envCount > 0 {
		cfg.Environment = make(map[string]string, envCount)
		for i := uint16(0); i < envCount; i++ {
			k, err := r.string()
			if err != nil {
				return cfg, err
			}
			v, err := r.string()
			if err != nil {
				return cfg, err
			}
			cfg.Environment[k] = v
		}
	}

	mountCount, err := r.uint16()
	if err != nil {
		return cfg, err
	}
	for i := uint16(0); i < mountCount; i++ {
		m, err := r.string()
		if err != nil {
			return cfg, err
		}
		cfg.Mounts = append(cfg.Mounts, m)
	}

	if cfg.Network, err = r.string(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ─── ContainerRecord (CONTAINER_STATUS payload) ──────────────────────────────

// EncodeContainerStatus serializes a container record for the
// CONTAINER_STATUS message.
func EncodeContainerStatus(rec types.ContainerRecord) []byte {
	var buf bytes.Buffer
	putString(&buf, rec.ID)
	putString(&buf, rec.Name)
	putString(&buf, rec.WorkerID)
	putString(&buf, string(rec.State))
	cfgBytes := EncodeContainerConfig(rec.Config)
	putUint16(&buf, uint16(len(cfgBytes)))
	buf.Write(cfgBytes)
	putInt64(&buf, unixOrZero(rec.CreatedAt))
	putInt64(&buf, unixOrZero(rec.StartedAt))
	return buf.Bytes()
}

// DecodeContainerStatus deserializes a CONTAINER_STATUS payload.
func DecodeContainerStatus(data []byte) (types.ContainerRecord, error) {
	r := &reader{data: data}
	var rec types.ContainerRecord
	var err error

	if rec.ID, err = r.string(); err != nil {
		return rec, err
	}
	if rec.Name, err = r.string(); err != nil {
		return rec, err
	}
	if rec.WorkerID, err = r.string(); err != nil {
		return rec, err
	}
	state, err := r.string()
	if err != nil {
		return rec, err
	}
	rec.State = types.ContainerState(state)

	cfgLen, err := r.uint16()
	if err != nil {
		return rec, err
	}
	cfgBytes, err := r.bytes(int(cfgLen))
	if err != nil {
		return rec, err
	}
	rec.Config, err = DecodeContainerConfig(cfgBytes)
	if err != nil {
		return rec, err
	}

	created, err := r.int64()
	if err != nil {
		return rec, err
	}
	rec.CreatedAt = zeroOrUnix(created)

	started, err := r.int64()
	if err != nil {
		return rec, err
	}
	rec.StartedAt = zeroOrUnix(started)

	return rec, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func zeroOrUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
