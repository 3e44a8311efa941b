package wire

import (
	"encoding/binary"
	"time"
)

// ResultMeta is the fixed-size timing prefix carried in chunk sequence 0 of
// every RESULT transfer. It is always packed into chunk 0's payload,
// immediately after the 20-byte chunk sub-header and before any output
// sample bytes. There is no separate metadata-only chunk, so the
// single-frame and chunked paths are structurally identical.
type ResultMeta struct {
	TIn      uint64
	TStart   uint64
	TEnd     uint64
	TFirstTx uint64
	TLastTx  uint64
}

const resultMetaSize = 40

func (m ResultMeta) marshal() []byte {
	b := make([]byte, resultMetaSize)
	binary.LittleEndian.PutUint64(b[0:8], m.TIn)
	binary.LittleEndian.PutUint64(b[8:16], m.TStart)
	binary.LittleEndian.PutUint64(b[16:24], m.TEnd)
	binary.LittleEndian.PutUint64(b[24:32], m.TFirstTx)
	binary.LittleEndian.PutUint64(b[32:40], m.TLastTx)
	return b
}

func unmarshalResultMeta(b []byte) ResultMeta {
	return ResultMeta{
		TIn:      binary.LittleEndian.Uint64(b[0:8]),
		TStart:   binary.LittleEndian.Uint64(b[8:16]),
		TEnd:     binary.LittleEndian.Uint64(b[16:24]),
		TFirstTx: binary.LittleEndian.Uint64(b[24:32]),
		TLastTx:  binary.LittleEndian.Uint64(b[32:40]),
	}
}

// HostSession drives the host side of one adapter connection: handshake,
// then one SendWindow/RecvResult round trip per window.
type HostSession struct {
	t             Transport
	adapterBootID uint64
	hello         Hello
	ack           Ack
}

// DoHostHandshake performs the HELLO -> CONFIG -> ACK exchange from the host
// side. A non-OK ACK, or an ERROR frame in its place, is
// returned as a *Error with Kind ProtocolViolation carrying the adapter's
// message; the caller (cmd/cortex-host) treats that as fatal to the run.
func DoHostHandshake(t Transport, cfg Config) (*HostSession, error) {
	ft, _, payload, err := ReadFrame(t, HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	if ft != FrameHello {
		return nil, newErr(ProtocolViolation, "expected HELLO, got frame type %d", ft)
	}
	hello, err := UnmarshalHello(payload)
	if err != nil {
		return nil, err
	}

	if err := WriteFrame(t, FrameConfig, 0, MarshalConfig(cfg)); err != nil {
		return nil, err
	}

	ft, _, payload, err = ReadFrame(t, HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	if ft == FrameError {
		return nil, newErr(ProtocolViolation, "adapter ERROR during handshake: %s", string(payload))
	}
	if ft != FrameAck {
		return nil, newErr(ProtocolViolation, "expected ACK, got frame type %d", ft)
	}
	ack, err := UnmarshalAck(payload)
	if err != nil {
		return nil, err
	}
	if !ack.OK {
		return nil, newErr(ProtocolViolation, "adapter init failed: %s", ack.ErrorMessage)
	}

	return &HostSession{t: t, adapterBootID: hello.AdapterBootID, hello: hello, ack: ack}, nil
}

// Hello returns the adapter's HELLO payload observed during handshake.
func (s *HostSession) Hello() Hello { return s.hello }

// Ack returns the negotiated output shape and capabilities from the ACK.
func (s *HostSession) Ack() Ack { return s.ack }

// VerifyBootID checks that a later frame's advertised boot id still matches
// the one observed at handshake time, surfacing SESSION_MISMATCH when an
// adapter process has restarted underneath an existing connection.
func (s *HostSession) VerifyBootID(bootID uint64) error {
	if bootID != s.adapterBootID {
		return newErr(SessionMismatch, "adapter boot_id changed: got %d, want %d", bootID, s.adapterBootID)
	}
	return nil
}

// SendWindow serializes and transmits one window as an ordered WINDOW_CHUNK
// stream. sequence is the window index for
// this session and must be monotonic non-decreasing.
func (s *HostSession) SendWindow(sequence uint32, window []byte, timeout time.Duration) error {
	for _, chunk := range EncodeChunks(sequence, window, nil) {
		if err := WriteFrame(s.t, FrameWindowChunk, 0, chunk); err != nil {
			return err
		}
	}
	return nil
}

// RecvResult blocks for the RESULT_CHUNK stream matching sequence, returning
// the timing metadata and the raw output bytes.
func (s *HostSession) RecvResult(sequence uint32, timeout time.Duration) (ResultMeta, []byte, error) {
	r := NewReassembler(sequence)
	deadline := time.Now().Add(timeout)
	for !r.Done() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ResultMeta{}, nil, newErr(TimedOut, "RecvResult deadline exceeded")
		}
		ft, _, payload, err := ReadFrame(s.t, remaining)
		if err != nil {
			return ResultMeta{}, nil, err
		}
		if ft == FrameError {
			return ResultMeta{}, nil, newErr(ProtocolViolation, "adapter ERROR: %s", string(payload))
		}
		if ft != FrameResultChunk {
			return ResultMeta{}, nil, newErr(ProtocolViolation, "expected RESULT_CHUNK, got frame type %d", ft)
		}
		if err := r.AddWithExtra(payload, resultMetaSize); err != nil {
			return ResultMeta{}, nil, err
		}
	}
	return unmarshalResultMeta(r.FirstExtra()), r.Bytes(), nil
}

// Close closes the underlying transport.
func (s *HostSession) Close() error { return s.t.Close() }
