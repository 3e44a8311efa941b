package wire

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// FrameType enumerates the wire protocol's frame kinds. The numeric
// assignment is fixed for this build and only needs to stay stable within
// it, not match any particular peer implementation.
type FrameType uint8

const (
	FrameHello       FrameType = 1
	FrameConfig      FrameType = 2
	FrameAck         FrameType = 3
	FrameWindowChunk FrameType = 4
	FrameResultChunk FrameType = 5
	FrameError       FrameType = 6
)

const (
	// Magic is "XTRC" stored little-endian on the wire as the byte
	// sequence 0x58, 0x54, 0x52, 0x43; read back as a little-endian u32 it
	// is 0x43525458.
	Magic uint32 = 0x43525458
	// Version is the single supported protocol version for this build.
	Version uint8 = 1
	// HeaderSize is the fixed 16-byte frame header length.
	HeaderSize = 16
	// MaxSingleFramePayload is the single-frame payload cap (64 KiB).
	MaxSingleFramePayload = 65536
	// maxHuntBytes bounds how many bytes the magic hunter will scan before
	// giving up with MagicNotFound, protecting against spinning forever on
	// a stream that never produces the magic sequence.
	maxHuntBytes = 1 << 20
)

// header is the 16-byte wire frame header, parsed/serialized explicitly
// little-endian regardless of host endianness.
type header struct {
	magic         uint32
	version       uint8
	frameType     FrameType
	flags         uint16
	payloadLength uint32
	crc32         uint32
}

// marshalPrefix writes the first 12 header bytes (everything but the CRC
// field itself), which is exactly the range the CRC is computed over
// alongside the payload.
func (h header) marshalPrefix(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.magic)
	b[4] = h.version
	b[5] = byte(h.frameType)
	binary.LittleEndian.PutUint16(b[6:8], h.flags)
	binary.LittleEndian.PutUint32(b[8:12], h.payloadLength)
}

func (h header) marshal() []byte {
	b := make([]byte, HeaderSize)
	h.marshalPrefix(b)
	binary.LittleEndian.PutUint32(b[12:16], h.crc32)
	return b
}

func unmarshalHeader(b []byte) header {
	return header{
		magic:         binary.LittleEndian.Uint32(b[0:4]),
		version:       b[4],
		frameType:     FrameType(b[5]),
		flags:         binary.LittleEndian.Uint16(b[6:8]),
		payloadLength: binary.LittleEndian.Uint32(b[8:12]),
		crc32:         binary.LittleEndian.Uint32(b[12:16]),
	}
}

func computeCRC(headerPrefix, payload []byte) uint32 {
	c := crc32.NewIEEE()
	c.Write(headerPrefix)
	c.Write(payload)
	return c.Sum32()
}

// EncodeFrame builds a complete frame (header + payload) ready to Send.
func EncodeFrame(frameType FrameType, flags uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxSingleFramePayload {
		return nil, newErr(FrameTooLarge, "payload %d bytes exceeds cap %d", len(payload), MaxSingleFramePayload)
	}
	h := header{
		magic:         Magic,
		version:       Version,
		frameType:     frameType,
		flags:         flags,
		payloadLength: uint32(len(payload)),
	}
	prefix := make([]byte, 12)
	h.marshalPrefix(prefix)
	h.crc32 = computeCRC(prefix, payload)

	out := make([]byte, HeaderSize+len(payload))
	copy(out[0:HeaderSize], h.marshal())
	copy(out[HeaderSize:], payload)
	return out, nil
}

// deadlineClock returns the absolute deadline for the whole ReadFrame call,
// from which each sub-read's own short timeout is derived.
func deadlineClock(timeout time.Duration) time.Time {
	return time.Now().Add(timeout)
}

// recvFull repeatedly calls Recv until buf is full or the overall deadline
// passes, handling partial reads on a byte stream that makes no framing
// guarantees of its own.
func recvFull(t Transport, buf []byte, deadline time.Time) error {
	got := 0
	for got < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return newErr(TimedOut, "recvFull deadline exceeded")
		}
		n, err := t.Recv(buf[got:], remaining)
		got += n
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame hunts for the magic sequence one byte at a time, sliding a
// 32-bit window that shifts right and inserts the new byte at the high
// byte (magic is stored little-endian, so this reconstructs the encoded
// constant as bytes arrive in wire order), then reads and validates the
// remaining header, then the payload, then the CRC.
func ReadFrame(t Transport, timeout time.Duration) (FrameType, uint16, []byte, error) {
	deadline := deadlineClock(timeout)

	var acc uint32
	var oneByte [1]byte
	huntCount := 0
	for acc != Magic {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, 0, nil, newErr(TimedOut, "magic hunt deadline exceeded")
		}
		n, err := t.Recv(oneByte[:], remaining)
		if err != nil {
			return 0, 0, nil, err
		}
		if n == 0 {
			continue
		}
		acc = (acc >> 8) | (uint32(oneByte[0]) << 24)
		huntCount++
		if huntCount > maxHuntBytes {
			return 0, 0, nil, newErr(MagicNotFound, "no magic found in %d bytes", maxHuntBytes)
		}
	}

	rest := make([]byte, HeaderSize-4)
	if err := recvFull(t, rest, deadline); err != nil {
		return 0, 0, nil, err
	}
	raw := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(raw[0:4], Magic)
	copy(raw[4:], rest)
	h := unmarshalHeader(raw)

	if h.version != Version {
		return 0, 0, nil, newErr(VersionMismatch, "got version %d, want %d", h.version, Version)
	}
	if h.payloadLength > MaxSingleFramePayload {
		return 0, 0, nil, newErr(FrameTooLarge, "payload %d bytes exceeds cap %d", h.payloadLength, MaxSingleFramePayload)
	}

	payload := make([]byte, h.payloadLength)
	if err := recvFull(t, payload, deadline); err != nil {
		return 0, 0, nil, err
	}

	prefix := raw[0:12]
	gotCRC := computeCRC(prefix, payload)
	if gotCRC != h.crc32 {
		return 0, 0, nil, newErr(CRCMismatch, "crc mismatch: got 0x%08x want 0x%08x", gotCRC, h.crc32)
	}

	return h.frameType, h.flags, payload, nil
}

// WriteFrame encodes and sends one frame.
func WriteFrame(t Transport, frameType FrameType, flags uint16, payload []byte) error {
	buf, err := EncodeFrame(frameType, flags, payload)
	if err != nil {
		return err
	}
	return t.Send(buf)
}
