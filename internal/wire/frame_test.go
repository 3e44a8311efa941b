package wire

import (
	"math/rand"
	"net"
	"testing"
	"time"
)

func pipeTransports(t *testing.T) (Transport, Transport) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return NewTCPTransport(a), NewTCPTransport(b)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := header{magic: Magic, version: Version, frameType: FrameHello, flags: 0x1234, payloadLength: 42}
	prefix := make([]byte, 12)
	h.marshalPrefix(prefix)
	h.crc32 = computeCRC(prefix, make([]byte, 42))
	raw := h.marshal()
	got := unmarshalHeader(raw)
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestEncodeReadFrameRoundTrip(t *testing.T) {
	client, server := pipeTransports(t)
	payload := []byte("hello window")

	go func() {
		if err := WriteFrame(client, FrameHello, 0, payload); err != nil {
			t.Errorf("WriteFrame: %v", err)
		}
	}()

	ft, flags, got, err := ReadFrame(server, time.Second)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if ft != FrameHello || flags != 0 {
		t.Fatalf("unexpected type/flags: %v %v", ft, flags)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", got, payload)
	}
}

func TestReadFrameVersionMismatch(t *testing.T) {
	client, server := pipeTransports(t)
	go func() {
		h := header{magic: Magic, version: 99, frameType: FrameHello, payloadLength: 0}
		prefix := make([]byte, 12)
		h.marshalPrefix(prefix)
		h.crc32 = computeCRC(prefix, nil)
		client.Send(h.marshal())
	}()
	_, _, _, err := ReadFrame(server, time.Second)
	if !IsKind(err, VersionMismatch) {
		t.Fatalf("expected VersionMismatch, got %v", err)
	}
}

func TestEncodeFrameFrameTooLarge(t *testing.T) {
	_, err := EncodeFrame(FrameHello, 0, make([]byte, MaxSingleFramePayload+1))
	if !IsKind(err, FrameTooLarge) {
		t.Fatalf("expected FrameTooLarge, got %v", err)
	}
}

func TestReadFrameCRCMismatch(t *testing.T) {
	client, server := pipeTransports(t)
	payload := []byte("abcdefgh")
	frame, err := EncodeFrame(FrameConfig, 0, payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	// Flip one byte inside the payload region in flight.
	frame[HeaderSize+2] ^= 0xFF

	go client.Send(frame)
	_, _, _, rerr := ReadFrame(server, time.Second)
	if !IsKind(rerr, CRCMismatch) {
		t.Fatalf("expected CRCMismatch, got %v", rerr)
	}
}

func TestReadFrameTimeout(t *testing.T) {
	_, server := pipeTransports(t)
	_, _, _, err := ReadFrame(server, 50*time.Millisecond)
	if !IsKind(err, TimedOut) {
		t.Fatalf("expected TimedOut, got %v", err)
	}
}

func TestCRCFuzzSingleByteFlipAlwaysChangesCRC(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		payload := make([]byte, 1+rng.Intn(64))
		rng.Read(payload)
		h := header{magic: Magic, version: Version, frameType: FrameWindowChunk, payloadLength: uint32(len(payload))}
		prefix := make([]byte, 12)
		h.marshalPrefix(prefix)
		base := computeCRC(prefix, payload)

		// flip a random bit somewhere in prefix||payload
		total := append(append([]byte{}, prefix...), payload...)
		idx := rng.Intn(len(total))
		bit := byte(1 << uint(rng.Intn(8)))
		total[idx] ^= bit

		flipped := computeCRC(total[:12], total[12:])
		if flipped == base {
			t.Fatalf("CRC unchanged after single-byte flip at index %d", idx)
		}
	}
}
