package wire

import (
	"bytes"
	"testing"
)

// A 160-sample, 64-channel f32 window is 40960 bytes, which splits into
// exactly 5 chunks of 8192 bytes at the 8 KiB chunk cap.
func TestReassembleWindowSizedTransfer(t *testing.T) {
	data := make([]byte, 40960)
	for i := range data {
		data[i] = byte(i)
	}
	chunks := EncodeChunks(0, data, nil)
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks of 8192 bytes, got %d", len(chunks))
	}
	r := NewReassembler(0)
	for _, c := range chunks {
		if err := r.Add(c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if !r.Done() || !bytes.Equal(r.Bytes(), data) {
		t.Fatalf("reassembled bytes do not match the input window")
	}
}

// A 160-sample, 512-channel f32 window (320 KiB) spans 40 chunks of 8192
// bytes.
func TestReassembleMultiChunk(t *testing.T) {
	data := make([]byte, 160*512*4)
	for i := range data {
		data[i] = byte(i * 7)
	}
	chunks := EncodeChunks(7, data, nil)
	wantChunks := len(data) / ChunkSize
	if len(chunks) != wantChunks {
		t.Fatalf("expected %d chunks, got %d", wantChunks, len(chunks))
	}

	r := NewReassembler(7)
	for _, c := range chunks {
		if err := r.Add(c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if !r.Done() {
		t.Fatalf("expected reassembly complete")
	}
	if !bytes.Equal(r.Bytes(), data) {
		t.Fatalf("reassembled bytes do not match input")
	}
}

func TestReassembleSequenceMismatch(t *testing.T) {
	data := make([]byte, 100)
	chunks := EncodeChunks(10, data, nil)
	r := NewReassembler(20)
	err := r.Add(chunks[0])
	if !IsKind(err, ChunkSequenceMismatch) {
		t.Fatalf("expected ChunkSequenceMismatch, got %v", err)
	}
}

func TestReassembleGapIsIncomplete(t *testing.T) {
	data := make([]byte, 3*ChunkSize)
	chunks := EncodeChunks(1, data, nil)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	r := NewReassembler(1)
	if err := r.Add(chunks[0]); err != nil {
		t.Fatalf("Add chunk 0: %v", err)
	}
	// skip chunk 1, feed the LAST chunk directly: coverage gap at completion.
	err := r.Add(chunks[2])
	if !IsKind(err, ChunkIncomplete) {
		t.Fatalf("expected ChunkIncomplete, got %v", err)
	}
}

func TestReassembleOverlappingChunkRefused(t *testing.T) {
	data := make([]byte, 3*ChunkSize)
	chunks := EncodeChunks(4, data, nil)
	r := NewReassembler(4)
	if err := r.Add(chunks[0]); err != nil {
		t.Fatalf("Add chunk 0: %v", err)
	}
	// replaying chunk 0 covers its bytes a second time: exactly-once
	// coverage is violated even though no gap would remain.
	if err := r.Add(chunks[0]); !IsKind(err, ProtocolViolation) {
		t.Fatalf("expected ProtocolViolation for a replayed chunk, got %v", err)
	}

	r = NewReassembler(4)
	if err := r.Add(chunks[0]); err != nil {
		t.Fatalf("Add chunk 0: %v", err)
	}
	// a partially overlapping chunk must be refused too.
	overlap := ChunkHeader{Sequence: 4, TotalBytes: uint32(len(data)), Offset: ChunkSize / 2, ChunkLen: ChunkSize}
	payload := append(overlap.marshal(), make([]byte, ChunkSize)...)
	if err := r.Add(payload); !IsKind(err, ProtocolViolation) {
		t.Fatalf("expected ProtocolViolation for an overlapping chunk, got %v", err)
	}
}

func TestReassembleZeroTotalBytesRefused(t *testing.T) {
	ch := ChunkHeader{Sequence: 0, TotalBytes: 0, Offset: 0, ChunkLen: 0, Flags: ChunkFlagLast}
	payload := ch.marshal()
	r := NewReassembler(0)
	if err := r.Add(payload); !IsKind(err, InvalidFrame) {
		t.Fatalf("expected InvalidFrame for total_bytes=0, got %v", err)
	}
}

func TestReassembleEmptyFirstChunkWithLastRefused(t *testing.T) {
	ch := ChunkHeader{Sequence: 0, TotalBytes: 100, Offset: 0, ChunkLen: 0, Flags: ChunkFlagLast}
	payload := ch.marshal()
	r := NewReassembler(0)
	if err := r.Add(payload); !IsKind(err, InvalidFrame) {
		t.Fatalf("expected InvalidFrame for empty LAST-flagged first chunk, got %v", err)
	}
}

func TestReassembleOffsetOverflowRefused(t *testing.T) {
	// The transfer spans three chunks, so admitting chunks[0] leaves it open
	// and the crafted chunk reaches the bounds check rather than being
	// refused as arriving after completion.
	data := make([]byte, 3*ChunkSize)
	chunks := EncodeChunks(0, data, nil)
	r := NewReassembler(0)
	if err := r.Add(chunks[0]); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// craft a chunk whose offset+chunk_len exceeds total_bytes
	bad := ChunkHeader{Sequence: 0, TotalBytes: 3 * ChunkSize, Offset: 3*ChunkSize - 10, ChunkLen: 20, Flags: ChunkFlagLast}
	payload := append(bad.marshal(), make([]byte, 20)...)
	if err := r.Add(payload); !IsKind(err, InvalidFrame) {
		t.Fatalf("expected InvalidFrame for offset overflow, got %v", err)
	}
}

func TestEncodeChunksWithMetadataPrefix(t *testing.T) {
	meta := []byte("0123456789")
	data := make([]byte, 100)
	chunks := EncodeChunks(0, data, meta)
	r := NewReassembler(0)
	if err := r.AddWithExtra(chunks[0], len(meta)); err != nil {
		t.Fatalf("AddWithExtra chunk 0: %v", err)
	}
	for _, c := range chunks[1:] {
		if err := r.Add(c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if !r.Done() {
		t.Fatalf("expected complete")
	}
	if !bytes.Equal(r.Bytes(), data) {
		t.Fatalf("reassembled data mismatch")
	}
	if string(r.FirstExtra()) != string(meta) {
		t.Fatalf("metadata mismatch: got %q want %q", r.FirstExtra(), meta)
	}
}
