package wire

import "time"

// AdapterKernel is the narrow contract the adapter-side loop needs from a
// loaded kernel instance: compute output for one window, bracketed by the
// caller so it can stamp t_start/t_end itself.
type AdapterKernel interface {
	Process(input []byte) (output []byte, err error)
}

// AdapterInit is invoked once the host's CONFIG frame has arrived; it must
// return the negotiated output shape or a non-nil error, which is reported
// back to the host as a failed ACK.
type AdapterInit func(cfg Config) (kernel AdapterKernel, outputW, outputC, capabilities uint32, err error)

// AdapterHandshake performs the adapter side of HELLO -> CONFIG -> ACK. It
// sends hello first (the adapter always speaks first), then waits for
// CONFIG, invokes init, and replies with ACK; when init fails, the ACK has
// OK unset and carries init's error message.
func AdapterHandshake(t Transport, hello Hello, init AdapterInit) (AdapterKernel, Config, error) {
	if err := WriteFrame(t, FrameHello, 0, MarshalHello(hello)); err != nil {
		return nil, Config{}, err
	}

	ft, _, payload, err := ReadFrame(t, HandshakeTimeout)
	if err != nil {
		return nil, Config{}, err
	}
	if ft != FrameConfig {
		// A WINDOW_CHUNK (or anything else) arriving before CONFIG/ACK has
		// completed is a fatal protocol error.
		return nil, Config{}, newErr(ProtocolViolation, "expected CONFIG, got frame type %d", ft)
	}
	cfg, err := UnmarshalConfig(payload)
	if err != nil {
		return nil, Config{}, err
	}

	kernel, outW, outC, caps, initErr := init(cfg)
	if initErr != nil {
		ack := Ack{OK: false, ErrorMessage: initErr.Error()}
		_ = WriteFrame(t, FrameAck, 0, MarshalAck(ack))
		return nil, Config{}, newErr(ProtocolViolation, "kernel init failed: %v", initErr)
	}

	ack := Ack{OK: true, OutputW: outW, OutputC: outC, Capabilities: caps}
	if err := WriteFrame(t, FrameAck, 0, MarshalAck(ack)); err != nil {
		return nil, Config{}, err
	}

	return kernel, cfg, nil
}

// RecvWindow blocks for the next WINDOW_CHUNK stream matching wantSeq,
// returning the reassembled window bytes.
func RecvWindow(t Transport, wantSeq uint32, timeout time.Duration) ([]byte, error) {
	r := NewReassembler(wantSeq)
	deadline := time.Now().Add(timeout)
	for !r.Done() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, newErr(TimedOut, "RecvWindow deadline exceeded")
		}
		ft, _, payload, err := ReadFrame(t, remaining)
		if err != nil {
			return nil, err
		}
		if ft != FrameWindowChunk {
			return nil, newErr(ProtocolViolation, "expected WINDOW_CHUNK, got frame type %d", ft)
		}
		if err := r.Add(payload); err != nil {
			return nil, err
		}
	}
	return r.Bytes(), nil
}

// SendResult transmits the RESULT_CHUNK stream for one window: meta packed
// into chunk 0 ahead of the output bytes, chunked identically to window
// transfers.
func SendResult(t Transport, sequence uint32, meta ResultMeta, output []byte) error {
	for _, chunk := range EncodeChunks(sequence, output, meta.marshal()) {
		if err := WriteFrame(t, FrameResultChunk, 0, chunk); err != nil {
			return err
		}
	}
	return nil
}
