package wire

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestHelloMarshalRoundTrip(t *testing.T) {
	in := Hello{
		AdapterBootID:     7,
		AdapterName:       "bench-rig",
		AdapterABIVersion: 1,
		KernelNames:       []string{"car", "fir@order4"},
		MaxWindowSamples:  2048,
		MaxChannels:       128,
		Hostname:          "rig01",
		CPU:               "cortex-a72 (4 cores)",
		OS:                "linux 6.1",
	}
	out, err := UnmarshalHello(MarshalHello(in))
	if err != nil {
		t.Fatalf("UnmarshalHello: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("HELLO round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigMarshalRoundTrip(t *testing.T) {
	in := Config{
		SessionID:     0xdeadbeef,
		Fs:            160,
		W:             160,
		H:             80,
		C:             64,
		Dtype:         0,
		KernelName:    "goertzel",
		Params:        "bins=8,window=hann",
		HasCalibBlob:  true,
		CalibBlobSize: 4096,
	}
	out, err := UnmarshalConfig(MarshalConfig(in))
	if err != nil {
		t.Fatalf("UnmarshalConfig: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("CONFIG round trip mismatch (-want +got):\n%s", diff)
	}
}

// echoKernel returns its input unchanged, used to exercise the full
// handshake + window/result round trip without a real DSP kernel.
type echoKernel struct{}

func (echoKernel) Process(input []byte) ([]byte, error) {
	out := make([]byte, len(input))
	copy(out, input)
	return out, nil
}

func TestFullHandshakeAndWindowRoundTrip(t *testing.T) {
	hostConn, adapterConn := net.Pipe()
	defer hostConn.Close()
	defer adapterConn.Close()
	hostT := NewTCPTransport(hostConn)
	adapterT := NewTCPTransport(adapterConn)

	var wg sync.WaitGroup
	wg.Add(1)
	var adapterErr error
	go func() {
		defer wg.Done()
		hello := Hello{AdapterBootID: 42, AdapterName: "adapter-1", AdapterABIVersion: 1, KernelNames: []string{"car"}, MaxWindowSamples: 1024, MaxChannels: 64, Hostname: "h", CPU: "c", OS: "linux"}
		kernel, cfg, err := AdapterHandshake(adapterT, hello, func(cfg Config) (AdapterKernel, uint32, uint32, uint32, error) {
			return echoKernel{}, cfg.W, cfg.C, 1, nil
		})
		if err != nil {
			adapterErr = err
			return
		}
		win, err := RecvWindow(adapterT, 0, time.Second)
		if err != nil {
			adapterErr = err
			return
		}
		out, _ := kernel.Process(win)
		meta := ResultMeta{TIn: 1, TStart: 2, TEnd: 3, TFirstTx: 4, TLastTx: 5}
		if err := SendResult(adapterT, 0, meta, out); err != nil {
			adapterErr = err
			return
		}
		_ = cfg
	}()

	cfg := Config{SessionID: 7, Fs: 160, W: 160, H: 80, C: 64, Dtype: 0, KernelName: "car", Params: "order=2"}
	sess, err := DoHostHandshake(hostT, cfg)
	if err != nil {
		t.Fatalf("DoHostHandshake: %v", err)
	}
	if sess.Ack().OutputW != cfg.W || sess.Ack().OutputC != cfg.C {
		t.Fatalf("unexpected ACK shape: %+v", sess.Ack())
	}

	window := make([]byte, 160*64*4)
	for i := range window {
		window[i] = byte(i)
	}
	if err := sess.SendWindow(0, window, time.Second); err != nil {
		t.Fatalf("SendWindow: %v", err)
	}
	meta, output, err := sess.RecvResult(0, time.Second)
	if err != nil {
		t.Fatalf("RecvResult: %v", err)
	}
	wg.Wait()
	if adapterErr != nil {
		t.Fatalf("adapter side error: %v", adapterErr)
	}
	if !bytes.Equal(output, window) {
		t.Fatalf("output does not match echoed window")
	}
	if meta.TStart != 2 || meta.TEnd != 3 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestHandshakeTimeoutWhenConfigNeverArrives(t *testing.T) {
	hostConn, adapterConn := net.Pipe()
	defer hostConn.Close()
	defer adapterConn.Close()
	adapterT := NewTCPTransport(adapterConn)

	go func() {
		// host sends HELLO-reading adapter but never follows up with CONFIG
		hostT := NewTCPTransport(hostConn)
		ft, _, payload, err := ReadFrame(hostT, time.Second)
		if err != nil || ft != FrameHello {
			return
		}
		_, _ = UnmarshalHello(payload)
		// deliberately withhold CONFIG
	}()

	hello := Hello{AdapterBootID: 1, AdapterName: "a", AdapterABIVersion: 1}
	_, _, err := AdapterHandshake(adapterT, hello, func(Config) (AdapterKernel, uint32, uint32, uint32, error) {
		t.Fatalf("init should not be called")
		return nil, 0, 0, 0, nil
	})
	if !IsKind(err, TimedOut) {
		t.Fatalf("expected TimedOut waiting for CONFIG, got %v", err)
	}
}

func TestWindowChunkBeforeAckIsFatal(t *testing.T) {
	hostConn, adapterConn := net.Pipe()
	defer hostConn.Close()
	defer adapterConn.Close()
	adapterT := NewTCPTransport(adapterConn)

	go func() {
		hostT := NewTCPTransport(hostConn)
		ReadFrame(hostT, time.Second) // consume HELLO
		// send a WINDOW_CHUNK instead of CONFIG: fatal protocol violation.
		chunk := EncodeChunks(0, make([]byte, 16), nil)[0]
		WriteFrame(hostT, FrameWindowChunk, 0, chunk)
	}()

	hello := Hello{AdapterBootID: 1, AdapterName: "a", AdapterABIVersion: 1}
	_, _, err := AdapterHandshake(adapterT, hello, func(Config) (AdapterKernel, uint32, uint32, uint32, error) {
		t.Fatalf("init should not be called")
		return nil, 0, 0, 0, nil
	})
	if !IsKind(err, ProtocolViolation) {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}
