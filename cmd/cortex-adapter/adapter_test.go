package main

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/cortexbench/cortex/internal/clock"
	"github.com/cortexbench/cortex/internal/kernel"
	"github.com/cortexbench/cortex/internal/kernel/refkernel"
	"github.com/cortexbench/cortex/internal/wire"
)

// The adapter serves one session over net.Pipe: the host side runs the full
// HELLO -> CONFIG -> ACK exchange through wire.DoHostHandshake, then sends one
// window through the identity kernel and expects it back unchanged.
func TestAdapterServesIdentityKernelOverOneSession(t *testing.T) {
	hostConn, adapterConn := net.Pipe()
	defer hostConn.Close()

	reg := kernel.NewRegistry("/unused")
	reg.RegisterStatic("identity", refkernel.Identity{})
	ad := &adapter{
		bootID:           99,
		name:             "test-adapter",
		kernelNames:      []string{"identity"},
		maxWindowSamples: 4096,
		maxChannels:      64,
		registry:         reg,
		shutdown:         &clock.Flag{},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ad.serve(adapterConn)
	}()

	hostT := wire.NewTCPTransport(hostConn)
	cfg := wire.Config{SessionID: 1, Fs: 1000, W: 4, H: 2, C: 1, Dtype: 0, KernelName: "identity", Params: ""}
	// DoHostHandshake reads and decodes the adapter's HELLO itself.
	sess, err := wire.DoHostHandshake(hostT, cfg)
	if err != nil {
		t.Fatalf("DoHostHandshake: %v", err)
	}
	hello := sess.Hello()
	if hello.AdapterBootID != 99 || len(hello.KernelNames) != 1 || hello.KernelNames[0] != "identity" {
		t.Fatalf("unexpected HELLO: %+v", hello)
	}
	if sess.Ack().OutputW != 4 || sess.Ack().OutputC != 1 {
		t.Fatalf("unexpected ACK shape: %+v", sess.Ack())
	}

	window := make([]byte, 4*1*4)
	for i := range window {
		window[i] = byte(i + 1)
	}
	if err := sess.SendWindow(0, window, time.Second); err != nil {
		t.Fatalf("SendWindow: %v", err)
	}
	_, output, err := sess.RecvResult(0, time.Second)
	if err != nil {
		t.Fatalf("RecvResult: %v", err)
	}
	if !bytes.Equal(output, window) {
		t.Fatalf("identity kernel over the wire altered the window")
	}

	sess.Close()
	<-done
}
