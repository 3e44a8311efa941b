package main

import (
	"io"
	"log"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/xtaci/smux"

	"github.com/cortexbench/cortex/internal/clock"
	"github.com/cortexbench/cortex/internal/kernel"
	"github.com/cortexbench/cortex/internal/window"
	"github.com/cortexbench/cortex/internal/wire"
)

// windowTimeout bounds one RecvWindow/SendResult round trip. An expiry only
// re-arms the wait for the same window sequence (the host may legitimately be
// idle between repeats); this holds whether or not part of a window had
// arrived, and chunks received before the expiry are dropped.
const windowTimeout = 2 * time.Second

// adapter holds the process-wide state shared by every served connection:
// identity, advertised kernel list, and the registry kernels are resolved
// against. It has no mutable per-session fields, so serve can run
// concurrently for multiple hosts without locking any of it.
type adapter struct {
	bootID           uint64
	name             string
	kernelNames      []string
	maxWindowSamples uint32
	maxChannels      uint32
	stateDir         string
	registry         *kernel.Registry
	shutdown         *clock.Flag
	muxCfg           *smux.Config
	snappy           bool
}

// serveMuxed wraps one accepted net.Conn as the server side of a smux
// session and serves every stream the host opens on it as an independent
// session, until the session itself closes.
func (a *adapter) serveMuxed(conn net.Conn) {
	var rwc io.ReadWriteCloser = conn
	if a.snappy {
		rwc = wire.NewCompStream(conn)
	}
	session, err := wire.AcceptMuxSession(rwc, a.muxCfg)
	if err != nil {
		log.Printf("cortex-adapter: smux handshake with %s failed: %+v\n", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	for {
		stream, err := session.AcceptStream()
		if err != nil {
			return
		}
		go a.serve(stream)
	}
}

// serve drives one host connection end to end: handshake, then a
// RecvWindow/process/SendResult loop until the connection closes, an
// unrecoverable wire error occurs, or the process is shutting down. Each
// connection gets its own kernel.Instance, created fresh from the CONFIG
// frame's negotiated shape and torn down when the session ends; kernels are
// never shared across sessions: each session owns its kernel instance
// exclusively, applied symmetrically on the adapter side.
func (a *adapter) serve(conn net.Conn) {
	defer conn.Close()
	a.serveTransport(wire.NewTCPTransport(conn), conn.RemoteAddr().String())
}

// serveTransport is serve with the transport already built, shared between
// the TCP/smux accept path and the -stdio single-session mode.
func (a *adapter) serveTransport(t wire.Transport, peer string) {
	hello := wire.Hello{
		AdapterBootID:     a.bootID,
		AdapterName:       a.name,
		AdapterABIVersion: abiVersion,
		KernelNames:       a.kernelNames,
		MaxWindowSamples:  a.maxWindowSamples,
		MaxChannels:       a.maxChannels,
		Hostname:          deviceTriple.Hostname,
		CPU:               deviceTriple.CPU,
		OS:                deviceTriple.OS,
	}

	var inst *kernel.Instance
	initFn := func(cfg wire.Config) (wire.AdapterKernel, uint32, uint32, uint32, error) {
		calib, err := a.loadCalibration(cfg)
		if err != nil {
			return nil, 0, 0, 0, err
		}
		kcfg := kernel.NewConfig(cfg.Fs, cfg.W, cfg.H, cfg.C, dtypeFromWire(cfg.Dtype), false, cfg.Params, calib)
		loaded, err := a.registry.Load(cfg.KernelName, kcfg)
		if err != nil {
			return nil, 0, 0, 0, err
		}
		inst = loaded
		outW, outC, caps := loaded.OutputShape()
		return loaded, outW, outC, caps, nil
	}

	_, cfg, err := wire.AdapterHandshake(t, hello, initFn)
	if err != nil {
		log.Printf("cortex-adapter: handshake with %s failed: %+v\n", peer, err)
		return
	}
	defer func() {
		if inst != nil {
			inst.Teardown()
		}
	}()

	log.Printf("cortex-adapter: session %d established with %s for kernel %q\n", cfg.SessionID, peer, cfg.KernelName)

	seq := uint32(0)
	for {
		if a.shutdown.Get() {
			return
		}
		if err := a.serveOneWindow(t, inst, seq); err != nil {
			if wire.IsKind(err, wire.TimedOut) {
				// No complete window arrived within one recv slice,
				// typically because the host is idle (between windows, or
				// between repeats). Re-arm and keep waiting; a dead
				// connection surfaces as ConnReset instead.
				continue
			}
			if wire.IsKind(err, wire.ConnReset) {
				log.Printf("cortex-adapter: session %d closed by host\n", cfg.SessionID)
				return
			}
			color.Red("cortex-adapter: session %d window %d failed: %v", cfg.SessionID, seq, err)
			if errFrame, encErr := wire.EncodeFrame(wire.FrameError, 0, []byte(err.Error())); encErr == nil {
				_ = t.Send(errFrame)
			}
			return
		}
		seq++
	}
}

// serveOneWindow reassembles one WINDOW_CHUNK stream, brackets the kernel's
// process call with t_start/t_end, and replies with the RESULT_CHUNK stream.
func (a *adapter) serveOneWindow(t wire.Transport, inst wire.AdapterKernel, wantSeq uint32) error {
	input, err := wire.RecvWindow(t, wantSeq, windowTimeout)
	if err != nil {
		return err
	}
	tIn := clock.NowNS()

	tStart := clock.NowNS()
	output, err := inst.Process(input)
	tEnd := clock.NowNS()
	if err != nil {
		// Process is contractually infallible; an observed
		// failure here is an ADAPTER_CRASH-class event for this session.
		return wire.NewAdapterCrash(err)
	}

	// t_first_tx and t_last_tx bracket the result transmission; the whole
	// chunk stream is written in one SendResult call, so both are stamped
	// here; the metadata rides in chunk 0, before the last chunk leaves.
	tTx := clock.NowNS()
	meta := wire.ResultMeta{TIn: tIn, TStart: tStart, TEnd: tEnd, TFirstTx: tTx, TLastTx: tTx}
	return wire.SendResult(t, wantSeq, meta, output)
}

// loadCalibration resolves the optional calibration state blob CONFIG
// references, by kernel name, under the adapter's state directory.
func (a *adapter) loadCalibration(cfg wire.Config) ([]byte, error) {
	if !cfg.HasCalibBlob || a.stateDir == "" {
		return nil, nil
	}
	_, payload, err := kernel.LoadState(a.stateDir, cfg.KernelName)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func dtypeFromWire(d uint8) window.Dtype { return window.Dtype(d) }
