// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command cortex-host drives one benchmarking run: it replays a sample file,
// assembles sliding windows, dispatches them to local or remote kernels, and
// writes telemetry.
package main

import (
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"github.com/xtaci/smux"
	_ "go.uber.org/automaxprocs"

	"github.com/cortexbench/cortex/internal/clock"
	cfgpkg "github.com/cortexbench/cortex/internal/config"
	"github.com/cortexbench/cortex/internal/kernel"
	"github.com/cortexbench/cortex/internal/sched"
	"github.com/cortexbench/cortex/internal/telemetry"
	"github.com/cortexbench/cortex/internal/window"
	"github.com/cortexbench/cortex/internal/wire"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// exit codes.
const (
	exitOK               = 0
	exitConfigError      = 1
	exitInitFailure      = 2
	exitSignalTerminated = 130
)

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "cortex-host"
	app.Usage = "CORTEX benchmarking harness: host side"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "dataset", Usage: "path to the raw, headerless sample file"},
		cli.Float64Flag{Name: "fs", Usage: "sample rate, Hz"},
		cli.IntFlag{Name: "w", Usage: "window length, samples"},
		cli.IntFlag{Name: "h", Usage: "hop, samples"},
		cli.IntFlag{Name: "chans", Value: 1, Usage: "channel count"},
		cli.StringFlag{Name: "dtype", Value: "f32", Usage: "f32, q15, or q7"},
		cli.Float64Flag{Name: "warmup", Usage: "warmup_seconds"},
		cli.Float64Flag{Name: "duration", Usage: "duration_seconds per repeat"},
		cli.IntFlag{Name: "repeats", Value: 1, Usage: "number of independent measured repeats"},
		cli.Float64Flag{Name: "deadline-ms", Usage: "explicit per-window deadline override, milliseconds"},
		cli.StringFlag{Name: "kernels", Usage: "path to the TOML kernel-list file"},
		cli.StringFlag{Name: "output-dir", Value: "./cortex-out", Usage: "telemetry output directory"},
		cli.StringFlag{Name: "output-format", Value: "ndjson", Usage: "ndjson, csv, or ndjson.gz"},
		cli.IntFlag{Name: "failure-threshold", Value: 8, Usage: "consecutive window failures before a kernel is disabled"},
		cli.StringFlag{Name: "metrics-addr", Usage: "optional host:port to serve Prometheus metrics on"},
		cli.StringFlag{Name: "log", Usage: "redirect log output to this file"},
		cli.StringFlag{Name: "c", Usage: "JSON config file overriding the flags above"},
		cli.IntFlag{Name: "smuxver", Value: 2, Usage: "smux protocol version for remote kernels sharing a transport_uri"},
		cli.IntFlag{Name: "smuxbuf", Value: 4194304, Usage: "smux session receive buffer, bytes"},
		cli.IntFlag{Name: "streambuf", Value: 2097152, Usage: "smux per-stream receive buffer, bytes"},
		cli.IntFlag{Name: "framesize", Value: 4096, Usage: "smux max frame size, bytes"},
		cli.IntFlag{Name: "keepalive", Value: 10, Usage: "smux keepalive interval, seconds"},
		cli.BoolFlag{Name: "snappy", Usage: "wrap adapter connections in a snappy compressed stream"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(exitConfigError)
	}
}

func run(c *cli.Context) error {
	cfg := cfgpkg.Config{
		DatasetPath:      c.String("dataset"),
		Fs:               c.Float64("fs"),
		W:                c.Int("w"),
		H:                c.Int("h"),
		C:                c.Int("chans"),
		Dtype:            c.String("dtype"),
		WarmupSeconds:    c.Float64("warmup"),
		DurationSeconds:  c.Float64("duration"),
		Repeats:          c.Int("repeats"),
		DeadlineMS:       c.Float64("deadline-ms"),
		KernelsFile:      c.String("kernels"),
		OutputDir:        c.String("output-dir"),
		OutputFormat:     c.String("output-format"),
		MetricsAddr:      c.String("metrics-addr"),
		FailureThreshold: c.Int("failure-threshold"),
	}

	if path := c.String("c"); path != "" {
		if err := cfgpkg.ParseJSONConfig(&cfg, path); err != nil {
			fatal(exitConfigError, err)
		}
	}

	if logPath := c.String("log"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			fatal(exitConfigError, err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if cfg.KernelsFile != "" {
		entries, err := cfgpkg.LoadKernelsFile(cfg.KernelsFile)
		if err != nil {
			fatal(exitConfigError, err)
		}
		cfg.Kernels = entries
	}

	spec, err := cfg.WindowSpec()
	if err != nil {
		fatal(exitConfigError, err)
	}

	runID := clock.NewRunID()
	log.Println("run_id:", runID)
	log.Println("dataset:", cfg.DatasetPath)
	log.Println("spec: fs =", spec.Fs, "w =", spec.W, "h =", spec.H, "c =", spec.C, "dtype =", spec.Dtype)

	var metrics *telemetry.Metrics
	if cfg.MetricsAddr != "" {
		metrics = telemetry.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %+v\n", err)
			}
		}()
		log.Println("metrics listening on:", cfg.MetricsAddr)
	}

	shutdown := &clock.Flag{}
	sigCh := make(chan struct{}, 1)
	installSignalBridge(sigCh)
	sched.InstallSignalHandler(shutdown, sigCh)

	sink := telemetry.NewSink()
	deadlineOverrideNS := uint64(cfg.DeadlineMS * 1e6)

	// Per-window timeout: short, derived from the deadline budget as a few
	// deadline periods, floored so sub-millisecond hops don't produce an
	// unusably tight recv window. The handshake keeps its own seconds-class
	// timeout (wire.HandshakeTimeout).
	windowTimeout := time.Duration(4 * spec.DeadlineSeconds() * float64(time.Second))
	if deadlineOverrideNS != 0 {
		windowTimeout = 4 * time.Duration(deadlineOverrideNS)
	}
	if windowTimeout < 250*time.Millisecond {
		windowTimeout = 250 * time.Millisecond
	}

	s := sched.New(spec, shutdown, sink, metrics, runID, cfg.WarmupSeconds, deadlineOverrideNS, windowTimeout, cfg.FailureThreshold)

	muxCfg, err := wire.MuxConfig(c.Int("smuxver"), c.Int("smuxbuf"), c.Int("streambuf"), c.Int("framesize"), c.Int("keepalive"))
	if err != nil {
		fatal(exitConfigError, err)
	}

	registries := make(map[string]*kernel.Registry)
	muxSessions := make(map[string]*smux.Session)
	for _, entry := range cfg.Kernels {
		if entry.Status != cfgpkg.StatusReady {
			continue
		}
		if err := wireKernel(s, spec, entry, registries, muxSessions, muxCfg, c.Bool("snappy")); err != nil {
			color.Red("kernel %q skipped: %v", entry.Name, err)
			fatal(exitInitFailure, err)
		}
	}

	for repeat := 0; repeat < cfg.Repeats; repeat++ {
		if shutdown.Get() {
			break
		}
		stats, err := s.RunOnce(cfg.DatasetPath, repeat, cfg.DurationSeconds)
		if err != nil {
			fatal(exitInitFailure, err)
		}
		log.Println("repeat", repeat, "hops_emitted:", stats.HopsEmitted, "late_emissions:", stats.LateEmissions)
	}

	for _, kr := range s.Kernels() {
		rate := sink.MissRate(kr.Name())
		log.Printf("kernel %s: miss_rate=%.4f disabled=%v", kr.Name(), rate, kr.Disabled())
	}
	s.Teardown()

	if err := telemetry.WriteFile(sink, cfg.OutputDir, runID, telemetry.Format(cfg.OutputFormat)); err != nil {
		fatal(exitInitFailure, err)
	}

	if shutdown.Get() {
		os.Exit(exitSignalTerminated)
	}
	os.Exit(exitOK)
	return nil
}

// wireKernel resolves one ready kernel entry to either a local plugin/static
// instance or a remote handshaken session and registers it with s. Remote
// entries sharing one transport_uri reuse a single multiplexed smux session
// (one dialed net.Conn, one smux.Stream per kernel), dialing only on the
// first entry that names a given transport_uri.
func wireKernel(s *sched.Scheduler, spec window.Spec, entry cfgpkg.KernelEntry, registries map[string]*kernel.Registry, muxSessions map[string]*smux.Session, muxCfg *smux.Config, useSnappy bool) error {
	switch entry.Kind {
	case cfgpkg.KindLocal:
		reg, ok := registries[entry.SpecURI]
		if !ok {
			reg = kernel.NewRegistry(entry.SpecURI)
			registries[entry.SpecURI] = reg
		}

		var calibState []byte
		if entry.CalibrationStatePath != "" {
			_, state, err := kernel.LoadState(entry.CalibrationStatePath, entry.Name)
			if err == nil {
				calibState = state
			} else if !os.IsNotExist(err) {
				return err
			}
		}

		cfg := kernel.NewConfig(spec.Fs, uint32(spec.W), uint32(spec.H), uint32(spec.C), spec.Dtype, false, entry.Params, calibState)
		inst, err := reg.Load(entry.Name, cfg)
		if err != nil {
			return err
		}
		s.AddLocalKernel(entry.Name, inst)
		return nil

	case cfgpkg.KindRemote:
		// Local loopback: "stdio://<command ...>" spawns the adapter as a
		// subprocess and uses its stdin/stdout as the byte-stream link.
		// One subprocess per kernel entry; no smux layer in between.
		if cmdline, isStdio := strings.CutPrefix(entry.TransportURI, "stdio://"); isStdio {
			transport, err := spawnStdioAdapter(cmdline)
			if err != nil {
				return err
			}
			return handshakeRemote(s, spec, entry, transport)
		}

		session, ok := muxSessions[entry.TransportURI]
		if !ok {
			conn, err := net.DialTimeout("tcp", entry.TransportURI, 5*time.Second)
			if err != nil {
				return err
			}
			var rwc io.ReadWriteCloser = conn
			if useSnappy {
				rwc = wire.NewCompStream(conn)
			}
			session, err = wire.DialMuxSession(rwc, muxCfg)
			if err != nil {
				return err
			}
			muxSessions[entry.TransportURI] = session
		}
		stream, err := session.OpenStream()
		if err != nil {
			return err
		}
		return handshakeRemote(s, spec, entry, wire.NewSmuxTransport(stream))

	default:
		return &unknownKindError{kind: string(entry.Kind)}
	}
}

// handshakeRemote performs HELLO -> CONFIG -> ACK over an already-open
// transport and registers the resulting session with the scheduler.
func handshakeRemote(s *sched.Scheduler, spec window.Spec, entry cfgpkg.KernelEntry, transport wire.Transport) error {
	var calibSize uint32
	if entry.CalibrationStatePath != "" {
		hdr, _, err := kernel.LoadState(entry.CalibrationStatePath, entry.Name)
		switch {
		case err == nil:
			calibSize = hdr.PayloadSize
		case !os.IsNotExist(err):
			// A corrupted or ABI-incompatible state file is an init
			// failure, not a silent "never calibrated".
			return err
		}
	}

	wireCfg := wire.Config{
		SessionID:     clock.NewSessionID(),
		Fs:            spec.Fs,
		W:             uint32(spec.W),
		H:             uint32(spec.H),
		C:             uint32(spec.C),
		Dtype:         uint8(spec.Dtype),
		KernelName:    entry.Name,
		Params:        entry.Params,
		HasCalibBlob:  calibSize > 0,
		CalibBlobSize: calibSize,
	}
	sess, err := wire.DoHostHandshake(transport, wireCfg)
	if err != nil {
		return err
	}
	ack := sess.Ack()
	s.AddRemoteKernel(entry.Name, sess, ack.OutputW, ack.OutputC, ack.Capabilities)
	return nil
}

// stdioProcCloser closes the subprocess's stdin (the adapter reads EOF and
// exits) and then reaps it.
type stdioProcCloser struct {
	stdin io.Closer
	cmd   *exec.Cmd
}

func (p stdioProcCloser) Close() error {
	p.stdin.Close()
	return p.cmd.Wait()
}

// spawnStdioAdapter starts cmdline as a subprocess and wires its
// stdin/stdout as the transport; stderr passes through for diagnostics.
func spawnStdioAdapter(cmdline string) (wire.Transport, error) {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return nil, errors.New("config: stdio:// transport_uri has no command")
	}
	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return wire.NewStdioTransport(stdout, stdin, stdioProcCloser{stdin: stdin, cmd: cmd}), nil
}

type unknownKindError struct{ kind string }

func (e *unknownKindError) Error() string { return "config: unknown kernel kind " + e.kind }

func fatal(code int, err error) {
	log.Printf("%+v\n", err)
	os.Exit(code)
}
