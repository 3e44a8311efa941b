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

// Command cortex-adapter is the remote executor: it listens for a host
// connection, speaks the HELLO -> CONFIG -> ACK handshake, loads the
// requested kernel, and then services one WINDOW_CHUNK/RESULT_CHUNK round
// trip per window until the host disconnects.
package main

import (
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/urfave/cli"
	_ "go.uber.org/automaxprocs"

	"github.com/cortexbench/cortex/internal/clock"
	"github.com/cortexbench/cortex/internal/deviceinfo"
	"github.com/cortexbench/cortex/internal/kernel"
	"github.com/cortexbench/cortex/internal/kernel/refkernel"
	"github.com/cortexbench/cortex/internal/sched"
	"github.com/cortexbench/cortex/internal/wire"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

const (
	exitOK          = 0
	exitConfigError = 1
	exitInitFailure = 2
)

// abiVersion is the adapter's advertised protocol ABI, distinct from
// kernel.CurrentABIVersion (the kernel plugin ABI); the two evolve
// independently.
const abiVersion = 1

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "cortex-adapter"
	app.Usage = "CORTEX benchmarking harness: remote adapter side"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "listen", Value: ":7711", Usage: "address to listen on for host connections"},
		cli.BoolFlag{Name: "stdio", Usage: "serve a single session on stdin/stdout instead of listening (local loopback mode)"},
		cli.StringFlag{Name: "name", Value: "cortex-adapter", Usage: "adapter_name advertised in HELLO"},
		cli.StringFlag{Name: "kernels-spec-uri", Usage: "root directory for dynamically loaded shared-object kernels"},
		cli.StringFlag{Name: "kernels", Value: "identity,mean-subtract,normalize", Usage: "comma-separated kernel names advertised in HELLO (built-ins: identity, mean-subtract, normalize)"},
		cli.IntFlag{Name: "max-window-samples", Value: 1 << 16, Usage: "maximum W this adapter will accept"},
		cli.IntFlag{Name: "max-channels", Value: 4096, Usage: "maximum C this adapter will accept"},
		cli.StringFlag{Name: "state-dir", Usage: "directory holding this adapter's calibration state files"},
		cli.StringFlag{Name: "log", Usage: "redirect log output to this file"},
		cli.IntFlag{Name: "smuxver", Value: 2, Usage: "smux protocol version accepted from hosts"},
		cli.IntFlag{Name: "smuxbuf", Value: 4194304, Usage: "smux session receive buffer, bytes"},
		cli.IntFlag{Name: "streambuf", Value: 2097152, Usage: "smux per-stream receive buffer, bytes"},
		cli.IntFlag{Name: "framesize", Value: 4096, Usage: "smux max frame size, bytes"},
		cli.IntFlag{Name: "keepalive", Value: 10, Usage: "smux keepalive interval, seconds"},
		cli.BoolFlag{Name: "snappy", Usage: "expect host connections wrapped in a snappy compressed stream"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(exitConfigError)
	}
}

func run(c *cli.Context) error {
	if logPath := c.String("log"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			fatal(exitConfigError, err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	bootID := newBootID()
	kernelNames := splitNonEmpty(c.String("kernels"))

	reg := kernel.NewRegistry(c.String("kernels-spec-uri"))
	reg.RegisterStatic("identity", refkernel.Identity{})
	reg.RegisterStatic("mean-subtract", refkernel.MeanSubtract{})
	reg.RegisterStatic("normalize", refkernel.Normalize{})

	shutdown := &clock.Flag{}
	sigCh := make(chan struct{}, 1)
	installSignalBridge(sigCh)
	sched.InstallSignalHandler(shutdown, sigCh)

	muxCfg, err := wire.MuxConfig(c.Int("smuxver"), c.Int("smuxbuf"), c.Int("streambuf"), c.Int("framesize"), c.Int("keepalive"))
	if err != nil {
		fatal(exitConfigError, err)
	}

	ad := &adapter{
		bootID:           bootID,
		name:             c.String("name"),
		kernelNames:      kernelNames,
		maxWindowSamples: uint32(c.Int("max-window-samples")),
		maxChannels:      uint32(c.Int("max-channels")),
		stateDir:         c.String("state-dir"),
		registry:         reg,
		shutdown:         shutdown,
		muxCfg:           muxCfg,
		snappy:           c.Bool("snappy"),
	}

	if c.Bool("stdio") {
		// Local loopback: the host spawned this process and owns its
		// stdin/stdout as the byte-stream link. One session, then exit.
		// log already writes to stderr, which stays free for diagnostics.
		log.Println("cortex-adapter serving one session on stdio, boot_id:", bootID, "kernels:", kernelNames)
		ad.serveTransport(wire.NewStdioTransport(os.Stdin, os.Stdout, nil), "stdio")
		os.Exit(exitOK)
	}

	ln, err := net.Listen("tcp", c.String("listen"))
	if err != nil {
		fatal(exitInitFailure, err)
	}
	defer ln.Close()
	log.Println("cortex-adapter listening on", ln.Addr(), "boot_id:", bootID, "kernels:", kernelNames)

	go acceptLoop(ln, ad, shutdown)

	for !shutdown.Get() {
		time.Sleep(50 * time.Millisecond)
	}
	log.Println("cortex-adapter shutting down")
	os.Exit(exitOK)
	return nil
}

// acceptLoop accepts host connections, wraps each as a smux session, and
// services every stream on its own goroutine; sessions are independent of
// one another, even though several may share one underlying net.Conn when a
// host multiplexes more than one remote kernel entry onto the same
// transport_uri. This is unlike the host's own single-threaded per-window
// dispatch, which this process does not share in or constrain.
func acceptLoop(ln net.Listener, ad *adapter, shutdown *clock.Flag) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if shutdown.Get() {
				return
			}
			log.Printf("accept: %+v\n", err)
			continue
		}
		go ad.serveMuxed(conn)
	}
}

// newBootID folds a fresh xid into a 64-bit adapter_boot_id, the same way
// clock.NewSessionID folds one into a session_id; both only need to be
// unique within a host, which xid.New() guarantees without any
// coordination.
func newBootID() uint64 {
	id := xid.New()
	var v uint64
	for _, b := range id[:4] {
		v = v<<8 | uint64(b)
	}
	for _, b := range id[8:] {
		v = v<<8 | uint64(b)
	}
	return v
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fatal(code int, err error) {
	log.Printf("%+v\n", err)
	os.Exit(code)
}

// deviceTriple is resolved once per process, not per session: the
// (hostname, CPU, OS) triple does not change between connections.
var deviceTriple = deviceinfo.Collect()
