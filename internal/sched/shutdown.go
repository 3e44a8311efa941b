package sched

import "github.com/cortexbench/cortex/internal/clock"

// InstallSignalHandler runs a single goroutine that blocks on sigCh and, on
// receipt, does the one
// thing an async-signal-safe handler is allowed to do: flip one atomic
// flag. Every other component polls that flag at its own well-defined
// points; none of them run on the signal-delivery goroutine itself.
//
// The caller owns sigCh's lifetime (typically fed by the signal bridge in
// cmd/cortex-host or cmd/cortex-adapter, which owns signal.Notify and keeps
// the concrete os/signal dependency out of this package).
func InstallSignalHandler(flag *clock.Flag, sigCh <-chan struct{}) {
	go func() {
		<-sigCh
		flag.Set()
	}()
}
