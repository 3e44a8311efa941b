package main

import (
	"os"
	"os/signal"
	"syscall"
)

// installSignalBridge mirrors cmd/cortex-host's own bridge: a dedicated
// goroutine owns os/signal.Notify and forwards SIGINT/SIGTERM onto a plain
// channel, keeping the concrete os/signal dependency out of internal/sched
// (sched.InstallSignalHandler only ever sees an already-abstracted channel).
func installSignalBridge(out chan<- struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		out <- struct{}{}
	}()
}
