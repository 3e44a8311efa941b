package main

import (
	"os"
	"os/signal"
	"syscall"
)

// installSignalBridge runs a dedicated goroutine owning os/signal.Notify and
// bridges SIGINT/SIGTERM into a plain channel. The async-signal-safe half
// stops there; sched.InstallSignalHandler does the one-atomic-flag flip.
func installSignalBridge(out chan<- struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		out <- struct{}{}
	}()
}
