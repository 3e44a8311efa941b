// Package sched implements the Scheduler: the per-window
// orchestrator that dispatches windows to local or remote kernels, brackets
// execution with timestamps, enforces warm-up and deadline accounting, and
// drives graceful shutdown.
package sched

import (
	"time"

	"github.com/cortexbench/cortex/internal/kernel"
	"github.com/cortexbench/cortex/internal/wire"
)

// Placement is the tagged-union member the Scheduler dispatches a window
// through, uniformly for local and remote kernels. There is no inheritance
// here, only two concrete implementations behind this one interface.
type Placement interface {
	// Process runs one window and returns its output. sequence counts the
	// windows dispatched to this kernel over its session (it keeps counting
	// across repeats), used by the remote
	// implementation for chunk sequencing; the local implementation ignores
	// it.
	Process(win []byte, sequence uint32, timeout time.Duration) ([]byte, error)
	Teardown()
}

// Local wraps an in-process or dynamically loaded kernel.Instance. A non-nil
// error from Process here means the kernel's process call panicked, which
// the ABI contract declares impossible, so the caller
// must treat it as an unchecked programming error, not a per-window failure.
type Local struct {
	Instance *kernel.Instance
}

func (l *Local) Process(win []byte, _ uint32, _ time.Duration) ([]byte, error) {
	return l.Instance.Process(win)
}

func (l *Local) Teardown() {
	l.Instance.Teardown()
}

// Remote wraps a wire.HostSession talking to an adapter over the device
// link. Process errors here are ordinary per-window or per-run failures,
// not programming errors.
type Remote struct {
	Session *wire.HostSession
}

func (r *Remote) Process(win []byte, sequence uint32, timeout time.Duration) ([]byte, error) {
	if err := r.Session.SendWindow(sequence, win, timeout); err != nil {
		return nil, err
	}
	_, output, err := r.Session.RecvResult(sequence, timeout)
	if err != nil {
		return nil, err
	}
	return output, nil
}

func (r *Remote) Teardown() {
	r.Session.Close()
}
