// Package replay implements the dataset replayer: it reads a raw,
// headerless sample file and pushes hop-sized chunks to a callback at the
// configured cadence, rewinding on EOF, compensating drift by scheduling
// against an absolute "next emit" timestamp rather than accumulating
// duration-based sleeps.
package replay

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cortexbench/cortex/internal/clock"
	"github.com/cortexbench/cortex/internal/window"
)

// Callback receives one hop's worth of bytes, synchronously, on the
// Replayer's own goroutine. It must not block longer than one hop period or
// pacing will drift; the Window Assembler's PushHop is the expected callee.
type Callback func(hop []byte)

// Stats is a point-in-time snapshot of replay progress, for telemetry and
// end-of-run summaries.
type Stats struct {
	HopsEmitted   uint64
	LateEmissions uint64
}

// Replayer reads path in a loop, rewinding on EOF, emitting H·C-element
// chunks at the configured hop cadence.
type Replayer struct {
	path string
	spec window.Spec
	flag *clock.Flag
	cb   Callback

	hopsEmitted   uint64
	lateEmissions uint64
}

// New builds a Replayer. flag is polled at the top of every iteration; cb is
// invoked once per hop.
func New(path string, spec window.Spec, flag *clock.Flag, cb Callback) *Replayer {
	return &Replayer{path: path, spec: spec, flag: flag, cb: cb}
}

// Stats returns the current counters. Safe to call concurrently with Run.
func (r *Replayer) Stats() Stats {
	return Stats{
		HopsEmitted:   atomic.LoadUint64(&r.hopsEmitted),
		LateEmissions: atomic.LoadUint64(&r.lateEmissions),
	}
}

// Run opens the sample file and loops until the shutdown flag is set or a
// fatal error occurs. A read error mid-file is cleared and treated as an
// implicit EOF (rewind). The fatal errors are: the initial open failing, a
// file too small to supply one full hop, and a failed rewind seek.
func (r *Replayer) Run() error {
	f, err := os.Open(r.path)
	if err != nil {
		return errors.Wrap(err, "replay: open")
	}
	defer f.Close()

	hopBytes := r.spec.HopBytes()
	hopPeriodNS := uint64(float64(r.spec.H) / r.spec.Fs * 1e9)
	buf := make([]byte, hopBytes)

	nextEmit := clock.NowNS()
	rewinds := 0
	for {
		if r.flag != nil && r.flag.Get() {
			return nil
		}

		n, rerr := io.ReadFull(f, buf)
		if rerr != nil || n != hopBytes {
			// Any short read or error mid-file, including io.EOF and
			// io.ErrUnexpectedEOF on a trailing partial hop, rewinds. Two
			// rewinds with no full hop between them means the file cannot
			// supply even one hop.
			if rewinds++; rewinds > 1 {
				return errors.Errorf("replay: %s holds fewer than %d bytes (one hop)", r.path, hopBytes)
			}
			if _, serr := f.Seek(0, io.SeekStart); serr != nil {
				return errors.Wrap(serr, "replay: rewind")
			}
			continue
		}
		rewinds = 0

		clock.SleepUntil(r.flag, nextEmit)
		if r.flag != nil && r.flag.Get() {
			return nil
		}
		if clock.NowNS() > nextEmit+hopPeriodNS {
			atomic.AddUint64(&r.lateEmissions, 1)
		}

		r.cb(buf)
		atomic.AddUint64(&r.hopsEmitted, 1)

		// Advance the absolute target by exactly one hop period, never by
		// adding a duration to "now"; that is how drift accumulates.
		nextEmit += hopPeriodNS
	}
}
