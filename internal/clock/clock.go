// Package clock provides the monotonic time source the scheduler and
// replayer pace themselves against. Nothing in this package ever reads the
// wall clock for scheduling math; wall-clock reads are confined to
// human-facing log lines elsewhere in the tree.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/rs/xid"
)

// epoch anchors NowNS's monotonic reading. time.Since(epoch) stays monotonic
// for the life of the process because time.Time retains its monotonic
// reading as long as it is never serialized through Unix()/Format().
var epoch = time.Now()

// NowNS returns nanoseconds elapsed since process start, from the runtime's
// monotonic clock reading. It never observes the wall clock.
func NowNS() uint64 {
	return uint64(time.Since(epoch))
}

// Flag is a single-writer, multi-reader shutdown flag. The writer is the
// async-signal-safe handler (or any caller of Set); every component in the
// run polls Get at the points documented in the scheduler's lifecycle.
type Flag struct {
	v int32
}

func (f *Flag) Set() {
	atomic.StoreInt32(&f.v, 1)
}

func (f *Flag) Get() bool {
	return atomic.LoadInt32(&f.v) != 0
}

// SleepUntil blocks until NowNS() >= deadlineNS or the flag is set, absorbing
// spurious wakeups by re-checking after every slice. It never computes a
// sleep duration from "now" on each iteration without re-reading the clock,
// which is how duration-based pacing accumulates drift.
func SleepUntil(flag *Flag, deadlineNS uint64) {
	const maxSlice = 2 * time.Millisecond
	for {
		if flag != nil && flag.Get() {
			return
		}
		now := NowNS()
		if now >= deadlineNS {
			return
		}
		remaining := time.Duration(deadlineNS - now)
		slice := remaining
		if slice > maxSlice {
			slice = maxSlice
		}
		time.Sleep(slice)
	}
}

// NewRunID returns a short opaque string, unique within this host, suitable
// for tagging a single benchmarking run's telemetry records.
func NewRunID() string {
	return xid.New().String()
}

// NewSessionID returns an opaque 64-bit integer identifying one
// HELLO/CONFIG/ACK session on the wire protocol.
func NewSessionID() uint64 {
	id := xid.New()
	// fold the 12-byte xid into a 64-bit session identifier: the wire
	// protocol's session_id field is a fixed-width integer, not a string.
	// The fold keeps the 4-byte timestamp, the low pid byte and the 3-byte
	// counter; the machine id is constant within a host and is dropped.
	var v uint64
	for _, b := range id[:4] {
		v = v<<8 | uint64(b)
	}
	for _, b := range id[8:] {
		v = v<<8 | uint64(b)
	}
	return v
}
