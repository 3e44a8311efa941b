// Package window implements the sliding-window state machine:
// it keeps a rolling buffer of the last W samples across C interleaved
// channels and emits a window view every H samples once W·C elements have
// accumulated.
package window

import (
	"math"

	"github.com/pkg/errors"
)

// Dtype is the element type carried by a window's sample buffer.
type Dtype int

const (
	F32 Dtype = iota
	Q15
	Q7
)

// ElemSize returns the on-wire/in-memory size in bytes of one sample element.
func (d Dtype) ElemSize() int {
	switch d {
	case F32:
		return 4
	case Q15:
		return 2
	case Q7:
		return 1
	default:
		return 0
	}
}

func (d Dtype) String() string {
	switch d {
	case F32:
		return "f32"
	case Q15:
		return "q15"
	case Q7:
		return "q7"
	default:
		return "unknown"
	}
}

// Spec is the immutable per-run window geometry.
type Spec struct {
	Fs    float64 // sample rate, Hz
	W     int     // window length, samples
	H     int     // hop, samples, 0 < H <= W
	C     int     // channel count
	Dtype Dtype
}

// Validate checks the WindowSpec invariants.
func (s Spec) Validate() error {
	if s.Fs <= 0 {
		return errors.New("window: Fs must be > 0")
	}
	if s.W <= 0 {
		return errors.New("window: W must be > 0")
	}
	if s.H <= 0 || s.H > s.W {
		return errors.New("window: H must satisfy 0 < H <= W")
	}
	if s.C <= 0 {
		return errors.New("window: C must be > 0")
	}
	if s.Dtype.ElemSize() == 0 {
		return errors.Errorf("window: unknown dtype %d", s.Dtype)
	}
	return nil
}

// DeadlineSeconds returns the derived per-window deadline D = H/Fs.
func (s Spec) DeadlineSeconds() float64 {
	return float64(s.H) / s.Fs
}

// HopBytes is the byte length of one hop chunk (H·C elements).
func (s Spec) HopBytes() int {
	return s.H * s.C * s.Dtype.ElemSize()
}

// WindowBytes is the byte length of one emitted window (W·C elements).
func (s Spec) WindowBytes() int {
	return s.W * s.C * s.Dtype.ElemSize()
}

// WarmupWindows returns ceil(warmupSeconds*Fs/H), the number of leading
// windows tagged warmup=true.
func (s Spec) WarmupWindows(warmupSeconds float64) int {
	if warmupSeconds <= 0 {
		return 0
	}
	return int(math.Ceil(warmupSeconds * s.Fs / float64(s.H)))
}

// Assembler maintains the rolling W-sample buffer and emits a window each
// time a hop completes it. It is owned and driven synchronously by whatever
// calls PushHop (the Replayer's callback); it is not safe for concurrent use.
type Assembler struct {
	spec      Spec
	windowLen int
	hopLen    int
	buf       []byte
	filled    int
	index     int // count of windows emitted since the last Reset
}

// NewAssembler builds an Assembler for spec. spec must already be valid.
func NewAssembler(spec Spec) *Assembler {
	return &Assembler{
		spec:      spec,
		windowLen: spec.WindowBytes(),
		hopLen:    spec.HopBytes(),
		buf:       make([]byte, spec.WindowBytes()),
	}
}

// PushHop shifts one hop's worth of bytes (must be exactly HopBytes long)
// into the rolling buffer and returns the emitted window once W·C elements
// have accumulated. Nothing is allocated here: PushHop runs on the
// replayer's hot path, once per hop. The returned slice is only valid until
// the next call to PushHop or Reset; callers that need to retain it across
// that boundary must copy it.
func (a *Assembler) PushHop(hop []byte) (win []byte, windowIndex int, ok bool) {
	if len(hop) != a.hopLen {
		panic(errors.Errorf("window: PushHop expected %d bytes, got %d", a.hopLen, len(hop)))
	}
	if a.filled+a.hopLen > a.windowLen {
		shift := a.filled + a.hopLen - a.windowLen
		copy(a.buf, a.buf[shift:a.filled])
		a.filled -= shift
	}
	copy(a.buf[a.filled:], hop)
	a.filled += a.hopLen
	if a.filled < a.windowLen {
		return nil, 0, false
	}
	idx := a.index
	a.index++
	return a.buf, idx, true
}

// Reset clears the rolling buffer and the window-index counter, used at
// repeat boundaries.
func (a *Assembler) Reset() {
	a.filled = 0
	a.index = 0
}

// Spec returns the geometry this assembler was built with.
func (a *Assembler) Spec() Spec {
	return a.spec
}
