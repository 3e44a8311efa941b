// Package refkernel provides a handful of statically-linked, built-in
// kernels for CI and smoke testing. Each one is a plain kernel.InProcess
// value; none of them allocate, block, or perform I/O from Process, matching
// the ABI contract exactly like a loaded plugin would have to.
package refkernel

import (
	"math"

	"github.com/cortexbench/cortex/internal/kernel"
)

// Identity copies its input straight to its output unchanged: output shape
// equals input shape. Useful for exercising the plumbing (wire transfer,
// scheduler dispatch, telemetry) without any real DSP in the loop.
type Identity struct{}

func (Identity) Init(cfg kernel.Config) (kernel.Handle, uint32, uint32, uint32, bool) {
	if cfg.ABIVersion != kernel.CurrentABIVersion {
		return nil, 0, 0, 0, false
	}
	return struct{}{}, cfg.W, cfg.C, 0, true
}

func (Identity) Process(handle kernel.Handle, input, output []byte) {
	copy(output, input)
}

func (Identity) Teardown(handle kernel.Handle) {}

// MeanSubtract removes the per-channel mean over the window: a minimal,
// deterministic stand-in for a common-average-reference style kernel,
// operating on f32 sample-major input. Output
// shape equals input shape.
type MeanSubtract struct{}

func (MeanSubtract) Init(cfg kernel.Config) (kernel.Handle, uint32, uint32, uint32, bool) {
	if cfg.ABIVersion != kernel.CurrentABIVersion {
		return nil, 0, 0, 0, false
	}
	if cfg.Dtype.ElemSize() != 4 {
		return nil, 0, 0, 0, false
	}
	return msState{w: cfg.W, c: cfg.C}, cfg.W, cfg.C, 0, true
}

type msState struct{ w, c uint32 }

// Process imputes any NaN sample as zero before it participates in a sum,
// then subtracts the per-channel mean computed over the full window length.
func (MeanSubtract) Process(handle kernel.Handle, input, output []byte) {
	st := handle.(msState)
	w, c := int(st.w), int(st.c)
	for ch := 0; ch < c; ch++ {
		sum := float64(0)
		for t := 0; t < w; t++ {
			off := (t*c + ch) * 4
			v := math.Float32frombits(le32(input[off : off+4]))
			if math.IsNaN(float64(v)) {
				v = 0
			}
			sum += float64(v)
		}
		mean := float32(sum / float64(w))
		for t := 0; t < w; t++ {
			off := (t*c + ch) * 4
			v := math.Float32frombits(le32(input[off : off+4]))
			if math.IsNaN(float64(v)) {
				v = 0
			}
			putLE32(output[off:off+4], math.Float32bits(v-mean))
		}
	}
}

func (MeanSubtract) Teardown(handle kernel.Handle) {}

// Normalize scales every sample by a per-channel gain learned offline: the
// calibrate pass measures each channel's RMS over the training windows and
// stores its reciprocal, so a calibrated instance emits unit-RMS output.
// Without calibration state every gain is 1 and Normalize degenerates to
// Identity. It is the built-in exercise of the offline-calibration
// capability end to end: calibrate, state file round trip, init-from-state.
type Normalize struct{}

type normState struct {
	w, c  uint32
	gains []float32
}

func (Normalize) Init(cfg kernel.Config) (kernel.Handle, uint32, uint32, uint32, bool) {
	if cfg.ABIVersion != kernel.CurrentABIVersion {
		return nil, 0, 0, 0, false
	}
	if cfg.Dtype.ElemSize() != 4 {
		return nil, 0, 0, 0, false
	}
	gains := make([]float32, cfg.C)
	for i := range gains {
		gains[i] = 1
	}
	if len(cfg.CalibState) > 0 {
		if len(cfg.CalibState) != int(cfg.C)*4 {
			return nil, 0, 0, 0, false
		}
		for i := range gains {
			gains[i] = math.Float32frombits(le32(cfg.CalibState[i*4 : i*4+4]))
		}
	}
	return &normState{w: cfg.W, c: cfg.C, gains: gains}, cfg.W, cfg.C, kernel.CapCalibration, true
}

func (Normalize) Process(handle kernel.Handle, input, output []byte) {
	st := handle.(*normState)
	w, c := int(st.w), int(st.c)
	for t := 0; t < w; t++ {
		for ch := 0; ch < c; ch++ {
			off := (t*c + ch) * 4
			v := math.Float32frombits(le32(input[off : off+4]))
			if math.IsNaN(float64(v)) {
				v = 0
			}
			putLE32(output[off:off+4], math.Float32bits(v*st.gains[ch]))
		}
	}
}

func (Normalize) Teardown(handle kernel.Handle) {}

// Calibrate measures per-channel RMS over numWindows concatenated training
// windows and returns the gain table as C little-endian float32 values. NaN
// samples are imputed as zero; a silent channel keeps gain 1. Deterministic
// for identical inputs.
func (Normalize) Calibrate(cfg kernel.Config, data []byte, numWindows uint32) ([]byte, uint32, error) {
	c := int(cfg.C)
	samples := int(numWindows) * int(cfg.W)
	sums := make([]float64, c)
	for t := 0; t < samples; t++ {
		for ch := 0; ch < c; ch++ {
			off := (t*c + ch) * 4
			v := float64(math.Float32frombits(le32(data[off : off+4])))
			if math.IsNaN(v) {
				v = 0
			}
			sums[ch] += v * v
		}
	}
	out := make([]byte, c*4)
	for ch := 0; ch < c; ch++ {
		gain := float32(1)
		if rms := math.Sqrt(sums[ch] / float64(samples)); rms > 0 {
			gain = float32(1 / rms)
		}
		putLE32(out[ch*4:ch*4+4], math.Float32bits(gain))
	}
	return out, 1, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
