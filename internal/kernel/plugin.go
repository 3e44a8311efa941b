// Package kernel implements the kernel plugin ABI and its state I/O:
// the init/process/teardown/calibrate contract, the shared-object loader and
// its anti-traversal path validation, the flat key=value parameter accessor,
// and calibration state file I/O.
package kernel

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/cortexbench/cortex/internal/window"
)

// CurrentABIVersion is the single integer ABI version this build speaks.
// init must refuse any config whose ABIVersion differs; earlier ABIs are
// not bridged, only rejected.
const CurrentABIVersion uint32 = 1

// CapCalibration is bit 0 of a kernel instance's capabilities bitmask:
// "supports offline calibration".
const CapCalibration uint32 = 1 << 0

// Handle is the kernel's opaque per-instance state. It is never interpreted
// by this package, only passed back to Process/Teardown/Calibrate.
type Handle any

// Config is the record passed to a kernel's init. The struct
// is strictly append-only across ABI versions; StructSize tells a plugin
// built against an older layout which of the fields below it may read.
type Config struct {
	ABIVersion   uint32
	StructSize   uint32
	Fs           float64
	W, H, C      uint32
	Dtype        window.Dtype
	AllowInPlace bool
	Params       string
	CalibState   []byte
}

// configStructSizeV1 is the size advertised for the current layout. A future
// ABI bump only appends fields and bumps this constant; it never shrinks or
// reorders existing ones.
const configStructSizeV1 = 64

// NewConfig builds a Config stamped with the current ABI version and struct
// size, ready to hand to a kernel's init.
func NewConfig(fs float64, w, h, c uint32, dtype window.Dtype, allowInPlace bool, params string, calibState []byte) Config {
	return Config{
		ABIVersion:   CurrentABIVersion,
		StructSize:   configStructSizeV1,
		Fs:           fs,
		W:            w,
		H:            h,
		C:            c,
		Dtype:        dtype,
		AllowInPlace: allowInPlace,
		Params:       params,
		CalibState:   calibState,
	}
}

// InitFunc allocates and validates a kernel instance. A nil Handle (ok=false)
// signals init failure; a mismatched ABIVersion or StructSize is the most
// common reason and must be checked first, before touching any field the
// caller's StructSize implies is unpopulated.
type InitFunc func(cfg Config) (handle Handle, outputW, outputC, capabilities uint32, ok bool)

// ProcessFunc computes one window's output. It must not allocate, block,
// touch the heap beyond what init already reserved, or perform I/O, and must
// be reentrant across distinct handles but not across concurrent calls on
// the same handle. It is contractually infallible: an observed panic
// terminates the process.
type ProcessFunc func(handle Handle, input, output []byte)

// TeardownFunc releases everything init allocated.
type TeardownFunc func(handle Handle)

// CalibrateFunc runs expensive batch training over num_windows concatenated
// windows in data and returns an opaque state blob plus its state_version.
// Deterministic for identical inputs; NaN samples are imputed the way the
// algorithm documents.
type CalibrateFunc func(cfg Config, data []byte, numWindows uint32) (state []byte, stateVersion uint32, err error)

// InProcess is the interface a statically-linked, built-in kernel
// implements, used instead of dlopen/plugin.Open for reference kernels
// compiled directly into the binary; real harnesses ship a handful of
// kernels this way for CI and smoke testing.
type InProcess interface {
	Init(cfg Config) (handle Handle, outputW, outputC, capabilities uint32, ok bool)
	Process(handle Handle, input, output []byte)
	Teardown(handle Handle)
}

// Calibratable is optionally implemented by an InProcess kernel that
// supports offline calibration.
type Calibratable interface {
	Calibrate(cfg Config, data []byte, numWindows uint32) (state []byte, stateVersion uint32, err error)
}

// ValidateKernelName rejects any kernel name whose base-name component
// (everything before an optional "@" separator) contains "..", "/", "\", or
// ":": an anti-traversal rule, applied both to plugin paths and to derived
// calibration-state filenames.
func ValidateKernelName(name string) error {
	base := name
	if i := strings.IndexByte(name, '@'); i >= 0 {
		base = name[:i]
	}
	if base == "" {
		return errors.New("kernel: empty kernel name")
	}
	for _, bad := range []string{"..", "/", "\\", ":"} {
		if strings.Contains(base, bad) {
			return errors.Errorf("kernel: rejected kernel name %q: contains %q", name, bad)
		}
	}
	return nil
}

// BaseName returns the kernel's base name, the portion before an optional
// "@" separator, used to build the shared-object filename "lib<base>.<ext>".
func BaseName(name string) string {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i]
	}
	return name
}
