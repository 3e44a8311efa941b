package kernel

import (
	"sync"

	"github.com/pkg/errors"
)

// Instance is a running kernel, already init'd, regardless of whether it came
// from a loaded shared object or a statically-linked InProcess kernel. It
// satisfies wire.AdapterKernel's Process(input) (output, err) shape: Process
// is contractually infallible per the ABI, so Instance.Process only ever
// returns a non-nil error when the kernel panics; it recovers the panic into
// a plain error (which the adapter then reports as an AdapterCrash) so one
// bad window cannot take down the whole adapter process undetected.
type Instance struct {
	outputW, outputC, capabilities uint32
	outputElemSize                 int

	handle    Handle
	process   ProcessFunc
	teardown  TeardownFunc
	calibrate CalibrateFunc
}

// OutputShape returns the kernel's declared output width, channel count, and
// capability bitmask as reported at init.
func (in *Instance) OutputShape() (outputW, outputC, capabilities uint32) {
	return in.outputW, in.outputC, in.capabilities
}

// HasCapability reports whether bit is set in the instance's capability mask.
func (in *Instance) HasCapability(bit uint32) bool {
	return in.capabilities&bit != 0
}

// Process runs one window through the kernel, recovering a panic into an
// error instead of letting it cross the ABI boundary uncontrolled.
func (in *Instance) Process(input []byte) (output []byte, err error) {
	out := make([]byte, int(in.outputW)*int(in.outputC)*in.outputElemSize)
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("kernel: process panicked: %v", r)
		}
	}()
	in.process(in.handle, input, out)
	return out, nil
}

// Calibrate runs the kernel's offline calibration pass, if it supports one.
func (in *Instance) Calibrate(cfg Config, data []byte, numWindows uint32) ([]byte, uint32, error) {
	if in.calibrate == nil {
		return nil, 0, errors.New("kernel: instance does not support calibration")
	}
	return in.calibrate(cfg, data, numWindows)
}

// Teardown releases the kernel's resources. Safe to call once; the registry
// does not call it automatically.
func (in *Instance) Teardown() {
	in.teardown(in.handle)
}

// Registry resolves kernel names to running instances, either by loading a
// shared object from a spec_uri root (dynamic, linux/darwin only) or by
// looking up a name registered as a statically-linked InProcess kernel
// (available on every platform). It caches the per-path LoadedPlugin so a
// kernel referenced from multiple sessions is opened from disk only once.
type Registry struct {
	loader *Loader

	mu      sync.Mutex
	plugins map[string]*LoadedPlugin
	statics map[string]InProcess
}

// NewRegistry builds a Registry that resolves dynamic kernel names under
// specURI.
func NewRegistry(specURI string) *Registry {
	return &Registry{
		loader:  NewLoader(specURI),
		plugins: make(map[string]*LoadedPlugin),
		statics: make(map[string]InProcess),
	}
}

// RegisterStatic makes name resolvable to a built-in, statically-linked
// kernel instead of a shared object. Intended for reference kernels compiled
// directly into the host or adapter binary.
func (r *Registry) RegisterStatic(name string, kernel InProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statics[name] = kernel
}

// outputElemSize returns the byte width of one output element for the given
// output dtype; CORTEX kernels always emit the same dtype family the window
// assembler feeds them.
func outputElemSize(cfg Config) int {
	return cfg.Dtype.ElemSize()
}

// Load resolves kernelName (first against statically-registered kernels,
// then against the dynamic loader) and runs its init with cfg, returning a
// ready-to-use Instance.
func (r *Registry) Load(kernelName string, cfg Config) (*Instance, error) {
	r.mu.Lock()
	static, isStatic := r.statics[kernelName]
	r.mu.Unlock()

	if isStatic {
		handle, outputW, outputC, caps, ok := static.Init(cfg)
		if !ok {
			return nil, errors.Errorf("kernel: static kernel %q rejected init config", kernelName)
		}
		inst := &Instance{
			outputW: outputW, outputC: outputC, capabilities: caps,
			outputElemSize: outputElemSize(cfg),
			handle:         handle,
			process:        static.Process,
			teardown:       static.Teardown,
		}
		if calib, ok := static.(Calibratable); ok {
			inst.calibrate = calib.Calibrate
		}
		return inst, nil
	}

	plug, err := r.loadPlugin(kernelName)
	if err != nil {
		return nil, err
	}
	handle, outputW, outputC, caps, ok := plug.Init(cfg)
	if !ok {
		return nil, errors.Errorf("kernel: plugin kernel %q rejected init config", kernelName)
	}
	inst := &Instance{
		outputW: outputW, outputC: outputC, capabilities: caps,
		outputElemSize: outputElemSize(cfg),
		handle:         handle,
		process:        plug.Process,
		teardown:       plug.Teardown,
	}
	if plug.HasCalibrate {
		inst.calibrate = plug.Calibrate
	}
	return inst, nil
}

func (r *Registry) loadPlugin(kernelName string) (*LoadedPlugin, error) {
	base := BaseName(kernelName)

	r.mu.Lock()
	if cached, ok := r.plugins[base]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	plug, err := r.loader.Load(kernelName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.plugins[base] = plug
	r.mu.Unlock()
	return plug, nil
}
