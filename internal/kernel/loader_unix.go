//go:build linux || darwin

package kernel

import (
	"path/filepath"
	"plugin"
	"runtime"

	"github.com/pkg/errors"
)

func sharedLibExt() string {
	if runtime.GOOS == "darwin" {
		return ".dylib"
	}
	return ".so"
}

// LoadedPlugin is a kernel loaded from a shared object: an owning library
// handle plus its resolved, borrowed function table. The handle's drop order
// must follow every Instance vended from it, enforced by lexical scoping in
// the scheduler, not by this package.
type LoadedPlugin struct {
	Path         string
	Init         InitFunc
	Process      ProcessFunc
	Teardown     TeardownFunc
	Calibrate    CalibrateFunc // nil if the plugin does not export it
	HasCalibrate bool
}

// Loader resolves kernel names under one spec_uri root into shared objects.
type Loader struct {
	specURI string
}

// NewLoader builds a Loader rooted at specURI.
func NewLoader(specURI string) *Loader {
	return &Loader{specURI: specURI}
}

// Load resolves, opens, and symbol-binds the shared object for kernelName.
// Path validation happens before any filesystem access.
func (l *Loader) Load(kernelName string) (*LoadedPlugin, error) {
	if err := ValidateKernelName(kernelName); err != nil {
		return nil, err
	}
	base := BaseName(kernelName)
	path := filepath.Join(l.specURI, "lib"+base+sharedLibExt())

	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "kernel: open plugin %s", path)
	}

	initSym, err := p.Lookup("Init")
	if err != nil {
		return nil, errors.Wrapf(err, "kernel: plugin %s missing Init symbol", path)
	}
	initFn, ok := initSym.(func(Config) (Handle, uint32, uint32, uint32, bool))
	if !ok {
		return nil, errors.Errorf("kernel: plugin %s Init has wrong signature", path)
	}

	processSym, err := p.Lookup("Process")
	if err != nil {
		return nil, errors.Wrapf(err, "kernel: plugin %s missing Process symbol", path)
	}
	processFn, ok := processSym.(func(Handle, []byte, []byte))
	if !ok {
		return nil, errors.Errorf("kernel: plugin %s Process has wrong signature", path)
	}

	teardownSym, err := p.Lookup("Teardown")
	if err != nil {
		return nil, errors.Wrapf(err, "kernel: plugin %s missing Teardown symbol", path)
	}
	teardownFn, ok := teardownSym.(func(Handle))
	if !ok {
		return nil, errors.Errorf("kernel: plugin %s Teardown has wrong signature", path)
	}

	lp := &LoadedPlugin{
		Path:     path,
		Init:     InitFunc(initFn),
		Process:  ProcessFunc(processFn),
		Teardown: TeardownFunc(teardownFn),
	}

	// Presence of the optional Calibrate symbol implies the "offline
	// calibration" capability.
	if calibSym, err := p.Lookup("Calibrate"); err == nil {
		if calibFn, ok := calibSym.(func(Config, []byte, uint32) ([]byte, uint32, error)); ok {
			lp.Calibrate = CalibrateFunc(calibFn)
			lp.HasCalibrate = true
		}
	}

	return lp, nil
}
