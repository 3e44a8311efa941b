//go:build !linux && !darwin

package kernel

import "github.com/pkg/errors"

// LoadedPlugin mirrors the unix variant's shape so callers compile
// identically on every platform; on platforms without the standard
// library's plugin package, Load always fails.
type LoadedPlugin struct {
	Path         string
	Init         InitFunc
	Process      ProcessFunc
	Teardown     TeardownFunc
	Calibrate    CalibrateFunc
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

// Load always fails on this platform: dynamic shared-object loading via the
// standard library's plugin package is only available on linux and darwin.
// Static, in-process kernels (InProcess) remain available everywhere.
func (l *Loader) Load(kernelName string) (*LoadedPlugin, error) {
	if err := ValidateKernelName(kernelName); err != nil {
		return nil, err
	}
	return nil, errors.New("kernel: dynamic plugin loading is not supported on this platform")
}
