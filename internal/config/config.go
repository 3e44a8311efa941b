// Package config builds the typed Config record the core consumes. It is the
// explicitly out-of-scope ingestion layer: JSON file override plus CLI flags,
// with an added TOML kernel-list file since a flat flag set cannot express
// kernels[].
package config

import (
	"encoding/json"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/cortexbench/cortex/internal/window"
)

// KernelKind distinguishes a local (in-process/plugin) kernel entry from a
// remote (wire-protocol adapter) one.
type KernelKind string

const (
	KindLocal  KernelKind = "local"
	KindRemote KernelKind = "remote"
)

// KernelStatus gates whether a kernel entry participates in a run at all.
type KernelStatus string

const (
	StatusReady    KernelStatus = "ready"
	StatusDisabled KernelStatus = "disabled"
)

// KernelEntry is one element of the kernels[] array.
type KernelEntry struct {
	Kind                 KernelKind   `toml:"kind" json:"kind"`
	Name                 string       `toml:"name" json:"name"`
	SpecURI              string       `toml:"spec_uri" json:"spec_uri"`
	TransportURI         string       `toml:"transport_uri" json:"transport_uri"`
	Params               string       `toml:"params" json:"params"`
	Status               KernelStatus `toml:"status" json:"status"`
	CalibrationStatePath string       `toml:"calibration_state_path" json:"calibration_state_path"`
}

// Config is the full typed record handed to the core.
type Config struct {
	DatasetPath      string        `json:"dataset_path"`
	Fs               float64       `json:"fs"`
	C                int           `json:"c"`
	W                int           `json:"w"`
	H                int           `json:"h"`
	Dtype            string        `json:"dtype"`
	WarmupSeconds    float64       `json:"warmup_seconds"`
	DurationSeconds  float64       `json:"duration_seconds"`
	Repeats          int           `json:"repeats"`
	DeadlineMS       float64       `json:"deadline_ms"`
	KernelsFile      string        `json:"kernels_file"`
	Kernels          []KernelEntry `json:"-"`
	OutputDir        string        `json:"output_dir"`
	OutputFormat     string        `json:"output_format"`
	MetricsAddr      string        `json:"metrics_addr"`
	FailureThreshold int           `json:"failure_threshold"`
}

// ParseJSONConfig decodes path into config, overlaying whatever values the
// caller has already set from CLI flag defaults.
func ParseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(config)
}

// kernelsFile is the on-disk shape of a TOML kernel-list file: a top-level
// [[kernel]] array of tables.
type kernelsFile struct {
	Kernel []KernelEntry `toml:"kernel"`
}

// LoadKernelsFile reads the structured kernel-list file at path (TOML,
// BurntSushi/toml) and returns its kernel entries. A flat CLI/JSON config
// cannot express a list of structured records, hence the separate file.
func LoadKernelsFile(path string) ([]KernelEntry, error) {
	var kf kernelsFile
	if _, err := toml.DecodeFile(path, &kf); err != nil {
		return nil, errors.Wrapf(err, "config: decoding kernels file %s", path)
	}
	return kf.Kernel, nil
}

// dtypeByName maps the config record's string dtype to window.Dtype.
var dtypeByName = map[string]window.Dtype{
	"f32": window.F32,
	"q15": window.Q15,
	"q7":  window.Q7,
}

// WindowSpec builds the core's window.Spec from the config record,
// validating the dtype name along the way (everything else is validated by
// window.Spec.Validate itself).
func (c Config) WindowSpec() (window.Spec, error) {
	dt, ok := dtypeByName[c.Dtype]
	if !ok {
		return window.Spec{}, errors.Errorf("config: unknown dtype %q", c.Dtype)
	}
	spec := window.Spec{Fs: c.Fs, W: c.W, H: c.H, C: c.C, Dtype: dt}
	if err := spec.Validate(); err != nil {
		return window.Spec{}, err
	}
	return spec, nil
}
