package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempFile(t, "config.json", `{"dataset_path":"/tmp/data.bin","fs":160,"c":64,"w":160,"h":80,"dtype":"f32","repeats":3}`)

	var cfg Config
	if err := ParseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("ParseJSONConfig: %v", err)
	}
	if cfg.Fs != 160 || cfg.C != 64 || cfg.Repeats != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := ParseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadKernelsFile(t *testing.T) {
	path := writeTempFile(t, "kernels.toml", `
[[kernel]]
kind = "local"
name = "car"
spec_uri = "/opt/kernels"
params = "order=2"
status = "ready"

[[kernel]]
kind = "remote"
name = "fir"
transport_uri = "tcp://10.0.0.5:9000"
status = "disabled"
`)
	entries, err := LoadKernelsFile(path)
	if err != nil {
		t.Fatalf("LoadKernelsFile: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 kernel entries, got %d", len(entries))
	}
	if entries[0].Kind != KindLocal || entries[0].Name != "car" || entries[0].Status != StatusReady {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Kind != KindRemote || entries[1].Status != StatusDisabled {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestWindowSpecFromConfig(t *testing.T) {
	cfg := Config{Fs: 160, W: 160, H: 80, C: 64, Dtype: "f32"}
	spec, err := cfg.WindowSpec()
	if err != nil {
		t.Fatalf("WindowSpec: %v", err)
	}
	if spec.W != 160 || spec.H != 80 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func TestWindowSpecUnknownDtype(t *testing.T) {
	cfg := Config{Fs: 160, W: 160, H: 80, C: 64, Dtype: "bogus"}
	if _, err := cfg.WindowSpec(); err == nil {
		t.Fatalf("expected error for unknown dtype")
	}
}
