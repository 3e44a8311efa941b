// Package deviceinfo fills the HELLO handshake's device description triple
// (hostname, CPU, OS) using gopsutil instead of hand-rolled /proc parsing.
package deviceinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// Triple is the (hostname, CPU, OS) description carried in HELLO.
type Triple struct {
	Hostname string
	CPU      string
	OS       string
}

// Collect queries the local host for its description triple. Any individual
// gopsutil failure degrades that one field to "unknown" rather than failing
// the whole handshake; the triple is informational telemetry enrichment,
// not a correctness-bearing field.
func Collect() Triple {
	t := Triple{Hostname: "unknown", CPU: "unknown", OS: "unknown"}

	if info, err := host.Info(); err == nil {
		t.Hostname = info.Hostname
		t.OS = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		t.CPU = fmt.Sprintf("%s (%d cores)", cpus[0].ModelName, len(cpus))
	}

	return t
}
