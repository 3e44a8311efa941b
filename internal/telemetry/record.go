// Package telemetry implements the append-only telemetry sink: an
// in-memory, doubling-growth record buffer plus ndjson/csv/ndjson.gz file
// writers.
package telemetry

// Record is one TelemetryRecord: a single kernel's timing and
// outcome for a single window.
type Record struct {
	RunID          string  `json:"run_id"`
	KernelName     string  `json:"kernel_name"`
	WindowIndex    int     `json:"window_index"`
	RepeatIndex    int     `json:"repeat_index"`
	Warmup         bool    `json:"warmup"`
	ReleaseNS      uint64  `json:"release_ns"`
	DeadlineNS     uint64  `json:"deadline_ns"`
	StartNS        uint64  `json:"start_ns"`
	EndNS          uint64  `json:"end_ns"`
	DeadlineMissed bool    `json:"deadline_missed"`
	W              int     `json:"w"`
	H              int     `json:"h"`
	C              int     `json:"c"`
	Fs             float64 `json:"fs"`
	ErrorCode      string  `json:"error_code"`
}

// csvHeader is the fixed column order for the csv output format.
var csvHeader = []string{
	"run_id", "kernel_name", "window_index", "repeat_index", "warmup",
	"release_ns", "deadline_ns", "start_ns", "end_ns", "deadline_missed",
	"w", "h", "c", "fs", "error_code",
}
