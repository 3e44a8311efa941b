package telemetry

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Format selects the on-disk telemetry encoding.
type Format string

const (
	FormatNDJSON   Format = "ndjson"
	FormatCSV      Format = "csv"
	FormatNDJSONGZ Format = "ndjson.gz"
)

// WriteFile writes every record in sink to path in the given format, creating
// any missing parent directories first (mkdir-p semantics, matching the
// calibration state file's directory handling).
func WriteFile(sink *Sink, dir, baseName string, format Format) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "telemetry: creating output directory")
	}

	path := filepath.Join(dir, baseName+"."+string(format))
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "telemetry: creating output file")
	}
	defer f.Close()

	switch format {
	case FormatNDJSON:
		return writeNDJSON(f, sink)
	case FormatNDJSONGZ:
		gz := gzip.NewWriter(f)
		defer gz.Close()
		return writeNDJSON(gz, sink)
	case FormatCSV:
		return writeCSV(f, sink)
	default:
		return errors.Errorf("telemetry: unknown output format %q", format)
	}
}

func writeNDJSON(w io.Writer, sink *Sink) error {
	enc := json.NewEncoder(w)
	for _, r := range sink.Records() {
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "telemetry: encoding ndjson record")
		}
	}
	return nil
}

func writeCSV(w io.Writer, sink *Sink) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "telemetry: writing csv header")
	}
	for _, r := range sink.Records() {
		row := []string{
			r.RunID,
			r.KernelName,
			strconv.Itoa(r.WindowIndex),
			strconv.Itoa(r.RepeatIndex),
			strconv.FormatBool(r.Warmup),
			strconv.FormatUint(r.ReleaseNS, 10),
			strconv.FormatUint(r.DeadlineNS, 10),
			strconv.FormatUint(r.StartNS, 10),
			strconv.FormatUint(r.EndNS, 10),
			strconv.FormatBool(r.DeadlineMissed),
			strconv.Itoa(r.W),
			strconv.Itoa(r.H),
			strconv.Itoa(r.C),
			fmt.Sprintf("%g", r.Fs),
			r.ErrorCode,
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "telemetry: writing csv row")
		}
	}
	cw.Flush()
	return cw.Error()
}
