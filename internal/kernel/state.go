package kernel

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// stateMagic is the 4-byte ASCII tag "CORT" stamped at the head of every
// calibration state file.
const stateMagic uint32 = 0x434f5254

// stateHeaderSize is the fixed 16-byte header: magic, abi_version,
// state_version, payload_size, all little-endian uint32.
const stateHeaderSize = 16

// maxStatePayload bounds a single calibration blob at 256 MiB.
const maxStatePayload = 256 << 20

// ErrStateCorrupted is returned when a state file exists but its header does
// not parse as a CORTEX calibration state file.
var ErrStateCorrupted = errors.New("kernel: corrupted calibration state header")

// ErrStateABIMismatch is returned when a state file parses but was written
// under a different ABI version. State files are not portable across ABI
// versions; there is no bridging, only rejection.
var ErrStateABIMismatch = errors.New("kernel: calibration state ABI version mismatch")

// StateHeader describes a calibration blob's provenance without touching its
// payload bytes.
type StateHeader struct {
	ABIVersion   uint32
	StateVersion uint32
	PayloadSize  uint32
}

func statePath(root, kernelName string) (string, error) {
	if err := ValidateKernelName(kernelName); err != nil {
		return "", err
	}
	return filepath.Join(root, BaseName(kernelName)+".cortex_state"), nil
}

// LoadState reads the calibration state for kernelName under root, refusing
// files whose ABI version differs from the running ABI. A missing file is
// reported via os.IsNotExist on the returned error so callers can
// distinguish "never calibrated" from a corrupted or incompatible file.
func LoadState(root, kernelName string) (StateHeader, []byte, error) {
	path, err := statePath(root, kernelName)
	if err != nil {
		return StateHeader{}, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return StateHeader{}, nil, err
	}
	defer f.Close()

	header := make([]byte, stateHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return StateHeader{}, nil, errors.Wrap(ErrStateCorrupted, err.Error())
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != stateMagic {
		return StateHeader{}, nil, ErrStateCorrupted
	}
	hdr := StateHeader{
		ABIVersion:   binary.LittleEndian.Uint32(header[4:8]),
		StateVersion: binary.LittleEndian.Uint32(header[8:12]),
		PayloadSize:  binary.LittleEndian.Uint32(header[12:16]),
	}
	if hdr.ABIVersion != CurrentABIVersion {
		return StateHeader{}, nil, errors.Wrapf(ErrStateABIMismatch, "file has ABI %d, running ABI is %d", hdr.ABIVersion, CurrentABIVersion)
	}
	if hdr.PayloadSize > maxStatePayload {
		return StateHeader{}, nil, errors.Errorf("kernel: state payload %d exceeds cap %d", hdr.PayloadSize, maxStatePayload)
	}

	payload := make([]byte, hdr.PayloadSize)
	if _, err := io.ReadFull(f, payload); err != nil {
		return StateHeader{}, nil, errors.Wrap(ErrStateCorrupted, err.Error())
	}
	return hdr, payload, nil
}

// SaveState writes calibration state for kernelName under root, creating root
// (and any missing parents) if needed. The write is not fsynced: a crash
// mid-write can leave a truncated file, which the next LoadState rejects as
// corrupted (an error distinct from a missing file).
func SaveState(root, kernelName string, abiVersion, stateVersion uint32, payload []byte) error {
	if len(payload) > maxStatePayload {
		return errors.Errorf("kernel: state payload %d exceeds cap %d", len(payload), maxStatePayload)
	}
	path, err := statePath(root, kernelName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "kernel: creating state directory")
	}

	header := make([]byte, stateHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], stateMagic)
	binary.LittleEndian.PutUint32(header[4:8], abiVersion)
	binary.LittleEndian.PutUint32(header[8:12], stateVersion)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "kernel: creating state file")
	}
	defer f.Close()

	if _, err := f.Write(header); err != nil {
		return errors.Wrap(err, "kernel: writing state header")
	}
	if _, err := f.Write(payload); err != nil {
		return errors.Wrap(err, "kernel: writing state payload")
	}
	return nil
}
