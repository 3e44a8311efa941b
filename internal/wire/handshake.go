package wire

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	nameFieldLen   = 32  // adapter_name, chosen kernel name
	paramsFieldLen = 256 // CONFIG parameter string cap
)

// Hello is the adapter's opening advertisement.
type Hello struct {
	AdapterBootID     uint64
	AdapterName       string
	AdapterABIVersion uint32
	KernelNames       []string
	MaxWindowSamples  uint32
	MaxChannels       uint32
	Hostname          string
	CPU               string
	OS                string
}

func putFixedString(b []byte, s string) {
	n := copy(b, s)
	for i := n; i < len(b); i++ {
		b[i] = 0
	}
}

func getFixedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// MarshalHello serializes a Hello frame payload.
func MarshalHello(h Hello) []byte {
	// layout: boot_id(8) abi_version(4) name(32) max_w(4) max_c(4)
	// hostname(64) cpu(64) os(32) kernel_count(2) then kernel_count * 32-byte names
	buf := make([]byte, 8+4+nameFieldLen+4+4+64+64+32+2+len(h.KernelNames)*nameFieldLen)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], h.AdapterBootID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], h.AdapterABIVersion)
	off += 4
	putFixedString(buf[off:off+nameFieldLen], h.AdapterName)
	off += nameFieldLen
	binary.LittleEndian.PutUint32(buf[off:], h.MaxWindowSamples)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.MaxChannels)
	off += 4
	putFixedString(buf[off:off+64], h.Hostname)
	off += 64
	putFixedString(buf[off:off+64], h.CPU)
	off += 64
	putFixedString(buf[off:off+32], h.OS)
	off += 32
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(h.KernelNames)))
	off += 2
	for _, name := range h.KernelNames {
		putFixedString(buf[off:off+nameFieldLen], name)
		off += nameFieldLen
	}
	return buf
}

// UnmarshalHello parses a Hello frame payload produced by MarshalHello.
func UnmarshalHello(b []byte) (Hello, error) {
	minLen := 8 + 4 + nameFieldLen + 4 + 4 + 64 + 64 + 32 + 2
	if len(b) < minLen {
		return Hello{}, newErr(InvalidFrame, "HELLO payload too short")
	}
	var h Hello
	off := 0
	h.AdapterBootID = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.AdapterABIVersion = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.AdapterName = getFixedString(b[off : off+nameFieldLen])
	off += nameFieldLen
	h.MaxWindowSamples = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.MaxChannels = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.Hostname = getFixedString(b[off : off+64])
	off += 64
	h.CPU = getFixedString(b[off : off+64])
	off += 64
	h.OS = getFixedString(b[off : off+32])
	off += 32
	count := binary.LittleEndian.Uint16(b[off:])
	off += 2
	if len(b) < off+int(count)*nameFieldLen {
		return Hello{}, newErr(InvalidFrame, "HELLO kernel name array truncated")
	}
	h.KernelNames = make([]string, count)
	for i := 0; i < int(count); i++ {
		h.KernelNames[i] = getFixedString(b[off : off+nameFieldLen])
		off += nameFieldLen
	}
	return h, nil
}

// Config is the host's CONFIG response.
type Config struct {
	SessionID     uint64
	Fs            float64
	W             uint32
	H             uint32
	C             uint32
	Dtype         uint8
	KernelName    string
	Params        string
	HasCalibBlob  bool
	CalibBlobSize uint32
}

// MarshalConfig serializes a Config frame payload.
func MarshalConfig(c Config) []byte {
	buf := make([]byte, 8+8+4+4+4+1+nameFieldLen+4+paramsFieldLen+1+4)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], c.SessionID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(c.Fs))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], c.W)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.H)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.C)
	off += 4
	buf[off] = c.Dtype
	off++
	putFixedString(buf[off:off+nameFieldLen], c.KernelName)
	off += nameFieldLen
	paramsLen := len(c.Params)
	if paramsLen > paramsFieldLen {
		paramsLen = paramsFieldLen
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(paramsLen))
	off += 4
	copy(buf[off:off+paramsFieldLen], c.Params[:paramsLen])
	off += paramsFieldLen
	if c.HasCalibBlob {
		buf[off] = 1
	}
	off++
	binary.LittleEndian.PutUint32(buf[off:], c.CalibBlobSize)
	return buf
}

// UnmarshalConfig parses a Config frame payload produced by MarshalConfig.
func UnmarshalConfig(b []byte) (Config, error) {
	want := 8 + 8 + 4 + 4 + 4 + 1 + nameFieldLen + 4 + paramsFieldLen + 1 + 4
	if len(b) < want {
		return Config{}, newErr(InvalidFrame, "CONFIG payload too short")
	}
	var c Config
	off := 0
	c.SessionID = binary.LittleEndian.Uint64(b[off:])
	off += 8
	c.Fs = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	c.W = binary.LittleEndian.Uint32(b[off:])
	off += 4
	c.H = binary.LittleEndian.Uint32(b[off:])
	off += 4
	c.C = binary.LittleEndian.Uint32(b[off:])
	off += 4
	c.Dtype = b[off]
	off++
	c.KernelName = getFixedString(b[off : off+nameFieldLen])
	off += nameFieldLen
	paramsLen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if paramsLen > paramsFieldLen || int(off)+paramsFieldLen > len(b) {
		return Config{}, newErr(InvalidFrame, "CONFIG params length invalid")
	}
	c.Params = string(b[off : off+int(paramsLen)])
	off += paramsFieldLen
	c.HasCalibBlob = b[off] != 0
	off++
	c.CalibBlobSize = binary.LittleEndian.Uint32(b[off:])
	return c, nil
}

// Ack is the adapter's handshake reply carrying the negotiated output
// shape, or error bits set on init failure.
type Ack struct {
	OK           bool
	ErrorMessage string
	OutputW      uint32
	OutputC      uint32
	Capabilities uint32
}

func MarshalAck(a Ack) []byte {
	buf := make([]byte, 1+4+4+4+4+len(a.ErrorMessage))
	off := 0
	if a.OK {
		buf[off] = 1
	}
	off++
	binary.LittleEndian.PutUint32(buf[off:], a.OutputW)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], a.OutputC)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], a.Capabilities)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(a.ErrorMessage)))
	off += 4
	copy(buf[off:], a.ErrorMessage)
	return buf
}

func UnmarshalAck(b []byte) (Ack, error) {
	if len(b) < 17 {
		return Ack{}, newErr(InvalidFrame, "ACK payload too short")
	}
	var a Ack
	off := 0
	a.OK = b[off] != 0
	off++
	a.OutputW = binary.LittleEndian.Uint32(b[off:])
	off += 4
	a.OutputC = binary.LittleEndian.Uint32(b[off:])
	off += 4
	a.Capabilities = binary.LittleEndian.Uint32(b[off:])
	off += 4
	msgLen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if uint32(len(b)-off) < msgLen {
		return Ack{}, newErr(InvalidFrame, "ACK error message truncated")
	}
	a.ErrorMessage = string(b[off : off+int(msgLen)])
	return a, nil
}

// HandshakeTimeout is the long, seconds-class per-phase timeout for
// HELLO/CONFIG/ACK.
const HandshakeTimeout = 5 * time.Second
