// Package codec holds the types shared by the wire-protocol framers.
//
// Every framer is an incremental decoder: Feed accepts whatever bytes the
// transport produced and returns each frame completed by them, valid or not.
// Invalid frames carry their raw bytes for diagnostics and are never
// interpreted further.
package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/c360/semdevices/errors"
)

// State is the position of a framer within the current frame.
type State int

// Framer states.
const (
	AwaitingStart State = iota
	AccumulatingPayload
	AwaitingChecksum
)

func (s State) String() string {
	switch s {
	case AwaitingStart:
		return "awaiting_start"
	case AccumulatingPayload:
		return "accumulating_payload"
	case AwaitingChecksum:
		return "awaiting_checksum"
	default:
		return "unknown"
	}
}

// Status classifies a completed frame.
type Status int

// Frame statuses.
const (
	Valid Status = iota
	ChecksumMismatch
	Malformed
	Overrun
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case ChecksumMismatch:
		return "checksum"
	case Malformed:
		return "malformed"
	case Overrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// Frame is one delimited unit taken off the wire.
type Frame struct {
	// Payload is the unescaped content between the delimiters, excluding the
	// checksum. Only meaningful when Status is Valid.
	Payload []byte
	// Raw is the bytes as received, for diagnostics.
	Raw    []byte
	Status Status
	// Expected is the checksum computed locally; Actual is the one received.
	Expected uint32
	Actual   uint32
}

// Err returns nil for a valid frame and the matching taxonomy error
// otherwise.
func (f Frame) Err() error {
	switch f.Status {
	case Valid:
		return nil
	case ChecksumMismatch:
		return &errors.ChecksumError{Expected: f.Expected, Actual: f.Actual}
	case Overrun:
		return errors.ErrBufferOverrun
	default:
		return errors.ErrMalformedFrame
	}
}

// Hex renders raw bytes for log lines.
func (f Frame) Hex() string {
	return hex.EncodeToString(f.Raw)
}

// String summarises the frame.
func (f Frame) String() string {
	if f.Status == ChecksumMismatch {
		return fmt.Sprintf("%s(expected=0x%02X actual=0x%02X raw=%s)", f.Status, f.Expected, f.Actual, f.Hex())
	}
	return fmt.Sprintf("%s(raw=%s)", f.Status, f.Hex())
}

// Decoder is implemented by every incremental framer.
type Decoder interface {
	Feed(p []byte) []Frame
	State() State
	Reset()
}

// XOR folds payload with exclusive-or.
func XOR(payload []byte) byte {
	var c byte
	for _, b := range payload {
		c ^= b
	}
	return c
}

// Sum8 is the low byte of the arithmetic sum of payload.
func Sum8(payload []byte) byte {
	var c byte
	for _, b := range payload {
		c += b
	}
	return c
}

// FoldedSum adds the low and high bytes of the 16-bit sum of payload.
func FoldedSum(payload []byte) byte {
	var s uint16
	for _, b := range payload {
		s += uint16(b)
	}
	return byte(s) + byte(s>>8)
}
