// Package stxetx implements byte-stuffed STX/ETX framing with a one-byte
// block check.
//
// On the wire a frame is STX, the escaped payload, the escaped check byte,
// then ETX. A payload or check byte equal to STX, ETX or DLE is sent as DLE
// followed by the byte plus 0x80.
package stxetx

import (
	"github.com/c360/semdevices/codec"
)

// Control bytes.
const (
	STX byte = 0x02
	ETX byte = 0x03
	DLE byte = 0x10

	escapeOffset byte = 0x80
)

// DefaultMaxFrame bounds the unescaped payload length.
const DefaultMaxFrame = 256

// Checksum computes the block check over the unescaped payload.
type Checksum func(payload []byte) byte

func reserved(b byte) bool {
	return b == STX || b == ETX || b == DLE
}

func appendEscaped(dst []byte, b byte) []byte {
	if reserved(b) {
		return append(dst, DLE, b+escapeOffset)
	}
	return append(dst, b)
}

// Encode frames payload using sum as the block check.
func Encode(payload []byte, sum Checksum) []byte {
	return EncodeWithCheck(payload, sum(payload))
}

// EncodeWithCheck frames payload with an explicit check byte.
func EncodeWithCheck(payload []byte, check byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, STX)
	for _, b := range payload {
		out = appendEscaped(out, b)
	}
	out = appendEscaped(out, check)
	return append(out, ETX)
}

// Decoder reassembles frames from an arbitrary byte stream.
type Decoder struct {
	sum      Checksum
	maxFrame int

	state   codec.State
	escaped bool
	buf     []byte
	raw     []byte
}

// NewDecoder returns a decoder validating with sum. maxFrame <= 0 selects
// DefaultMaxFrame.
func NewDecoder(sum Checksum, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Decoder{sum: sum, maxFrame: maxFrame}
}

// State reports the current framer state.
func (d *Decoder) State() codec.State {
	return d.state
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.state = codec.AwaitingStart
	d.escaped = false
	d.buf = d.buf[:0]
	d.raw = d.raw[:0]
}

func (d *Decoder) begin() {
	d.Reset()
	d.state = codec.AccumulatingPayload
	d.raw = append(d.raw, STX)
}

func (d *Decoder) discard(status codec.Status) codec.Frame {
	f := codec.Frame{Raw: append([]byte(nil), d.raw...), Status: status}
	d.Reset()
	return f
}

// Feed consumes p and returns every frame it completes.
func (d *Decoder) Feed(p []byte) []codec.Frame {
	var out []codec.Frame

	for _, b := range p {
		if d.state == codec.AwaitingStart {
			if b == STX {
				d.begin()
			}
			continue
		}

		// An unescaped STX can only begin a frame.
		if b == STX {
			out = append(out, d.discard(codec.Malformed))
			d.begin()
			continue
		}

		d.raw = append(d.raw, b)

		switch {
		case d.escaped:
			d.escaped = false
			v := b - escapeOffset
			if b < escapeOffset || !reserved(v) {
				out = append(out, d.discard(codec.Malformed))
				continue
			}
			d.buf = append(d.buf, v)
		case b == DLE:
			d.escaped = true
			continue
		case b == ETX:
			d.state = codec.AwaitingChecksum
			out = append(out, d.complete())
			continue
		default:
			d.buf = append(d.buf, b)
		}

		if len(d.buf) > d.maxFrame+1 {
			out = append(out, d.discard(codec.Overrun))
		}
	}
	return out
}

func (d *Decoder) complete() codec.Frame {
	if len(d.buf) < 1 {
		return d.discard(codec.Malformed)
	}

	last := len(d.buf) - 1
	payload := make([]byte, last)
	copy(payload, d.buf[:last])
	actual := d.buf[last]
	expected := d.sum(payload)

	f := codec.Frame{
		Payload:  payload,
		Raw:      append([]byte(nil), d.raw...),
		Expected: uint32(expected),
		Actual:   uint32(actual),
		Status:   codec.Valid,
	}
	if expected != actual {
		f.Status = codec.ChecksumMismatch
		f.Payload = nil
	}
	d.Reset()
	return f
}
