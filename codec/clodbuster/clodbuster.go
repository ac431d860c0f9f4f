// Package clodbuster implements the fixed-size packet protocol of the
// ClodBuster motor controller.
//
// Requests are six bytes: 0xFA 0xFB, command, two argument bytes and the low
// byte of the sum of command and arguments. The encoder reply is eight
// bytes: sync, 'e', left and right counts as big-endian int16, checksum.
package clodbuster

import (
	"encoding/binary"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/errors"
)

// Sync bytes.
const (
	Sync0 byte = 0xFA
	Sync1 byte = 0xFB
)

// Commands.
const (
	CmdSetSpeed     byte = 'S'
	CmdReadEncoders byte = 'E'
	CmdEnable       byte = 'M'
	ReplyEncoders   byte = 'e'
)

// Packet sizes.
const (
	RequestLen = 6
	ReplyLen   = 8
	replyBody  = 5
)

func request(cmd, a, b byte) []byte {
	return []byte{Sync0, Sync1, cmd, a, b, codec.Sum8([]byte{cmd, a, b})}
}

// SetSpeed sets signed PWM duty for the left and right sides.
func SetSpeed(left, right int8) []byte {
	return request(CmdSetSpeed, byte(left), byte(right))
}

// ReadEncoders polls the encoder counters.
func ReadEncoders() []byte {
	return request(CmdReadEncoders, 0, 0)
}

// Enable switches motor power.
func Enable(on bool) []byte {
	var v byte
	if on {
		v = 1
	}
	return request(CmdEnable, v, 0)
}

// Request is a parsed controller request.
type Request struct {
	Command byte
	Args    [2]byte
}

// ParseRequest validates a six-byte request.
func ParseRequest(p []byte) (Request, error) {
	if len(p) != RequestLen || p[0] != Sync0 || p[1] != Sync1 {
		return Request{}, errors.WrapInvalid(errors.ErrMalformedFrame, "clodbuster", "ParseRequest", "header")
	}
	if want := codec.Sum8(p[2:5]); want != p[5] {
		return Request{}, &errors.ChecksumError{Expected: uint32(want), Actual: uint32(p[5])}
	}
	return Request{Command: p[2], Args: [2]byte{p[3], p[4]}}, nil
}

// Encoders holds raw counter values.
type Encoders struct {
	Left  int16
	Right int16
}

// Encode builds the controller's reply packet.
func (e Encoders) Encode() []byte {
	out := make([]byte, ReplyLen)
	out[0], out[1], out[2] = Sync0, Sync1, ReplyEncoders
	binary.BigEndian.PutUint16(out[3:], uint16(e.Left))
	binary.BigEndian.PutUint16(out[5:], uint16(e.Right))
	out[7] = codec.Sum8(out[2:7])
	return out
}

// ParseEncoders decodes a valid reply payload (command plus four bytes).
func ParseEncoders(payload []byte) (Encoders, error) {
	if len(payload) != replyBody || payload[0] != ReplyEncoders {
		return Encoders{}, errors.WrapInvalid(errors.ErrMalformedFrame, "clodbuster", "ParseEncoders", "reply")
	}
	return Encoders{
		Left:  int16(binary.BigEndian.Uint16(payload[1:])),
		Right: int16(binary.BigEndian.Uint16(payload[3:])),
	}, nil
}

// Decoder scans a byte stream for reply packets.
type Decoder struct {
	state   codec.State
	sawSync bool
	body    []byte
	raw     []byte
}

// NewDecoder returns a decoder waiting for the sync pair.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// State reports the current framer state.
func (d *Decoder) State() codec.State {
	return d.state
}

// Reset discards any partial packet.
func (d *Decoder) Reset() {
	d.state = codec.AwaitingStart
	d.sawSync = false
	d.body = d.body[:0]
	d.raw = d.raw[:0]
}

func (d *Decoder) discard(status codec.Status) codec.Frame {
	f := codec.Frame{Raw: append([]byte(nil), d.raw...), Status: status}
	d.Reset()
	return f
}

// Feed consumes p and returns every reply it completes.
func (d *Decoder) Feed(p []byte) []codec.Frame {
	var out []codec.Frame

	for _, b := range p {
		switch d.state {
		case codec.AwaitingStart:
			if d.sawSync && b == Sync1 {
				d.state = codec.AccumulatingPayload
				d.raw = append(d.raw[:0], Sync0, Sync1)
				d.body = d.body[:0]
			}
			d.sawSync = b == Sync0

		case codec.AccumulatingPayload:
			d.raw = append(d.raw, b)
			if len(d.body) == 0 && b != ReplyEncoders {
				out = append(out, d.discard(codec.Malformed))
				d.sawSync = b == Sync0
				continue
			}
			d.body = append(d.body, b)
			if len(d.body) == replyBody {
				d.state = codec.AwaitingChecksum
			}

		case codec.AwaitingChecksum:
			d.raw = append(d.raw, b)
			expected := codec.Sum8(d.body)
			f := codec.Frame{
				Raw:      append([]byte(nil), d.raw...),
				Expected: uint32(expected),
				Actual:   uint32(b),
				Status:   codec.Valid,
			}
			if expected == b {
				f.Payload = append([]byte(nil), d.body...)
				out = append(out, f)
				d.Reset()
				continue
			}
			d.Reset()
			// A truncated packet can swallow the next sync pair, so rescan
			// everything after the first sync byte.
			f.Status = codec.ChecksumMismatch
			out = append(out, f)
			out = append(out, d.Feed(f.Raw[1:])...)
		}
	}
	return out
}
