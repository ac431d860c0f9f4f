// Package nmea frames and parses NMEA 0183 sentences.
//
// A sentence is '$', a comma-separated body, '*', two hex digits holding the
// XOR of the body bytes, and CRLF. Sentences without a checksum are treated
// as malformed.
package nmea

import (
	"fmt"

	"github.com/c360/semdevices/codec"
)

// MaxSentence is the longest sentence NMEA 0183 permits, including '$' and
// the terminator.
const MaxSentence = 82

// Checksum is the XOR of every body byte.
func Checksum(body []byte) byte {
	return codec.XOR(body)
}

// Encode builds a complete sentence around body, which must not include the
// leading '$' or the checksum.
func Encode(body string) []byte {
	return []byte(fmt.Sprintf("$%s*%02X\r\n", body, Checksum([]byte(body))))
}

// Decoder extracts sentences from a byte stream. Frame payloads are the
// sentence body without '$' and checksum.
type Decoder struct {
	state codec.State
	body  []byte
	raw   []byte
	check [2]byte
	nhex  int
}

// NewDecoder returns a decoder waiting for '$'.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// State reports the current framer state.
func (d *Decoder) State() codec.State {
	return d.state
}

// Reset discards any partial sentence.
func (d *Decoder) Reset() {
	d.state = codec.AwaitingStart
	d.body = d.body[:0]
	d.raw = d.raw[:0]
	d.nhex = 0
}

func (d *Decoder) begin() {
	d.Reset()
	d.state = codec.AccumulatingPayload
	d.raw = append(d.raw, '$')
}

func (d *Decoder) discard(status codec.Status) codec.Frame {
	f := codec.Frame{Raw: append([]byte(nil), d.raw...), Status: status}
	d.Reset()
	return f
}

// Feed consumes p and returns every sentence it completes.
func (d *Decoder) Feed(p []byte) []codec.Frame {
	var out []codec.Frame

	for _, b := range p {
		if b == '$' {
			if d.state != codec.AwaitingStart {
				out = append(out, d.discard(codec.Malformed))
			}
			d.begin()
			continue
		}

		switch d.state {
		case codec.AwaitingStart:
			continue

		case codec.AccumulatingPayload:
			d.raw = append(d.raw, b)
			switch {
			case b == '*':
				d.state = codec.AwaitingChecksum
			case b == '\r' || b == '\n':
				out = append(out, d.discard(codec.Malformed))
			default:
				d.body = append(d.body, b)
			}
			// Room must remain for "*hh\r\n".
			if d.state == codec.AccumulatingPayload && len(d.raw) > MaxSentence-5 {
				out = append(out, d.discard(codec.Overrun))
			}

		case codec.AwaitingChecksum:
			d.raw = append(d.raw, b)
			if _, ok := hexValue(b); !ok {
				out = append(out, d.discard(codec.Malformed))
				continue
			}
			d.check[d.nhex] = b
			d.nhex++
			if d.nhex == len(d.check) {
				out = append(out, d.complete())
			}
		}
	}
	return out
}

func (d *Decoder) complete() codec.Frame {
	hi, _ := hexValue(d.check[0])
	lo, _ := hexValue(d.check[1])
	actual := hi<<4 | lo
	expected := Checksum(d.body)

	f := codec.Frame{
		Raw:      append([]byte(nil), d.raw...),
		Expected: uint32(expected),
		Actual:   uint32(actual),
		Status:   codec.Valid,
	}
	if expected == actual {
		f.Payload = append([]byte(nil), d.body...)
	} else {
		f.Status = codec.ChecksumMismatch
	}
	d.Reset()
	return f
}

func hexValue(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	}
	return 0, false
}
