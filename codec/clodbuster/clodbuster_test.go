package clodbuster

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/errors"
)

func TestRequests(t *testing.T) {
	assert.Equal(t, []byte{0xFA, 0xFB, 'E', 0, 0, 'E'}, ReadEncoders())
	// 'S' + 0x10 + 0xF0 = 0x53 + 0x100 → 0x53.
	assert.Equal(t, []byte{0xFA, 0xFB, 'S', 0x10, 0xF0, 0x53}, SetSpeed(16, -16))

	req, err := ParseRequest(Enable(true))
	require.NoError(t, err)
	assert.Equal(t, CmdEnable, req.Command)
	assert.Equal(t, [2]byte{1, 0}, req.Args)
}

func TestParseRequest_Errors(t *testing.T) {
	bad := SetSpeed(5, 5)
	bad[5]++
	_, err := ParseRequest(bad)
	assert.True(t, stderrors.Is(err, errors.ErrChecksumMismatch))

	_, err = ParseRequest([]byte{0xFA, 0xFC, 'E', 0, 0, 'E'})
	assert.True(t, stderrors.Is(err, errors.ErrMalformedFrame))
}

func TestEncodersRoundTrip(t *testing.T) {
	for _, e := range []Encoders{{0, 0}, {1200, -1200}, {-32768, 32767}, {-1, 0x7A}} {
		frames := NewDecoder().Feed(e.Encode())
		require.Len(t, frames, 1)
		require.Equal(t, codec.Valid, frames[0].Status)
		got, err := ParseEncoders(frames[0].Payload)
		require.NoError(t, err)
		assert.Equal(t, e, got)
	}
}

func TestDecoder_ResyncAndReject(t *testing.T) {
	good := Encoders{Left: 300, Right: -7}.Encode()
	corrupt := Encoders{Left: 1, Right: 2}.Encode()
	corrupt[4] ^= 0x01

	var stream []byte
	stream = append(stream, 0x00, 0xFA, 0x11) // false sync
	stream = append(stream, 0xFA, 0xFB, 'x')  // unknown reply
	stream = append(stream, corrupt...)       // checksum mismatch
	stream = append(stream, 0xFA, 0xFA, 0xFB) // repeated sync byte
	stream = append(stream, good[2:]...)      // rest of a good reply

	d := NewDecoder()
	frames := d.Feed(stream)

	var statuses []codec.Status
	var payloads [][]byte
	for _, f := range frames {
		statuses = append(statuses, f.Status)
		if f.Status == codec.Valid {
			payloads = append(payloads, f.Payload)
		}
	}
	assert.Equal(t, []codec.Status{codec.Malformed, codec.ChecksumMismatch, codec.Valid}, statuses)
	require.Len(t, payloads, 1)
	got, err := ParseEncoders(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, Encoders{Left: 300, Right: -7}, got)
	assert.Equal(t, codec.AwaitingStart, d.State())
}

func TestDecoder_TruncatedPacketKeepsNextReply(t *testing.T) {
	good := Encoders{Left: 42, Right: -42}.Encode()
	// Link dropped three bytes of a reply; the next sync pair lands in its
	// count fields.
	stream := []byte{Sync0, Sync1, ReplyEncoders, 0x00, 0x01}
	stream = append(stream, good...)

	d := NewDecoder()
	frames := d.Feed(stream)
	require.Len(t, frames, 2)
	assert.Equal(t, codec.ChecksumMismatch, frames[0].Status)
	assert.Equal(t, codec.Valid, frames[1].Status)

	got, err := ParseEncoders(frames[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, Encoders{Left: 42, Right: -42}, got)
	assert.Equal(t, codec.AwaitingStart, d.State())

	// Byte-at-a-time delivery resyncs the same way.
	d.Reset()
	var valid int
	for _, b := range stream {
		for _, f := range d.Feed([]byte{b}) {
			if f.Status == codec.Valid {
				valid++
			}
		}
	}
	assert.Equal(t, 1, valid)
}
