package amtec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/codec/stxetx"
)

func roundTrip(t *testing.T, tg Telegram) Telegram {
	t.Helper()
	frames := NewDecoder().Feed(tg.Encode())
	require.Len(t, frames, 1)
	require.Equal(t, codec.Valid, frames[0].Status, frames[0].String())
	out, err := Decode(frames[0].Payload)
	require.NoError(t, err)
	return out
}

func TestHalt_Wire(t *testing.T) {
	// Module 0x10 collides with DLE and the halt command with STX.
	wire := Halt(0x10).Encode()
	assert.Equal(t, []byte{stxetx.STX, stxetx.DLE, 0x90, stxetx.DLE, 0x82, 0x12, stxetx.ETX}, wire)
	assert.Equal(t, Halt(0x10), roundTrip(t, Halt(0x10)))
}

func TestFoldedSumCarries(t *testing.T) {
	// 0xFF + 0xFF + 0x0A = 0x0208 → 0x08 + 0x02.
	assert.Equal(t, byte(0x0A), codec.FoldedSum([]byte{0xFF, 0xFF, 0x0A}))
}

func TestSetMotion(t *testing.T) {
	tests := []struct {
		name string
		tg   Telegram
		mode byte
		v    float32
	}{
		{"ramp", SetRamp(0x0B, 0.5235988), ModeRamp, 0.5235988},
		{"velocity", SetVelocity(0x0C, -0.25), ModeVelocity, -0.25},
		{"zero", SetVelocity(0x0C, 0), ModeVelocity, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, v, err := Motion(roundTrip(t, tt.tg))
			require.NoError(t, err)
			assert.Equal(t, tt.mode, mode)
			assert.Equal(t, tt.v, v)
		})
	}
}

func TestParamReply(t *testing.T) {
	for _, v := range []float32{0, 1.5707964, -3.1415927, float32(math.SmallestNonzeroFloat32)} {
		got, err := ParamValue(roundTrip(t, ParamReply(0x0B, ParamPosition, v)), 0x0B, ParamPosition)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err := ParamValue(ParamReply(0x0B, ParamVelocity, 1), 0x0B, ParamPosition)
	assert.Error(t, err)
	_, err = ParamValue(ParamReply(0x0C, ParamPosition, 1), 0x0B, ParamPosition)
	assert.Error(t, err)
}

func TestAcknowledged(t *testing.T) {
	assert.True(t, Acknowledged(Reset(0x0B), 0x0B, CmdReset))
	assert.False(t, Acknowledged(Home(0x0B), 0x0B, CmdReset))
}
