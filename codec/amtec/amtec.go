// Package amtec encodes and decodes serial telegrams for Amtec PowerCube
// rotary modules.
//
// Telegrams are STX/ETX framed with DLE escaping. The unescaped payload is
// module id, command, data; the block check adds the low and high bytes of
// the 16-bit sum of those bytes. Floating point values are little-endian
// IEEE-754 single precision, in radians and radians per second.
package amtec

import (
	"encoding/binary"
	"math"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/codec/stxetx"
	"github.com/c360/semdevices/errors"
)

// Command bytes.
const (
	CmdReset       byte = 0x00
	CmdHome        byte = 0x01
	CmdHalt        byte = 0x02
	CmdGetExtended byte = 0x0A
	CmdSetMotion   byte = 0x0B
)

// Motion modes for CmdSetMotion.
const (
	ModeRamp     byte = 0x04
	ModeVelocity byte = 0x07
)

// Parameters for CmdGetExtended.
const (
	ParamPosition byte = 0x3C
	ParamVelocity byte = 0x41
)

// MaxFrame bounds an unescaped telegram.
const MaxFrame = 16

// Telegram is one decoded message.
type Telegram struct {
	Module  byte
	Command byte
	Data    []byte
}

// Encode frames the telegram for the wire.
func (t Telegram) Encode() []byte {
	payload := make([]byte, 0, 2+len(t.Data))
	payload = append(payload, t.Module, t.Command)
	payload = append(payload, t.Data...)
	return stxetx.Encode(payload, codec.FoldedSum)
}

// NewDecoder returns a framer configured for this protocol.
func NewDecoder() *stxetx.Decoder {
	return stxetx.NewDecoder(codec.FoldedSum, MaxFrame)
}

// Decode interprets a valid frame payload.
func Decode(payload []byte) (Telegram, error) {
	if len(payload) < 2 {
		return Telegram{}, errors.WrapInvalid(errors.ErrMalformedFrame, "amtec", "Decode", "header")
	}
	return Telegram{Module: payload[0], Command: payload[1], Data: append([]byte(nil), payload[2:]...)}, nil
}

func putFloat(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

// Reset clears a module error state.
func Reset(module byte) Telegram { return Telegram{Module: module, Command: CmdReset} }

// Home starts the homing sequence.
func Home(module byte) Telegram { return Telegram{Module: module, Command: CmdHome} }

// Halt stops a module immediately.
func Halt(module byte) Telegram { return Telegram{Module: module, Command: CmdHalt} }

// GetParam requests one extended parameter.
func GetParam(module, param byte) Telegram {
	return Telegram{Module: module, Command: CmdGetExtended, Data: []byte{param}}
}

// SetRamp moves to an absolute position along the configured ramp.
func SetRamp(module byte, position float32) Telegram {
	return setMotion(module, ModeRamp, position)
}

// SetVelocity runs at a constant velocity.
func SetVelocity(module byte, velocity float32) Telegram {
	return setMotion(module, ModeVelocity, velocity)
}

func setMotion(module, mode byte, v float32) Telegram {
	data := make([]byte, 5)
	data[0] = mode
	putFloat(data[1:], v)
	return Telegram{Module: module, Command: CmdSetMotion, Data: data}
}

// ParamReply is what a module sends in answer to GetParam.
func ParamReply(module, param byte, v float32) Telegram {
	data := make([]byte, 5)
	data[0] = param
	putFloat(data[1:], v)
	return Telegram{Module: module, Command: CmdGetExtended, Data: data}
}

// Motion reports the mode and value of a set-motion telegram.
func Motion(t Telegram) (mode byte, value float32, err error) {
	if t.Command != CmdSetMotion || len(t.Data) != 5 {
		return 0, 0, errors.WrapInvalid(errors.ErrMalformedFrame, "amtec", "Motion", "set motion telegram")
	}
	return t.Data[0], math.Float32frombits(binary.LittleEndian.Uint32(t.Data[1:])), nil
}

// ParamValue extracts the value of param from a reply.
func ParamValue(t Telegram, module, param byte) (float32, error) {
	if t.Module != module || t.Command != CmdGetExtended || len(t.Data) != 5 || t.Data[0] != param {
		return 0, errors.WrapInvalid(errors.ErrMalformedFrame, "amtec", "ParamValue", "parameter reply")
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(t.Data[1:])), nil
}

// Acknowledged reports whether t acknowledges command cmd from module.
func Acknowledged(t Telegram, module, cmd byte) bool {
	return t.Module == module && t.Command == cmd
}
