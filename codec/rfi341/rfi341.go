// Package rfi341 encodes and decodes telegrams for SICK RFI341-style RFID
// readers.
//
// Telegrams are STX/ETX framed with DLE escaping. The unescaped payload is
// reader id, command, data; the block check is the XOR of those bytes.
package rfi341

import (
	"encoding/binary"
	"encoding/hex"
	"math/bits"
	"strings"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/codec/stxetx"
	"github.com/c360/semdevices/errors"
)

// Command bytes.
const (
	CmdRequestLinkCode byte = 0x20
	CmdLinkCode        byte = 0x21
	CmdAuthenticate    byte = 0x22
	CmdConnected       byte = 0x23
	CmdDisconnected    byte = 0x24
	CmdDataRequest     byte = 0x30
	CmdTagData         byte = 0x31
)

// UIDLen is the length of a tag UID in bytes.
const UIDLen = 8

// MaxFrame bounds a telegram: id, command, count and 32 UIDs.
const MaxFrame = 3 + 32*UIDLen

// Message is one decoded telegram.
type Message struct {
	ID      byte
	Command byte
	Data    []byte
}

// Encode frames the message for the wire.
func (m Message) Encode() []byte {
	payload := make([]byte, 0, 2+len(m.Data))
	payload = append(payload, m.ID, m.Command)
	payload = append(payload, m.Data...)
	return stxetx.Encode(payload, codec.XOR)
}

// NewDecoder returns a framer configured for this protocol.
func NewDecoder() *stxetx.Decoder {
	return stxetx.NewDecoder(codec.XOR, MaxFrame)
}

// Decode interprets a valid frame payload.
func Decode(payload []byte) (Message, error) {
	if len(payload) < 2 {
		return Message{}, errors.WrapInvalid(errors.ErrMalformedFrame, "rfi341", "Decode", "header")
	}
	return Message{ID: payload[0], Command: payload[1], Data: append([]byte(nil), payload[2:]...)}, nil
}

// RequestLinkCode asks the reader for a fresh link code.
func RequestLinkCode(id byte) Message {
	return Message{ID: id, Command: CmdRequestLinkCode}
}

// Authenticate answers a link code challenge.
func Authenticate(id byte, code uint16) Message {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, code)
	return Message{ID: id, Command: CmdAuthenticate, Data: data}
}

// DataRequest polls for tags in the field.
func DataRequest(id byte) Message {
	return Message{ID: id, Command: CmdDataRequest}
}

// LinkCodeReply is what a reader sends in answer to RequestLinkCode.
func LinkCodeReply(id byte, code uint16) Message {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, code)
	return Message{ID: id, Command: CmdLinkCode, Data: data}
}

// TagReply is what a reader sends in answer to DataRequest.
func TagReply(id byte, uids [][UIDLen]byte) Message {
	data := make([]byte, 0, 1+len(uids)*UIDLen)
	data = append(data, byte(len(uids)))
	for _, u := range uids {
		data = append(data, u[:]...)
	}
	return Message{ID: id, Command: CmdTagData, Data: data}
}

// LinkCode extracts the challenge from a link code reply.
func LinkCode(m Message) (uint16, error) {
	if m.Command != CmdLinkCode || len(m.Data) != 2 {
		return 0, errors.WrapInvalid(errors.ErrMalformedFrame, "rfi341", "LinkCode", "link code reply")
	}
	return binary.BigEndian.Uint16(m.Data), nil
}

// AuthCodeOf extracts the code carried by an authenticate telegram.
func AuthCodeOf(m Message) (uint16, error) {
	if m.Command != CmdAuthenticate || len(m.Data) != 2 {
		return 0, errors.WrapInvalid(errors.ErrMalformedFrame, "rfi341", "AuthCodeOf", "authenticate telegram")
	}
	return binary.BigEndian.Uint16(m.Data), nil
}

// Tags extracts UIDs from a tag data reply as 16 upper-case hex characters
// each.
func Tags(m Message) ([]string, error) {
	if m.Command != CmdTagData || len(m.Data) < 1 {
		return nil, errors.WrapInvalid(errors.ErrMalformedFrame, "rfi341", "Tags", "tag reply")
	}
	n := int(m.Data[0])
	if len(m.Data) != 1+n*UIDLen {
		return nil, errors.WrapInvalid(errors.ErrMalformedFrame, "rfi341", "Tags", "tag count")
	}

	tags := make([]string, 0, n)
	for i := 0; i < n; i++ {
		uid := m.Data[1+i*UIDLen : 1+(i+1)*UIDLen]
		tags = append(tags, strings.ToUpper(hex.EncodeToString(uid)))
	}
	return tags, nil
}

// AuthCode derives the authentication reply for a link code using the
// reader's configured key.
func AuthCode(linkCode, key uint16) uint16 {
	return bits.RotateLeft16(linkCode^key, 3)
}
