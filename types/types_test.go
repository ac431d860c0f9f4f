package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360/semdevices/errors"
)

func TestAddress_StringRoundTrip(t *testing.T) {
	a := MustAddress("192.168.1.20", 6665, InterfaceGPS, 1)

	assert.Equal(t, "192.168.1.20:6665:gps:1", a.String())
	assert.Equal(t, "c0a80114.6665.gps.1", a.Subject())

	parsed, err := ParseAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestAddress_MapKey(t *testing.T) {
	m := map[Address]int{}
	m[MustAddress("127.0.0.1", 6665, InterfaceLaser, 0)] = 1
	m[MustAddress("127.0.0.1", 6665, InterfaceLaser, 1)] = 2

	assert.Equal(t, 1, m[MustAddress("127.0.0.1", 6665, InterfaceLaser, 0)])
	assert.Len(t, m, 2)
}

func TestParseAddress_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"127.0.0.1:6665:gps",
		"localhost:6665:gps:0",
		"127.0.0.1:x:gps:0",
		"127.0.0.1:6665:sonar:0",
		"127.0.0.1:6665:gps:-1",
		"127.0.0.1:70000:gps:0",
	} {
		_, err := ParseAddress(in)
		assert.Error(t, err, in)
		assert.True(t, errors.IsInvalid(err), in)
	}
}

func TestAddress_TextEncoding(t *testing.T) {
	type wrapper struct {
		Addr Address `json:"addr" yaml:"addr"`
	}

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"addr":"10.0.0.1:6665:ptz:0"}`), &w))
	assert.Equal(t, InterfacePTZ, w.Addr.Interface)

	out, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"addr":"10.0.0.1:6665:ptz:0"}`, string(out))

	var y wrapper
	require.NoError(t, yaml.Unmarshal([]byte("addr: 10.0.0.1:6665:rfid:2\n"), &y))
	assert.Equal(t, 2, y.Addr.Index)
}

func TestReading_CloneIsDeep(t *testing.T) {
	scan := &LaserScan{Ranges: []float64{1, 2, 3}, Intensities: []uint8{9}}
	c := scan.Clone().(*LaserScan)
	c.Ranges[0] = 42
	c.Intensities[0] = 0
	assert.Equal(t, 1.0, scan.Ranges[0])
	assert.Equal(t, uint8(9), scan.Intensities[0])

	tags := &RFIDReading{Tags: []string{"A"}}
	tc := tags.Clone().(*RFIDReading)
	tc.Tags[0] = "B"
	assert.Equal(t, "A", tags.Tags[0])

	gps := &GPSReading{Latitude: 471234567}
	gc := gps.Clone().(*GPSReading)
	gc.Latitude = 0
	assert.Equal(t, int32(471234567), gps.Latitude)
	assert.InDelta(t, 47.1234567, gps.LatitudeDegrees(), 1e-9)
}

func TestCommandBody_EnvelopeRoundTrip(t *testing.T) {
	bodies := []CommandBody{
		PTZCommand{Mode: PTZVelocity, PanSpeed: 100},
		MotorCommand{VelX: 0.5, VelYaw: -0.1},
		PowerCommand{On: true},
	}
	for _, b := range bodies {
		data, err := EncodeCommandBody(b)
		require.NoError(t, err)
		decoded, err := DecodeCommandBody(data)
		require.NoError(t, err)
		assert.Equal(t, b, decoded)
	}
}

func TestDecodeCommandBody_Defaults(t *testing.T) {
	body, err := DecodeCommandBody([]byte(`{"type":"ptz","body":{"pan":450}}`))
	require.NoError(t, err)
	assert.Equal(t, PTZCommand{Mode: PTZPosition, Pan: 450}, body)

	_, err = DecodeCommandBody([]byte(`{"type":"ptz","body":{"mode":"orbit"}}`))
	assert.Error(t, err)
	_, err = DecodeCommandBody([]byte(`{"type":"laser"}`))
	assert.Error(t, err)
	_, err = DecodeCommandBody([]byte(`nope`))
	assert.Error(t, err)
}

func TestNewCommand(t *testing.T) {
	addr := MustAddress("127.0.0.1", 6665, InterfacePosition2D, 0)
	c1 := NewCommand(addr, MotorCommand{})
	c2 := NewCommand(addr, MotorCommand{})
	assert.NotEqual(t, c1.ID, c2.ID)
	assert.Equal(t, addr, c1.Target)
	assert.False(t, c1.Submitted.IsZero())
}
