package nmea

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/codec"
)

const (
	refGGA = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"
	refRMC = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n"
)

func TestDecoder_ReferenceSentences(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte(refGGA + refRMC))
	require.Len(t, frames, 2)
	for _, f := range frames {
		assert.Equal(t, codec.Valid, f.Status, f.String())
	}
	assert.True(t, strings.HasPrefix(string(frames[0].Payload), "GPGGA,123519"))
	assert.True(t, strings.HasPrefix(string(frames[1].Payload), "GPRMC,123519"))
}

func TestEncode_MatchesReference(t *testing.T) {
	body := strings.TrimSuffix(strings.TrimPrefix(refGGA, "$"), "*47\r\n")
	assert.Equal(t, refGGA, string(Encode(body)))
	assert.Equal(t, "$PGRMO,,2*75\r\n", string(Encode("PGRMO,,2")))
}

func TestDecoder_ChecksumMismatch(t *testing.T) {
	bad := strings.Replace(refGGA, "*47", "*48", 1)
	frames := NewDecoder().Feed([]byte(bad))
	require.Len(t, frames, 1)
	assert.Equal(t, codec.ChecksumMismatch, frames[0].Status)
	assert.Equal(t, uint32(0x47), frames[0].Expected)
	assert.Equal(t, uint32(0x48), frames[0].Actual)
	assert.Nil(t, frames[0].Payload)
}

func TestDecoder_SingleBitFlip(t *testing.T) {
	body := []byte("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	for i := range body {
		for bit := 0; bit < 7; bit++ {
			corrupt := append([]byte(nil), body...)
			corrupt[i] ^= 1 << bit
			// Flips that create framing characters are framing errors, not
			// checksum errors.
			if c := corrupt[i]; c == '$' || c == '*' || c == '\r' || c == '\n' {
				continue
			}
			line := "$" + string(corrupt) + refGGA[len(refGGA)-5:]
			frames := NewDecoder().Feed([]byte(line))
			require.Len(t, frames, 1)
			assert.Equal(t, codec.ChecksumMismatch, frames[0].Status, "byte %d bit %d", i, bit)
		}
	}
}

func TestDecoder_ResyncAfterGarbage(t *testing.T) {
	stream := "$GPGGA,1235" + // truncated by a restart
		refGGA +
		"$GPGSA,A,3,04*ZZ\r\n" + // bad hex
		"$GPXTE,A\r\n" + // no checksum
		"noise\r\n" +
		refRMC

	frames := NewDecoder().Feed([]byte(stream))
	var valid, rejected int
	for _, f := range frames {
		if f.Status == codec.Valid {
			valid++
		} else {
			rejected++
		}
	}
	assert.Equal(t, 2, valid)
	assert.Equal(t, 3, rejected)
}

func TestDecoder_Overrun(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("$GP" + strings.Repeat("9", 100)))
	require.Len(t, frames, 1)
	assert.Equal(t, codec.Overrun, frames[0].Status)
	assert.Equal(t, codec.AwaitingStart, d.State())

	frames = d.Feed([]byte(refGGA))
	require.Len(t, frames, 1)
	assert.Equal(t, codec.Valid, frames[0].Status)
}

func TestDecoder_SplitAcrossFeeds(t *testing.T) {
	d := NewDecoder()
	var frames []codec.Frame
	for i := 0; i < len(refGGA); i += 7 {
		end := i + 7
		if end > len(refGGA) {
			end = len(refGGA)
		}
		frames = append(frames, d.Feed([]byte(refGGA[i:end]))...)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, codec.Valid, frames[0].Status)
}

func TestParseGGA(t *testing.T) {
	s, err := Parse([]byte("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
	require.NoError(t, err)
	assert.Equal(t, "GGA", s.Kind())

	g, err := ParseGGA(s)
	require.NoError(t, err)
	assert.True(t, g.HasPosition)
	assert.Equal(t, 12*time.Hour+35*time.Minute+19*time.Second, g.TimeOfDay)
	assert.InDelta(t, 48.1173, g.Latitude, 1e-9)
	assert.InDelta(t, 11.516666666, g.Longitude, 1e-8)
	assert.Equal(t, 1, g.Quality)
	assert.Equal(t, 8, g.NumSats)
	assert.InDelta(t, 0.9, g.HDOP, 1e-12)
	assert.InDelta(t, 545.4, g.Altitude, 1e-12)
	assert.InDelta(t, 46.9, g.GeoidSeparation, 1e-12)
}

func TestParseGGA_SouthWestAndNoFix(t *testing.T) {
	s, err := Parse([]byte("GNGGA,000001.50,3352.128,S,15112.558,W,2,11,1.2,10.0,M,,M,,"))
	require.NoError(t, err)
	g, err := ParseGGA(s)
	require.NoError(t, err)
	assert.InDelta(t, -33.8688, g.Latitude, 1e-9)
	assert.InDelta(t, -151.2093, g.Longitude, 1e-9)
	assert.Equal(t, time.Second+500*time.Millisecond, g.TimeOfDay)

	s, err = Parse([]byte("GPGGA,,,,,,0,00,,,M,,M,,"))
	require.NoError(t, err)
	g, err = ParseGGA(s)
	require.NoError(t, err)
	assert.False(t, g.HasPosition)
	assert.Equal(t, 0, g.Quality)
}

func TestParseGGA_Malformed(t *testing.T) {
	for _, body := range []string{
		"GPGGA,123519,4807.038,N",
		"GPGGA,123519,4807.038,X,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
		"GPGGA,123519,4877.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
		"GPGGA,1235,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
		"GPGGA,123519,4807.038,N,01131.000,E,one,08,0.9,545.4,M,46.9,M,,",
	} {
		s, err := Parse([]byte(body))
		require.NoError(t, err)
		_, err = ParseGGA(s)
		assert.Error(t, err, body)
	}
}

func TestParseRMC(t *testing.T) {
	s, err := Parse([]byte("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	require.NoError(t, err)
	r, err := ParseRMC(s)
	require.NoError(t, err)
	assert.True(t, r.Active)
	assert.InDelta(t, 22.4, r.SpeedKnots, 1e-12)
	assert.Equal(t, time.Date(1994, time.March, 23, 0, 0, 0, 0, time.UTC), r.Date)
}

func TestParseGSAAndPGRME(t *testing.T) {
	s, err := Parse([]byte("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1"))
	require.NoError(t, err)
	g, err := ParseGSA(s)
	require.NoError(t, err)
	assert.Equal(t, 3, g.FixType)
	assert.InDelta(t, 2.5, g.PDOP, 1e-12)
	assert.InDelta(t, 1.3, g.HDOP, 1e-12)
	assert.InDelta(t, 2.1, g.VDOP, 1e-12)

	s, err = Parse([]byte("PGRME,15.0,M,45.0,M,25.0,M"))
	require.NoError(t, err)
	assert.Equal(t, "PGRME", s.Kind())
	e, err := ParsePGRME(s)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, e.Horizontal, 1e-12)
	assert.InDelta(t, 45.0, e.Vertical, 1e-12)
	assert.InDelta(t, 25.0, e.Spherical, 1e-12)
}

func TestFixedPoint(t *testing.T) {
	assert.Equal(t, int32(471234567), FixedPoint(47.1234567))
	assert.Equal(t, int32(-338688000), FixedPoint(-33.8688))
	assert.Equal(t, int32(1), FixedPoint(0.00000005))
	assert.Equal(t, int32(-1), FixedPoint(-0.00000005))
}
