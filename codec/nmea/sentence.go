package nmea

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360/semdevices/errors"
)

// Sentence is a checksum-verified sentence split into its fields.
type Sentence struct {
	// ID is the first field, e.g. "GPGGA" or "PGRME".
	ID     string
	Fields []string
}

// Parse splits a sentence body.
func Parse(body []byte) (Sentence, error) {
	parts := strings.Split(string(body), ",")
	if len(parts) < 2 || len(parts[0]) < 2 {
		return Sentence{}, errors.WrapInvalid(errors.ErrMalformedFrame, "nmea", "Parse", "split sentence")
	}
	return Sentence{ID: parts[0], Fields: parts[1:]}, nil
}

// Kind strips the two-letter talker from standard sentences, so "GPGGA" and
// "GNGGA" both report "GGA". Proprietary sentences ('P' prefix) are returned
// unchanged.
func (s Sentence) Kind() string {
	if strings.HasPrefix(s.ID, "P") || len(s.ID) < 5 {
		return s.ID
	}
	return s.ID[2:]
}

func (s Sentence) field(i int) string {
	if i < len(s.Fields) {
		return strings.TrimSpace(s.Fields[i])
	}
	return ""
}

func (s Sentence) need(n int, method string) error {
	if len(s.Fields) < n {
		return errors.WrapInvalid(errors.ErrMalformedFrame, "nmea", method, "field count")
	}
	return nil
}

// GGA is a fix report.
type GGA struct {
	TimeOfDay time.Duration
	// HasPosition is false when the receiver sent empty coordinate fields.
	HasPosition     bool
	Latitude        float64
	Longitude       float64
	Quality         int
	NumSats         int
	HDOP            float64
	Altitude        float64
	GeoidSeparation float64
}

// ParseGGA decodes a GGA sentence.
func ParseGGA(s Sentence) (GGA, error) {
	if err := s.need(10, "ParseGGA"); err != nil {
		return GGA{}, err
	}

	var g GGA
	var err error
	if g.TimeOfDay, err = parseTimeOfDay(s.field(0)); err != nil {
		return GGA{}, errors.WrapInvalid(err, "nmea", "ParseGGA", "time")
	}
	if s.field(1) != "" && s.field(3) != "" {
		if g.Latitude, err = parseCoordinate(s.field(1), s.field(2), 'N', 'S'); err != nil {
			return GGA{}, errors.WrapInvalid(err, "nmea", "ParseGGA", "latitude")
		}
		if g.Longitude, err = parseCoordinate(s.field(3), s.field(4), 'E', 'W'); err != nil {
			return GGA{}, errors.WrapInvalid(err, "nmea", "ParseGGA", "longitude")
		}
		g.HasPosition = true
	}

	if g.Quality, err = optInt(s.field(5)); err != nil {
		return GGA{}, errors.WrapInvalid(err, "nmea", "ParseGGA", "quality")
	}
	if g.NumSats, err = optInt(s.field(6)); err != nil {
		return GGA{}, errors.WrapInvalid(err, "nmea", "ParseGGA", "satellites")
	}
	if g.HDOP, err = optFloat(s.field(7)); err != nil {
		return GGA{}, errors.WrapInvalid(err, "nmea", "ParseGGA", "hdop")
	}
	if g.Altitude, err = optFloat(s.field(8)); err != nil {
		return GGA{}, errors.WrapInvalid(err, "nmea", "ParseGGA", "altitude")
	}
	if g.GeoidSeparation, err = optFloat(s.field(10)); err != nil {
		return GGA{}, errors.WrapInvalid(err, "nmea", "ParseGGA", "geoid separation")
	}
	return g, nil
}

// RMC is the recommended minimum record; the driver uses it for the date.
type RMC struct {
	TimeOfDay  time.Duration
	Active     bool
	Latitude   float64
	Longitude  float64
	SpeedKnots float64
	Course     float64
	// Date is midnight UTC of the fix day, zero if the field was empty.
	Date time.Time
}

// ParseRMC decodes an RMC sentence.
func ParseRMC(s Sentence) (RMC, error) {
	if err := s.need(9, "ParseRMC"); err != nil {
		return RMC{}, err
	}

	var r RMC
	var err error
	if r.TimeOfDay, err = parseTimeOfDay(s.field(0)); err != nil {
		return RMC{}, errors.WrapInvalid(err, "nmea", "ParseRMC", "time")
	}
	r.Active = s.field(1) == "A"
	if s.field(2) != "" && s.field(4) != "" {
		if r.Latitude, err = parseCoordinate(s.field(2), s.field(3), 'N', 'S'); err != nil {
			return RMC{}, errors.WrapInvalid(err, "nmea", "ParseRMC", "latitude")
		}
		if r.Longitude, err = parseCoordinate(s.field(4), s.field(5), 'E', 'W'); err != nil {
			return RMC{}, errors.WrapInvalid(err, "nmea", "ParseRMC", "longitude")
		}
	}
	if r.SpeedKnots, err = optFloat(s.field(6)); err != nil {
		return RMC{}, errors.WrapInvalid(err, "nmea", "ParseRMC", "speed")
	}
	if r.Course, err = optFloat(s.field(7)); err != nil {
		return RMC{}, errors.WrapInvalid(err, "nmea", "ParseRMC", "course")
	}
	if d := s.field(8); d != "" {
		if r.Date, err = time.Parse("020106", d); err != nil {
			return RMC{}, errors.WrapInvalid(err, "nmea", "ParseRMC", "date")
		}
	}
	return r, nil
}

// GSA reports dilution of precision.
type GSA struct {
	FixType int
	PDOP    float64
	HDOP    float64
	VDOP    float64
}

// ParseGSA decodes a GSA sentence.
func ParseGSA(s Sentence) (GSA, error) {
	if err := s.need(17, "ParseGSA"); err != nil {
		return GSA{}, err
	}

	var g GSA
	var err error
	if g.FixType, err = optInt(s.field(1)); err != nil {
		return GSA{}, errors.WrapInvalid(err, "nmea", "ParseGSA", "fix type")
	}
	if g.PDOP, err = optFloat(s.field(14)); err != nil {
		return GSA{}, errors.WrapInvalid(err, "nmea", "ParseGSA", "pdop")
	}
	if g.HDOP, err = optFloat(s.field(15)); err != nil {
		return GSA{}, errors.WrapInvalid(err, "nmea", "ParseGSA", "hdop")
	}
	if g.VDOP, err = optFloat(s.field(16)); err != nil {
		return GSA{}, errors.WrapInvalid(err, "nmea", "ParseGSA", "vdop")
	}
	return g, nil
}

// PGRME is Garmin's estimated position error, in metres.
type PGRME struct {
	Horizontal float64
	Vertical   float64
	Spherical  float64
}

// ParsePGRME decodes a PGRME sentence.
func ParsePGRME(s Sentence) (PGRME, error) {
	if err := s.need(5, "ParsePGRME"); err != nil {
		return PGRME{}, err
	}

	var e PGRME
	var err error
	if e.Horizontal, err = optFloat(s.field(0)); err != nil {
		return PGRME{}, errors.WrapInvalid(err, "nmea", "ParsePGRME", "horizontal error")
	}
	if e.Vertical, err = optFloat(s.field(2)); err != nil {
		return PGRME{}, errors.WrapInvalid(err, "nmea", "ParsePGRME", "vertical error")
	}
	if e.Spherical, err = optFloat(s.field(4)); err != nil {
		return PGRME{}, errors.WrapInvalid(err, "nmea", "ParsePGRME", "spherical error")
	}
	return e, nil
}

// parseCoordinate converts [d]ddmm.mmmm plus hemisphere to signed decimal
// degrees.
func parseCoordinate(value, hemi string, pos, neg byte) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v < 0 {
		return 0, errors.ErrMalformedFrame
	}
	deg := math.Floor(v / 100)
	minutes := v - deg*100
	if minutes >= 60 {
		return 0, errors.ErrMalformedFrame
	}
	out := deg + minutes/60

	switch {
	case len(hemi) == 1 && hemi[0] == pos:
	case len(hemi) == 1 && hemi[0] == neg:
		out = -out
	default:
		return 0, errors.ErrMalformedFrame
	}
	return out, nil
}

// parseTimeOfDay converts hhmmss[.sss] to the offset from midnight.
func parseTimeOfDay(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	if len(v) < 6 {
		return 0, errors.ErrMalformedFrame
	}
	h, err1 := strconv.Atoi(v[0:2])
	m, err2 := strconv.Atoi(v[2:4])
	sec, err3 := strconv.ParseFloat(v[4:], 64)
	if err1 != nil || err2 != nil || err3 != nil || h > 23 || m > 59 || sec >= 61 {
		return 0, errors.ErrMalformedFrame
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(math.Round(sec*1000))*time.Millisecond, nil
}

func optFloat(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func optInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// FixedPoint scales decimal degrees to 1e-7 degree units, rounding half away
// from zero.
func FixedPoint(deg float64) int32 {
	return int32(math.Round(deg * 1e7))
}
