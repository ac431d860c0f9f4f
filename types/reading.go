package types

import "time"

// Payload is anything carried on the data bus. Clone returns a deep copy so
// every subscriber owns its value.
type Payload interface {
	Clone() Payload
}

// Reading is a decoded device reading.
type Reading interface {
	Payload
	Interface() Interface
}

// GPSReading is a position fix.
//
// Latitude and Longitude are fixed point in units of 1e-7 degree; Altitude is
// in millimetres; UTM coordinates are in centimetres. HDOP and VDOP are in
// tenths.
type GPSReading struct {
	Time          time.Time `json:"time"`
	Latitude      int32     `json:"latitude"`
	Longitude     int32     `json:"longitude"`
	Altitude      int32     `json:"altitude"`
	UTMEasting    int64     `json:"utm_e"`
	UTMNorthing   int64     `json:"utm_n"`
	UTMZone       int       `json:"utm_zone"`
	Quality       int       `json:"quality"`
	NumSats       int       `json:"num_sats"`
	HDOP          int       `json:"hdop"`
	VDOP          int       `json:"vdop"`
	ErrHorizontal float64   `json:"err_horz"`
	ErrVertical   float64   `json:"err_vert"`
}

func (r *GPSReading) Interface() Interface { return InterfaceGPS }

func (r *GPSReading) Clone() Payload {
	c := *r
	return &c
}

// LatitudeDegrees returns Latitude as decimal degrees.
func (r *GPSReading) LatitudeDegrees() float64 { return float64(r.Latitude) / 1e7 }

// LongitudeDegrees returns Longitude as decimal degrees.
func (r *GPSReading) LongitudeDegrees() float64 { return float64(r.Longitude) / 1e7 }

// LaserScan is a planar range scan. Angles in radians, ranges in metres.
type LaserScan struct {
	MinAngle    float64   `json:"min_angle"`
	MaxAngle    float64   `json:"max_angle"`
	Resolution  float64   `json:"resolution"`
	MaxRange    float64   `json:"max_range"`
	Ranges      []float64 `json:"ranges"`
	Intensities []uint8   `json:"intensities,omitempty"`
}

func (s *LaserScan) Interface() Interface { return InterfaceLaser }

func (s *LaserScan) Clone() Payload {
	c := *s
	c.Ranges = append([]float64(nil), s.Ranges...)
	if s.Intensities != nil {
		c.Intensities = append([]uint8(nil), s.Intensities...)
	}
	return &c
}

// AngleAt returns the bearing of sample i.
func (s *LaserScan) AngleAt(i int) float64 {
	return s.MinAngle + float64(i)*s.Resolution
}

// RFIDReading lists the tags currently in the field. Each tag is the
// 16-character upper-case hex rendering of an 8-byte UID.
type RFIDReading struct {
	Tags []string `json:"tags"`
}

func (r *RFIDReading) Interface() Interface { return InterfaceRFID }

func (r *RFIDReading) Clone() Payload {
	return &RFIDReading{Tags: append([]string(nil), r.Tags...)}
}

// PTZReading is the pan/tilt/zoom state in tenths of a degree (and tenths
// of a degree per second for speeds).
type PTZReading struct {
	Pan       int32 `json:"pan"`
	Tilt      int32 `json:"tilt"`
	Zoom      int32 `json:"zoom"`
	PanSpeed  int32 `json:"pan_speed"`
	TiltSpeed int32 `json:"tilt_speed"`
}

func (r *PTZReading) Interface() Interface { return InterfacePTZ }

func (r *PTZReading) Clone() Payload {
	c := *r
	return &c
}

// Position2DReading is planar odometry. Metres, radians, per second.
type Position2DReading struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Yaw    float64 `json:"yaw"`
	VelX   float64 `json:"vel_x"`
	VelYaw float64 `json:"vel_yaw"`
	Stall  bool    `json:"stall"`
}

func (r *Position2DReading) Interface() Interface { return InterfacePosition2D }

func (r *Position2DReading) Clone() Payload {
	c := *r
	return &c
}
