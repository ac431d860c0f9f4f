// Package geo projects WGS84 coordinates onto the Universal Transverse
// Mercator grid.
//
// The projection is the closed-form series from USGS Professional Paper
// 1395 (Snyder). Results are deterministic for a given input so they can be
// compared against stored reference values.
package geo

import "math"

// WGS84 ellipsoid and UTM grid constants.
const (
	EquatorialRadius = 6378137.0
	EccentricitySq   = 0.00669438
	ScaleFactor      = 0.9996

	falseEasting       = 500000.0
	falseNorthingSouth = 10000000.0
	degToRad           = math.Pi / 180
)

// UTM is a projected position in metres.
type UTM struct {
	Easting  float64
	Northing float64
	Zone     int
	// South is true for the southern hemisphere, where northing carries the
	// false northing offset.
	South bool
}

// EastingCM returns the easting in centimetres, rounded half away from zero.
func (u UTM) EastingCM() int64 {
	return int64(math.Round(u.Easting * 100))
}

// NorthingCM returns the northing in centimetres, rounded half away from
// zero.
func (u UTM) NorthingCM() int64 {
	return int64(math.Round(u.Northing * 100))
}

// Zone returns the UTM zone for a position, including the Norway and
// Svalbard exceptions.
func Zone(lat, lon float64) int {
	lon = normalizeLongitude(lon)
	zone := int((lon+180)/6) + 1

	if lat >= 56 && lat < 64 && lon >= 3 && lon < 12 {
		return 32
	}
	if lat >= 72 && lat < 84 {
		switch {
		case lon >= 0 && lon < 9:
			return 31
		case lon >= 9 && lon < 21:
			return 33
		case lon >= 21 && lon < 33:
			return 35
		case lon >= 33 && lon < 42:
			return 37
		}
	}
	return zone
}

func normalizeLongitude(lon float64) float64 {
	return (lon + 180) - float64(int((lon+180)/360))*360 - 180
}

// FromLatLon projects decimal degrees to UTM.
func FromLatLon(lat, lon float64) UTM {
	lon = normalizeLongitude(lon)
	zone := Zone(lat, lon)

	latRad := lat * degToRad
	lonRad := lon * degToRad
	originRad := float64((zone-1)*6-180+3) * degToRad

	e := EccentricitySq
	ePrime := e / (1 - e)

	sinLat := math.Sin(latRad)
	cosLat := math.Cos(latRad)
	tanLat := math.Tan(latRad)

	n := EquatorialRadius / math.Sqrt(1-e*sinLat*sinLat)
	t := tanLat * tanLat
	c := ePrime * cosLat * cosLat
	a := cosLat * (lonRad - originRad)

	m := EquatorialRadius * ((1-e/4-3*e*e/64-5*e*e*e/256)*latRad -
		(3*e/8+3*e*e/32+45*e*e*e/1024)*math.Sin(2*latRad) +
		(15*e*e/256+45*e*e*e/1024)*math.Sin(4*latRad) -
		(35*e*e*e/3072)*math.Sin(6*latRad))

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	easting := ScaleFactor*n*(a+(1-t+c)*a3/6+
		(5-18*t+t*t+72*c-58*ePrime)*a5/120) + falseEasting

	northing := ScaleFactor * (m + n*tanLat*(a2/2+
		(5-t+9*c+4*c*c)*a4/24+
		(61-58*t+t*t+600*c-330*ePrime)*a6/720))

	south := lat < 0
	if south {
		northing += falseNorthingSouth
	}

	return UTM{Easting: easting, Northing: northing, Zone: zone, South: south}
}
