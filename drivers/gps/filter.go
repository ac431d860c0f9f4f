package gps

import "math"

// Filter rejects position outliers with exponential smoothing. A fix is
// rejected when either coordinate differs from the smoothed value by more
// than Threshold degrees; rejected fixes leave the smoothed value unchanged.
type Filter struct {
	Gain      float64
	Threshold float64

	lat, lon float64
	primed   bool
}

// NewFilter returns a filter with the given gain and threshold.
func NewFilter(gain, threshold float64) *Filter {
	return &Filter{Gain: gain, Threshold: threshold}
}

// Accept feeds one fix and reports whether it passed. The first fix always
// passes and seeds the filter.
func (f *Filter) Accept(lat, lon float64) bool {
	if !f.primed {
		f.lat, f.lon = lat, lon
		f.primed = true
		return true
	}
	if math.Abs(lat-f.lat) > f.Threshold || math.Abs(lon-f.lon) > f.Threshold {
		return false
	}
	f.lat = f.Gain*lat + (1-f.Gain)*f.lat
	f.lon = f.Gain*lon + (1-f.Gain)*f.lon
	return true
}

// Value returns the smoothed position.
func (f *Filter) Value() (lat, lon float64, ok bool) {
	return f.lat, f.lon, f.primed
}
