package lasertransform

import (
	"fmt"
	"math"

	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/types"
)

// Stage transforms a scan in place.
type Stage interface {
	Name() string
	Apply(s *types.LaserScan)
}

// StageConfig selects and parameterises one stage. Angles in radians,
// distances in metres.
type StageConfig struct {
	Type string `json:"type"`

	MinAngle   float64 `json:"min_angle,omitempty"`
	MaxAngle   float64 `json:"max_angle,omitempty"`
	Resolution float64 `json:"resolution,omitempty"`
	MinRange   float64 `json:"min_range,omitempty"`
	MaxRange   float64 `json:"max_range,omitempty"`
	Radius     float64 `json:"radius,omitempty"`
	Factor     int     `json:"factor,omitempty"`
}

// NewStage builds a stage from its configuration.
func NewStage(c StageConfig) (Stage, error) {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format, args...), "lasertransform", "NewStage", c.Type)
	}
	switch c.Type {
	case "crop":
		if c.MinAngle >= c.MaxAngle {
			return nil, invalid("crop: min_angle %v >= max_angle %v", c.MinAngle, c.MaxAngle)
		}
		return Crop{MinAngle: c.MinAngle, MaxAngle: c.MaxAngle}, nil
	case "rescan":
		if c.Resolution <= 0 {
			return nil, invalid("rescan: resolution must be positive")
		}
		return Rescan{Resolution: c.Resolution}, nil
	case "clamp":
		if c.MaxRange <= 0 || c.MinRange < 0 || c.MinRange >= c.MaxRange {
			return nil, invalid("clamp: bad range [%v, %v]", c.MinRange, c.MaxRange)
		}
		return Clamp{MinRange: c.MinRange, MaxRange: c.MaxRange}, nil
	case "cspace":
		if c.Radius <= 0 {
			return nil, invalid("cspace: radius must be positive")
		}
		return CSpace{Radius: c.Radius}, nil
	case "decimate":
		if c.Factor < 1 {
			return nil, invalid("decimate: factor must be at least 1")
		}
		return Decimate{Factor: c.Factor}, nil
	default:
		return nil, invalid("unknown stage %q", c.Type)
	}
}

// Crop keeps samples whose bearing lies within [MinAngle, MaxAngle].
type Crop struct {
	MinAngle, MaxAngle float64
}

func (Crop) Name() string { return "crop" }

func (c Crop) Apply(s *types.LaserScan) {
	if len(s.Ranges) == 0 || s.Resolution <= 0 {
		return
	}
	const eps = 1e-9
	first := int(math.Ceil((c.MinAngle-s.MinAngle)/s.Resolution - eps))
	last := int(math.Floor((c.MaxAngle-s.MinAngle)/s.Resolution + eps))
	if first < 0 {
		first = 0
	}
	if last > len(s.Ranges)-1 {
		last = len(s.Ranges) - 1
	}
	if first > last {
		s.Ranges = s.Ranges[:0]
		s.Intensities = nil
		return
	}

	if !alignedIntensities(s) {
		s.Intensities = nil
	}
	s.Ranges = s.Ranges[first : last+1]
	if s.Intensities != nil {
		s.Intensities = s.Intensities[first : last+1]
	}
	s.MinAngle += float64(first) * s.Resolution
	s.MaxAngle = s.MinAngle + float64(last-first)*s.Resolution
}

// alignedIntensities reports whether s carries one intensity per range.
func alignedIntensities(s *types.LaserScan) bool {
	return len(s.Intensities) > 0 && len(s.Intensities) == len(s.Ranges)
}

// Rescan resamples to a new angular resolution over the same domain,
// taking the nearest original sample for each new bearing.
type Rescan struct {
	Resolution float64
}

func (Rescan) Name() string { return "rescan" }

func (r Rescan) Apply(s *types.LaserScan) {
	if len(s.Ranges) == 0 || s.Resolution <= 0 {
		return
	}
	n := int(math.Floor((s.MaxAngle-s.MinAngle)/r.Resolution+1e-9)) + 1

	ranges := make([]float64, n)
	var intensities []uint8
	if alignedIntensities(s) {
		intensities = make([]uint8, n)
	}
	for i := range ranges {
		src := int(math.Round(float64(i) * r.Resolution / s.Resolution))
		if src > len(s.Ranges)-1 {
			src = len(s.Ranges) - 1
		}
		ranges[i] = s.Ranges[src]
		if intensities != nil {
			intensities[i] = s.Intensities[src]
		}
	}
	s.Ranges, s.Intensities = ranges, intensities
	s.Resolution = r.Resolution
	s.MaxAngle = s.MinAngle + float64(n-1)*r.Resolution
}

// Clamp limits every range to [MinRange, MaxRange].
type Clamp struct {
	MinRange, MaxRange float64
}

func (Clamp) Name() string { return "clamp" }

func (c Clamp) Apply(s *types.LaserScan) {
	for i, v := range s.Ranges {
		s.Ranges[i] = math.Max(c.MinRange, math.Min(c.MaxRange, v))
	}
	s.MaxRange = math.Min(s.MaxRange, c.MaxRange)
}

// CSpace converts ranges to the free distance a disc of the given radius can
// travel along each beam before touching any scanned point.
type CSpace struct {
	Radius float64
}

func (CSpace) Name() string { return "cspace" }

func (c CSpace) Apply(s *types.LaserScan) {
	n := len(s.Ranges)
	if n == 0 {
		return
	}
	out := make([]float64, n)
	r2 := c.Radius * c.Radius
	for i := 0; i < n; i++ {
		free := s.Ranges[i] - c.Radius
		bearing := s.AngleAt(i)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			delta := s.AngleAt(j) - bearing
			if math.Cos(delta) <= 0 {
				continue
			}
			lateral := s.Ranges[j] * math.Sin(delta)
			if math.Abs(lateral) > c.Radius {
				continue
			}
			along := s.Ranges[j]*math.Cos(delta) - math.Sqrt(r2-lateral*lateral)
			if along < free {
				free = along
			}
		}
		out[i] = math.Max(0, free)
	}
	s.Ranges = out
}

// Decimate keeps every Factor-th sample, starting with the first.
type Decimate struct {
	Factor int
}

func (Decimate) Name() string { return "decimate" }

func (d Decimate) Apply(s *types.LaserScan) {
	if d.Factor <= 1 || len(s.Ranges) == 0 {
		return
	}
	n := (len(s.Ranges) + d.Factor - 1) / d.Factor
	ranges := make([]float64, n)
	var intensities []uint8
	if alignedIntensities(s) {
		intensities = make([]uint8, n)
	}
	for i := range ranges {
		ranges[i] = s.Ranges[i*d.Factor]
		if intensities != nil {
			intensities[i] = s.Intensities[i*d.Factor]
		}
	}
	s.Ranges, s.Intensities = ranges, intensities
	s.Resolution *= float64(d.Factor)
	s.MaxAngle = s.MinAngle + float64(n-1)*s.Resolution
}
