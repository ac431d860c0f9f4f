package lasertransform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/types"
)

const deg = math.Pi / 180

func uniformScan(min, max, res, value float64) *types.LaserScan {
	n := int(math.Round((max-min)/res)) + 1
	s := &types.LaserScan{MinAngle: min, MaxAngle: max, Resolution: res, MaxRange: 8}
	s.Ranges = make([]float64, n)
	s.Intensities = make([]uint8, n)
	for i := range s.Ranges {
		s.Ranges[i] = value
		s.Intensities[i] = uint8(i)
	}
	return s
}

func TestCrop(t *testing.T) {
	s := uniformScan(-90*deg, 90*deg, deg, 1)
	Crop{MinAngle: -45 * deg, MaxAngle: 45 * deg}.Apply(s)

	require.Len(t, s.Ranges, 91)
	assert.Len(t, s.Intensities, 91)
	assert.Equal(t, uint8(45), s.Intensities[0])
	assert.InDelta(t, -45*deg, s.MinAngle, 1e-9)
	assert.InDelta(t, 45*deg, s.MaxAngle, 1e-9)
}

func TestCrop_OutsideDomain(t *testing.T) {
	s := uniformScan(-10*deg, 10*deg, deg, 1)
	Crop{MinAngle: 30 * deg, MaxAngle: 40 * deg}.Apply(s)
	assert.Empty(t, s.Ranges)
	assert.Nil(t, s.Intensities)
}

func TestRescan(t *testing.T) {
	s := uniformScan(-10*deg, 10*deg, deg, 0)
	for i := range s.Ranges {
		s.Ranges[i] = float64(i)
	}
	Rescan{Resolution: 0.5 * deg}.Apply(s)

	require.Len(t, s.Ranges, 41)
	assert.Equal(t, 0.0, s.Ranges[0])
	assert.Equal(t, 1.0, s.Ranges[2])
	assert.Equal(t, 20.0, s.Ranges[40])
	assert.InDelta(t, 10*deg, s.MaxAngle, 1e-9)

	Rescan{Resolution: 5 * deg}.Apply(s)
	assert.Equal(t, []float64{0, 5, 10, 15, 20}, s.Ranges)
}

func TestClamp(t *testing.T) {
	s := &types.LaserScan{Ranges: []float64{0.01, 1, 12}, MaxRange: 8}
	Clamp{MinRange: 0.1, MaxRange: 5}.Apply(s)
	assert.Equal(t, []float64{0.1, 1, 5}, s.Ranges)
	assert.Equal(t, 5.0, s.MaxRange)
}

func TestDecimate(t *testing.T) {
	s := uniformScan(0, 4*deg, deg, 0)
	for i := range s.Ranges {
		s.Ranges[i] = float64(i)
	}
	Decimate{Factor: 2}.Apply(s)

	assert.Equal(t, []float64{0, 2, 4}, s.Ranges)
	assert.Equal(t, []uint8{0, 2, 4}, s.Intensities)
	assert.InDelta(t, 2*deg, s.Resolution, 1e-12)
	assert.InDelta(t, 4*deg, s.MaxAngle, 1e-12)
}

func TestCSpace_PointObstacle(t *testing.T) {
	s := uniformScan(-1, 1, 0.1, 10)
	s.Ranges[10] = 2
	CSpace{Radius: 0.5}.Apply(s)

	assert.InDelta(t, 1.5, s.Ranges[10], 1e-9, "straight at the obstacle")
	assert.InDelta(t, 2*math.Cos(0.1)-math.Sqrt(0.25-math.Pow(2*math.Sin(0.1), 2)), s.Ranges[11], 1e-9)
	assert.InDelta(t, 9.5, s.Ranges[15], 1e-9, "disc passes beside the obstacle")
}

func TestCSpace_NeverNegative(t *testing.T) {
	s := uniformScan(-0.2, 0.2, 0.1, 0.2)
	CSpace{Radius: 0.5}.Apply(s)
	for _, v := range s.Ranges {
		assert.Equal(t, 0.0, v)
	}
}

func TestNewStage(t *testing.T) {
	good := []StageConfig{
		{Type: "crop", MinAngle: -1, MaxAngle: 1},
		{Type: "rescan", Resolution: 0.01},
		{Type: "clamp", MaxRange: 5},
		{Type: "cspace", Radius: 0.3},
		{Type: "decimate", Factor: 2},
	}
	for _, c := range good {
		st, err := NewStage(c)
		require.NoError(t, err, c.Type)
		assert.Equal(t, c.Type, st.Name())
	}

	bad := []StageConfig{
		{Type: "crop", MinAngle: 1, MaxAngle: -1},
		{Type: "rescan"},
		{Type: "clamp", MinRange: 3, MaxRange: 2},
		{Type: "cspace"},
		{Type: "decimate"},
		{Type: "blur"},
	}
	for _, c := range bad {
		_, err := NewStage(c)
		assert.Error(t, err, c.Type)
	}
}

func TestStages_MisalignedIntensities(t *testing.T) {
	stages := []Stage{
		Crop{MinAngle: -0.5, MaxAngle: 0.5},
		Rescan{Resolution: 0.05},
		Decimate{Factor: 3},
	}
	for _, st := range stages {
		t.Run(st.Name(), func(t *testing.T) {
			s := uniformScan(-1, 1, 0.1, 2)
			s.Intensities = []uint8{7}

			require.NotPanics(t, func() { st.Apply(s) })
			assert.NotEmpty(t, s.Ranges)
			assert.Nil(t, s.Intensities)
		})
	}
}
