package lasertransform

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/types"
)

var (
	upstream = types.MustAddress("10.0.0.5", 6665, types.InterfaceLaser, 0)
	derived  = types.MustAddress("10.0.0.5", 6665, types.InterfaceLaser, 1)
)

func TestPipeline_ThroughRunner(t *testing.T) {
	d, err := New(json.RawMessage(`{
		"source": "10.0.0.5:6665:laser:0",
		"wait_ms": 10,
		"stages": [
			{"type": "crop", "min_angle": -0.5, "max_angle": 0.5},
			{"type": "clamp", "max_range": 4},
			{"type": "decimate", "factor": 5}
		]
	}`))
	require.NoError(t, err)

	b := bus.New(bus.Options{})
	out, err := b.Subscribe(derived)
	require.NoError(t, err)

	r, err := driver.NewRunner(driver.Config{Name: "laser-cropped", Address: derived}, d, driver.Deps{Bus: b})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(time.Second)

	scan := uniformScan(-1, 1, 0.1, 6)
	require.NoError(t, b.Publish(upstream, bus.KindData, scan, time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got *types.LaserScan
	for got == nil {
		m, err := out.Next(ctx)
		require.NoError(t, err)
		if m.Kind == bus.KindData {
			got = m.Payload.(*types.LaserScan)
		}
	}

	assert.Equal(t, []float64{4, 4, 4}, got.Ranges)
	assert.InDelta(t, -0.5, got.MinAngle, 1e-9)
	assert.InDelta(t, 0.5, got.Resolution, 1e-9)
	assert.Len(t, scan.Ranges, 21, "upstream scan untouched")
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	d, err := New(json.RawMessage(`{"source": "10.0.0.5:6665:laser:0", "stages": [{"type": "clamp", "max_range": 1}]}`))
	require.NoError(t, err)

	in := uniformScan(0, 0.2, 0.1, 3)
	out := d.(*Driver).Apply(in)
	assert.Equal(t, []float64{1, 1, 1}, out.Ranges)
	assert.Equal(t, []float64{3, 3, 3}, in.Ranges)
}

func TestApply_DropsMisalignedIntensities(t *testing.T) {
	d, err := New(json.RawMessage(`{"source": "10.0.0.5:6665:laser:0",
		"stages": [{"type": "crop", "min_angle": -0.5, "max_angle": 0.5}, {"type": "decimate", "factor": 2}]}`))
	require.NoError(t, err)

	in := uniformScan(-1, 1, 0.1, 3)
	in.Intensities = in.Intensities[:4]

	var out *types.LaserScan
	require.NotPanics(t, func() { out = d.(*Driver).Apply(in) })
	assert.Equal(t, []float64{3, 3, 3, 3, 3, 3}, out.Ranges)
	assert.Nil(t, out.Intensities)
	assert.Len(t, in.Intensities, 4, "input untouched")
}

func TestCycle_IgnoresStatusAndTimesOutQuietly(t *testing.T) {
	d, err := New(json.RawMessage(`{"source": "10.0.0.5:6665:laser:0", "wait_ms": 5}`))
	require.NoError(t, err)
	b := bus.New(bus.Options{})
	env := driver.NewTestEnv("laser1", derived, nil, b, nil)
	require.NoError(t, d.Setup(env))

	require.NoError(t, d.Cycle(context.Background(), env), "no scan is not an error")

	require.NoError(t, b.Publish(upstream, bus.KindStatus, &types.DeviceStatus{State: types.LinkUp}, time.Now()))
	require.NoError(t, d.Cycle(context.Background(), env))
	_, ok := b.Last(derived)
	assert.False(t, ok)

	require.NoError(t, d.Shutdown(env))
}

func TestNew_Validation(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"source": "10.0.0.5:6665:gps:0"}`,
		`{"source": "10.0.0.5:6665:laser:0", "wait_ms": 0}`,
		`{"source": "10.0.0.5:6665:laser:0", "stages": [{"type": "nope"}]}`,
	} {
		_, err := New(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}
}

func TestSetup_RejectsSelfLoop(t *testing.T) {
	d, err := New(json.RawMessage(`{"source": "10.0.0.5:6665:laser:1"}`))
	require.NoError(t, err)
	env := driver.NewTestEnv("laser1", derived, nil, bus.New(bus.Options{}), nil)
	assert.Error(t, d.Setup(env))
}
