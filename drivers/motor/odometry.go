package motor

import (
	"math"
	"time"

	"github.com/c360/semdevices/codec/clodbuster"
	"github.com/c360/semdevices/types"
)

// Odometry integrates differential drive encoder counts into a planar pose.
// Counters are 16-bit and wrap.
type Odometry struct {
	WheelBase     float64
	MetersPerTick float64

	x, y, yaw    float64
	velX, velYaw float64
	prev         clodbuster.Encoders
	prevTime     time.Time
	primed       bool
}

// Update folds in a new encoder sample and reports whether either wheel
// moved. The first sample only sets the reference.
func (o *Odometry) Update(e clodbuster.Encoders, at time.Time) bool {
	if !o.primed {
		o.prev, o.prevTime, o.primed = e, at, true
		return false
	}

	dl := float64(e.Left-o.prev.Left) * o.MetersPerTick
	dr := float64(e.Right-o.prev.Right) * o.MetersPerTick
	dist := (dl + dr) / 2
	dyaw := (dr - dl) / o.WheelBase

	heading := o.yaw + dyaw/2
	o.x += dist * math.Cos(heading)
	o.y += dist * math.Sin(heading)
	o.yaw = normalize(o.yaw + dyaw)

	if dt := at.Sub(o.prevTime).Seconds(); dt > 0 {
		o.velX = dist / dt
		o.velYaw = dyaw / dt
	}
	moved := e != o.prev
	o.prev, o.prevTime = e, at
	return moved
}

// Primed reports whether a reference sample has been taken.
func (o *Odometry) Primed() bool { return o.primed }

// Reading returns the current pose.
func (o *Odometry) Reading() *types.Position2DReading {
	return &types.Position2DReading{X: o.x, Y: o.y, Yaw: o.yaw, VelX: o.velX, VelYaw: o.velYaw}
}

// normalize wraps an angle into (-pi, pi].
func normalize(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
