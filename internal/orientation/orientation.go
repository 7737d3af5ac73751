package orientation

import (
	"math"

	"github.com/relabs-tech/vng_computer/internal/siev"
)

// Pose is the head attitude derived from the goggles' accelerometer.
// During caloric and positional tests it tells the clinician whether the
// patient's head is held at the prescribed angle.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
}

// Source is anything that can provide poses over time.
type Source interface {
	Next() (Pose, error)
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}

// FromReading converts one inertial reading from the goggle stream.
func FromReading(r siev.InertialReading) Pose {
	return ComputePoseFromAccel(r.Ax, r.Ay, r.Az)
}
