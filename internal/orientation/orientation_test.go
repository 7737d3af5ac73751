package orientation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/vng_computer/internal/siev"
)

func TestComputePoseFromAccel(t *testing.T) {
	tests := []struct {
		name       string
		ax, ay, az float64
		roll       float64
		pitch      float64
	}{
		{"level, gravity on z", 0, 0, 1, 0, 0},
		{"rolled right 90", 0, 1, 0, 90, 0},
		{"rolled left 90", 0, -1, 0, -90, 0},
		{"pitched down 90", 1, 0, 0, 0, -90},
		{"pitched up 90", -1, 0, 0, 0, 90},
		{"rolled 45", 0, 0.7071, 0.7071, 45, 0},
		{"supine, head back", 0, 0, -1, 180, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := ComputePoseFromAccel(tc.ax, tc.ay, tc.az)
			assert.InDelta(t, tc.roll, p.Roll, 0.01)
			assert.InDelta(t, tc.pitch, p.Pitch, 0.01)
		})
	}
}

func TestFromReading(t *testing.T) {
	r := siev.InertialReading{Seq: 1, Ax: 0, Ay: 0.5, Az: 0.8660}
	p := FromReading(r)
	assert.InDelta(t, 30.0, p.Roll, 0.01)
	assert.InDelta(t, 0.0, p.Pitch, 0.01)
}
