package locator

import (
	"math"

	"github.com/relabs-tech/vng_computer/internal/sample"
)

// Frame is what the pupil locator reports for one camera frame: a
// monotonic timestamp and an optional pixel position per eye. A nil eye
// means the locator could not find the pupil; no retry happens here.
type Frame struct {
	Timestamp float64
	LeftEye   *sample.Point
	RightEye  *sample.Point
}

// Source is anything that can provide frames over time: the real camera
// pipeline, a replay of a recorded session, or the synthetic source below.
type Source interface {
	Next() (Frame, error)
}

// mockSource synthesizes a nystagmus-like gaze trace: a slow drift with
// periodic fast resets, brief blinks, and occasional single-frame
// dropouts. It lets the whole pipeline run on a desk with no cameras.
type mockSource struct {
	rate  float64
	index int
}

// NewMockSource creates a synthetic locator running at the given frame
// rate.
func NewMockSource(rateHz float64) Source {
	return &mockSource{rate: rateHz}
}

func (m *mockSource) Next() (Frame, error) {
	t := float64(m.index) / m.rate
	m.index++

	// Sawtooth around image center: slow leftward drift, fast reset.
	// Period 0.5 s, ±30 px around x=320.
	phase := math.Mod(t, 0.5) / 0.5
	x := 320.0 + 30.0 - 60.0*phase
	y := 240.0 + 5.0*math.Sin(2*math.Pi*0.3*t)

	frame := Frame{Timestamp: t}

	// A 150 ms blink every 4 s, plus a lone dropout every 97 frames.
	blinkPhase := math.Mod(t, 4.0)
	blinking := blinkPhase >= 3.0 && blinkPhase < 3.15
	dropout := m.index%97 == 0

	if !blinking && !dropout {
		frame.LeftEye = &sample.Point{X: x, Y: y}
		frame.RightEye = &sample.Point{X: x + 90, Y: y}
	}
	return frame, nil
}
