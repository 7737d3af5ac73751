package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSourceTimestamps(t *testing.T) {
	src := NewMockSource(100)
	for i := 0; i < 10; i++ {
		f, err := src.Next()
		require.NoError(t, err)
		assert.InDelta(t, float64(i)*0.01, f.Timestamp, 1e-9)
	}
}

func TestMockSourceTraceShape(t *testing.T) {
	src := NewMockSource(100)
	var detected, missing int
	for i := 0; i < 1200; i++ { // 12 s
		f, err := src.Next()
		require.NoError(t, err)
		if f.LeftEye == nil {
			assert.Nil(t, f.RightEye)
			missing++
			continue
		}
		detected++
		require.NotNil(t, f.RightEye)
		// Drift stays within the sawtooth band around image center.
		assert.InDelta(t, 320, f.LeftEye.X, 30.001)
		assert.InDelta(t, 240, f.LeftEye.Y, 5.001)
		// Fixed interocular offset in pixels.
		assert.InDelta(t, 90, f.RightEye.X-f.LeftEye.X, 1e-9)
	}

	// Three 150 ms blinks in 12 s plus a dropout every 97th frame.
	assert.Greater(t, missing, 40)
	assert.Less(t, missing, 80)
	assert.Greater(t, detected, 1100)
}

func TestMockSourceBlinkWindow(t *testing.T) {
	src := NewMockSource(100)
	for i := 0; i < 400; i++ { // 4 s
		f, _ := src.Next()
		ts := f.Timestamp
		if ts >= 3.0 && ts < 3.15 {
			assert.Nil(t, f.LeftEye, "t=%.2f should be inside the blink", ts)
		}
	}
}
