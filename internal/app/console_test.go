package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrintThrottle(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	gate := &printThrottle{interval: time.Second}

	assert.True(t, gate.ok(base), "first line always prints")
	assert.False(t, gate.ok(base.Add(200*time.Millisecond)))
	assert.False(t, gate.ok(base.Add(999*time.Millisecond)))
	assert.True(t, gate.ok(base.Add(time.Second)))
	assert.False(t, gate.ok(base.Add(1500*time.Millisecond)))
	assert.True(t, gate.ok(base.Add(2*time.Second)))
}

func TestScatter(t *testing.T) {
	assert.Zero(t, scatter(nil))
	assert.Zero(t, scatter([]float64{320.5}))

	// Spread-out fixation samples give a nonzero quality figure; a
	// perfectly still eye gives zero.
	assert.Zero(t, scatter([]float64{320, 320, 320}))
	assert.InDelta(t, 1.0, scatter([]float64{319, 320, 321}), 1e-9)
}
