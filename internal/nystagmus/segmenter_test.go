// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package nystagmus

import (
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sawtooth builds a synthetic nystagmus trace at rateHz: a slow drift of
// driftDegSec followed by a fast reset spread over resetSamples, repeating
// every periodSec.
func sawtooth(rateHz, seconds, periodSec, driftDegSec float64, resetSamples int) []float64 {
	n := int(rateHz * seconds)
	period := int(periodSec * rateHz)
	slowLen := period - resetSamples
	amplitude := driftDegSec * float64(slowLen) / rateHz

	out := make([]float64, n)
	pos := 0.0
	for i := 0; i < n; i++ {
		phase := i % period
		if phase < slowLen {
			pos += driftDegSec / rateHz
		} else {
			pos -= amplitude / float64(resetSamples)
		}
		out[i] = pos
	}
	return out
}

func TestSegmentSawtooth(t *testing.T) {
	cfg := DefaultConfig(100)

	// 10°/s slow drift, ~90°/s resets, one beat per 0.5 s over 6 s.
	trace := sawtooth(100, 6, 0.5, 10, 5)
	res := Segment(cfg, trace)

	// One reset per period, minus edge effects.
	require.NotEmpty(t, res.Saccades)
	assert.GreaterOrEqual(t, len(res.Saccades), 8)
	assert.LessOrEqual(t, len(res.Saccades), 14)
	for _, s := range res.Saccades {
		assert.Equal(t, -1, s.Sign, "resets are leftward, saccade at t=%.2f", s.Timestamp)
	}

	require.NotEmpty(t, res.SlowPhases)
	for _, sp := range res.SlowPhases {
		assert.Greater(t, sp.Velocity, 0.0, "slow drift runs against the reset")
		assert.GreaterOrEqual(t, sp.Duration, cfg.MinVCLDuration)
		assert.Greater(t, sp.End, sp.Start)
	}

	assert.InDelta(t, 10, res.MeanVCL, 5)
}

func TestSegmentIdempotent(t *testing.T) {
	cfg := DefaultConfig(100)
	trace := sawtooth(100, 4, 0.5, 10, 5)

	a := Segment(cfg, trace)
	b := Segment(cfg, trace)
	assert.True(t, reflect.DeepEqual(a, b))
}

func TestSegmentDoesNotModifyInput(t *testing.T) {
	cfg := DefaultConfig(100)
	trace := sawtooth(100, 4, 0.5, 10, 5)
	orig := append([]float64(nil), trace...)

	Segment(cfg, trace)
	assert.Equal(t, orig, trace)
}

func TestSegmentShortInput(t *testing.T) {
	cfg := DefaultConfig(100)

	res := Segment(cfg, nil)
	assert.Empty(t, res.Saccades)
	assert.Empty(t, res.SlowPhases)
	assert.Zero(t, res.MeanVCL)

	res = Segment(cfg, []float64{1, 2, 3, 4})
	assert.Empty(t, res.Saccades)
}

func TestSegmentQuietTrace(t *testing.T) {
	cfg := DefaultConfig(100)

	// Steady fixation: no saccades, no slow phases, zero mean VCL.
	trace := make([]float64, 500)
	for i := range trace {
		trace[i] = 2.0 + 0.01*math.Sin(2*math.Pi*float64(i)/100)
	}
	res := Segment(cfg, trace)
	assert.Empty(t, res.Saccades)
	assert.Empty(t, res.SlowPhases)
	assert.Zero(t, res.MeanVCL)
}

func TestComputeVelocityRamp(t *testing.T) {
	cfg := DefaultConfig(100)

	// 10°/s ramp differentiates to a flat 10°/s.
	ramp := make([]float64, 200)
	for i := range ramp {
		ramp[i] = 0.1 * float64(i)
	}
	v := computeVelocity(cfg, ramp)
	for i := 20; i < 180; i++ {
		assert.InDelta(t, 10, v[i], 0.5, "index %d", i)
	}
}

func TestDetectSaccadesBothPolarities(t *testing.T) {
	cfg := DefaultConfig(100)
	cfg.RefractorySec = 0.05

	v := make([]float64, 300)
	v[100] = 80  // rightward spike
	v[200] = -80 // leftward spike

	// Feed velocity directly; smoothing happens upstream in Segment.
	saccades := detectSaccades(cfg, v)
	require.Len(t, saccades, 2)
	assert.Equal(t, 100, saccades[0].Index)
	assert.Equal(t, 1, saccades[0].Sign)
	assert.Equal(t, 200, saccades[1].Index)
	assert.Equal(t, -1, saccades[1].Sign)
	assert.InDelta(t, 1.0, saccades[0].Timestamp, 1e-9)
}

func TestFindPeaksHeight(t *testing.T) {
	v := []float64{0, 10, 0, 30, 0, 24, 0}
	peaks := findPeaks(v, 25, 1)
	assert.Equal(t, []int{3}, peaks)
}

func TestFindPeaksRefractory(t *testing.T) {
	// Two peaks five samples apart: the taller one wins when the distance
	// window covers both.
	v := make([]float64, 40)
	v[10] = 30
	v[15] = 40

	peaks := findPeaks(v, 25, 10)
	assert.Equal(t, []int{15}, peaks)

	// Far enough apart, both survive, in time order.
	peaks = findPeaks(v, 25, 4)
	assert.Equal(t, []int{10, 15}, peaks)
}

func TestFindPeaksEdges(t *testing.T) {
	// Values at the buffer edges are never peaks.
	v := []float64{50, 0, 0, 0, 50}
	assert.Empty(t, findPeaks(v, 25, 1))
}

func TestFiltfiltZeroPhase(t *testing.T) {
	f := butterLowpass2(15, 100)

	// A symmetric pulse must come back centered where it went in.
	x := make([]float64, 101)
	for i := range x {
		d := float64(i - 50)
		x[i] = math.Exp(-d * d / 50)
	}
	y := filtfilt(f, x)

	peak := 0
	for i := range y {
		if y[i] > y[peak] {
			peak = i
		}
	}
	assert.Equal(t, 50, peak)
}

func TestLowpassPassesDC(t *testing.T) {
	f := butterLowpass2(15, 100)
	x := make([]float64, 200)
	for i := range x {
		x[i] = 3.5
	}
	y := filtfilt(f, x)
	for i := 50; i < 150; i++ {
		assert.InDelta(t, 3.5, y[i], 1e-6)
	}
}

func TestHighpassRemovesDC(t *testing.T) {
	f := butterHighpass1(0.5, 100)
	x := make([]float64, 2000)
	for i := range x {
		x[i] = 3.5
	}
	y := filtfilt(f, x)
	for i := 900; i < 1100; i++ {
		assert.InDelta(t, 0, y[i], 0.05)
	}
}

func TestHighpassNoEdgeTransient(t *testing.T) {
	// The high-pass starts in steady state, so a constant trace stays
	// zero all the way to the buffer edges, not just in the interior.
	f := butterHighpass1(0.5, 100)
	x := make([]float64, 400)
	for i := range x {
		x[i] = 5
	}
	y := filtfilt(f, x)
	for i, v := range y {
		assert.InDeltaf(t, 0, v, 1e-6, "index %d", i)
	}
}

func TestSegmentSteadyGazeWithOffset(t *testing.T) {
	// Steady fixation away from zero degrees. Any saccade here would be
	// the filter ringing at the buffer edge, not eye movement.
	pos := make([]float64, 600)
	for i := range pos {
		pos[i] = 8.0
	}
	res := Segment(DefaultConfig(100), pos)
	assert.Empty(t, res.Saccades)
	assert.Empty(t, res.SlowPhases)
	assert.Zero(t, res.MeanVCL)
}

func TestSlowPhaseRejectsSameSignDrift(t *testing.T) {
	cfg := DefaultConfig(100)

	// Drift and resets in the same direction: a pursuit artifact, not a
	// nystagmus beat. Saccades fire but no slow phase may be scored with a
	// VCL matching the saccade sign.
	n := 600
	trace := make([]float64, n)
	pos := 0.0
	for i := 0; i < n; i++ {
		if i%50 == 0 && i > 0 {
			pos -= 3 // fast leftward jump
		}
		pos -= 10.0 / 100 // slow leftward drift too
		trace[i] = pos
	}

	res := Segment(cfg, trace)
	for _, sp := range res.SlowPhases {
		assert.Greater(t, sp.Velocity, 0.0)
	}
}
