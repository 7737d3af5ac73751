// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package nystagmus segments a calibrated eye-position trace into the fast
// (saccade) and slow (VCL) phases of nystagmus beats. Segment is a pure
// transform: run it twice over the same buffer and you get the same answer.
package nystagmus

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Config holds the segmentation parameters for one channel.
type Config struct {
	SampleRateHz     float64
	SaccadeThreshold float64 // °/s, velocity a fast phase must exceed
	MinVCLDuration   float64 // s, shorter slow phases are discarded
	RefractorySec    float64 // s, minimum spacing between saccade peaks

	LowPassHz        float64 // position noise cutoff
	HighPassHz       float64 // drift removal cutoff
	VelocitySmoothHz float64 // differentiation noise cutoff
}

// DefaultConfig returns the clinical defaults for the given sample rate.
func DefaultConfig(rateHz float64) Config {
	return Config{
		SampleRateHz:     rateHz,
		SaccadeThreshold: 25.0,
		MinVCLDuration:   0.1,
		RefractorySec:    0.1,
		LowPassHz:        15.0,
		HighPassHz:       0.5,
		VelocitySmoothHz: 10.0,
	}
}

// Saccade is one detected fast phase.
type Saccade struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"` // seconds from buffer start
	Sign      int     `json:"sign"`      // +1 rightward/upward, -1 leftward/downward
}

// SlowPhase is one accepted slow-phase segment between two saccades.
type SlowPhase struct {
	Start     int     `json:"start"`     // sample index, inclusive
	End       int     `json:"end"`       // sample index, exclusive
	Velocity  float64 `json:"velocity"`  // signed °/s, the VCL
	Duration  float64 `json:"duration"`  // s
	Amplitude float64 `json:"amplitude"` // °
}

// Result is everything Segment derives from one position buffer.
type Result struct {
	Saccades   []Saccade   `json:"saccades"`
	SlowPhases []SlowPhase `json:"slow_phases"`
	MeanVCL    float64     `json:"mean_vcl"` // mean |velocity| over slow phases, 0 if none

	// Intermediate traces, kept for plotting.
	Filtered []float64 `json:"-"`
	Velocity []float64 `json:"-"`
}

// settleWindowSec bounds how far past a saccade peak the settle-point scan
// looks before giving up and starting the slow phase right after the peak.
const settleWindowSec = 0.2

// Segment analyzes one position channel (degrees) sampled at the rate in
// cfg. The input buffer is not modified.
func Segment(cfg Config, position []float64) Result {
	if len(position) < 5 {
		return Result{}
	}

	filtered := filterPosition(cfg, position)
	velocity := computeVelocity(cfg, filtered)
	saccades := detectSaccades(cfg, velocity)
	slow := segmentSlowPhases(cfg, filtered, velocity, saccades)

	var meanVCL float64
	if len(slow) > 0 {
		for _, s := range slow {
			meanVCL += math.Abs(s.Velocity)
		}
		meanVCL /= float64(len(slow))
	}

	return Result{
		Saccades:   saccades,
		SlowPhases: slow,
		MeanVCL:    meanVCL,
		Filtered:   filtered,
		Velocity:   velocity,
	}
}

// filterPosition removes measurement noise and slow drift without shifting
// the trace in time.
func filterPosition(cfg Config, position []float64) []float64 {
	lp := filtfilt(butterLowpass2(cfg.LowPassHz, cfg.SampleRateHz), position)
	return filtfilt(butterHighpass1(cfg.HighPassHz, cfg.SampleRateHz), lp)
}

// computeVelocity differentiates by central difference (one-sided at the
// edges) and smooths the result, since differentiation amplifies whatever
// noise the position filter left behind.
func computeVelocity(cfg Config, pos []float64) []float64 {
	fs := cfg.SampleRateHz
	v := make([]float64, len(pos))
	for i := 1; i < len(pos)-1; i++ {
		v[i] = (pos[i+1] - pos[i-1]) * fs / 2
	}
	v[0] = (pos[1] - pos[0]) * fs
	v[len(pos)-1] = (pos[len(pos)-1] - pos[len(pos)-2]) * fs

	return filtfilt(butterLowpass1(cfg.VelocitySmoothHz, cfg.SampleRateHz), v)
}

// detectSaccades finds velocity peaks of both polarities above the
// threshold, at least the refractory interval apart, merged in time order.
func detectSaccades(cfg Config, velocity []float64) []Saccade {
	distance := int(cfg.RefractorySec * cfg.SampleRateHz)

	pos := findPeaks(velocity, cfg.SaccadeThreshold, distance)

	neg := make([]float64, len(velocity))
	for i, v := range velocity {
		neg[i] = -v
	}
	negPeaks := findPeaks(neg, cfg.SaccadeThreshold, distance)

	all := make([]int, 0, len(pos)+len(negPeaks))
	all = append(all, pos...)
	all = append(all, negPeaks...)
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j] < all[j-1]; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}

	saccades := make([]Saccade, len(all))
	for i, idx := range all {
		sign := 1
		if velocity[idx] < 0 {
			sign = -1
		}
		saccades[i] = Saccade{
			Index:     idx,
			Timestamp: float64(idx) / cfg.SampleRateHz,
			Sign:      sign,
		}
	}
	return saccades
}

// segmentSlowPhases walks consecutive saccade pairs. The slow phase begins
// once the first saccade's velocity has settled below half the threshold
// and ends at the next saccade's onset. Segments that are too short, too
// sparse, or whose drift shares the preceding saccade's direction are
// dropped without comment: they are beats the instrument cannot score, not
// errors.
func segmentSlowPhases(cfg Config, pos, velocity []float64, saccades []Saccade) []SlowPhase {
	if len(saccades) < 2 {
		return nil
	}
	fs := cfg.SampleRateHz
	var out []SlowPhase

	for i := 0; i < len(saccades)-1; i++ {
		idxStart := saccades[i].Index
		idxEnd := saccades[i+1].Index

		settle := idxStart
		limit := idxStart + int(settleWindowSec*fs)
		if limit > idxEnd {
			limit = idxEnd
		}
		for j := idxStart; j < limit; j++ {
			if math.Abs(velocity[j]) < cfg.SaccadeThreshold*0.5 {
				settle = j
				break
			}
		}

		start := settle + 1
		n := idxEnd - start
		duration := float64(n) / fs
		if duration < cfg.MinVCLDuration || n < 3 {
			continue
		}

		times := make([]float64, n)
		segment := pos[start:idxEnd]
		for k := range times {
			times[k] = float64(start+k) / fs
		}
		_, vcl := stat.LinearRegression(times, segment, nil, false)

		// A genuine slow phase drifts against the beat's fast phase.
		if sameSign(vcl, velocity[idxStart]) {
			continue
		}

		out = append(out, SlowPhase{
			Start:     start,
			End:       idxEnd,
			Velocity:  vcl,
			Duration:  duration,
			Amplitude: math.Abs(segment[n-1] - segment[0]),
		})
	}
	return out
}

func sameSign(a, b float64) bool {
	return (a >= 0) == (b >= 0)
}
