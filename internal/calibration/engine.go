// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration maps raw pupil positions in pixels to gaze angles in
// degrees. The operator has the patient fixate two markers at a known
// geometry; the pixel distance between the two fixations gives the
// pixels-per-degree conversion factor for each eye and axis.
package calibration

import (
	"fmt"
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/vng_computer/internal/sample"
	"github.com/relabs-tech/vng_computer/internal/siev"
)

// Geometry describes the physical placement of the two fixation markers
// relative to the patient's eyes.
type Geometry struct {
	LateralSeparationCM float64 // distance between the two markers
	PerpendicularCM     float64 // distance from the marker plane to the eye
}

// DefaultGeometry matches the goggle frame: markers 6.0 cm either side of
// the midline, 9.0 cm in front of the eyes.
var DefaultGeometry = Geometry{LateralSeparationCM: 12.0, PerpendicularCM: 9.0}

// TheoreticalAngle returns the visual angle in degrees subtended by the two
// markers as seen from the eye.
func (g Geometry) TheoreticalAngle() float64 {
	return math.Atan(g.LateralSeparationCM/g.PerpendicularCM) * 180.0 / math.Pi
}

// PointID names one of the two reference fixation points.
type PointID string

const (
	PointLeft  PointID = "left"
	PointRight PointID = "right"
)

// minCaptureSamples is the smallest number of valid pupil positions a dwell
// window must contribute for its centroid to be trusted.
const minCaptureSamples = 3

// Hardware is the subset of the goggle controller the engine drives during
// a calibration run. All calls are best-effort: a failed command degrades
// the run but never aborts it.
type Hardware interface {
	Pause() siev.Result
	LEDOn(side string) siev.Result
	LEDOff(side string) siev.Result
}

// EyeCalibration holds the conversion parameters for one eye. A factor of
// zero marks the axis as uncalibrated; Convert passes that axis through
// unchanged rather than dividing by it.
type EyeCalibration struct {
	FactorX float64 `json:"factor_x"` // px per degree
	FactorY float64 `json:"factor_y"` // px per degree
	OriginX float64 `json:"origin_x"` // px
	OriginY float64 `json:"origin_y"` // px

	Calibrated bool `json:"calibrated"`
}

// Summary is a read-only snapshot of the engine state, for the calibration
// UI and for session metadata.
type Summary struct {
	Calibrated       bool                           `json:"calibrated"`
	TheoreticalAngle float64                        `json:"theoretical_angle"`
	Geometry         Geometry                       `json:"geometry"`
	Eyes             map[sample.Eye]EyeCalibration  `json:"eyes"`
	Captures         map[PointID]map[sample.Eye]int `json:"captures"` // sample counts
}

type reference struct {
	// raw dwell samples per eye, accumulated between BeginCapture and
	// FinishReference
	raw map[sample.Eye][]sample.Point
	// frozen centroid per eye, set by FinishReference
	centroid map[sample.Eye]*sample.Point
}

func newReference() *reference {
	return &reference{
		raw:      map[sample.Eye][]sample.Point{},
		centroid: map[sample.Eye]*sample.Point{},
	}
}

// Engine converts pupil pixel positions to gaze degrees. Not safe for
// concurrent use: the owner must not call Convert while a capture or
// Compute is mutating the same instance.
type Engine struct {
	geom Geometry
	hw   Hardware // nil when running without goggle hardware

	points     map[PointID]*reference
	eyes       map[sample.Eye]*EyeCalibration
	calibrated bool
}

// New returns an engine for the given marker geometry. hw may be nil; the
// engine then skips all marker choreography.
func New(geom Geometry, hw Hardware) *Engine {
	e := &Engine{geom: geom, hw: hw}
	e.reset()
	return e
}

func (e *Engine) reset() {
	e.points = map[PointID]*reference{
		PointLeft:  newReference(),
		PointRight: newReference(),
	}
	e.eyes = map[sample.Eye]*EyeCalibration{
		sample.Left:  {},
		sample.Right: {},
	}
	e.calibrated = false
}

// Start discards any previous calibration and asks the goggles to pause
// the inertial live stream so it does not interleave with capture traffic.
// The pause is best-effort.
func (e *Engine) Start() {
	e.reset()
	if e.hw != nil {
		if res := e.hw.Pause(); !res.OK {
			log.Printf("calibration: inertial pause failed (continuing): %s", res.Response)
		}
	}
}

// BeginCapture lights the fixation marker for the given point. Pupil
// samples arriving during the dwell window go through Capture.
func (e *Engine) BeginCapture(point PointID) {
	if e.hw != nil {
		if res := e.hw.LEDOn(string(point)); !res.OK {
			log.Printf("calibration: marker %s on failed: %s", point, res.Response)
		}
	}
}

// Capture accumulates one pupil position for a point+eye pair. Frames where
// the locator missed the eye are simply not offered here.
func (e *Engine) Capture(point PointID, eye sample.Eye, px sample.Point) {
	ref, ok := e.points[point]
	if !ok {
		return
	}
	ref.raw[eye] = append(ref.raw[eye], px)
}

// FinishReference freezes the centroid of the accumulated dwell samples for
// each eye that has enough of them, then turns the marker off. Eyes with
// fewer than minCaptureSamples valid positions are left uncaptured.
func (e *Engine) FinishReference(point PointID) {
	ref, ok := e.points[point]
	if !ok {
		return
	}
	for _, eye := range []sample.Eye{sample.Left, sample.Right} {
		pts := ref.raw[eye]
		if len(pts) < minCaptureSamples {
			log.Printf("calibration: %s marker, %s eye: only %d samples, need %d",
				point, eye, len(pts), minCaptureSamples)
			continue
		}
		c := robustCentroid(pts)
		ref.centroid[eye] = &c
		log.Printf("calibration: %s marker, %s eye: centroid (%.1f, %.1f) from %d samples",
			point, eye, c.X, c.Y, len(pts))
	}
	if e.hw != nil {
		if res := e.hw.LEDOff(string(point)); !res.OK {
			log.Printf("calibration: marker %s off failed: %s", point, res.Response)
		}
	}
}

// Compute derives the conversion factors from the two frozen references.
// At least one eye must have a centroid at both points; otherwise an error
// naming the missing captures is returned and the engine stays uncalibrated.
func (e *Engine) Compute() error {
	angle := e.geom.TheoreticalAngle()

	anyEye := false
	var missing []string

	for _, eye := range []sample.Eye{sample.Left, sample.Right} {
		left := e.points[PointLeft].centroid[eye]
		right := e.points[PointRight].centroid[eye]
		if left == nil || right == nil {
			if left == nil {
				missing = append(missing, fmt.Sprintf("%s eye at %s marker", eye, PointLeft))
			}
			if right == nil {
				missing = append(missing, fmt.Sprintf("%s eye at %s marker", eye, PointRight))
			}
			continue
		}

		cal := e.eyes[eye]
		dx := math.Abs(right.X - left.X)
		dy := math.Abs(right.Y - left.Y)

		// Zero delta leaves the factor at the zero sentinel so Convert
		// never divides by it.
		if dx > 0 {
			cal.FactorX = dx / angle
		}
		if dy > 0 {
			cal.FactorY = dy / angle
		}
		cal.OriginX = (left.X + right.X) / 2
		cal.OriginY = (left.Y + right.Y) / 2
		cal.Calibrated = cal.FactorX > 0 || cal.FactorY > 0

		if cal.Calibrated {
			anyEye = true
			log.Printf("calibration: %s eye: %.2f px/° X, %.2f px/° Y, origin (%.1f, %.1f)",
				eye, cal.FactorX, cal.FactorY, cal.OriginX, cal.OriginY)
		} else {
			missing = append(missing, fmt.Sprintf("%s eye has zero pixel delta", eye))
		}
	}

	if !anyEye {
		return fmt.Errorf("calibration failed: %v", missing)
	}
	e.calibrated = true
	return nil
}

// IsCalibrated reports whether Compute has succeeded since the last Start.
func (e *Engine) IsCalibrated() bool { return e.calibrated }

// Convert maps a pixel position to degrees for the given eye. Uncalibrated
// engines, eyes and axes pass the input through unchanged so downstream
// code always has a value to work with.
func (e *Engine) Convert(px sample.Point, eye sample.Eye) sample.Point {
	if !e.calibrated {
		return px
	}
	cal := e.eyes[eye]
	if cal == nil || !cal.Calibrated {
		return px
	}
	out := px
	if cal.FactorX > 0 {
		out.X = (px.X - cal.OriginX) / cal.FactorX
	}
	if cal.FactorY > 0 {
		out.Y = (px.Y - cal.OriginY) / cal.FactorY
	}
	return out
}

// ConvertSample applies Convert to both eyes of a sample, leaving missing
// eyes missing.
func (e *Engine) ConvertSample(s sample.Sample) sample.Sample {
	if s.LeftEye != nil {
		p := e.Convert(*s.LeftEye, sample.Left)
		s.LeftEye = &p
	}
	if s.RightEye != nil {
		p := e.Convert(*s.RightEye, sample.Right)
		s.RightEye = &p
	}
	return s
}

// Summary returns a snapshot of the current calibration state.
func (e *Engine) Summary() Summary {
	sum := Summary{
		Calibrated:       e.calibrated,
		TheoreticalAngle: e.geom.TheoreticalAngle(),
		Geometry:         e.geom,
		Eyes:             map[sample.Eye]EyeCalibration{},
		Captures:         map[PointID]map[sample.Eye]int{},
	}
	for eye, cal := range e.eyes {
		sum.Eyes[eye] = *cal
	}
	for id, ref := range e.points {
		counts := map[sample.Eye]int{}
		for eye, pts := range ref.raw {
			counts[eye] = len(pts)
		}
		sum.Captures[id] = counts
	}
	return sum
}

// Apply installs a calibration computed elsewhere, from a Summary received
// over the bus or read back from a saved file. Any capture state in
// progress is discarded.
func (e *Engine) Apply(sum Summary) {
	e.reset()
	if sum.Geometry != (Geometry{}) {
		e.geom = sum.Geometry
	}
	for eye, cal := range sum.Eyes {
		c := cal
		e.eyes[eye] = &c
	}
	e.calibrated = sum.Calibrated
}

// robustCentroid averages the dwell samples. With more than five samples it
// first drops positions outside the 1.5×IQR fence on either axis, so a
// stray glance or a locator glitch does not drag the reference point.
func robustCentroid(pts []sample.Point) sample.Point {
	if len(pts) <= 5 {
		return meanPoint(pts)
	}

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.X
		ys[i] = p.Y
	}
	sort.Float64s(xs)
	sort.Float64s(ys)

	xLo, xHi := iqrFence(xs)
	yLo, yHi := iqrFence(ys)

	var kept []sample.Point
	for _, p := range pts {
		if p.X >= xLo && p.X <= xHi && p.Y >= yLo && p.Y <= yHi {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return meanPoint(pts)
	}
	if dropped := len(pts) - len(kept); dropped > 0 {
		log.Printf("calibration: centroid dropped %d/%d outlier samples", dropped, len(pts))
	}
	return meanPoint(kept)
}

// iqrFence returns the [Q1−1.5·IQR, Q3+1.5·IQR] acceptance interval for a
// sorted slice.
func iqrFence(sorted []float64) (lo, hi float64) {
	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

func meanPoint(pts []sample.Point) sample.Point {
	var sx, sy float64
	for _, p := range pts {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(pts))
	return sample.Point{X: sx / n, Y: sy / n}
}
