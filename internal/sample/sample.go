// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sample

// Point is a 2D position. Units are pixels before calibration and
// degrees after.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sample is one frame of measurements from the goggles: optional per-eye
// pupil positions from the locator plus the head tilt pair from the
// inertial channel. A nil eye means the locator failed to find the pupil
// on that frame; that is normal data, not an error.
type Sample struct {
	// Timestamp in seconds, monotonically increasing within a session.
	Timestamp float64 `json:"timestamp"`

	LeftEye  *Point `json:"left_eye,omitempty"`
	RightEye *Point `json:"right_eye,omitempty"`

	// Aux carries the inertial channel reading aligned to this frame
	// (head roll as X, head pitch as Y, degrees).
	Aux Point `json:"aux"`

	LeftDetected  bool `json:"left_detected"`
	RightDetected bool `json:"right_detected"`
}

// Eye selects one of the two eye channels.
type Eye string

const (
	Left  Eye = "left"
	Right Eye = "right"
)

// Position returns the pixel position for the given eye, or nil if the
// locator missed it on this frame.
func (s *Sample) Position(eye Eye) *Point {
	if eye == Left {
		return s.LeftEye
	}
	return s.RightEye
}

// Detected reports whether the given eye was found on this frame.
func (s *Sample) Detected(eye Eye) bool {
	if eye == Left {
		return s.LeftDetected
	}
	return s.RightDetected
}
