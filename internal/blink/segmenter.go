// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package blink turns per-eye visibility flags into validated blink
// intervals. Points are buffered and processed in batches so the hot
// acquisition path pays almost nothing per frame.
package blink

import (
	"sync"
	"time"

	"github.com/relabs-tech/vng_computer/internal/sample"
)

// Interval is one completed blink.
type Interval struct {
	Start float64    `json:"start"` // timestamp, seconds
	End   float64    `json:"end"`   // timestamp, seconds
	Eye   sample.Eye `json:"eye"`

	// InProgress marks the synthetic open-ended interval returned for a
	// blink that has started but not finished. It exists for live display
	// only and is never counted or persisted.
	InProgress bool `json:"in_progress,omitempty"`
}

// Stats summarizes detection for both eyes.
type Stats struct {
	TotalLeft      int     `json:"total_left"`
	TotalRight     int     `json:"total_right"`
	PerMinuteLeft  float64 `json:"per_minute_left"`
	PerMinuteRight float64 `json:"per_minute_right"`
	DataPoints     int     `json:"data_points"`
}

type point struct {
	leftVisible  bool
	rightVisible bool
	timestamp    float64
}

// eyeState tracks the OPEN/BLINKING state machine for one eye.
type eyeState struct {
	blinking   bool
	blinkStart float64
	intervals  []Interval
	total      int
}

// Segmenter accumulates visibility flags and reports blink intervals.
// Safe for one writer and concurrent readers.
type Segmenter struct {
	mu sync.Mutex

	minDuration float64
	maxDuration float64
	batchSize   int
	historyMax  int

	pending []point
	left    eyeState
	right   eyeState

	firstTimestamp float64
	lastTimestamp  float64
	processed      int

	// Result cache: interval snapshots are requested on every display
	// frame, far more often than they change.
	cacheLeft    []Interval
	cacheRight   []Interval
	cacheValid   bool
	cacheStamp   time.Time
	cacheMaxAge  time.Duration
}

const (
	defaultMinDuration = 0.05
	defaultMaxDuration = 2.0
	defaultBatchSize   = 100
	defaultHistoryMax  = 5000
	defaultCacheMaxAge = 100 * time.Millisecond
)

// NewSegmenter returns a segmenter with the clinical defaults: blinks
// between 50 ms and 2 s, batches of 100 points.
func NewSegmenter() *Segmenter {
	return &Segmenter{
		minDuration: defaultMinDuration,
		maxDuration: defaultMaxDuration,
		batchSize:   defaultBatchSize,
		historyMax:  defaultHistoryMax,
		cacheMaxAge: defaultCacheMaxAge,
	}
}

// SetBounds overrides the accepted blink duration range, in seconds.
func (s *Segmenter) SetBounds(min, max float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if min > 0 {
		s.minDuration = min
	}
	if max >= s.minDuration {
		s.maxDuration = max
	}
}

// Add buffers one visibility observation. The batch is processed once it
// reaches the batch size.
func (s *Segmenter) Add(leftVisible, rightVisible bool, timestamp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, point{leftVisible, rightVisible, timestamp})
	s.cacheValid = false
	if len(s.pending) >= s.batchSize {
		s.processPendingLocked()
	}
}

// AddSample is a convenience that feeds the detection flags of a sample.
func (s *Segmenter) AddSample(sm sample.Sample) {
	s.Add(sm.LeftDetected, sm.RightDetected, sm.Timestamp)
}

// processPendingLocked runs the state machine over the buffered batch.
func (s *Segmenter) processPendingLocked() {
	for _, p := range s.pending {
		if s.processed == 0 {
			s.firstTimestamp = p.timestamp
		}
		s.lastTimestamp = p.timestamp
		s.processed++

		s.stepEye(&s.left, sample.Left, p.leftVisible, p.timestamp)
		s.stepEye(&s.right, sample.Right, p.rightVisible, p.timestamp)
	}
	s.pending = s.pending[:0]

	// Bound memory for long sessions: only the newest intervals matter
	// for the live view, the recording store has the raw flags anyway.
	if len(s.left.intervals) > s.historyMax {
		s.left.intervals = s.left.intervals[len(s.left.intervals)-s.historyMax:]
	}
	if len(s.right.intervals) > s.historyMax {
		s.right.intervals = s.right.intervals[len(s.right.intervals)-s.historyMax:]
	}
}

// stepEye advances one eye's OPEN/BLINKING state machine by one point.
// A closed interval is accepted only when its duration is inside the
// [min, max] bounds; everything else is locator noise or occlusion.
func (s *Segmenter) stepEye(st *eyeState, eye sample.Eye, visible bool, ts float64) {
	switch {
	case !visible && !st.blinking:
		st.blinking = true
		st.blinkStart = ts
	case visible && st.blinking:
		duration := ts - st.blinkStart
		// Timestamps are float seconds, so an exactly-min-length blink can
		// come out a hair short (0.15-0.10 != 0.05). Keep the bounds
		// inclusive under that representation error.
		const boundsEps = 1e-9
		if duration >= s.minDuration-boundsEps && duration <= s.maxDuration+boundsEps {
			st.intervals = append(st.intervals, Interval{Start: st.blinkStart, End: ts, Eye: eye})
			st.total++
		}
		st.blinking = false
	}
}

// Flush processes any buffered points immediately.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		s.processPendingLocked()
	}
}

// Intervals returns the finalized intervals per eye. If now is non-nil and
// a blink is in progress, a synthetic open-ended interval ending at *now is
// appended for live display; it is not counted in the totals.
func (s *Segmenter) Intervals(now *float64) (left, right []Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		s.processPendingLocked()
		s.cacheValid = false
	}

	if s.cacheValid && time.Since(s.cacheStamp) < s.cacheMaxAge {
		left = s.cacheLeft
		right = s.cacheRight
	} else {
		left = append([]Interval(nil), s.left.intervals...)
		right = append([]Interval(nil), s.right.intervals...)
		s.cacheLeft = left
		s.cacheRight = right
		s.cacheValid = true
		s.cacheStamp = time.Now()
	}

	if now != nil {
		if s.left.blinking {
			left = append(left, Interval{Start: s.left.blinkStart, End: *now, Eye: sample.Left, InProgress: true})
		}
		if s.right.blinking {
			right = append(right, Interval{Start: s.right.blinkStart, End: *now, Eye: sample.Right, InProgress: true})
		}
	}
	return left, right
}

// IntervalsInWindow returns the finalized intervals overlapping
// [startTime, endTime], newest last, at most maxIntervals per eye.
func (s *Segmenter) IntervalsInWindow(startTime, endTime float64, maxIntervals int) (left, right []Interval) {
	all, allRight := s.Intervals(nil)
	left = clipWindow(all, startTime, endTime, maxIntervals)
	right = clipWindow(allRight, startTime, endTime, maxIntervals)
	return left, right
}

func clipWindow(in []Interval, startTime, endTime float64, max int) []Interval {
	var out []Interval
	for _, iv := range in {
		if iv.End < startTime || iv.Start > endTime {
			continue
		}
		out = append(out, iv)
	}
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// Statistics reports per-eye totals and blink rates over the observed span.
func (s *Segmenter) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		TotalLeft:  s.left.total,
		TotalRight: s.right.total,
		DataPoints: s.processed,
	}
	span := s.lastTimestamp - s.firstTimestamp
	if span > 0 {
		st.PerMinuteLeft = float64(s.left.total) / (span / 60)
		st.PerMinuteRight = float64(s.right.total) / (span / 60)
	}
	return st
}

// Reset clears all state for a new session.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.left = eyeState{}
	s.right = eyeState{}
	s.firstTimestamp = 0
	s.lastTimestamp = 0
	s.processed = 0
	s.cacheValid = false
}
