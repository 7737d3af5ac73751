// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package recording keeps every sample of a session twice: an in-memory
// log for bounded live reads and an append-only CSV that a background
// loop flushes to disk. The two are updated under one lock so no reader
// ever sees a sample in one and not the other.
package recording

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/vng_computer/internal/sample"
)

// State is the store lifecycle.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

const (
	// DefaultFlushInterval is how often the background loop drains the
	// pending buffer even when it is nearly empty.
	DefaultFlushInterval = 2 * time.Second
	// DefaultFlushThreshold wakes the loop early once this many samples
	// are pending.
	DefaultFlushThreshold = 500

	// stopWait bounds how long Stop waits for the flush loop to
	// acknowledge before forcing ahead with the final flush.
	stopWait = 5 * time.Second
)

// Options configures a Store. Zero values select the defaults.
type Options struct {
	DataDir        string
	FlushInterval  time.Duration
	FlushThreshold int
	Clock          clock.Clock // injectable for tests
}

// Store is the dual-rate recording store. Add is cheap and lossless; disk
// I/O happens only on the flush loop. Construct with NewStore.
type Store struct {
	dataDir        string
	flushInterval  time.Duration
	flushThreshold int
	clk            clock.Clock

	mu      sync.Mutex // guards everything below except the file itself
	state   State
	name    string
	start   time.Time
	dataLog []sample.Sample
	pending []sample.Sample

	file   *os.File
	writer *csv.Writer

	wake      chan struct{}
	stopFlush chan struct{}
	flushDone chan struct{}
}

// NewStore creates an idle store writing under opts.DataDir.
func NewStore(opts Options) *Store {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = DefaultFlushThreshold
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.DataDir == "" {
		opts.DataDir = "."
	}
	return &Store{
		dataDir:        opts.DataDir,
		flushInterval:  opts.FlushInterval,
		flushThreshold: opts.FlushThreshold,
		clk:            opts.Clock,
	}
}

// Start opens a new session. An empty name gets a timestamped one.
// Starting while already recording stops the current session first.
func (s *Store) Start(name string) error {
	s.mu.Lock()
	running := s.state == Recording
	s.mu.Unlock()
	if running {
		log.Printf("recording: start while recording, stopping %q first", s.name)
		if _, err := s.Stop(); err != nil {
			log.Printf("recording: implicit stop: %v", err)
		}
	}

	if name == "" {
		name = "vng_recording_" + s.clk.Now().Format("20060102_150405")
	}

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("recording: create data dir: %w", err)
	}
	path := filepath.Join(s.dataDir, name+".csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recording: create %s: %w", path, err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(columns); err != nil {
		file.Close()
		return fmt.Errorf("recording: write header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("recording: write header: %w", err)
	}

	s.mu.Lock()
	s.state = Recording
	s.name = name
	s.start = s.clk.Now()
	s.dataLog = nil
	s.pending = nil
	s.file = file
	s.writer = writer
	s.wake = make(chan struct{}, 1)
	s.stopFlush = make(chan struct{})
	s.flushDone = make(chan struct{})
	s.mu.Unlock()

	go s.flushLoop(s.wake, s.stopFlush, s.flushDone)

	log.Printf("recording: session %q started", name)
	return nil
}

// Add appends one sample to the session. A no-op when not recording. Both
// the in-memory log and the pending buffer are updated under the lock so
// the durable and live views can never diverge by more than a flush.
func (s *Store) Add(smp sample.Sample) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return
	}
	s.dataLog = append(s.dataLog, smp)
	s.pending = append(s.pending, smp)
	kick := len(s.pending) >= s.flushThreshold
	wake := s.wake
	s.mu.Unlock()

	if kick {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// flushLoop drains the pending buffer every interval, or earlier when the
// threshold kick arrives. It never exits on a write failure.
func (s *Store) flushLoop(wake, stop chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := s.clk.Ticker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-wake:
		case <-stop:
			return
		}
		if err := s.flushOnce(); err != nil {
			// Samples stay in the pending buffer; next tick retries.
			log.Printf("recording: flush failed, will retry: %v", err)
		}
	}
}

// flushOnce swaps the pending buffer out under the lock and appends it to
// the CSV outside the lock. On failure the batch is put back at the front
// of the buffer, preserving append order.
func (s *Store) flushOnce() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	writer := s.writer
	s.mu.Unlock()

	if len(batch) == 0 || writer == nil {
		return nil
	}

	var writeErr error
	for _, smp := range batch {
		if err := writer.Write(encodeRow(smp)); err != nil {
			writeErr = err
			break
		}
	}
	if writeErr == nil {
		writer.Flush()
		writeErr = writer.Error()
	}

	if writeErr != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return writeErr
	}
	return nil
}

// Stop ends the session: the flush loop is signalled and awaited (bounded),
// one final synchronous flush drains whatever is left, and the summary
// sidecar is written. A failed final flush is returned as a session-save
// error; mid-session flush failures never surface here unless samples are
// still stuck at the very end.
func (s *Store) Stop() (Metadata, error) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return Metadata{}, fmt.Errorf("recording: not recording")
	}
	s.state = Idle
	stop := s.stopFlush
	done := s.flushDone
	s.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(stopWait):
		log.Printf("recording: flush loop did not stop in %s, forcing final flush", stopWait)
	}

	flushErr := s.flushOnce()

	s.mu.Lock()
	name := s.name
	meta := Metadata{
		Name:         name,
		StartTime:    float64(s.start.UnixNano()) / 1e9,
		EndTime:      float64(s.clk.Now().UnixNano()) / 1e9,
		TotalSamples: len(s.dataLog),
		Version:      FormatVersion,
	}
	meta.DurationSeconds = meta.EndTime - meta.StartTime
	if meta.DurationSeconds > 0 {
		meta.AverageRateHz = float64(meta.TotalSamples) / meta.DurationSeconds
	}
	var leftDet, rightDet int
	for _, smp := range s.dataLog {
		if smp.LeftDetected {
			leftDet++
		}
		if smp.RightDetected {
			rightDet++
		}
	}
	if meta.TotalSamples > 0 {
		meta.LeftDetectionRate = float64(leftDet) / float64(meta.TotalSamples) * 100
		meta.RightDetectionRate = float64(rightDet) / float64(meta.TotalSamples) * 100
	}
	file := s.file
	s.file = nil
	s.writer = nil
	s.mu.Unlock()

	if file != nil {
		if err := file.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}

	if flushErr != nil {
		return meta, fmt.Errorf("recording: session %q not fully saved: %w", name, flushErr)
	}

	metaPath := filepath.Join(s.dataDir, name+"_meta.json")
	if err := saveMetadata(metaPath, meta); err != nil {
		return meta, fmt.Errorf("recording: session %q metadata: %w", name, err)
	}

	log.Printf("recording: session %q stopped, %d samples", name, meta.TotalSamples)
	return meta, nil
}

// Recent returns a copy of the samples from the last given seconds,
// measured back from the newest sample.
func (s *Store) Recent(seconds float64) []sample.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dataLog) == 0 {
		return nil
	}
	cutoff := s.dataLog[len(s.dataLog)-1].Timestamp - seconds
	// Sessions are bounded, a linear scan from the back is fine.
	i := len(s.dataLog)
	for i > 0 && s.dataLog[i-1].Timestamp >= cutoff {
		i--
	}
	return append([]sample.Sample(nil), s.dataLog[i:]...)
}

// Range returns a copy of the samples with t0 <= timestamp <= t1.
func (s *Store) Range(t0, t1 float64) []sample.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sample.Sample
	for _, smp := range s.dataLog {
		if smp.Timestamp >= t0 && smp.Timestamp <= t1 {
			out = append(out, smp)
		}
	}
	return out
}

// State reports the current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the active (or last) session name.
func (s *Store) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Count returns how many samples the session has accepted so far.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dataLog)
}
