// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/vng_computer/internal/sample"
)

func testStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	return NewStore(Options{
		DataDir:        t.TempDir(),
		FlushInterval:  100 * time.Millisecond,
		FlushThreshold: 50,
		Clock:          clk,
	})
}

func makeSample(i int, rate float64) sample.Sample {
	x := 320 + float64(i%7)
	return sample.Sample{
		Timestamp:     float64(i) / rate,
		LeftEye:       &sample.Point{X: x, Y: 240},
		RightEye:      &sample.Point{X: x + 90, Y: 240},
		LeftDetected:  true,
		RightDetected: true,
	}
}

func TestNoSampleLoss(t *testing.T) {
	s := testStore(t, clock.New())
	require.NoError(t, s.Start("loss_test"))

	// Far more samples than the flush threshold, so several flush cycles
	// happen mid-session.
	const n = 1234
	for i := 0; i < n; i++ {
		s.Add(makeSample(i, 100))
	}

	meta, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, n, meta.TotalSamples)

	loaded, _, err := Load(filepath.Join(s.dataDir, "loss_test.csv"))
	require.NoError(t, err)
	require.Len(t, loaded, n)

	// Exact order, no duplicates, no gaps.
	for i, smp := range loaded {
		assert.InDelta(t, float64(i)/100, smp.Timestamp, 1e-9, "row %d", i)
	}
}

func TestRoundTrip(t *testing.T) {
	s := testStore(t, clock.New())
	require.NoError(t, s.Start("roundtrip"))

	// A mix of full, partial and empty frames.
	samples := []sample.Sample{
		makeSample(0, 100),
		{Timestamp: 0.01, LeftEye: &sample.Point{X: 1.5, Y: -2.25}, LeftDetected: true},
		{Timestamp: 0.02, RightEye: &sample.Point{X: 400, Y: 300}, RightDetected: true},
		{Timestamp: 0.03},
	}
	for _, smp := range samples {
		s.Add(smp)
	}
	_, err := s.Stop()
	require.NoError(t, err)

	loaded, meta, err := Load(filepath.Join(s.dataDir, "roundtrip.csv"))
	require.NoError(t, err)
	assert.Equal(t, samples, loaded)
	assert.Equal(t, "roundtrip", meta.Name)
	assert.Equal(t, FormatVersion, meta.Version)
}

func TestMetadataRates(t *testing.T) {
	s := testStore(t, clock.New())
	require.NoError(t, s.Start("rates"))

	for i := 0; i < 100; i++ {
		smp := makeSample(i, 100)
		if i%2 == 0 {
			smp.LeftEye = nil
			smp.LeftDetected = false
		}
		s.Add(smp)
	}
	meta, err := s.Stop()
	require.NoError(t, err)

	assert.Equal(t, 100, meta.TotalSamples)
	assert.InDelta(t, 50, meta.LeftDetectionRate, 1e-9)
	assert.InDelta(t, 100, meta.RightDetectionRate, 1e-9)
}

func TestIntervalFlush(t *testing.T) {
	mock := clock.NewMock()
	s := testStore(t, mock)
	require.NoError(t, s.Start("interval"))

	// Below the threshold, so only the timer can flush this.
	for i := 0; i < 10; i++ {
		s.Add(makeSample(i, 100))
	}

	path := filepath.Join(s.dataDir, "interval.csv")
	sizeBefore := fileSize(t, path)

	// Keep advancing inside the poll: the flush goroutine creates its
	// ticker asynchronously, so a single early Add can land before the
	// ticker exists and never fire.
	assert.Eventually(t, func() bool {
		mock.Add(150 * time.Millisecond)
		return fileSize(t, path) > sizeBefore
	}, 2*time.Second, 10*time.Millisecond, "interval flush should hit the disk")

	_, err := s.Stop()
	require.NoError(t, err)
}

func TestThresholdFlush(t *testing.T) {
	// Mock clock: the interval timer never fires, only the threshold kick.
	mock := clock.NewMock()
	s := testStore(t, mock)
	require.NoError(t, s.Start("threshold"))

	for i := 0; i < 60; i++ { // threshold is 50
		s.Add(makeSample(i, 100))
	}

	path := filepath.Join(s.dataDir, "threshold.csv")
	assert.Eventually(t, func() bool {
		loaded, _, err := Load(path)
		return err == nil && len(loaded) >= 50
	}, 2*time.Second, 10*time.Millisecond, "threshold kick should flush without the timer")

	_, err := s.Stop()
	require.NoError(t, err)
}

func TestAddWhileIdleIsNoop(t *testing.T) {
	s := testStore(t, clock.New())
	s.Add(makeSample(0, 100))
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, Idle, s.State())
}

func TestStopWithoutStart(t *testing.T) {
	s := testStore(t, clock.New())
	_, err := s.Stop()
	assert.Error(t, err)
}

func TestImplicitStopOnRestart(t *testing.T) {
	s := testStore(t, clock.New())
	require.NoError(t, s.Start("first"))
	for i := 0; i < 20; i++ {
		s.Add(makeSample(i, 100))
	}

	// Starting again closes the first session and persists it.
	require.NoError(t, s.Start("second"))
	assert.Equal(t, "second", s.Name())
	assert.Equal(t, 0, s.Count())

	loaded, _, err := Load(filepath.Join(s.dataDir, "first.csv"))
	require.NoError(t, err)
	assert.Len(t, loaded, 20)

	_, err = s.Stop()
	require.NoError(t, err)
}

func TestDefaultSessionName(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC))
	s := testStore(t, mock)

	require.NoError(t, s.Start(""))
	assert.Equal(t, "vng_recording_20260314_150926", s.Name())
	_, err := s.Stop()
	require.NoError(t, err)
}

func TestRecentAndRange(t *testing.T) {
	s := testStore(t, clock.New())
	require.NoError(t, s.Start("windows"))

	for i := 0; i < 1000; i++ { // 10 s at 100 Hz
		s.Add(makeSample(i, 100))
	}

	recent := s.Recent(2.0)
	require.NotEmpty(t, recent)
	assert.GreaterOrEqual(t, recent[0].Timestamp, 9.99-2.0-1e-9)
	assert.InDelta(t, 9.99, recent[len(recent)-1].Timestamp, 1e-9)

	ranged := s.Range(1.0, 2.0)
	require.NotEmpty(t, ranged)
	assert.InDelta(t, 1.0, ranged[0].Timestamp, 1e-9)
	assert.InDelta(t, 2.0, ranged[len(ranged)-1].Timestamp, 1e-9)

	_, err := s.Stop()
	require.NoError(t, err)
}

func TestMetadataSidecarWritten(t *testing.T) {
	s := testStore(t, clock.New())
	require.NoError(t, s.Start("sidecar"))
	s.Add(makeSample(0, 100))
	meta, err := s.Stop()
	require.NoError(t, err)

	sidecar, err := loadMetadata(filepath.Join(s.dataDir, "sidecar_meta.json"))
	require.NoError(t, err)
	assert.Equal(t, meta, sidecar)
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
