// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package recording

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/relabs-tech/vng_computer/internal/sample"
)

// FormatVersion identifies the on-disk record layout.
const FormatVersion = "1.0"

// columns is the exact CSV column set, in order. Loading rejects any file
// whose header differs.
var columns = []string{
	"timestamp",
	"left_x", "left_y",
	"right_x", "right_y",
	"aux_x", "aux_y",
	"left_detected", "right_detected",
}

// Metadata is the sidecar summary written next to each recording.
type Metadata struct {
	Name               string  `json:"name"`
	StartTime          float64 `json:"start_time"` // unix seconds
	EndTime            float64 `json:"end_time"`
	TotalSamples       int     `json:"total_samples"`
	DurationSeconds    float64 `json:"duration_seconds"`
	AverageRateHz      float64 `json:"average_rate_hz"`
	LeftDetectionRate  float64 `json:"left_detection_rate"`  // percent
	RightDetectionRate float64 `json:"right_detection_rate"` // percent
	Version            string  `json:"version"`
}

func encodeRow(s sample.Sample) []string {
	row := make([]string, 0, len(columns))
	row = append(row, formatFloat(s.Timestamp))
	row = append(row, encodePoint(s.LeftEye)...)
	row = append(row, encodePoint(s.RightEye)...)
	row = append(row, formatFloat(s.Aux.X), formatFloat(s.Aux.Y))
	row = append(row, strconv.FormatBool(s.LeftDetected), strconv.FormatBool(s.RightDetected))
	return row
}

func encodePoint(p *sample.Point) []string {
	if p == nil {
		return []string{"", ""}
	}
	return []string{formatFloat(p.X), formatFloat(p.Y)}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func decodeRow(row []string) (sample.Sample, error) {
	if len(row) != len(columns) {
		return sample.Sample{}, fmt.Errorf("expected %d fields, got %d", len(columns), len(row))
	}
	ts, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("timestamp %q: %w", row[0], err)
	}
	left, err := decodePoint(row[1], row[2])
	if err != nil {
		return sample.Sample{}, fmt.Errorf("left eye: %w", err)
	}
	right, err := decodePoint(row[3], row[4])
	if err != nil {
		return sample.Sample{}, fmt.Errorf("right eye: %w", err)
	}
	auxX, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("aux_x %q: %w", row[5], err)
	}
	auxY, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("aux_y %q: %w", row[6], err)
	}
	leftDet, err := strconv.ParseBool(row[7])
	if err != nil {
		return sample.Sample{}, fmt.Errorf("left_detected %q: %w", row[7], err)
	}
	rightDet, err := strconv.ParseBool(row[8])
	if err != nil {
		return sample.Sample{}, fmt.Errorf("right_detected %q: %w", row[8], err)
	}
	return sample.Sample{
		Timestamp:     ts,
		LeftEye:       left,
		RightEye:      right,
		Aux:           sample.Point{X: auxX, Y: auxY},
		LeftDetected:  leftDet,
		RightDetected: rightDet,
	}, nil
}

func decodePoint(x, y string) (*sample.Point, error) {
	if x == "" && y == "" {
		return nil, nil
	}
	px, err := strconv.ParseFloat(x, 64)
	if err != nil {
		return nil, fmt.Errorf("x %q: %w", x, err)
	}
	py, err := strconv.ParseFloat(y, 64)
	if err != nil {
		return nil, fmt.Errorf("y %q: %w", y, err)
	}
	return &sample.Point{X: px, Y: py}, nil
}

// Load reads a complete recording and its sidecar metadata. The column set
// must match exactly and every row must parse; otherwise an error is
// returned and no data at all, so a truncated or foreign file can never be
// half-installed into a case record.
func Load(csvPath string) ([]sample.Sample, Metadata, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("recording: open %s: %w", csvPath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("recording: read header of %s: %w", csvPath, err)
	}
	if len(header) != len(columns) {
		return nil, Metadata{}, fmt.Errorf("recording: %s: expected %d columns, got %d", csvPath, len(columns), len(header))
	}
	for i, want := range columns {
		if header[i] != want {
			return nil, Metadata{}, fmt.Errorf("recording: %s: column %d is %q, want %q", csvPath, i, header[i], want)
		}
	}

	var samples []sample.Sample
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("recording: %s line %d: %w", csvPath, line+1, err)
		}
		line++
		s, err := decodeRow(row)
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("recording: %s line %d: %w", csvPath, line, err)
		}
		samples = append(samples, s)
	}

	meta, err := loadMetadata(metadataPath(csvPath))
	if err != nil {
		// The sidecar is informative; a recording without one still loads.
		meta = Metadata{TotalSamples: len(samples), Version: FormatVersion}
	}
	return samples, meta, nil
}

func metadataPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, ".csv") + "_meta.json"
}

func loadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("recording: metadata %s: %w", path, err)
	}
	return m, nil
}

func saveMetadata(path string, m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
