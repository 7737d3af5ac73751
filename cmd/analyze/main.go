// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Offline analysis of a recorded session.
//
// Loads a recording produced by the recorder, reconstructs the blink
// intervals and runs the nystagmus segmenter over each eye's horizontal
// trace, then prints a per-eye report.
//
// Run:
//
//	go run ./cmd/analyze -config vng_config.txt recording.csv
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/relabs-tech/vng_computer/internal/blink"
	"github.com/relabs-tech/vng_computer/internal/config"
	"github.com/relabs-tech/vng_computer/internal/nystagmus"
	"github.com/relabs-tech/vng_computer/internal/recording"
	"github.com/relabs-tech/vng_computer/internal/sample"
)

func main() {
	configPath := flag.String("config", "vng_config.txt", "path to config file")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("usage: analyze [flags] <recording.csv>")
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	samples, meta, err := recording.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to load recording: %v", err)
	}

	fmt.Printf("Session %q: %d samples, %.1fs, %.1f Hz\n",
		meta.Name, meta.TotalSamples, meta.DurationSeconds, meta.AverageRateHz)
	fmt.Printf("Detection: left %.1f%%, right %.1f%%\n\n",
		meta.LeftDetectionRate, meta.RightDetectionRate)

	// Blinks
	blinks := blink.NewSegmenter()
	blinks.SetBounds(cfg.BlinkMinSec, cfg.BlinkMaxSec)
	for _, s := range samples {
		blinks.AddSample(s)
	}
	blinks.Flush()
	stats := blinks.Statistics()
	fmt.Printf("Blinks: left %d (%.1f/min), right %d (%.1f/min)\n\n",
		stats.TotalLeft, stats.PerMinuteLeft, stats.TotalRight, stats.PerMinuteRight)

	// Nystagmus per eye
	segCfg := nystagmus.DefaultConfig(cfg.SampleRateHz)
	if cfg.SaccadeThreshold > 0 {
		segCfg.SaccadeThreshold = cfg.SaccadeThreshold
	}
	if cfg.MinVCLDurationSec > 0 {
		segCfg.MinVCLDuration = cfg.MinVCLDurationSec
	}

	for _, eye := range []sample.Eye{sample.Left, sample.Right} {
		positions := make([]float64, 0, len(samples))
		for _, s := range samples {
			if p := s.Position(eye); p != nil {
				positions = append(positions, p.X)
			}
		}

		result := nystagmus.Segment(segCfg, positions)
		fmt.Printf("%s eye: %d saccades, %d slow phases, mean VCL %.2f deg/s\n",
			eye, len(result.Saccades), len(result.SlowPhases), result.MeanVCL)
		for i, sp := range result.SlowPhases {
			fmt.Printf("  phase %2d: t=[%.2f, %.2f]s  vcl=%7.2f deg/s  amp=%6.2f\n",
				i, float64(sp.Start)/cfg.SampleRateHz, float64(sp.End)/cfg.SampleRateHz,
				sp.Velocity, sp.Amplitude)
		}
	}
}
