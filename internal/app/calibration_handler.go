// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/vng_computer/internal/calibration"
	"github.com/relabs-tech/vng_computer/internal/config"
	"github.com/relabs-tech/vng_computer/internal/sample"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// The calibration session needs live gaze frames and, when the goggles are
// attached, LED control. Both are wired in by the process hosting the
// handler before it serves requests.
var (
	calibMu      sync.RWMutex
	calibFeed    func() (sample.Sample, bool)
	calibHW      calibration.Hardware
	calibPublish func(calibration.Summary)
)

// SetCalibrationFeed wires the source of live gaze samples used during
// marker capture.
func SetCalibrationFeed(feed func() (sample.Sample, bool)) {
	calibMu.Lock()
	calibFeed = feed
	calibMu.Unlock()
}

// SetCalibrationHardware wires LED control. May stay unset; the session
// then guides the operator without driving the markers.
func SetCalibrationHardware(hw calibration.Hardware) {
	calibMu.Lock()
	calibHW = hw
	calibMu.Unlock()
}

// SetCalibrationPublisher wires the sink that receives a successful fit,
// normally an MQTT publish so the recorder picks it up.
func SetCalibrationPublisher(publish func(calibration.Summary)) {
	calibMu.Lock()
	calibPublish = publish
	calibMu.Unlock()
}

// calibrationSession drives one guided two-point calibration over a
// websocket: left marker dwell, right marker dwell, then the per-eye fit.
type calibrationSession struct {
	conn   *websocket.Conn
	engine *calibration.Engine

	mu           sync.Mutex
	currentPhase string
	captured     map[calibration.PointID]int
}

// WebSocket message types
type wsMessage struct {
	Action string `json:"action"` // init, next, cancel
}

type wsResponse struct {
	Type     string         `json:"type"` // phase, step, progress, stats, complete, error
	Phase    string         `json:"phase,omitempty"`
	Step     string         `json:"step,omitempty"`
	Progress float64        `json:"progress,omitempty"`
	Stats    map[string]any `json:"stats,omitempty"`
	Results  any            `json:"results,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// HandleCalibrationWS handles the WebSocket connection for calibration.
func HandleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	calibMu.RLock()
	feed := calibFeed
	hw := calibHW
	calibMu.RUnlock()

	if feed == nil {
		log.Printf("calibration: no sample feed wired, rejecting session")
		conn.WriteJSON(wsResponse{Type: "error", Message: "no live sample feed"})
		return
	}

	session := &calibrationSession{
		conn:     conn,
		engine:   calibration.New(calibration.DefaultGeometry, hw),
		captured: map[calibration.PointID]int{},
	}

	// Main message loop
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("calibration: websocket read error: %v", err)
			break
		}

		switch msg.Action {
		case "init":
			session.engine.Start()
			session.mu.Lock()
			session.currentPhase = ""
			session.captured = map[calibration.PointID]int{}
			session.mu.Unlock()
			log.Printf("calibration: session initialized (%s)", r.RemoteAddr)

		case "next":
			session.mu.Lock()
			err := session.runNextStep(feed)
			session.mu.Unlock()
			if err != nil {
				session.sendError(err.Error())
			}

		case "cancel":
			log.Printf("calibration: cancelled by user")
			return
		}
	}
}

func (s *calibrationSession) runNextStep(feed func() (sample.Sample, bool)) error {
	// State machine over the two markers plus the final fit.
	switch s.currentPhase {
	case "":
		s.currentPhase = "left"
		return s.runMarkerStep(calibration.PointLeft, feed)

	case "left":
		s.currentPhase = "right"
		return s.runMarkerStep(calibration.PointRight, feed)

	case "right":
		s.currentPhase = "done"
		return s.complete()
	}
	return nil
}

func (s *calibrationSession) runMarkerStep(point calibration.PointID, feed func() (sample.Sample, bool)) error {
	s.sendPhase(string(point))
	s.sendStep("fixate-"+string(point), string(point))

	s.engine.BeginCapture(point)

	cfg := config.Get()
	dwell := time.Duration(cfg.CalibrationDwellMs) * time.Millisecond
	if dwell <= 0 {
		dwell = 2 * time.Second
	}
	interval := time.Duration(float64(time.Second) / cfg.SampleRateHz)
	steps := int(dwell / interval)
	if steps < 1 {
		steps = 1
	}

	var leftXs []float64
	for i := 0; i < steps; i++ {
		time.Sleep(interval)

		smp, ok := feed()
		if !ok {
			continue
		}
		for _, eye := range []sample.Eye{sample.Left, sample.Right} {
			if p := smp.Position(eye); p != nil {
				s.engine.Capture(point, eye, *p)
				s.captured[point]++
				if eye == sample.Left {
					leftXs = append(leftXs, p.X)
				}
			}
		}
		s.sendProgress(float64(i+1) / float64(steps) * 100)
	}

	s.engine.FinishReference(point)

	s.sendStats(map[string]any{
		"marker":  string(point),
		"samples": s.captured[point],
		"scatter": scatter(leftXs),
	})
	s.sendActionReady()
	return nil
}

func (s *calibrationSession) complete() error {
	if err := s.engine.Compute(); err != nil {
		return err
	}
	summary := s.engine.Summary()

	// Save results next to the recordings.
	cfg := config.Get()
	filename := fmt.Sprintf("vng_calibration_%d.json", time.Now().Unix())
	path := filepath.Join(cfg.DataPath, filename)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	log.Printf("calibration: saved results to %s", path)

	calibMu.RLock()
	publish := calibPublish
	calibMu.RUnlock()
	if publish != nil {
		publish(summary)
	}

	s.conn.WriteJSON(wsResponse{
		Type:    "complete",
		Results: map[string]any{"filename": filename, "summary": summary},
	})
	return nil
}

func (s *calibrationSession) sendPhase(phase string) {
	s.conn.WriteJSON(wsResponse{Type: "phase", Phase: phase})
}

func (s *calibrationSession) sendStep(step, phase string) {
	s.conn.WriteJSON(wsResponse{Type: "step", Step: step, Phase: phase})
}

func (s *calibrationSession) sendProgress(progress float64) {
	s.conn.WriteJSON(wsResponse{Type: "progress", Progress: progress})
}

func (s *calibrationSession) sendStats(stats map[string]any) {
	s.conn.WriteJSON(wsResponse{Type: "stats", Stats: stats})
}

func (s *calibrationSession) sendActionReady() {
	s.conn.WriteJSON(wsResponse{Type: "action", Message: "ready"})
}

func (s *calibrationSession) sendError(message string) {
	s.conn.WriteJSON(wsResponse{Type: "error", Message: message})
}

// scatter is the standard deviation of the captured horizontal positions,
// a quick fixation-quality indicator for the operator.
func scatter(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}
