// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/vng_computer/internal/blink"
	"github.com/relabs-tech/vng_computer/internal/calibration"
	"github.com/relabs-tech/vng_computer/internal/config"
	"github.com/relabs-tech/vng_computer/internal/locator"
	"github.com/relabs-tech/vng_computer/internal/orientation"
	"github.com/relabs-tech/vng_computer/internal/recording"
	"github.com/relabs-tech/vng_computer/internal/sample"
	"github.com/relabs-tech/vng_computer/internal/siev"
)

// RecordingState is published (retained) on the recording state topic
// whenever the store starts or stops.
type RecordingState struct {
	State   string  `json:"state"`
	Name    string  `json:"name,omitempty"`
	Samples int     `json:"samples"`
	Elapsed float64 `json:"elapsed_sec"`
}

// RunRecorder is the acquisition pipeline: it pulls frames from the pupil
// locator at the configured sample rate, applies the stored calibration,
// feeds the blink segmenter, appends to the recording store, and publishes
// each sample on MQTT for the other processes.
//
// useMock substitutes a synthetic locator and skips the serial link, so
// the pipeline can run without the instrument attached.
func RunRecorder(useMock bool) error {
	log.Println("starting vng-computer recorder")

	cfg := config.Get()

	var src locator.Source
	var ctrl *siev.Controller
	if useMock {
		log.Println("using mock pupil locator")
		src = locator.NewMockSource(cfg.SampleRateHz)
	} else {
		var err error
		ctrl, err = siev.Open(cfg.SIEVSerialPort, cfg.SIEVBaudRate,
			time.Duration(cfg.SIEVTimeoutSeconds)*time.Second)
		if err != nil {
			log.Fatalf("failed to open SIEV serial link: %v", err)
			return err
		}
		defer ctrl.Close()
		// TODO: v4l2 capture pipeline for the eye cameras
		log.Printf("recorder: camera %s not yet driven, using synthetic locator", cfg.CameraDevice)
		src = locator.NewMockSource(cfg.SampleRateHz)
	}

	var hw calibration.Hardware
	if ctrl != nil {
		hw = ctrl
	}
	// engineMu guards the engine between the acquisition loop and the
	// calibration subscription below.
	var engineMu sync.Mutex
	engine := calibration.New(calibration.DefaultGeometry, hw)
	blinks := blink.NewSegmenter()
	blinks.SetBounds(cfg.BlinkMinSec, cfg.BlinkMaxSec)

	store := recording.NewStore(recording.Options{
		DataDir:        cfg.DataPath,
		FlushInterval:  time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
		FlushThreshold: cfg.FlushThreshold,
		Clock:          clock.New(),
	})

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDRecorder)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("MQTT connect error: %v", token.Error())
		return token.Error()
	}
	defer client.Disconnect(250)

	log.Println("connected to MQTT, starting acquisition loop")

	// Remote start/stop of the recording store.
	token := client.Subscribe(cfg.TopicRecordingCommand, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd struct {
			Action string `json:"action"`
			Name   string `json:"name,omitempty"`
		}
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			log.Printf("recorder: command unmarshal error: %v", err)
			return
		}
		switch cmd.Action {
		case "start":
			if err := store.Start(cmd.Name); err != nil {
				log.Printf("recorder: start error: %v", err)
				return
			}
			log.Printf("recorder: recording started: %s", store.Name())
			publishRecordingState(client, cfg, store, 0)
		case "stop":
			meta, err := store.Stop()
			if err != nil {
				log.Printf("recorder: stop error: %v", err)
			}
			log.Printf("recorder: recording stopped: %s (%d samples)", meta.Name, meta.TotalSamples)
			publishRecordingState(client, cfg, store, 0)
		default:
			log.Printf("recorder: unknown command %q", cmd.Action)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}

	// Adopt calibrations computed by the web process. Retained, so we also
	// get the latest fit right after connecting.
	token = client.Subscribe(cfg.TopicCalibration, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var sum calibration.Summary
		if err := json.Unmarshal(msg.Payload(), &sum); err != nil {
			log.Printf("recorder: calibration unmarshal error: %v", err)
			return
		}
		engineMu.Lock()
		engine.Apply(sum)
		engineMu.Unlock()
		log.Printf("recorder: calibration applied (calibrated=%v)", sum.Calibrated)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}

	// Head pose from the goggle accelerometer. The latest pose is stamped
	// onto every sample (aux channel) and also published for artifact
	// review on the other end of the bus.
	var poseMu sync.RWMutex
	var lastPose orientation.Pose
	if ctrl != nil {
		if res := ctrl.InertialLiveOn(); !res.OK {
			log.Printf("recorder: could not enable inertial stream: %s", res.Response)
		} else {
			go func() {
				for reading := range ctrl.Inertial() {
					pose := orientation.FromReading(reading)
					poseMu.Lock()
					lastPose = pose
					poseMu.Unlock()
					payload, err := json.Marshal(pose)
					if err != nil {
						log.Printf("json marshal error (pose): %v", err)
						continue
					}
					client.Publish(cfg.TopicPose, 0, true, payload)
				}
			}()
		}
	}

	interval := time.Duration(float64(time.Second) / cfg.SampleRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startWall := time.Now()
	var tick int

	for range ticker.C {
		frame, err := src.Next()
		if err != nil {
			log.Printf("locator error: %v", err)
			continue
		}

		poseMu.RLock()
		aux := sample.Point{X: lastPose.Roll, Y: lastPose.Pitch}
		poseMu.RUnlock()

		smp := sample.Sample{
			Timestamp:     frame.Timestamp,
			LeftEye:       frame.LeftEye,
			RightEye:      frame.RightEye,
			Aux:           aux,
			LeftDetected:  frame.LeftEye != nil,
			RightDetected: frame.RightEye != nil,
		}
		engineMu.Lock()
		if engine.IsCalibrated() {
			smp = engine.ConvertSample(smp)
		}
		engineMu.Unlock()

		blinks.AddSample(smp)

		if store.State() == recording.Recording {
			store.Add(smp)
		}

		payload, err := json.Marshal(smp)
		if err != nil {
			log.Printf("json marshal error (sample): %v", err)
		} else {
			if token := client.Publish(cfg.TopicSamples, 0, false, payload); token.Wait() && token.Error() != nil {
				log.Printf("MQTT publish error (samples): %v", token.Error())
				continue
			}
		}

		tick++

		// Blink statistics and recording state once per second.
		if tick%int(cfg.SampleRateHz) == 0 {
			stats := blinks.Statistics()
			if payload, err := json.Marshal(stats); err != nil {
				log.Printf("blink stats marshal error: %v", err)
			} else {
				client.Publish(cfg.TopicBlinkStats, 0, true, payload)
			}
			publishRecordingState(client, cfg, store, time.Since(startWall).Seconds())
		}

		if tick%(int(cfg.SampleRateHz)*10) == 0 {
			stats := blinks.Statistics()
			log.Printf("tick: t=%.2f left=%v right=%v | store=%s n=%d | blinks L=%d R=%d",
				smp.Timestamp, smp.LeftDetected, smp.RightDetected,
				store.State(), store.Count(),
				stats.TotalLeft, stats.TotalRight,
			)
		}
	}
	return nil
}

func publishRecordingState(client mqtt.Client, cfg *config.Config, store *recording.Store, elapsed float64) {
	state := RecordingState{
		State:   store.State().String(),
		Name:    store.Name(),
		Samples: store.Count(),
		Elapsed: elapsed,
	}
	payload, err := json.Marshal(state)
	if err != nil {
		log.Printf("recording state marshal error: %v", err)
		return
	}
	client.Publish(cfg.TopicRecordingState, 0, true, payload)
}
