package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/vng_computer/internal/blink"
	"github.com/relabs-tech/vng_computer/internal/calibration"
	"github.com/relabs-tech/vng_computer/internal/config"
	"github.com/relabs-tech/vng_computer/internal/nystagmus"
	"github.com/relabs-tech/vng_computer/internal/sample"
	"github.com/relabs-tech/vng_computer/internal/siev"
)

// recentBuffer keeps the most recent samples seen on the bus so the web
// process can serve short windows without touching the recorder's store.
type recentBuffer struct {
	mu      sync.RWMutex
	samples []sample.Sample
	max     int
}

func (b *recentBuffer) add(s sample.Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, s)
	if len(b.samples) > b.max {
		b.samples = b.samples[len(b.samples)-b.max:]
	}
	b.mu.Unlock()
}

func (b *recentBuffer) window(seconds float64) []sample.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.samples) == 0 {
		return nil
	}
	cutoff := b.samples[len(b.samples)-1].Timestamp - seconds
	i := len(b.samples)
	for i > 0 && b.samples[i-1].Timestamp >= cutoff {
		i--
	}
	out := make([]sample.Sample, len(b.samples)-i)
	copy(out, b.samples[i:])
	return out
}

// RunWeb serves the operator UI: live sample feed over a websocket, recent
// windows and on-demand nystagmus analysis over JSON, and recording
// start/stop relayed to the recorder via MQTT.
//
// withHardware opens the SIEV serial link so calibration sessions can drive
// the marker LEDs. Only one process may own the link; leave this off when
// the recorder has it.
func RunWeb(withHardware bool) error {
	cfg := config.Get()

	if withHardware {
		ctrl, err := siev.Open(cfg.SIEVSerialPort, cfg.SIEVBaudRate,
			time.Duration(cfg.SIEVTimeoutSeconds)*time.Second)
		if err != nil {
			log.Printf("web: WARNING: no SIEV hardware (%v), calibration runs without LED cues", err)
		} else {
			defer ctrl.Close()
			SetCalibrationHardware(ctrl)
		}
	}

	recent := &recentBuffer{max: int(cfg.SampleRateHz * 120)}

	var (
		mu         sync.RWMutex
		lastSample sample.Sample
		haveSample bool
		lastStats  blink.Stats
		haveStats  bool
		lastState  RecordingState
		haveState  bool
	)

	// Live websocket fan-out.
	var (
		connMu sync.Mutex
		conns  = map[*websocket.Conn]bool{}
	)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicSamples, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s sample.Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("web: sample unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastSample = s
		haveSample = true
		mu.Unlock()
		recent.add(s)

		connMu.Lock()
		for c := range conns {
			if err := c.WriteMessage(websocket.TextMessage, msg.Payload()); err != nil {
				c.Close()
				delete(conns, c)
			}
		}
		connMu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicSamples)

	token = client.Subscribe(cfg.TopicBlinkStats, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st blink.Stats
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Printf("web: blink stats unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastStats = st
		haveStats = true
		mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}

	token = client.Subscribe(cfg.TopicRecordingState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var rs RecordingState
		if err := json.Unmarshal(msg.Payload(), &rs); err != nil {
			log.Printf("web: recording state unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastState = rs
		haveState = true
		mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}

	SetCalibrationFeed(func() (sample.Sample, bool) {
		mu.RLock()
		defer mu.RUnlock()
		return lastSample, haveSample
	})
	SetCalibrationPublisher(func(sum calibration.Summary) {
		payload, err := json.Marshal(sum)
		if err != nil {
			log.Printf("web: calibration marshal error: %v", err)
			return
		}
		// Retained so a recorder restart picks the fit back up.
		client.Publish(cfg.TopicCalibration, 0, true, payload)
	})

	http.HandleFunc("/api/sample", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if !haveSample {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastSample); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/api/recent", func(w http.ResponseWriter, r *http.Request) {
		seconds := 10.0
		if v := r.URL.Query().Get("seconds"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid seconds", http.StatusBadRequest)
				return
			}
			seconds = parsed
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(recent.window(seconds)); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/api/blinks", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if !haveStats {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastStats); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/api/recording", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			mu.RLock()
			defer mu.RUnlock()
			if !haveState {
				http.Error(w, "no data yet", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(lastState); err != nil {
				log.Printf("web: json encode error: %v", err)
			}
		case http.MethodPost:
			var cmd struct {
				Action string `json:"action"`
				Name   string `json:"name,omitempty"`
			}
			if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			if cmd.Action != "start" && cmd.Action != "stop" {
				http.Error(w, "action must be start or stop", http.StatusBadRequest)
				return
			}
			payload, _ := json.Marshal(cmd)
			if t := client.Publish(cfg.TopicRecordingCommand, 0, false, payload); t.Wait() && t.Error() != nil {
				http.Error(w, t.Error().Error(), http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Run the nystagmus segmenter over a recent window of one eye's
	// horizontal trace.
	http.HandleFunc("/api/analysis", func(w http.ResponseWriter, r *http.Request) {
		seconds := 10.0
		if v := r.URL.Query().Get("seconds"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid seconds", http.StatusBadRequest)
				return
			}
			seconds = parsed
		}
		eye := sample.Left
		if v := r.URL.Query().Get("eye"); v == "right" {
			eye = sample.Right
		}

		window := recent.window(seconds)
		positions := make([]float64, 0, len(window))
		for _, s := range window {
			if p := s.Position(eye); p != nil {
				positions = append(positions, p.X)
			}
		}

		segCfg := nystagmus.DefaultConfig(cfg.SampleRateHz)
		if cfg.SaccadeThreshold > 0 {
			segCfg.SaccadeThreshold = cfg.SaccadeThreshold
		}
		if cfg.MinVCLDurationSec > 0 {
			segCfg.MinVCLDuration = cfg.MinVCLDurationSec
		}
		result := nystagmus.Segment(segCfg, positions)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/ws/live", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		connMu.Lock()
		conns[conn] = true
		connMu.Unlock()
		log.Printf("web: live client connected (%s)", r.RemoteAddr)
	})

	http.HandleFunc("/ws/calibration", HandleCalibrationWS)

	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
