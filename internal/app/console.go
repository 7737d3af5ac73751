package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/vng_computer/internal/blink"
	"github.com/relabs-tech/vng_computer/internal/config"
	"github.com/relabs-tech/vng_computer/internal/sample"
)

// printThrottle rate-limits the high-rate gaze lines so the console stays
// readable at full sample rate.
type printThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func (p *printThrottle) ok(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return false
	}
	p.last = now
	return true
}

// RunConsole tails the event bus and prints everything the instrument
// publishes. Handy when bringing a unit up without the web UI.
func RunConsole() error {
	cfg := config.Get()

	interval := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	gate := &printThrottle{interval: interval}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	sampleToken := client.Subscribe(cfg.TopicSamples, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if !gate.ok(time.Now()) {
			return
		}
		var s sample.Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: sample unmarshal error: %v", err)
			return
		}

		left, right := "--", "--"
		if s.LeftEye != nil {
			left = fmt.Sprintf("%7.2f,%7.2f", s.LeftEye.X, s.LeftEye.Y)
		}
		if s.RightEye != nil {
			right = fmt.Sprintf("%7.2f,%7.2f", s.RightEye.X, s.RightEye.Y)
		}
		fmt.Printf("[GAZE]  t=%8.3f  L=%s  R=%s\n", s.Timestamp, left, right)
	})
	sampleToken.Wait()
	if sampleToken.Error() != nil {
		return sampleToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicSamples)

	blinkToken := client.Subscribe(cfg.TopicBlinkStats, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st blink.Stats
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Printf("console: blink stats unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[BLNK]  L=%3d (%5.1f/min)  R=%3d (%5.1f/min)  n=%d\n",
			st.TotalLeft, st.PerMinuteLeft, st.TotalRight, st.PerMinuteRight, st.DataPoints,
		)
	})
	blinkToken.Wait()
	if blinkToken.Error() != nil {
		return blinkToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicBlinkStats)

	stateToken := client.Subscribe(cfg.TopicRecordingState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var rs RecordingState
		if err := json.Unmarshal(msg.Payload(), &rs); err != nil {
			log.Printf("console: recording state unmarshal error: %v", err)
			return
		}

		fmt.Printf("[REC ]  %s  name=%q  samples=%d\n", rs.State, rs.Name, rs.Samples)
	})
	stateToken.Wait()
	if stateToken.Error() != nil {
		return stateToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicRecordingState)

	eventToken := client.Subscribe(cfg.TopicProtocolEvent, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev ProtocolEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("console: protocol event unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[PROT]  %s %s t=%.1fs %s %s\n",
			ev.Protocol, ev.Kind, ev.OffsetSec, ev.Action, ev.Description,
		)
	})
	eventToken.Wait()
	if eventToken.Error() != nil {
		return eventToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicProtocolEvent)

	progressToken := client.Subscribe(cfg.TopicProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p ProtocolProgress
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("console: progress unmarshal error: %v", err)
			return
		}

		fmt.Printf("[PROG]  %s %5.1f%% elapsed=%.1fs\n", p.Protocol, p.Fraction*100, p.ElapsedSec)
	})
	progressToken.Wait()
	if progressToken.Error() != nil {
		return progressToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicProgress)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
