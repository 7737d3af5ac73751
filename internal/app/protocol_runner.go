package app

import (
	"encoding/json"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/vng_computer/internal/config"
	"github.com/relabs-tech/vng_computer/internal/protocol"
	"github.com/relabs-tech/vng_computer/internal/siev"
)

// runListener wraps the MQTT listener and signals run completion.
type runListener struct {
	*MQTTListener
	done chan protocol.State
}

func (l *runListener) Finished(name string, final protocol.State) {
	l.MQTTListener.Finished(name, final)
	l.done <- final
}

// RunProtocol executes one protocol file end to end: LED cues go straight
// to the goggles over serial, recording start/stop and annotations go out
// on MQTT, and the run finishes when the protocol's window closes.
func RunProtocol(path string, allowWithoutHardware bool) error {
	log.Printf("starting vng-computer protocol runner: %s", path)

	cfg := config.Get()

	proto, err := protocol.LoadFile(path)
	if err != nil {
		log.Fatalf("failed to load protocol: %v", err)
		return err
	}
	log.Printf("loaded protocol %q: %d events over %.0fs", proto.Name, len(proto.Events), proto.MaxDurationSec)

	var hw protocol.Hardware
	if !allowWithoutHardware || proto.RequiresHardware() {
		ctrl, err := siev.Open(cfg.SIEVSerialPort, cfg.SIEVBaudRate,
			time.Duration(cfg.SIEVTimeoutSeconds)*time.Second)
		if err != nil {
			if proto.RequiresHardware() && !allowWithoutHardware {
				log.Fatalf("failed to open SIEV serial link: %v", err)
				return err
			}
			log.Printf("WARNING: no SIEV hardware (%v), running without LED cues", err)
		} else {
			defer ctrl.Close()
			hw = ctrl
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDProtocol)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("MQTT connect error: %v", token.Error())
		return token.Error()
	}
	defer client.Disconnect(250)

	sched := protocol.NewScheduler(hw, clock.New())

	listener := &runListener{
		MQTTListener: NewMQTTListener(client, cfg),
		done:         make(chan protocol.State, 1),
	}
	sched.SetListener(listener)

	publishCommand := func(action, name string) error {
		payload, err := json.Marshal(struct {
			Action string `json:"action"`
			Name   string `json:"name,omitempty"`
		}{Action: action, Name: name})
		if err != nil {
			return err
		}
		token := client.Publish(cfg.TopicRecordingCommand, 0, false, payload)
		token.Wait()
		return token.Error()
	}

	sched.RegisterAction("start_recording", func(e protocol.Event) error {
		return publishCommand("start", e.StringParam("name", proto.Name))
	})
	sched.RegisterAction("stop_recording", func(e protocol.Event) error {
		return publishCommand("stop", "")
	})
	// Annotations carry no side effect here; the bus event is the point.
	sched.RegisterAction("annotation", func(e protocol.Event) error { return nil })

	if err := sched.Start(proto, protocol.StartOptions{AllowWithoutHardware: allowWithoutHardware}); err != nil {
		log.Fatalf("failed to start protocol: %v", err)
		return err
	}

	final := <-listener.done
	log.Printf("protocol %q finished: %s", proto.Name, final)
	return nil
}
