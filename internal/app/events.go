// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/vng_computer/internal/config"
	"github.com/relabs-tech/vng_computer/internal/protocol"
)

// ProtocolEvent is the wire form of a fired (or lifecycle) protocol event.
type ProtocolEvent struct {
	Protocol    string  `json:"protocol"`
	Kind        string  `json:"kind"` // started, event, finished
	OffsetSec   float64 `json:"offset_sec,omitempty"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Action      string  `json:"action,omitempty"`
	FinalState  string  `json:"final_state,omitempty"`
}

// ProtocolProgress is published on every scheduler tick.
type ProtocolProgress struct {
	Protocol   string  `json:"protocol"`
	Fraction   float64 `json:"fraction"`
	ElapsedSec float64 `json:"elapsed_sec"`
}

// MQTTListener forwards scheduler callbacks onto the event bus, so the
// display, console and web UI all see the protocol advance.
type MQTTListener struct {
	client mqtt.Client
	cfg    *config.Config

	name string
}

func NewMQTTListener(client mqtt.Client, cfg *config.Config) *MQTTListener {
	return &MQTTListener{client: client, cfg: cfg}
}

func (l *MQTTListener) Started(protocolName string) {
	l.name = protocolName
	l.publishEvent(ProtocolEvent{Protocol: protocolName, Kind: "started"})
}

func (l *MQTTListener) EventFired(ev protocol.Event) {
	l.publishEvent(ProtocolEvent{
		Protocol:    l.name,
		Kind:        "event",
		OffsetSec:   ev.OffsetSec,
		Category:    ev.Category,
		Description: ev.Description,
		Action:      ev.Action,
	})
}

func (l *MQTTListener) Progress(fraction, elapsed float64) {
	payload, err := json.Marshal(ProtocolProgress{
		Protocol:   l.name,
		Fraction:   fraction,
		ElapsedSec: elapsed,
	})
	if err != nil {
		log.Printf("protocol: progress marshal error: %v", err)
		return
	}
	l.client.Publish(l.cfg.TopicProgress, 0, true, payload)
}

func (l *MQTTListener) Finished(name string, final protocol.State) {
	l.publishEvent(ProtocolEvent{Protocol: name, Kind: "finished", FinalState: final.String()})
}

func (l *MQTTListener) publishEvent(ev ProtocolEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("protocol: event marshal error: %v", err)
		return
	}
	if token := l.client.Publish(l.cfg.TopicProtocolEvent, 0, false, payload); token.Wait() && token.Error() != nil {
		log.Printf("MQTT publish error (protocol event): %v", token.Error())
	}
}
