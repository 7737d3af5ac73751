// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package protocol runs declarative vestibular test timelines: a sorted
// list of offset-stamped events dispatched against a reference clock, with
// goggle hardware commands fired along the way.
package protocol

import (
	"encoding/json"
	"fmt"
	"os"
)

// Event is one timed action in a protocol. Offsets are relative to the
// start of the run.
type Event struct {
	OffsetSec   float64        `json:"time"`
	Category    string         `json:"type"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
}

// StringParam returns a string parameter, or def when absent or not a
// string.
func (e Event) StringParam(key, def string) string {
	if v, ok := e.Params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Protocol is a declarative test timeline. Business rules (which actions a
// caloric test may contain, stimulus temperatures, and so on) belong to
// the protocol editor; here only the structure is checked.
type Protocol struct {
	Name           string  `json:"name"`
	MaxDurationSec float64 `json:"duration_max"`
	Events         []Event `json:"events"`
}

// Validate performs structural validation only.
func (p *Protocol) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("protocol: name is required")
	}
	if p.MaxDurationSec <= 0 {
		return fmt.Errorf("protocol %q: duration_max must be positive, got %g", p.Name, p.MaxDurationSec)
	}
	for i, e := range p.Events {
		if e.OffsetSec < 0 {
			return fmt.Errorf("protocol %q: event %d has negative offset %g", p.Name, i, e.OffsetSec)
		}
		if e.Action == "" {
			return fmt.Errorf("protocol %q: event %d has no action", p.Name, i)
		}
	}
	return nil
}

// RequiresHardware reports whether any event drives the goggle controller.
func (p *Protocol) RequiresHardware() bool {
	for _, e := range p.Events {
		if e.Action == ActionLEDOn || e.Action == ActionLEDOff {
			return true
		}
	}
	return false
}

// LoadFile reads and validates a protocol description from JSON.
func LoadFile(path string) (*Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("protocol: read %s: %w", path, err)
	}
	var p Protocol
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("protocol: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
