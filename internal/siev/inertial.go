// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package siev

import (
	"fmt"

	nmea "github.com/adrianmo/go-nmea"
)

// The goggle firmware frames its inertial stream as proprietary NMEA
// sentences so partial lines and line noise are caught by the checksum:
//
//	$PSIEV,<seq>,<ax>,<ay>,<az>*CS
//
// Accelerations are in g, axes in the goggle frame.
const sentenceType = "SIEV"

// InertialReading is one decoded sample from the live stream.
type InertialReading struct {
	Seq int64   `json:"seq"`
	Ax  float64 `json:"ax"`
	Ay  float64 `json:"ay"`
	Az  float64 `json:"az"`
}

type psiev struct {
	nmea.BaseSentence
	Seq int64
	Ax  float64
	Ay  float64
	Az  float64
}

func init() {
	nmea.MustRegisterParser(sentenceType, func(s nmea.BaseSentence) (nmea.Sentence, error) {
		p := nmea.NewParser(s)
		return psiev{
			BaseSentence: s,
			Seq:          p.Int64(0, "seq"),
			Ax:           p.Float64(1, "ax"),
			Ay:           p.Float64(2, "ay"),
			Az:           p.Float64(3, "az"),
		}, p.Err()
	})
}

// ParseInertialSentence decodes one $PSIEV line, validating the NMEA
// checksum. Sentences of any other type are rejected.
func ParseInertialSentence(line string) (InertialReading, error) {
	s, err := nmea.Parse(line)
	if err != nil {
		return InertialReading{}, fmt.Errorf("siev: inertial sentence: %w", err)
	}
	ps, ok := s.(psiev)
	if !ok {
		return InertialReading{}, fmt.Errorf("siev: unexpected sentence type %q", s.DataType())
	}
	return InertialReading{Seq: ps.Seq, Ax: ps.Ax, Ay: ps.Ay, Az: ps.Az}, nil
}

// FormatInertialSentence renders a reading back to wire form, checksum
// included. The firmware emulator and tests use this.
func FormatInertialSentence(r InertialReading) string {
	body := fmt.Sprintf("PSIEV,%d,%.4f,%.4f,%.4f", r.Seq, r.Ax, r.Ay, r.Az)
	return fmt.Sprintf("$%s*%s", body, nmea.Checksum(body))
}
