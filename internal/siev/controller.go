// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package siev talks to the SIEV goggle controller (an ESP8266) over a
// line-oriented serial protocol: one command per line, one reply per line,
// plus an unsolicited inertial sentence stream when live mode is on.
package siev

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// DefaultTimeout bounds how long a command waits for its reply.
const DefaultTimeout = 2 * time.Second

// Result is the outcome of one command. A timeout and an unexpected reply
// are both failures; Response carries the diagnostic text either way.
// Commands never panic and never return Go errors to callers.
type Result struct {
	OK       bool   `json:"ok"`
	Response string `json:"response"`
}

// Controller owns the serial connection to the goggles. One command is in
// flight at a time; inertial sentences arriving between replies are routed
// to the Inertial channel. Construct once and share by reference.
type Controller struct {
	port    io.ReadWriteCloser
	timeout time.Duration

	mu sync.Mutex // serializes command/response exchanges

	responses chan string
	inertial  chan InertialReading
	closed    chan struct{}
	closeOnce sync.Once

	version string
}

// Open connects to the goggle controller on the given serial port and
// verifies it answers a PING. On any failure the port is closed and an
// error is returned; the caller decides whether running without hardware
// is acceptable.
func Open(portName string, baudRate int, timeout time.Duration) (*Controller, error) {
	opts := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        uint(baudRate),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("siev: open %s: %w", portName, err)
	}

	c := NewController(port, timeout)
	if res := c.Ping(); !res.OK {
		c.Close()
		return nil, fmt.Errorf("siev: no controller answering on %s: %s", portName, res.Response)
	}
	log.Printf("siev: connected on %s (firmware %s)", portName, c.version)
	return c, nil
}

// NewController wraps an already-open line transport. Tests use this with
// an in-memory pipe.
func NewController(port io.ReadWriteCloser, timeout time.Duration) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Controller{
		port:      port,
		timeout:   timeout,
		responses: make(chan string, 8),
		inertial:  make(chan InertialReading, 64),
		closed:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop splits incoming lines into command replies and inertial
// sentences. It exits when the port errors or is closed.
func (c *Controller) readLoop() {
	reader := bufio.NewReader(c.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			c.closeOnce.Do(func() { close(c.closed) })
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Inertial sentences are NMEA-framed and start with '$'.
		if strings.HasPrefix(line, "$") {
			reading, err := ParseInertialSentence(line)
			if err != nil {
				// noisy line or partial sentence, skip it
				continue
			}
			select {
			case c.inertial <- reading:
			default:
				// consumer is behind; dropping a reading is preferable
				// to stalling command replies
			}
			continue
		}

		select {
		case c.responses <- line:
		default:
			log.Printf("siev: discarding unsolicited reply %q", line)
		}
	}
}

// send writes one command line and waits for the next reply line.
func (c *Controller) send(cmd string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop stale replies from a previously timed-out command.
drain:
	for {
		select {
		case <-c.responses:
		default:
			break drain
		}
	}

	if _, err := c.port.Write([]byte(cmd + "\r\n")); err != nil {
		return Result{Response: fmt.Sprintf("write failed: %v", err)}
	}

	select {
	case resp := <-c.responses:
		return Result{OK: true, Response: resp}
	case <-time.After(c.timeout):
		return Result{Response: fmt.Sprintf("timeout after %s waiting for reply to %s", c.timeout, cmd)}
	case <-c.closed:
		return Result{Response: "connection closed"}
	}
}

// expect runs a command and additionally requires the reply to contain the
// given marker; anything else is an unexpected-response failure.
func (c *Controller) expect(cmd, marker string) Result {
	res := c.send(cmd)
	if !res.OK {
		return res
	}
	if !strings.Contains(res.Response, marker) {
		return Result{Response: fmt.Sprintf("unexpected reply to %s: %q", cmd, res.Response)}
	}
	return res
}

// Ping checks the controller is alive. The firmware answers
// "SIEV_ESP_OK_v<version>".
func (c *Controller) Ping() Result {
	res := c.expect("PING", "SIEV_ESP_OK")
	if res.OK {
		c.version = strings.TrimPrefix(res.Response, "SIEV_ESP_OK_v")
	}
	return res
}

// Version returns the firmware version reported by the last successful Ping.
func (c *Controller) Version() string { return c.version }

// Status asks the controller for its state line.
func (c *Controller) Status() Result { return c.send("STATUS") }

// LEDOn lights the given fixation marker ("left" or "right").
func (c *Controller) LEDOn(side string) Result {
	return c.expect("LED_ON:"+strings.ToUpper(side), "OK")
}

// LEDOff extinguishes the given fixation marker.
func (c *Controller) LEDOff(side string) Result {
	return c.expect("LED_OFF:"+strings.ToUpper(side), "OK")
}

// Pause stops the inertial live stream so calibration traffic is not
// interleaved with sensor sentences.
func (c *Controller) Pause() Result { return c.expect("PAUSE", "OK") }

// Resume restarts whatever the controller was doing before Pause.
func (c *Controller) Resume() Result { return c.expect("RESUME", "OK") }

// InertialLiveOn asks the controller to start streaming inertial sentences.
func (c *Controller) InertialLiveOn() Result {
	return c.expect("IMU_READ_LIVE_ON", "OK")
}

// InertialLiveOff stops the inertial sentence stream.
func (c *Controller) InertialLiveOff() Result {
	return c.expect("IMU_READ_LIVE_OFF", "OK")
}

// Inertial exposes the stream of readings parsed from live sentences.
func (c *Controller) Inertial() <-chan InertialReading { return c.inertial }

// Close shuts the serial port down. Safe to call more than once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.port.Close()
}
