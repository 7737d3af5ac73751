// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/vng_computer/internal/siev"
)

// Built-in hardware actions. Anything else is looked up in the registered
// action table.
const (
	ActionLEDOn  = "led_on"
	ActionLEDOff = "led_off"
)

// State is the scheduler lifecycle.
type State int

const (
	Idle State = iota
	Running
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// DefaultTick is the event poll interval. Fixed-interval polling is
// deliberate: the clinical tolerance is ±100 ms, which a ticker meets
// without a deadline-ordered timer queue.
const DefaultTick = 100 * time.Millisecond

// Hardware is the subset of the goggle controller the scheduler drives.
// Command failures are logged and never abort the protocol.
type Hardware interface {
	LEDOn(side string) siev.Result
	LEDOff(side string) siev.Result
}

// ActionFunc handles a measurement/UI event synchronously. A returned
// error is logged; it does not stop the run.
type ActionFunc func(Event) error

// Listener observes a run. All methods are called from the scheduler's
// tick goroutine. A nil listener is fine.
type Listener interface {
	Started(protocolName string)
	EventFired(e Event)
	Progress(fraction, elapsedSec float64)
	Finished(protocolName string, final State)
}

// StartOptions carries the caller's policy decisions for one run.
type StartOptions struct {
	// AllowWithoutHardware lets a protocol that names hardware actions run
	// with no controller attached. The scheduler never decides this on its
	// own; the operator has to confirm it.
	AllowWithoutHardware bool
}

type runtimeEvent struct {
	Event
	executed bool
}

// Scheduler executes one protocol at a time against a reference clock.
type Scheduler struct {
	clk  clock.Clock
	tick time.Duration
	hw   Hardware // nil when running without goggles

	mu       sync.Mutex
	state    State
	proto    *Protocol
	events   []*runtimeEvent
	startAt  time.Time
	actions  map[string]ActionFunc
	listener Listener
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler returns an idle scheduler. hw may be nil, clk may be nil
// for the wall clock.
func NewScheduler(hw Hardware, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clk:     clk,
		tick:    DefaultTick,
		hw:      hw,
		actions: map[string]ActionFunc{},
	}
}

// RegisterAction binds a measurement/UI action name to its handler.
func (s *Scheduler) RegisterAction(name string, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[name] = fn
}

// SetListener installs the run observer.
func (s *Scheduler) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Start begins executing p. It rejects a structurally invalid protocol, a
// second concurrent run, and a hardware-dependent protocol with no
// controller unless the caller explicitly allowed that.
func (s *Scheduler) Start(p *Protocol, opts StartOptions) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return fmt.Errorf("protocol: %q already running", s.proto.Name)
	}
	if p.RequiresHardware() && s.hw == nil && !opts.AllowWithoutHardware {
		return fmt.Errorf("protocol: %q requires goggle hardware and none is connected", p.Name)
	}

	events := make([]*runtimeEvent, len(p.Events))
	for i, e := range p.Events {
		events[i] = &runtimeEvent{Event: e}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OffsetSec < events[j].OffsetSec
	})

	s.state = Running
	s.proto = p
	s.events = events
	s.startAt = s.clk.Now()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	log.Printf("protocol: starting %q, %d events, max %gs", p.Name, len(events), p.MaxDurationSec)
	if s.listener != nil {
		s.listener.Started(p.Name)
	}

	go s.run(s.stop, s.done)
	return nil
}

// run is the tick loop. It owns s.events exclusively until it exits.
func (s *Scheduler) run(stop, done chan struct{}) {
	defer close(done)
	ticker := s.clk.Ticker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.state != Running {
			s.mu.Unlock()
			return
		}
		elapsed := s.clk.Now().Sub(s.startAt).Seconds()
		maxDur := s.proto.MaxDurationSec
		var due []*runtimeEvent
		for _, e := range s.events {
			if !e.executed && e.OffsetSec <= elapsed {
				e.executed = true
				due = append(due, e)
			}
		}
		listener := s.listener
		finished := elapsed >= maxDur
		if finished {
			s.state = Completed
		}
		name := s.proto.Name
		s.mu.Unlock()

		for _, e := range due {
			s.dispatch(e.Event)
			if listener != nil {
				listener.EventFired(e.Event)
			}
		}

		progress := elapsed / maxDur
		if progress > 1 {
			progress = 1
		}
		if listener != nil {
			listener.Progress(progress, elapsed)
		}

		if finished {
			s.cleanup()
			log.Printf("protocol: %q completed after %.1fs", name, elapsed)
			if listener != nil {
				listener.Finished(name, Completed)
			}
			return
		}
	}
}

// dispatch fires one event. Hardware actions are fire-and-forget; their
// failures degrade the run but never abort it. Everything else goes to the
// registered handler, synchronously.
func (s *Scheduler) dispatch(e Event) {
	switch e.Action {
	case ActionLEDOn:
		s.ledCommand(true, e.StringParam("led_target", "left"))
	case ActionLEDOff:
		s.ledCommand(false, e.StringParam("led_target", "left"))
	default:
		s.mu.Lock()
		fn := s.actions[e.Action]
		s.mu.Unlock()
		if fn == nil {
			log.Printf("protocol: unknown action %q (%s), skipping", e.Action, e.Description)
			return
		}
		if err := fn(e); err != nil {
			log.Printf("protocol: action %q failed: %v", e.Action, err)
		}
	}
}

func (s *Scheduler) ledCommand(on bool, target string) {
	if s.hw == nil {
		log.Printf("protocol: no hardware, LED %s %v simulated", target, on)
		return
	}
	var res siev.Result
	if on {
		res = s.hw.LEDOn(target)
	} else {
		res = s.hw.LEDOff(target)
	}
	if !res.OK {
		log.Printf("protocol: LED %s command failed: %s", target, res.Response)
	}
}

// cleanup makes sure no hardware output outlives the run.
func (s *Scheduler) cleanup() {
	if s.hw == nil {
		return
	}
	for _, side := range []string{"left", "right"} {
		if res := s.hw.LEDOff(side); !res.OK {
			log.Printf("protocol: cleanup LED %s off failed: %s", side, res.Response)
		}
	}
}

// Cancel aborts a running protocol with the same hardware cleanup as
// normal completion. Cancelling an idle or finished scheduler is a no-op.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Cancelled
	stop := s.stop
	done := s.done
	name := s.proto.Name
	listener := s.listener
	s.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		log.Printf("protocol: tick loop slow to stop, continuing cleanup")
	}

	s.cleanup()
	log.Printf("protocol: %q cancelled", name)
	if listener != nil {
		listener.Finished(name, Cancelled)
	}
}

// Status is a snapshot of the current run.
type Status struct {
	State      State   `json:"state"`
	Protocol   string  `json:"protocol,omitempty"`
	ElapsedSec float64 `json:"elapsed_sec"`
	Progress   float64 `json:"progress"`
	EventsDone int     `json:"events_done"`
	EventsAll  int     `json:"events_all"`
}

// GetStatus reports where the run is.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state}
	if s.proto == nil {
		return st
	}
	st.Protocol = s.proto.Name
	st.EventsAll = len(s.events)
	for _, e := range s.events {
		if e.executed {
			st.EventsDone++
		}
	}
	if s.state == Running {
		st.ElapsedSec = s.clk.Now().Sub(s.startAt).Seconds()
		st.Progress = st.ElapsedSec / s.proto.MaxDurationSec
		if st.Progress > 1 {
			st.Progress = 1
		}
	} else if s.state == Completed {
		st.Progress = 1
	}
	return st
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
