package service

import (
	"sync"
	"time"
)

// DebounceState is the phase of a Debouncer.
type DebounceState int

const (
	// Idle: no requests in flight and nothing pending.
	Idle DebounceState = iota
	// Accumulating: at least one request is in flight.
	Accumulating
	// Quiescing: all requests finished; the quiet timer is running.
	Quiescing
	// Triggered: the callback is running.
	Triggered
)

func (s DebounceState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Quiescing:
		return "quiescing"
	case Triggered:
		return "triggered"
	}
	return "unknown"
}

// Debouncer runs a callback once a burst of requests has been quiet for a
// while. Begin and End bracket each request.
type Debouncer struct {
	quiet time.Duration
	fn    func()

	mu       sync.Mutex
	state    DebounceState
	inFlight int
	timer    *time.Timer
	gen      uint64
	stopped  bool

	run sync.Mutex // serializes callbacks
}

// NewDebouncer returns a Debouncer calling fn after quiet of inactivity.
func NewDebouncer(quiet time.Duration, fn func()) *Debouncer {
	return &Debouncer{quiet: quiet, fn: fn}
}

func (d *Debouncer) cancelTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Begin marks a request as started. A pending trigger is cancelled.
func (d *Debouncer) Begin() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.cancelTimerLocked()
	d.inFlight++
	d.state = Accumulating
}

// End marks a request as finished. When none remain in flight the quiet
// timer starts. Unmatched calls are ignored.
func (d *Debouncer) End() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.inFlight == 0 {
		return
	}
	d.inFlight--
	if d.inFlight > 0 {
		return
	}
	d.cancelTimerLocked()
	d.state = Quiescing
	gen := d.gen
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen || d.state != Quiescing {
		d.mu.Unlock()
		return
	}
	d.state = Triggered
	d.timer = nil
	d.mu.Unlock()

	d.run.Lock()
	d.fn()
	d.run.Unlock()

	d.mu.Lock()
	if d.state == Triggered {
		d.state = Idle
	}
	d.mu.Unlock()
}

// State returns the current phase.
func (d *Debouncer) State() DebounceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stop cancels any pending trigger. Later calls to Begin and End do nothing.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.cancelTimerLocked()
	d.inFlight = 0
	d.state = Idle
}
