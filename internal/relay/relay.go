// Package relay owns the relay output pin and times its pulses.
package relay

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/door-opener/internal/gpio"
	"github.com/sweeney/door-opener/internal/logic"
)

// ErrAlreadyActuating is returned by Pulse while a pulse is in progress.
var ErrAlreadyActuating = errors.New("relay: already actuating")

// PinIOError reports a failed write to the relay pin.
type PinIOError struct {
	Op  string // "activate" or "release"
	Err error
}

func (e *PinIOError) Error() string {
	return fmt.Sprintf("relay: %s: %v", e.Op, e.Err)
}

func (e *PinIOError) Unwrap() error {
	return e.Err
}

// Status is a point-in-time view of the actuator.
type Status struct {
	State     logic.RelayState
	Since     time.Time // time of the last transition
	Deadline  time.Time // end of the current pulse (ACTUATING only)
	RequestID string    // request that started the current or last pulse
	Source    logic.Source
	Pulses    int // pulses started since startup
}

// Actuator drives the relay pin. State mirrors the pin: ACTUATING exactly
// while the pin is at its active level.
//
// Pulse never blocks for the pulse duration. The scheduling loop calls
// Advance on every tick and the pin is released on the first tick at or
// after the deadline.
type Actuator struct {
	mu sync.Mutex
	// notifyMu is taken before mu is released so observers see
	// transitions in the order they happened.
	notifyMu sync.Mutex

	pin             gpio.Writer
	defaultDuration time.Duration
	status          Status
	duration        time.Duration
	releaseFailing  bool
	observers       []func(logic.Transition)
}

// New creates an idle actuator. The pin is expected to be inactive already.
func New(pin gpio.Writer, defaultDuration time.Duration) *Actuator {
	return &Actuator{
		pin:             pin,
		defaultDuration: defaultDuration,
		status:          Status{State: logic.RelayIdle},
	}
}

// Observe registers fn to receive every transition. Must be called before
// the actuator is shared.
func (a *Actuator) Observe(fn func(logic.Transition)) {
	a.observers = append(a.observers, fn)
}

// Pulse activates the relay for req.Duration, or the default duration when
// it is not positive. It returns ErrAlreadyActuating while a pulse is in
// progress and a *PinIOError if the pin could not be driven active.
func (a *Actuator) Pulse(req logic.PulseRequest, now time.Time) error {
	a.mu.Lock()
	if a.status.State == logic.RelayActuating {
		a.mu.Unlock()
		return ErrAlreadyActuating
	}

	d := req.Duration
	if d <= 0 {
		d = a.defaultDuration
	}

	if err := a.pin.Write(true); err != nil {
		a.mu.Unlock()
		return &PinIOError{Op: "activate", Err: err}
	}

	a.status = Status{
		State:     logic.RelayActuating,
		Since:     now,
		Deadline:  now.Add(d),
		RequestID: req.ID,
		Source:    req.Source,
		Pulses:    a.status.Pulses + 1,
	}
	a.duration = d
	tr := logic.Transition{
		From:      logic.RelayIdle,
		To:        logic.RelayActuating,
		Time:      now,
		RequestID: req.ID,
		Source:    req.Source,
		Duration:  d,
	}
	a.notifyMu.Lock()
	a.mu.Unlock()
	a.notify(tr)
	a.notifyMu.Unlock()
	return nil
}

// Advance releases the relay once the pulse deadline has passed. A failed
// release keeps the state ACTUATING and is retried on the next call.
func (a *Actuator) Advance(now time.Time) {
	a.mu.Lock()
	if a.status.State != logic.RelayActuating || now.Before(a.status.Deadline) {
		a.mu.Unlock()
		return
	}
	if !a.release(now) {
		a.mu.Unlock()
		return
	}

	tr := logic.Transition{
		From:      logic.RelayActuating,
		To:        logic.RelayIdle,
		Time:      now,
		RequestID: a.status.RequestID,
		Source:    a.status.Source,
		Duration:  a.duration,
	}
	a.notifyMu.Lock()
	a.mu.Unlock()
	a.notify(tr)
	a.notifyMu.Unlock()
}

// ForceIdle releases the relay regardless of the deadline. Used on shutdown.
func (a *Actuator) ForceIdle(now time.Time) error {
	a.mu.Lock()
	if a.status.State != logic.RelayActuating {
		a.mu.Unlock()
		return nil
	}
	a.status.Deadline = now
	a.mu.Unlock()

	a.Advance(now)
	if a.State() == logic.RelayActuating {
		return &PinIOError{Op: "release", Err: errors.New("relay still active")}
	}
	return nil
}

// release drives the pin inactive. Caller must hold mu.
func (a *Actuator) release(now time.Time) bool {
	if err := a.pin.Write(false); err != nil {
		log.Printf("relay: release failed, retrying: %v", err)
		a.releaseFailing = true
		return false
	}
	if a.releaseFailing {
		log.Printf("relay: release recovered after %v", now.Sub(a.status.Deadline))
		a.releaseFailing = false
	}
	a.status.State = logic.RelayIdle
	a.status.Since = now
	a.status.Deadline = time.Time{}
	return true
}

func (a *Actuator) notify(tr logic.Transition) {
	for _, fn := range a.observers {
		fn(tr)
	}
}

// State returns the current relay state.
func (a *Actuator) State() logic.RelayState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status.State
}

// Status returns a copy of the actuator status.
func (a *Actuator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// DefaultDuration returns the duration used for requests without one.
func (a *Actuator) DefaultDuration() time.Duration {
	return a.defaultDuration
}
