// Package arbiter serializes pulse requests from every trigger source into
// the relay actuator.
package arbiter

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/door-opener/internal/logic"
	"github.com/sweeney/door-opener/internal/relay"
)

// Reason explains why a request was rejected.
type Reason string

const (
	ReasonBusy    Reason = "BUSY"
	ReasonOffline Reason = "OFFLINE"
	ReasonInvalid Reason = "INVALID"
)

// Rejected is returned for requests that produced no pulse.
type Rejected struct {
	Reason    Reason
	RequestID string
}

func (r *Rejected) Error() string {
	return fmt.Sprintf("pulse rejected: %s", r.Reason)
}

// Is lets errors.Is match on the reason alone.
func (r *Rejected) Is(target error) bool {
	t, ok := target.(*Rejected)
	return ok && t.Reason == r.Reason
}

// Sentinels for errors.Is.
var (
	ErrBusy    = &Rejected{Reason: ReasonBusy}
	ErrOffline = &Rejected{Reason: ReasonOffline}
	ErrInvalid = &Rejected{Reason: ReasonInvalid}
)

// Result describes an admitted request.
type Result struct {
	RequestID string
	State     logic.RelayState
	Duration  time.Duration
	Until     time.Time
}

// Decision is reported to observers for every request.
type Decision struct {
	Request  logic.PulseRequest
	Admitted bool
	Reason   Reason // empty when admitted or on pin failure
	Err      error  // pin failure, if any
	Time     time.Time
}

// Relay is the part of the actuator the arbiter drives.
type Relay interface {
	Pulse(req logic.PulseRequest, now time.Time) error
	State() logic.RelayState
	Status() relay.Status
}

// Arbiter is the single entry point through which button, MQTT and HTTP
// requests reach the relay. Requests are handled first come, first served;
// while a pulse is running every request is rejected BUSY, never queued.
type Arbiter struct {
	// mu is held for the check-and-set only, never for a pulse.
	mu sync.Mutex
	// notifyMu is taken before mu is released so observers see
	// decisions in the order they were made.
	notifyMu sync.Mutex

	relay       Relay
	maxDuration time.Duration
	now         func() time.Time
	linkDown    map[logic.Source]bool
	counts      map[logic.Source]logic.RequestCounts
	closed      bool
	observers   []func(Decision)
}

// New creates an arbiter. Requests with a duration above maxDuration are
// rejected INVALID; zero disables the limit.
func New(r Relay, maxDuration time.Duration, now func() time.Time) *Arbiter {
	if now == nil {
		now = time.Now
	}
	return &Arbiter{
		relay:       r,
		maxDuration: maxDuration,
		now:         now,
		linkDown:    make(map[logic.Source]bool),
		counts:      make(map[logic.Source]logic.RequestCounts),
	}
}

// Observe registers fn to receive every decision. Must be called before the
// arbiter is shared. Observers must not call back into the arbiter.
func (a *Arbiter) Observe(fn func(Decision)) {
	a.observers = append(a.observers, fn)
}

// RequestPulse admits or rejects req. Rejections are returned as *Rejected;
// a relay pin failure is returned as *relay.PinIOError.
func (a *Arbiter) RequestPulse(req logic.PulseRequest) (Result, error) {
	a.mu.Lock()
	now := a.now()
	d := Decision{Request: req, Time: now}
	counts := a.counts[req.Source]

	var res Result
	switch {
	case a.closed:
		d.Reason = ReasonOffline
		counts.Offline++
	case a.relay.State() == logic.RelayActuating:
		d.Reason = ReasonBusy
		counts.Busy++
	case req.Duration < 0 || (a.maxDuration > 0 && req.Duration > a.maxDuration):
		d.Reason = ReasonInvalid
		counts.Invalid++
	case req.Source != logic.SourceButton && a.linkDown[req.Source]:
		d.Reason = ReasonOffline
		counts.Offline++
	default:
		err := a.relay.Pulse(req, now)
		switch {
		case err == nil:
			d.Admitted = true
			counts.Admitted++
			st := a.relay.Status()
			res = Result{
				RequestID: req.ID,
				State:     st.State,
				Duration:  st.Deadline.Sub(st.Since),
				Until:     st.Deadline,
			}
		case errors.Is(err, relay.ErrAlreadyActuating):
			d.Reason = ReasonBusy
			counts.Busy++
		default:
			d.Err = err
		}
	}
	a.counts[req.Source] = counts
	a.notifyMu.Lock()
	a.mu.Unlock()

	a.logDecision(d)
	for _, fn := range a.observers {
		fn(d)
	}
	a.notifyMu.Unlock()

	switch {
	case d.Admitted:
		return res, nil
	case d.Err != nil:
		return Result{RequestID: req.ID}, fmt.Errorf("pulse %s: %w", req.ID, d.Err)
	default:
		return Result{RequestID: req.ID}, &Rejected{Reason: d.Reason, RequestID: req.ID}
	}
}

func (a *Arbiter) logDecision(d Decision) {
	req := d.Request
	switch {
	case d.Admitted:
		log.Printf("arbiter: admitted %s from %s (duration=%v)", req.ID, req.Source, req.Duration)
	case d.Err != nil:
		log.Printf("arbiter: %s from %s failed: %v", req.ID, req.Source, d.Err)
	default:
		log.Printf("arbiter: rejected %s from %s: %s", req.ID, req.Source, d.Reason)
	}
}

// Close rejects every later request, button included, as OFFLINE. It
// returns once no request can start a new pulse.
func (a *Arbiter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		log.Printf("arbiter: closed, rejecting further requests")
	}
}

// SetLinkUp records the network link state of a source. MQTT and HTTP
// requests are rejected OFFLINE while their link is down. The button has no
// link and is never suppressed.
func (a *Arbiter) SetLinkUp(source logic.Source, up bool) {
	if source == logic.SourceButton {
		return
	}
	a.mu.Lock()
	changed := a.linkDown[source] == up
	a.linkDown[source] = !up
	a.mu.Unlock()
	if changed {
		log.Printf("arbiter: %s link up=%v", source, up)
	}
}

// LinkUp reports whether requests from source are currently accepted.
func (a *Arbiter) LinkUp(source logic.Source) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.linkDown[source]
}

// State returns the current relay state.
func (a *Arbiter) State() logic.RelayState {
	return a.relay.State()
}

// Counts returns a copy of the per-source decision counters.
func (a *Arbiter) Counts() map[logic.Source]logic.RequestCounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[logic.Source]logic.RequestCounts, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}
