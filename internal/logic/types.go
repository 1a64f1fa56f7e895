// Package logic contains the pure data model and button debounce logic for
// the door opener.
// This package has NO hardware or network dependencies and never sleeps.
// Time is always injectable via time.Time parameters.
package logic

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// RelayState represents the state of the single relay output.
type RelayState string

const (
	RelayIdle      RelayState = "IDLE"
	RelayActuating RelayState = "ACTUATING"
)

// Source identifies where a pulse request came from.
type Source string

const (
	SourceButton Source = "BUTTON"
	SourceMQTT   Source = "MQTT"
	SourceHTTP   Source = "HTTP"
)

// Sources lists every trigger source in display order.
var Sources = []Source{SourceButton, SourceMQTT, SourceHTTP}

// Level is the debounced level of the push button.
type Level string

const (
	LevelPressed  Level = "PRESSED"
	LevelReleased Level = "RELEASED"
)

// ButtonEdge is a debounced button transition.
type ButtonEdge struct {
	Level Level
	Time  time.Time
}

// PulseRequest asks for a single relay pulse. A zero Duration means the
// configured default.
type PulseRequest struct {
	ID          string
	Source      Source
	Duration    time.Duration
	RequestedAt time.Time
}

// NewPulseRequest creates a request with a fresh ULID.
func NewPulseRequest(source Source, d time.Duration, now time.Time) PulseRequest {
	return PulseRequest{
		ID:          ulid.Make().String(),
		Source:      source,
		Duration:    d,
		RequestedAt: now,
	}
}

// Transition describes a relay state change.
type Transition struct {
	From      RelayState
	To        RelayState
	Time      time.Time
	RequestID string        // request that started the pulse
	Source    Source        // source of that request
	Duration  time.Duration // effective pulse duration
}

// RequestCounts tracks arbiter decisions for one source.
type RequestCounts struct {
	Admitted int
	Busy     int
	Offline  int
	Invalid  int
}

// Rejected returns the total number of rejected requests.
func (c RequestCounts) Rejected() int {
	return c.Busy + c.Offline + c.Invalid
}

// EdgeCounts tracks the number of debounced button edges since startup.
type EdgeCounts struct {
	Pressed  int
	Released int
}
