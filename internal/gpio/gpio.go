// Package gpio provides button input and relay output with hardware abstraction.
// The real implementations use the Linux GPIO character device (gpiocdev) or
// periph.io. The fake implementations allow testing without hardware.
package gpio

import "fmt"

// Reader reads the push button.
type Reader interface {
	// Read returns true while the button is pressed.
	// Polarity is already applied: callers never see raw levels.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Writer drives the relay.
type Writer interface {
	// Write sets the relay to its active (true) or inactive (false) level.
	Write(active bool) error

	// Close drives the relay inactive and releases GPIO resources.
	Close() error
}

// Backend names.
const (
	BackendCdev   = "gpiocdev"
	BackendPeriph = "periph"
)

// Pin defaults for the ESP01 one-relay board wiring.
const (
	DefaultRelayPin  = 0
	DefaultButtonPin = 2
	DefaultChip      = "gpiochip0"
)

// Line identifies a single GPIO line and its polarity.
type Line struct {
	Chip      string // gpiocdev only
	Pin       int    // line offset (gpiocdev) or BCM number (periph)
	ActiveLow bool   // true: logical active = raw low
}

// NewReader opens the button line on the given backend.
func NewReader(backend string, line Line) (Reader, error) {
	switch backend {
	case BackendCdev, "":
		r, err := NewCdevReader(line)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendPeriph:
		r, err := NewPeriphReader(line)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}

// NewWriter opens the relay line on the given backend. The line starts at
// its inactive level.
func NewWriter(backend string, line Line) (Writer, error) {
	switch backend {
	case BackendCdev, "":
		w, err := NewCdevWriter(line)
		if err != nil {
			return nil, err
		}
		return w, nil
	case BackendPeriph:
		w, err := NewPeriphWriter(line)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}

// rawLevel converts a logical level to the raw line value.
func rawLevel(active, activeLow bool) int {
	if active != activeLow {
		return 1
	}
	return 0
}

// logicalLevel converts a raw line value to the logical level.
func logicalLevel(raw int, activeLow bool) bool {
	return (raw != 0) != activeLow
}
