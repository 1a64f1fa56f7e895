package gpio

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphReader reads the button through periph.io. Pins are addressed by
// their BCM numbers.
type PeriphReader struct {
	pin       pgpio.PinIO
	activeLow bool
}

// NewPeriphReader initialises the periph host and configures the button pin
// as an input.
func NewPeriphReader(l Line) (*PeriphReader, error) {
	p, err := periphPin(l.Pin)
	if err != nil {
		return nil, err
	}
	pull := pgpio.PullDown
	if l.ActiveLow {
		pull = pgpio.PullUp
	}
	if err := p.In(pull, pgpio.NoEdge); err != nil {
		return nil, fmt.Errorf("set button pin %d to input: %w", l.Pin, err)
	}
	return &PeriphReader{pin: p, activeLow: l.ActiveLow}, nil
}

// Read returns true while the button is pressed.
func (r *PeriphReader) Read() (bool, error) {
	raw := 0
	if r.pin.Read() == pgpio.High {
		raw = 1
	}
	return logicalLevel(raw, r.activeLow), nil
}

// Close is a no-op; periph pins stay owned by the host driver.
func (r *PeriphReader) Close() error {
	return nil
}

// PeriphWriter drives the relay through periph.io.
type PeriphWriter struct {
	pin       pgpio.PinIO
	activeLow bool
}

// NewPeriphWriter configures the relay pin as an output at its inactive level.
func NewPeriphWriter(l Line) (*PeriphWriter, error) {
	p, err := periphPin(l.Pin)
	if err != nil {
		return nil, err
	}
	w := &PeriphWriter{pin: p, activeLow: l.ActiveLow}
	if err := w.Write(false); err != nil {
		return nil, err
	}
	return w, nil
}

// Write sets the relay level.
func (w *PeriphWriter) Write(active bool) error {
	level := pgpio.Low
	if rawLevel(active, w.activeLow) == 1 {
		level = pgpio.High
	}
	if err := w.pin.Out(level); err != nil {
		return fmt.Errorf("write relay pin: %w", err)
	}
	return nil
}

// Close drives the relay inactive.
func (w *PeriphWriter) Close() error {
	return w.Write(false)
}

func periphPin(pin int) (pgpio.PinIO, error) {
	// host.Init can safely be called multiple times.
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	name := fmt.Sprintf("GPIO%d", pin)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("pin %d (%s) not found in hardware", pin, name)
	}
	return p, nil
}
