//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// CdevReader reads the button from the Linux GPIO character device.
type CdevReader struct {
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
}

// NewCdevReader requests the button line as an input. Active-low buttons
// get a pull-up so an open contact reads as released.
func NewCdevReader(l Line) (*CdevReader, error) {
	chip, err := gpiocdev.NewChip(chipName(l))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	bias := gpiocdev.WithPullDown
	if l.ActiveLow {
		bias = gpiocdev.WithPullUp
	}
	line, err := chip.RequestLine(l.Pin, gpiocdev.AsInput, bias)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pin %d: %w", l.Pin, err)
	}

	return &CdevReader{chip: chip, line: line, activeLow: l.ActiveLow}, nil
}

// Read returns true while the button is pressed.
func (r *CdevReader) Read() (bool, error) {
	raw, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read button pin: %w", err)
	}
	return logicalLevel(raw, r.activeLow), nil
}

// Close releases GPIO resources.
func (r *CdevReader) Close() error {
	var errs []error
	if r.line != nil {
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// CdevWriter drives the relay through the Linux GPIO character device.
type CdevWriter struct {
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
}

// NewCdevWriter requests the relay line as an output at its inactive level.
func NewCdevWriter(l Line) (*CdevWriter, error) {
	chip, err := gpiocdev.NewChip(chipName(l))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(l.Pin, gpiocdev.AsOutput(rawLevel(false, l.ActiveLow)))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", l.Pin, err)
	}

	return &CdevWriter{chip: chip, line: line, activeLow: l.ActiveLow}, nil
}

// Write sets the relay level.
func (w *CdevWriter) Write(active bool) error {
	if err := w.line.SetValue(rawLevel(active, w.activeLow)); err != nil {
		return fmt.Errorf("write relay pin: %w", err)
	}
	return nil
}

// Close drives the relay inactive before releasing the line, so the door
// is never left energized across a restart.
func (w *CdevWriter) Close() error {
	var errs []error
	if w.line != nil {
		if err := w.line.SetValue(rawLevel(false, w.activeLow)); err != nil {
			errs = append(errs, fmt.Errorf("release relay pin: %w", err))
		}
		if err := w.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func chipName(l Line) string {
	if l.Chip == "" {
		return DefaultChip
	}
	return l.Chip
}
