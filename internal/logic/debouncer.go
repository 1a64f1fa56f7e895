package logic

import "time"

// Debouncer turns raw button samples into debounced edges.
//
// The first stable period establishes a baseline without emitting an edge,
// so a button that is held at boot is not reported as a press.
type Debouncer struct {
	window time.Duration

	// Current stable (debounced) level
	stable Level
	// Pending level during debounce
	pending Level
	// Time when pending level was first observed
	pendingSince time.Time
	baselined    bool
	counts       EdgeCounts
}

// NewDebouncer creates a debouncer that requires a level to be held for
// window before it is reported.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Process takes a new sample and returns an edge if the debounced level
// changed. A change is only confirmed by a second sample taken at least
// window after the first one, so a single sample never produces an edge.
func (d *Debouncer) Process(pressed bool, now time.Time) *ButtonEdge {
	level := levelFor(pressed)

	if !d.baselined {
		if d.pending != level {
			// Start observing, or level changed during baseline: restart
			d.pending = level
			d.pendingSince = now
			return nil
		}
		if now.Sub(d.pendingSince) >= d.window {
			d.stable = level
			d.baselined = true
			d.pending = ""
		}
		return nil
	}

	if level == d.stable {
		// Bounce back to the stable level cancels any pending change
		d.pending = ""
		return nil
	}

	if d.pending != level {
		d.pending = level
		d.pendingSince = now
		return nil
	}

	if now.Sub(d.pendingSince) < d.window {
		return nil
	}

	d.stable = level
	d.pending = ""
	if level == LevelPressed {
		d.counts.Pressed++
	} else {
		d.counts.Released++
	}
	return &ButtonEdge{Level: level, Time: now}
}

// IsBaselined reports whether the initial stable level has been established.
func (d *Debouncer) IsBaselined() bool {
	return d.baselined
}

// Level returns the current debounced level, or "" before baseline.
func (d *Debouncer) Level() Level {
	return d.stable
}

// Counts returns the number of edges emitted since startup.
func (d *Debouncer) Counts() EdgeCounts {
	return d.counts
}

func levelFor(pressed bool) Level {
	if pressed {
		return LevelPressed
	}
	return LevelReleased
}
