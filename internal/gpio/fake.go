package gpio

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted button levels.
type FakeReader struct {
	// Samples contains scripted pressed values to return.
	// Each call to Read() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []bool) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Closed = false
}

// FakeWriter records relay writes. It is safe for concurrent use because the
// relay is driven from both the scheduling loop and network handlers.
type FakeWriter struct {
	mu     sync.Mutex
	active bool
	writes []bool
	closed bool

	// Injected failures for active and inactive writes.
	activateErr error
	releaseErr  error
}

// NewFakeWriter creates a FakeWriter at the inactive level.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{}
}

// Write records the level. A failed write leaves the level unchanged.
func (f *FakeWriter) Write(active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if active && f.activateErr != nil {
		return f.activateErr
	}
	if !active && f.releaseErr != nil {
		return f.releaseErr
	}
	f.active = active
	f.writes = append(f.writes, active)
	return nil
}

// Close drives the fake inactive.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.closed = true
	return nil
}

// Active reports the current level.
func (f *FakeWriter) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Writes returns a copy of every successful write in order.
func (f *FakeWriter) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.writes))
	copy(out, f.writes)
	return out
}

// Activations counts writes of the active level.
func (f *FakeWriter) Activations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		if w {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (f *FakeWriter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FailActivate makes subsequent active writes fail with err (nil clears).
func (f *FakeWriter) FailActivate(err error) {
	f.mu.Lock()
	f.activateErr = err
	f.mu.Unlock()
}

// FailRelease makes subsequent inactive writes fail with err (nil clears).
func (f *FakeWriter) FailRelease(err error) {
	f.mu.Lock()
	f.releaseErr = err
	f.mu.Unlock()
}
