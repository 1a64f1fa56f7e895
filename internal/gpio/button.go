package gpio

import (
	"fmt"
	"time"

	"github.com/sweeney/door-opener/internal/logic"
)

// Button is the debounced push button input.
type Button struct {
	r   Reader
	deb *logic.Debouncer
}

// NewButton debounces r with the given window.
func NewButton(r Reader, window time.Duration) *Button {
	return &Button{r: r, deb: logic.NewDebouncer(window)}
}

// Poll samples the button once. It returns an edge when the debounced level
// changed. A read error leaves the debounced state untouched.
func (b *Button) Poll(now time.Time) (*logic.ButtonEdge, error) {
	pressed, err := b.r.Read()
	if err != nil {
		return nil, fmt.Errorf("read button: %w", err)
	}
	return b.deb.Process(pressed, now), nil
}

// State returns the debounced state for status reporting.
func (b *Button) State() (baselined bool, level logic.Level, counts logic.EdgeCounts) {
	return b.deb.IsBaselined(), b.deb.Level(), b.deb.Counts()
}

// Close releases the underlying line.
func (b *Button) Close() error {
	return b.r.Close()
}
