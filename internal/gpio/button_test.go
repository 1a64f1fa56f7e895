package gpio

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/door-opener/internal/logic"
)

func TestButtonPoll(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewFakeReader([]bool{false, false, false, true, true, true})
	b := NewButton(r, 20*time.Millisecond)

	var edges []*logic.ButtonEdge
	for i := 0; i < 6; i++ {
		edge, err := b.Poll(start.Add(time.Duration(i) * 10 * time.Millisecond))
		if err != nil {
			t.Fatalf("poll %d: unexpected error: %v", i, err)
		}
		if edge != nil {
			edges = append(edges, edge)
		}
	}

	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].Level != logic.LevelPressed {
		t.Errorf("Level: got %s, want PRESSED", edges[0].Level)
	}
	if !edges[0].Time.Equal(start.Add(50 * time.Millisecond)) {
		t.Errorf("Time: got %v", edges[0].Time.Sub(start))
	}

	baselined, level, counts := b.State()
	if !baselined || level != logic.LevelPressed || counts.Pressed != 1 {
		t.Errorf("State: got %v %s %+v", baselined, level, counts)
	}
}

func TestButtonPollReadError(t *testing.T) {
	r := NewFakeReader([]bool{false})
	r.ReadError = errors.New("gpio fault")
	b := NewButton(r, 20*time.Millisecond)

	edge, err := b.Poll(time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if edge != nil {
		t.Error("expected no edge on error")
	}
	if baselined, _, _ := b.State(); baselined {
		t.Error("read error must not touch the debouncer")
	}
}

func TestButtonClose(t *testing.T) {
	r := NewFakeReader([]bool{false})
	b := NewButton(r, 20*time.Millisecond)
	b.Close()
	if !r.Closed {
		t.Error("expected underlying reader closed")
	}
}
