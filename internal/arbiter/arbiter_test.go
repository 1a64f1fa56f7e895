package arbiter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/door-opener/internal/gpio"
	"github.com/sweeney/door-opener/internal/logic"
	"github.com/sweeney/door-opener/internal/relay"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// clock is a manually advanced time source safe for concurrent reads.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestArbiter(t *testing.T) (*Arbiter, *relay.Actuator, *gpio.FakeWriter, *clock) {
	t.Helper()
	pin := gpio.NewFakeWriter()
	act := relay.New(pin, 200*time.Millisecond)
	clk := &clock{now: t0}
	return New(act, 10*time.Second, clk.Now), act, pin, clk
}

func TestAdmitWhileIdle(t *testing.T) {
	arb, _, pin, _ := newTestArbiter(t)

	req := logic.NewPulseRequest(logic.SourceMQTT, 0, t0)
	res, err := arb.RequestPulse(req)

	require.NoError(t, err)
	assert.Equal(t, req.ID, res.RequestID)
	assert.Equal(t, logic.RelayActuating, res.State)
	assert.Equal(t, 200*time.Millisecond, res.Duration)
	assert.Equal(t, t0.Add(200*time.Millisecond), res.Until)
	assert.True(t, pin.Active())
	assert.Equal(t, logic.RequestCounts{Admitted: 1}, arb.Counts()[logic.SourceMQTT])
}

func TestRejectBusyFromEverySource(t *testing.T) {
	arb, _, pin, clk := newTestArbiter(t)

	_, err := arb.RequestPulse(logic.NewPulseRequest(logic.SourceButton, 0, t0))
	require.NoError(t, err)

	for _, src := range logic.Sources {
		clk.Add(10 * time.Millisecond)
		req := logic.NewPulseRequest(src, 0, clk.Now())
		res, err := arb.RequestPulse(req)

		assert.ErrorIs(t, err, ErrBusy, "source %s", src)
		var rej *Rejected
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, req.ID, rej.RequestID)
		assert.Equal(t, req.ID, res.RequestID)
	}

	assert.Equal(t, 1, pin.Activations(), "rejected requests must not pulse")
	counts := arb.Counts()
	assert.Equal(t, 1, counts[logic.SourceButton].Busy)
	assert.Equal(t, 1, counts[logic.SourceMQTT].Busy)
	assert.Equal(t, 1, counts[logic.SourceHTTP].Busy)
}

func TestAdmitAgainAfterPulseEnds(t *testing.T) {
	arb, act, pin, clk := newTestArbiter(t)

	_, err := arb.RequestPulse(logic.NewPulseRequest(logic.SourceButton, 0, t0))
	require.NoError(t, err)

	act.Advance(clk.Add(200 * time.Millisecond))
	require.Equal(t, logic.RelayIdle, arb.State())

	_, err = arb.RequestPulse(logic.NewPulseRequest(logic.SourceHTTP, 0, clk.Now()))
	require.NoError(t, err)
	assert.Equal(t, 2, pin.Activations())
}

func TestConcurrentRequestsAdmitExactlyOne(t *testing.T) {
	arb, _, pin, _ := newTestArbiter(t)

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		src := logic.Sources[i%len(logic.Sources)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := arb.RequestPulse(logic.NewPulseRequest(src, 0, t0))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	admitted, busy := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrBusy):
			busy++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 29, busy)
	assert.Equal(t, 1, pin.Activations())
}

func TestOfflineSuppressesNetworkSources(t *testing.T) {
	arb, _, pin, _ := newTestArbiter(t)
	arb.SetLinkUp(logic.SourceMQTT, false)
	arb.SetLinkUp(logic.SourceHTTP, false)

	_, err := arb.RequestPulse(logic.NewPulseRequest(logic.SourceMQTT, 0, t0))
	assert.ErrorIs(t, err, ErrOffline)
	_, err = arb.RequestPulse(logic.NewPulseRequest(logic.SourceHTTP, 0, t0))
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, pin.Activations())

	// The button keeps working while the network is degraded.
	_, err = arb.RequestPulse(logic.NewPulseRequest(logic.SourceButton, 0, t0))
	assert.NoError(t, err)
	assert.Equal(t, 1, arb.Counts()[logic.SourceMQTT].Offline)
}

func TestButtonLinkCannotBeDisabled(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t)
	arb.SetLinkUp(logic.SourceButton, false)
	assert.True(t, arb.LinkUp(logic.SourceButton))
}

func TestLinkRestored(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t)
	arb.SetLinkUp(logic.SourceMQTT, false)
	assert.False(t, arb.LinkUp(logic.SourceMQTT))
	arb.SetLinkUp(logic.SourceMQTT, true)
	assert.True(t, arb.LinkUp(logic.SourceMQTT))

	_, err := arb.RequestPulse(logic.NewPulseRequest(logic.SourceMQTT, 0, t0))
	assert.NoError(t, err)
}

func TestInvalidDuration(t *testing.T) {
	arb, _, pin, _ := newTestArbiter(t)

	tests := []struct {
		name string
		d    time.Duration
	}{
		{"negative", -time.Millisecond},
		{"above max", 11 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := arb.RequestPulse(logic.NewPulseRequest(logic.SourceHTTP, tt.d, t0))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
	assert.Zero(t, pin.Activations())
	assert.Equal(t, 2, arb.Counts()[logic.SourceHTTP].Invalid)
}

func TestPinFailureReturnsError(t *testing.T) {
	arb, _, pin, _ := newTestArbiter(t)
	pin.FailActivate(errors.New("pin fault"))

	_, err := arb.RequestPulse(logic.NewPulseRequest(logic.SourceButton, 0, t0))

	var pinErr *relay.PinIOError
	assert.ErrorAs(t, err, &pinErr)
	var rej *Rejected
	assert.False(t, errors.As(err, &rej), "pin failure is not a rejection")
	assert.Equal(t, logic.RelayIdle, arb.State())
}

func TestObserversSeeEveryDecision(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t)
	var decisions []Decision
	arb.Observe(func(d Decision) { decisions = append(decisions, d) })

	arb.RequestPulse(logic.NewPulseRequest(logic.SourceButton, 0, t0))
	arb.RequestPulse(logic.NewPulseRequest(logic.SourceMQTT, 0, t0))

	require.Len(t, decisions, 2)
	assert.True(t, decisions[0].Admitted)
	assert.False(t, decisions[1].Admitted)
	assert.Equal(t, ReasonBusy, decisions[1].Reason)
	assert.Equal(t, logic.SourceMQTT, decisions[1].Request.Source)
}

func TestRejectedIs(t *testing.T) {
	err := error(&Rejected{Reason: ReasonBusy, RequestID: "x"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.NotErrorIs(t, err, ErrOffline)
	assert.Equal(t, "pulse rejected: BUSY", err.Error())
}

func TestCloseRejectsEverySource(t *testing.T) {
	arb, _, pin, _ := newTestArbiter(t)
	arb.Close()
	arb.Close()

	for _, src := range logic.Sources {
		_, err := arb.RequestPulse(logic.NewPulseRequest(src, 0, t0))
		assert.ErrorIs(t, err, ErrOffline, "source %s", src)
		assert.Equal(t, 1, arb.Counts()[src].Offline, "source %s", src)
	}
	assert.Zero(t, pin.Activations())

	// Links coming back up do not reopen a closed arbiter.
	arb.SetLinkUp(logic.SourceMQTT, true)
	_, err := arb.RequestPulse(logic.NewPulseRequest(logic.SourceMQTT, 0, t0))
	assert.ErrorIs(t, err, ErrOffline)
}

func TestBusyTakesPrecedenceWhileActuating(t *testing.T) {
	arb, _, pin, _ := newTestArbiter(t)
	_, err := arb.RequestPulse(logic.NewPulseRequest(logic.SourceButton, 0, t0))
	require.NoError(t, err)

	arb.SetLinkUp(logic.SourceHTTP, false)
	_, err = arb.RequestPulse(logic.NewPulseRequest(logic.SourceHTTP, 0, t0))
	assert.ErrorIs(t, err, ErrBusy)
	_, err = arb.RequestPulse(logic.NewPulseRequest(logic.SourceMQTT, 11*time.Second, t0))
	assert.ErrorIs(t, err, ErrBusy)

	assert.Equal(t, logic.RequestCounts{Busy: 1}, arb.Counts()[logic.SourceHTTP])
	assert.Equal(t, logic.RequestCounts{Busy: 1}, arb.Counts()[logic.SourceMQTT])
	assert.Equal(t, 1, pin.Activations())
}

func TestObserversSeeDecisionsInOrder(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t)

	var mu sync.Mutex
	var seen []Decision
	arb.Observe(func(d Decision) {
		mu.Lock()
		seen = append(seen, d)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			arb.RequestPulse(logic.NewPulseRequest(logic.SourceHTTP, 0, t0))
		}()
	}
	wg.Wait()

	require.Len(t, seen, 50)
	// The admitted request is decided first; everything after it is BUSY.
	assert.True(t, seen[0].Admitted, "first observed decision must be the admission")
	for _, d := range seen[1:] {
		assert.Equal(t, ReasonBusy, d.Reason)
	}
}
