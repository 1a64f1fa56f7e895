// Package status provides a thread-safe status tracker for the door-opener daemon.
// It is read by HTTP handlers and by MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/door-opener/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	HostName          string
	Board             string
	RelayPin          int
	ButtonPin         int // -1 when the button is disabled
	DefaultDurationMs int64
	MaxDurationMs     int64
	PollMs            int64
	DebounceMs        int64
	HeartbeatMs       int64
	Broker            string // empty when MQTT is disabled
	Topic             string
	HTTPAddr          string
}

// RelayInfo is the relay part of a snapshot.
type RelayInfo struct {
	State      logic.RelayState
	Since      time.Time
	LastSource logic.Source
	LastID     string
	Pulses     int
}

// ButtonInfo is the button part of a snapshot.
type ButtonInfo struct {
	Enabled   bool
	Baselined bool
	Level     logic.Level
	Counts    logic.EdgeCounts
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Relay         RelayInfo
	Button        ButtonInfo
	Requests      map[logic.Source]logic.RequestCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Relay:     RelayInfo{State: logic.RelayIdle, Since: startTime},
			Button:    ButtonInfo{Enabled: cfg.ButtonPin >= 0},
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// OnTransition records a relay transition. Registered as a relay observer.
func (t *Tracker) OnTransition(tr logic.Transition) {
	t.mu.Lock()
	t.snap.Relay.State = tr.To
	t.snap.Relay.Since = tr.Time
	if tr.To == logic.RelayActuating {
		t.snap.Relay.LastSource = tr.Source
		t.snap.Relay.LastID = tr.RequestID
		t.snap.Relay.Pulses++
	}
	t.mu.Unlock()
}

// UpdateButton sets the debounced button state.
// Called from runLoop on every tick.
func (t *Tracker) UpdateButton(baselined bool, level logic.Level, counts logic.EdgeCounts) {
	t.mu.Lock()
	t.snap.Button.Baselined = baselined
	t.snap.Button.Level = level
	t.snap.Button.Counts = counts
	t.mu.Unlock()
}

// UpdateRequests sets the per-source arbiter counters.
func (t *Tracker) UpdateRequests(counts map[logic.Source]logic.RequestCounts) {
	t.mu.Lock()
	t.snap.Requests = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.Requests != nil {
		s.Requests = make(map[logic.Source]logic.RequestCounts, len(t.snap.Requests))
		for k, v := range t.snap.Requests {
			s.Requests[k] = v
		}
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
