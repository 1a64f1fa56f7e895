package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/door-opener/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string                  `json:"event,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
	Relay         RelayJSON               `json:"relay"`
	Button        ButtonJSON              `json:"button"`
	Requests      map[string]RequestsJSON `json:"requests"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	StartTime     string                  `json:"start_time"`
	Timestamp     string                  `json:"timestamp"`
	MQTT          MQTTStatus              `json:"mqtt"`
	Network       *NetworkJSON            `json:"network,omitempty"`
	Config        ConfigJSON              `json:"config"`
}

// RelayJSON is the JSON representation of the relay.
type RelayJSON struct {
	State      string `json:"state"`
	Since      string `json:"since"`
	LastSource string `json:"last_source,omitempty"`
	LastID     string `json:"last_request_id,omitempty"`
	Pulses     int    `json:"pulses"`
}

// ButtonJSON is the JSON representation of the push button.
type ButtonJSON struct {
	Enabled  bool   `json:"enabled"`
	Ready    bool   `json:"ready"`
	Level    string `json:"level"`
	Pressed  int    `json:"pressed"`
	Released int    `json:"released"`
}

// RequestsJSON is the JSON representation of one source's arbiter counters.
type RequestsJSON struct {
	Admitted int `json:"admitted"`
	Busy     int `json:"busy"`
	Offline  int `json:"offline"`
	Invalid  int `json:"invalid"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Topic     string `json:"topic"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HostName          string `json:"host_name"`
	Board             string `json:"board"`
	RelayPin          int    `json:"relay_pin"`
	ButtonPin         int    `json:"button_pin"`
	DefaultDurationMs int64  `json:"default_duration_ms"`
	MaxDurationMs     int64  `json:"max_duration_ms"`
	PollMs            int64  `json:"poll_ms"`
	DebounceMs        int64  `json:"debounce_ms"`
	HeartbeatMs       int64  `json:"heartbeat_ms"`
	HTTPAddr          string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	level := string(snap.Button.Level)
	if level == "" {
		level = "UNKNOWN"
	}

	inner := StatusInner{
		Relay: RelayJSON{
			State:      string(snap.Relay.State),
			Since:      snap.Relay.Since.UTC().Format(time.RFC3339),
			LastSource: string(snap.Relay.LastSource),
			LastID:     snap.Relay.LastID,
			Pulses:     snap.Relay.Pulses,
		},
		Button: ButtonJSON{
			Enabled:  snap.Button.Enabled,
			Ready:    snap.Button.Baselined,
			Level:    level,
			Pressed:  snap.Button.Counts.Pressed,
			Released: snap.Button.Counts.Released,
		},
		Requests:      make(map[string]RequestsJSON, len(logic.Sources)),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Topic:     snap.Config.Topic,
		},
		Config: ConfigJSON{
			HostName:          snap.Config.HostName,
			Board:             snap.Config.Board,
			RelayPin:          snap.Config.RelayPin,
			ButtonPin:         snap.Config.ButtonPin,
			DefaultDurationMs: snap.Config.DefaultDurationMs,
			MaxDurationMs:     snap.Config.MaxDurationMs,
			PollMs:            snap.Config.PollMs,
			DebounceMs:        snap.Config.DebounceMs,
			HeartbeatMs:       snap.Config.HeartbeatMs,
			HTTPAddr:          snap.Config.HTTPAddr,
		},
	}

	for _, src := range logic.Sources {
		c := snap.Requests[src]
		inner.Requests[string(src)] = RequestsJSON{
			Admitted: c.Admitted,
			Busy:     c.Busy,
			Offline:  c.Offline,
			Invalid:  c.Invalid,
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
