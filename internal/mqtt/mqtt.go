// Package mqtt provides the MQTT command adapter and its transport, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/door-opener/internal/arbiter"
	"github.com/sweeney/door-opener/internal/logic"
)

// Payloads published on the state and status topics.
const (
	StateOpen   = "open"
	StateClosed = "closed"

	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// Handler receives messages for a subscribed topic.
type Handler func(topic string, payload []byte, retained bool)

// Client is the transport used by the adapter.
type Client interface {
	// Publish sends payload to topic. It must not block on the network:
	// messages that cannot be sent now are buffered or dropped.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Subscribe registers h for topic. Subscriptions survive reconnects.
	Subscribe(topic string, qos byte, h Handler) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Topics holds the full topic names derived from the configured root.
type Topics struct {
	Set    string // commands
	State  string // open / closed, retained
	Status string // online / offline availability, retained, LWT
	Events string // one JSON message per arbiter decision
	System string // STARTUP / HEARTBEAT / SHUTDOWN snapshots
}

// NewTopics builds the topic set under root. A trailing slash on root is
// ignored, so "/Haus/Garten/" and "/Haus/Garten" are equivalent.
func NewTopics(root string) Topics {
	root = strings.TrimSuffix(root, "/")
	return Topics{
		Set:    root + "/set",
		State:  root + "/state",
		Status: root + "/status",
		Events: root + "/events",
		System: root + "/system",
	}
}

// StatePayload returns the state topic payload for s.
func StatePayload(s logic.RelayState) []byte {
	if s == logic.RelayActuating {
		return []byte(StateOpen)
	}
	return []byte(StateClosed)
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// EventPayload is the JSON published on the events topic.
type EventPayload struct {
	Request RequestPayload `json:"request"`
}

// RequestPayload describes one arbiter decision.
type RequestPayload struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	DurationMs int64  `json:"duration_ms"`
	Admitted   bool   `json:"admitted"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// FormatEventPayload creates the JSON payload for an arbiter decision.
func FormatEventPayload(d arbiter.Decision) ([]byte, error) {
	p := EventPayload{
		Request: RequestPayload{
			ID:         d.Request.ID,
			Source:     string(d.Request.Source),
			DurationMs: d.Request.Duration.Milliseconds(),
			Admitted:   d.Admitted,
			Reason:     string(d.Reason),
			Timestamp:  d.Time.UTC().Format(time.RFC3339Nano),
		},
	}
	if d.Err != nil {
		p.Request.Error = d.Err.Error()
	}
	return json.Marshal(p)
}
