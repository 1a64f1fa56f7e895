package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/door-opener/internal/arbiter"
	"github.com/sweeney/door-opener/internal/logic"
)

// ErrMalformedCommand is returned by ParseCommand for payloads that are not
// a recognised command.
var ErrMalformedCommand = errors.New("malformed command")

// commandWords are the accepted plain-text command payloads, lowercase.
var commandWords = map[string]bool{
	"open":    true,
	"trigger": true,
	"on":      true,
	"1":       true,
	"pulse":   true,
}

// Command is a parsed command message. A zero Duration means the default.
type Command struct {
	Duration time.Duration
}

type jsonCommand struct {
	Command    string `json:"command"`
	DurationMs *int64 `json:"duration_ms"`
}

// ParseCommand parses a command payload. Plain payloads are one of open,
// trigger, on, 1 or pulse (case-insensitive, surrounding whitespace
// ignored). JSON payloads carry the same word in "command" and an optional
// "duration_ms".
func ParseCommand(payload []byte) (Command, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return Command{}, fmt.Errorf("%w: empty payload", ErrMalformedCommand)
	}

	if !strings.HasPrefix(s, "{") {
		if !commandWords[strings.ToLower(s)] {
			return Command{}, fmt.Errorf("%w: %q", ErrMalformedCommand, truncate(s))
		}
		return Command{}, nil
	}

	var jc jsonCommand
	if err := json.Unmarshal([]byte(s), &jc); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if !commandWords[strings.ToLower(strings.TrimSpace(jc.Command))] {
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrMalformedCommand, truncate(jc.Command))
	}
	var cmd Command
	if jc.DurationMs != nil {
		if *jc.DurationMs < 0 {
			return Command{}, fmt.Errorf("%w: negative duration_ms %d", ErrMalformedCommand, *jc.DurationMs)
		}
		cmd.Duration = time.Duration(*jc.DurationMs) * time.Millisecond
	}
	return cmd, nil
}

func truncate(s string) string {
	const max = 64
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// Arbiter is the part of the trigger arbiter the adapter drives.
type Arbiter interface {
	RequestPulse(req logic.PulseRequest) (arbiter.Result, error)
	SetLinkUp(source logic.Source, up bool)
	State() logic.RelayState
}

// Adapter translates command messages into arbiter requests and publishes
// relay state, availability and decisions.
type Adapter struct {
	client Client
	arb    Arbiter
	topics Topics
	now    func() time.Time

	mu        sync.Mutex
	published logic.RelayState // last state sent to the state topic
}

// NewAdapter creates an adapter publishing under root.
func NewAdapter(client Client, arb Arbiter, root string, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		client: client,
		arb:    arb,
		topics: NewTopics(root),
		now:    now,
	}
}

// Topics returns the adapter's topic names.
func (a *Adapter) Topics() Topics {
	return a.topics
}

// Start subscribes to the command topic.
func (a *Adapter) Start() error {
	if err := a.client.Subscribe(a.topics.Set, 1, a.HandleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", a.topics.Set, err)
	}
	return nil
}

// HandleMessage handles one message from the command topic. Retained
// commands are ignored; malformed payloads are logged and dropped.
func (a *Adapter) HandleMessage(topic string, payload []byte, retained bool) {
	if topic != a.topics.Set {
		return
	}
	if retained {
		log.Printf("mqtt: ignoring retained command on %s", topic)
		return
	}

	cmd, err := ParseCommand(payload)
	if err != nil {
		log.Printf("mqtt: dropped command on %s: %v", topic, err)
		return
	}

	// The arbiter logs and reports the decision.
	a.arb.RequestPulse(logic.NewPulseRequest(logic.SourceMQTT, cmd.Duration, a.now()))
}

// OnTransition publishes the new relay state, retained. Registered as a
// relay observer.
func (a *Adapter) OnTransition(tr logic.Transition) {
	a.publishState(tr.To)
}

func (a *Adapter) publishState(s logic.RelayState) {
	a.mu.Lock()
	a.published = s
	a.mu.Unlock()

	if err := a.client.Publish(a.topics.State, 1, true, StatePayload(s)); err != nil {
		log.Printf("mqtt: publish state %s: %v", s, err)
	}
}

// PublishedState returns the last state sent to the state topic, or ""
// if none has been sent.
func (a *Adapter) PublishedState() logic.RelayState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.published
}

// OnDecision publishes an arbiter decision to the events topic. Registered
// as an arbiter observer.
func (a *Adapter) OnDecision(d arbiter.Decision) {
	payload, err := FormatEventPayload(d)
	if err != nil {
		log.Printf("mqtt: format event: %v", err)
		return
	}
	if err := a.client.Publish(a.topics.Events, 0, false, payload); err != nil {
		log.Printf("mqtt: publish event %s: %v", d.Request.ID, err)
	}
}

// HandleConnection reacts to the broker link going up or down. While down,
// MQTT requests are rejected OFFLINE. On connect the availability and the
// current relay state are republished.
func (a *Adapter) HandleConnection(up bool) {
	a.arb.SetLinkUp(logic.SourceMQTT, up)
	if !up {
		return
	}
	if err := a.client.Publish(a.topics.Status, 1, true, []byte(AvailabilityOnline)); err != nil {
		log.Printf("mqtt: publish availability: %v", err)
	}
	a.publishState(a.arb.State())
}

// PublishSystem sends a system lifecycle event.
func (a *Adapter) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	if err := a.client.Publish(a.topics.System, 1, event.Retained, payload); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// Shutdown marks the device offline.
func (a *Adapter) Shutdown() {
	if err := a.client.Publish(a.topics.Status, 1, true, []byte(AvailabilityOffline)); err != nil {
		log.Printf("mqtt: publish availability: %v", err)
	}
}
