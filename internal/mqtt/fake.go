package mqtt

import (
	"sync"
)

// Message is a message recorded by FakeClient.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// FakeClient records published messages and lets tests deliver messages to
// subscribed handlers. It is safe for concurrent use.
type FakeClient struct {
	mu sync.Mutex

	messages []Message
	subs     map[string]Handler

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	closed    bool
	connected bool
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{subs: make(map[string]Handler)}
}

// Publish records the message.
func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.messages = append(f.messages, Message{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

// Subscribe records the handler for topic.
func (f *FakeClient) Subscribe(topic string, qos byte, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.subs[topic] = h
	return nil
}

// Deliver calls the handler subscribed to topic, as the broker would.
// It reports whether a handler was found.
func (f *FakeClient) Deliver(topic string, payload []byte, retained bool) bool {
	f.mu.Lock()
	h := f.subs[topic]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(topic, payload, retained)
	return true
}

// Subscribed reports whether a handler is registered for topic.
func (f *FakeClient) Subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[topic] != nil
}

// Messages returns every published message in order.
func (f *FakeClient) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

// Published returns the messages published to topic in order.
func (f *FakeClient) Published(topic string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Payloads returns the payloads published to topic as strings.
func (f *FakeClient) Payloads(topic string) []string {
	var out []string
	for _, m := range f.Published(topic) {
		out = append(out, string(m.Payload))
	}
	return out
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetConnected controls the return value of IsConnected.
func (f *FakeClient) SetConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	f.mu.Unlock()
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Reset clears recorded messages and injected errors. Subscriptions are kept.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
	f.PublishError = nil
	f.SubscribeError = nil
	f.closed = false
}
