package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker/v2"
)

const (
	publishTimeout = 5 * time.Second
	connectWait    = 3 * time.Second
	closeTimeout   = 3 * time.Second
	bufferSize     = 100

	defaultRetryInterval = time.Second

	breakerFailures = 3
	breakerTimeout  = 30 * time.Second
)

var (
	errPublishTimeout = errors.New("publish timeout")
	errClosed         = errors.New("client closed")
)

// Options configures a RealClient.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// WillTopic receives a retained "offline" if the connection drops
	// without a clean disconnect. Empty disables the will.
	WillTopic string

	// RetryInterval is the pause after a failed send. Zero means one second.
	RetryInterval time.Duration

	// OnConnect and OnConnectionLost are called from paho goroutines.
	OnConnect        func()
	OnConnectionLost func(err error)
}

type subscription struct {
	qos     byte
	handler Handler
}

// RealClient publishes to and subscribes on an actual MQTT broker.
//
// Publish never blocks the caller. Messages go to a bounded outbox that a
// single sender goroutine drains in order, through a circuit breaker,
// whenever the connection is open. A failed send stays at the head of the
// outbox and is retried.
type RealClient struct {
	client  paho.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	retry   time.Duration
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	outbox *outbox
	subs   map[string]subscription
	closed bool
}

// NewRealClient creates a client and starts connecting to the broker. A
// broker that is down at startup is not an error: paho keeps retrying in
// the background and OnConnect fires once it succeeds.
func NewRealClient(o Options) (*RealClient, error) {
	return newRealClient(o, paho.NewClient)
}

func newRealClient(o Options, newClient func(*paho.ClientOptions) paho.Client) (*RealClient, error) {
	c := &RealClient{
		retry:  o.RetryInterval,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		outbox: newOutbox(bufferSize),
		subs:   make(map[string]subscription),
	}
	if c.retry <= 0 {
		c.retry = defaultRetryInterval
	}
	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "mqtt-publish",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("mqtt: breaker %s %s -> %s", name, from, to)
		},
	})

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if o.WillTopic != "" {
		opts.SetWill(o.WillTopic, AvailabilityOffline, 1, true)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Printf("mqtt: connected to %s", o.Broker)
		c.resubscribe()
		c.kick()
		if o.OnConnect != nil {
			o.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
		if o.OnConnectionLost != nil {
			o.OnConnectionLost(err)
		}
	})

	c.client = newClient(opts)
	token := c.client.Connect()
	if token.WaitTimeout(connectWait) && token.Error() != nil {
		return nil, fmt.Errorf("connect to broker: %w", token.Error())
	}

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// IsConnected reports whether the connection to the broker is open.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish queues a message for sending. A retained message replaces any
// queued retained message on the same topic.
func (c *RealClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.outbox.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
	c.mu.Unlock()

	c.kick()
	return nil
}

// Pending returns the number of messages not yet delivered to the broker.
func (c *RealClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbox.len()
}

// Subscribe registers h for topic. The subscription is re-established on
// every reconnect.
func (c *RealClient) Subscribe(topic string, qos byte, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: h}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	token := c.client.Subscribe(topic, qos, wrap(h))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Close sends whatever is queued while the connection is open, then
// disconnects from the broker.
func (c *RealClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(closeTimeout):
		log.Printf("mqtt: close timed out with messages still queued")
	}
	if left := c.Pending(); left > 0 {
		log.Printf("mqtt: discarding %d unsent messages", left)
	}

	c.client.Disconnect(1000) // 1 second timeout
	return nil
}

// kick wakes the sender without blocking.
func (c *RealClient) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *RealClient) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *RealClient) run() {
	defer c.wg.Done()
	for {
		msg, ok := c.next()
		if !ok {
			if c.closing() {
				return
			}
			select {
			case <-c.wake:
			case <-c.done:
			}
			continue
		}

		if err := c.send(msg); err != nil {
			if !errors.Is(err, gobreaker.ErrOpenState) {
				log.Printf("mqtt: publish %s: %v", msg.topic, err)
			}
			if c.closing() {
				return
			}
			select {
			case <-time.After(c.retry):
			case <-c.done:
			}
			continue
		}

		c.mu.Lock()
		c.outbox.remove(msg.seq)
		c.mu.Unlock()
	}
}

// next returns the oldest queued message, or false while there is nothing
// to send or the connection is down.
func (c *RealClient) next() (bufferedMsg, bool) {
	if !c.client.IsConnectionOpen() {
		return bufferedMsg{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbox.peek()
}

func (c *RealClient) send(msg bufferedMsg) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		token := c.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(publishTimeout) {
			return struct{}{}, errPublishTimeout
		}
		return struct{}{}, token.Error()
	})
	return err
}

func (c *RealClient) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	c.mu.Unlock()

	for topic, s := range subs {
		token := c.client.Subscribe(topic, s.qos, wrap(s.handler))
		go func(topic string) {
			if token.WaitTimeout(publishTimeout) && token.Error() != nil {
				log.Printf("mqtt: subscribe %s: %v", topic, token.Error())
			}
		}(topic)
	}
}

func wrap(h Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload(), m.Retained())
	}
}
