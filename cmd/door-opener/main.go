// Command door-opener drives a door relay from a push button, MQTT commands
// and HTTP requests, and reports relay state to MQTT and HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/door-opener/internal/arbiter"
	"github.com/sweeney/door-opener/internal/config"
	"github.com/sweeney/door-opener/internal/gpio"
	"github.com/sweeney/door-opener/internal/logic"
	"github.com/sweeney/door-opener/internal/mqtt"
	"github.com/sweeney/door-opener/internal/relay"
	"github.com/sweeney/door-opener/internal/status"
	"github.com/sweeney/door-opener/internal/web"
)

func main() {
	def := config.Defaults()

	configPath := flag.String("config", "", "YAML config file (optional)")
	backend := flag.String("gpio-backend", def.GPIO.Backend, "GPIO backend: gpiocdev or periph")
	relayPin := flag.Int("relay-pin", def.GPIO.RelayPin, "GPIO line of the relay")
	buttonPin := flag.Int("button-pin", def.GPIO.ButtonPin, "GPIO line of the push button")
	noButton := flag.Bool("no-button", false, "Disable the push button")
	duration := flag.Duration("duration", def.Timing.DefaultDuration, "Default pulse duration")
	poll := flag.Duration("poll", def.Timing.Poll, "Scheduling loop interval")
	debounce := flag.Duration("debounce", def.Timing.Debounce, "Button debounce window")
	heartbeat := flag.Duration("heartbeat", def.Timing.Heartbeat, "Heartbeat interval (0 to disable)")
	broker := flag.String("broker", def.MQTT.Broker, "MQTT broker address")
	topic := flag.String("topic", def.MQTT.Topic, "MQTT topic root")
	noMQTT := flag.Bool("no-mqtt", false, "Disable MQTT")
	httpAddr := flag.String("http", def.HTTP.Addr, "HTTP address (empty to disable)")
	printState := flag.Bool("print-state", false, "Print the button level and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	// Flags given explicitly win over the file and the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "gpio-backend":
			cfg.GPIO.Backend = *backend
		case "relay-pin":
			cfg.GPIO.RelayPin = *relayPin
		case "button-pin":
			cfg.GPIO.ButtonPin = *buttonPin
		case "no-button":
			cfg.GPIO.ButtonEnabled = !*noButton
		case "duration":
			cfg.Timing.DefaultDuration = *duration
		case "poll":
			cfg.Timing.Poll = *poll
		case "debounce":
			cfg.Timing.Debounce = *debounce
		case "heartbeat":
			cfg.Timing.Heartbeat = *heartbeat
		case "broker":
			cfg.MQTT.Broker = *broker
		case "topic":
			cfg.MQTT.Topic = *topic
		case "no-mqtt":
			cfg.MQTT.Enabled = !*noMQTT
		case "http":
			cfg.HTTP.Addr = *httpAddr
		}
	})

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("fatal: invalid config: %v", err)
	}

	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config, printState bool) error {
	var reader gpio.Reader
	if cfg.GPIO.ButtonEnabled {
		r, err := gpio.NewReader(cfg.GPIO.Backend, gpio.Line{
			Chip:      cfg.GPIO.Chip,
			Pin:       cfg.GPIO.ButtonPin,
			ActiveLow: cfg.GPIO.ButtonActiveLow,
		})
		if err != nil {
			return fmt.Errorf("init button: %w", err)
		}
		defer r.Close()
		reader = r
	}

	// Print state mode
	if printState {
		if reader == nil {
			fmt.Println("button: disabled")
			return nil
		}
		pressed, err := reader.Read()
		if err != nil {
			return fmt.Errorf("read button: %w", err)
		}
		fmt.Printf("button: %s\n", levelString(pressed))
		return nil
	}

	pin, err := gpio.NewWriter(cfg.GPIO.Backend, gpio.Line{
		Chip:      cfg.GPIO.Chip,
		Pin:       cfg.GPIO.RelayPin,
		ActiveLow: cfg.GPIO.RelayActiveLow,
	})
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer pin.Close()

	act := relay.New(pin, cfg.Timing.DefaultDuration)
	arb := arbiter.New(act, cfg.Timing.MaxDuration, time.Now)

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	act.Observe(tracker.OnTransition)

	// Network sources stay OFFLINE until their link is up.
	arb.SetLinkUp(logic.SourceMQTT, false)
	arb.SetLinkUp(logic.SourceHTTP, false)

	var adapter *mqtt.Adapter
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Enabled {
		topics := mqtt.NewTopics(cfg.MQTT.TopicRoot())
		// paho may connect before the adapter exists; its callbacks wait.
		ready := make(chan struct{})
		client, err := mqtt.NewRealClient(mqtt.Options{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.HostName,
			Username:  cfg.MQTT.User,
			Password:  cfg.MQTT.Password,
			WillTopic: topics.Status,
			OnConnect: func() {
				<-ready
				tracker.SetMQTTConnected(true)
				adapter.HandleConnection(true)
			},
			OnConnectionLost: func(error) {
				<-ready
				tracker.SetMQTTConnected(false)
				adapter.HandleConnection(false)
			},
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer client.Close()

		adapter = mqtt.NewAdapter(client, arb, cfg.MQTT.TopicRoot(), time.Now)
		act.Observe(adapter.OnTransition)
		arb.Observe(adapter.OnDecision)
		if err := adapter.Start(); err != nil {
			log.Printf("mqtt: %v", err)
		}
		close(ready)
		mqttStatus = client
	}

	// Publish startup event with full status snapshot
	if adapter != nil {
		snap := tracker.Snapshot()
		startupEvent := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := adapter.PublishSystem(startupEvent); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		} else {
			log.Printf("published startup event")
		}
	}

	// Start HTTP server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, arb, web.Options{
			TriggerRatePerMin: cfg.HTTP.TriggerRatePerMin,
			TriggerBurst:      cfg.HTTP.TriggerBurst,
		})
		ln, err := net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			log.Printf("http: listen %s: %v", cfg.HTTP.Addr, err)
		} else {
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Printf("http server error: %v", err)
					arb.SetLinkUp(logic.SourceHTTP, false)
				}
			}()
			defer srv.Shutdown(context.Background())
			arb.SetLinkUp(logic.SourceHTTP, true)
			log.Printf("http server listening on %s", cfg.HTTP.Addr)
		}
	}

	log.Printf("started: board=%s relay=%d button=%s duration=%v poll=%v debounce=%v heartbeat=%v",
		cfg.Board, cfg.GPIO.RelayPin, buttonString(cfg.GPIO), cfg.Timing.DefaultDuration,
		cfg.Timing.Poll, cfg.Timing.Debounce, cfg.Timing.Heartbeat)

	ticker := time.NewTicker(cfg.Timing.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := loopDeps{
		relay:      act,
		arb:        arb,
		tracker:    tracker,
		mqttStatus: mqttStatus,
		heartbeat:  cfg.Timing.Heartbeat,
	}
	if reader != nil {
		d.button = gpio.NewButton(reader, cfg.Timing.Debounce)
	}
	if adapter != nil {
		d.adapter = adapter
	}
	return runLoop(d, time.Now, ticker.C, sigCh)
}

// systemPublisher is the part of the MQTT adapter the loop uses.
type systemPublisher interface {
	PublishSystem(event mqtt.SystemEvent) error
	Shutdown()
}

// loopDeps are the collaborators of the scheduling loop. button, adapter
// and mqttStatus are nil when disabled.
type loopDeps struct {
	button     *gpio.Button
	relay      *relay.Actuator
	arb        *arbiter.Arbiter
	adapter    systemPublisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
}

// runLoop is the single scheduling loop: each tick it ends an expired pulse,
// samples the button and refreshes the status tracker. It returns after a
// signal, with the relay released.
func runLoop(d loopDeps, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := now()
	readFailing := false

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			t := now()
			// No request may start a pulse once the loop stops advancing the relay.
			d.arb.Close()
			if err := d.relay.ForceIdle(t); err != nil {
				log.Printf("relay: %v", err)
			}
			if d.adapter == nil {
				return nil
			}
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			refresh(d)
			snap := d.tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  t,
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := d.adapter.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			d.adapter.Shutdown()
			return nil

		case <-tick:
			t := now()
			d.relay.Advance(t)

			if d.button != nil {
				edge, err := d.button.Poll(t)
				switch {
				case err != nil:
					// Input degraded; MQTT and HTTP keep working.
					if !readFailing {
						log.Printf("gpio: %v", err)
						readFailing = true
					}
				case readFailing:
					log.Printf("gpio: button read recovered")
					readFailing = false
				}
				if edge != nil {
					log.Printf("button: %s", edge.Level)
					if edge.Level == logic.LevelPressed {
						// The arbiter logs and reports the decision.
						d.arb.RequestPulse(logic.NewPulseRequest(logic.SourceButton, 0, t))
					}
				}
			}

			refresh(d)

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				snap := d.tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v relay=%s pulses=%d", t.Sub(snap.StartTime).Truncate(time.Second),
					snap.Relay.State, snap.Relay.Pulses)
				if d.adapter != nil {
					hbEvent := mqtt.SystemEvent{
						Timestamp:  t,
						Event:      "HEARTBEAT",
						RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
					}
					if err := d.adapter.PublishSystem(hbEvent); err != nil {
						log.Printf("heartbeat publish error: %v", err)
					}
				}
			}
		}
	}
}

// refresh copies button, request and connection state into the tracker.
func refresh(d loopDeps) {
	if d.button != nil {
		d.tracker.UpdateButton(d.button.State())
	}
	d.tracker.UpdateRequests(d.arb.Counts())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func statusConfig(cfg config.Config) status.Config {
	sc := status.Config{
		HostName:          cfg.HostName,
		Board:             cfg.Board,
		RelayPin:          cfg.GPIO.RelayPin,
		ButtonPin:         -1,
		DefaultDurationMs: cfg.Timing.DefaultDuration.Milliseconds(),
		MaxDurationMs:     cfg.Timing.MaxDuration.Milliseconds(),
		PollMs:            cfg.Timing.Poll.Milliseconds(),
		DebounceMs:        cfg.Timing.Debounce.Milliseconds(),
		HeartbeatMs:       cfg.Timing.Heartbeat.Milliseconds(),
		HTTPAddr:          cfg.HTTP.Addr,
	}
	if cfg.GPIO.ButtonEnabled {
		sc.ButtonPin = cfg.GPIO.ButtonPin
	}
	if cfg.MQTT.Enabled {
		sc.Broker = cfg.MQTT.Broker
		sc.Topic = cfg.MQTT.TopicRoot()
	}
	return sc
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func levelString(pressed bool) string {
	if pressed {
		return string(logic.LevelPressed)
	}
	return string(logic.LevelReleased)
}

func buttonString(g config.GPIOConfig) string {
	if !g.ButtonEnabled {
		return "disabled"
	}
	return fmt.Sprintf("%d", g.ButtonPin)
}
