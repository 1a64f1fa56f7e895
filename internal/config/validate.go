package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/door-opener/internal/gpio"
)

// MaxJitter bounds how late the relay may be released after its deadline.
// The relay is released on a poll tick, so the poll interval must stay below it.
const MaxJitter = 10 * time.Millisecond

// Validate checks the configuration and returns all problems at once.
func Validate(cfg Config) error {
	var errs []error

	switch cfg.Board {
	case BoardESP01OneRelay, BoardCustom:
	default:
		errs = append(errs, fmt.Errorf("board: unknown profile %q", cfg.Board))
	}

	switch cfg.GPIO.Backend {
	case gpio.BackendCdev, gpio.BackendPeriph:
	default:
		errs = append(errs, fmt.Errorf("gpio.backend: unknown backend %q", cfg.GPIO.Backend))
	}
	if cfg.GPIO.RelayPin < 0 {
		errs = append(errs, errors.New("gpio.relay_pin: must be >= 0"))
	}
	if cfg.GPIO.ButtonEnabled {
		if cfg.GPIO.ButtonPin < 0 {
			errs = append(errs, errors.New("gpio.button_pin: must be >= 0"))
		}
		if cfg.GPIO.ButtonPin == cfg.GPIO.RelayPin {
			errs = append(errs, errors.New("gpio.button_pin: must differ from relay_pin"))
		}
	}

	t := cfg.Timing
	if t.DefaultDuration <= 0 {
		errs = append(errs, errors.New("timing.default_duration: must be > 0"))
	}
	if t.MaxDuration < t.DefaultDuration {
		errs = append(errs, errors.New("timing.max_duration: must be >= default_duration"))
	}
	if t.Poll <= 0 || t.Poll >= MaxJitter {
		errs = append(errs, fmt.Errorf("timing.poll: must be in (0, %v)", MaxJitter))
	}
	if t.Debounce < 2*t.Poll {
		errs = append(errs, errors.New("timing.debounce: must be at least two poll intervals"))
	}
	if t.Heartbeat < 0 {
		errs = append(errs, errors.New("timing.heartbeat: must be >= 0"))
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker: required when mqtt is enabled"))
		}
		if cfg.MQTT.TopicRoot() == "" {
			errs = append(errs, errors.New("mqtt.topic: required when mqtt is enabled"))
		}
	}

	if cfg.HTTP.Addr != "" && cfg.HTTP.TriggerRatePerMin > 0 && cfg.HTTP.TriggerBurst <= 0 {
		errs = append(errs, errors.New("http.trigger_burst: must be > 0 when rate limiting"))
	}

	return errors.Join(errs...)
}
