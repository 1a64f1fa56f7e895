// Package config loads the immutable door-opener configuration.
//
// Values are layered: Defaults (the ESP01 one-relay board profile), then an
// optional YAML file, then DOOR_* environment variables. Command-line flags
// are applied by the caller before Validate.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/door-opener/internal/gpio"
)

// Board profile names.
const (
	BoardESP01OneRelay = "esp01-one-relay"
	BoardCustom        = "custom"
)

// Config is the top-level configuration. It is loaded once at startup and
// never mutated afterwards.
type Config struct {
	Board    string       `yaml:"board"`
	HostName string       `yaml:"host_name"`
	GPIO     GPIOConfig   `yaml:"gpio"`
	Timing   TimingConfig `yaml:"timing"`
	MQTT     MQTTConfig   `yaml:"mqtt"`
	HTTP     HTTPConfig   `yaml:"http"`
}

// GPIOConfig describes the relay and button wiring.
type GPIOConfig struct {
	Backend         string `yaml:"backend"` // "gpiocdev" or "periph"
	Chip            string `yaml:"chip"`
	RelayPin        int    `yaml:"relay_pin"`
	RelayActiveLow  bool   `yaml:"relay_active_low"`
	ButtonPin       int    `yaml:"button_pin"`
	ButtonEnabled   bool   `yaml:"button_enabled"`
	ButtonActiveLow bool   `yaml:"button_active_low"`
}

// TimingConfig holds pulse and scheduling durations.
type TimingConfig struct {
	DefaultDuration time.Duration `yaml:"default_duration"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	Poll            time.Duration `yaml:"poll"`
	Debounce        time.Duration `yaml:"debounce"`
	Heartbeat       time.Duration `yaml:"heartbeat"` // 0 disables
}

// MQTTConfig defines broker connection settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// HTTPConfig defines the command and status server.
type HTTPConfig struct {
	Addr              string `yaml:"addr"` // empty disables
	TriggerRatePerMin int    `yaml:"trigger_rate_per_min"`
	TriggerBurst      int    `yaml:"trigger_burst"`
}

// TopicRoot returns the MQTT topic prefix without a trailing slash.
func (m MQTTConfig) TopicRoot() string {
	return strings.TrimRight(m.Topic, "/")
}

// Defaults returns the configuration of the ESP01 one-relay board.
func Defaults() Config {
	cfg := Config{
		HostName: "Door2",
		GPIO: GPIOConfig{
			Backend:   gpio.BackendCdev,
			Chip:      gpio.DefaultChip,
			ButtonPin: gpio.DefaultButtonPin,
		},
		Timing: TimingConfig{
			MaxDuration: 10 * time.Second,
			Poll:        5 * time.Millisecond,
			Debounce:    20 * time.Millisecond,
			Heartbeat:   15 * time.Minute,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker:  "tcp://192.168.10.102:1883",
			User:    "mqtt",
			Topic:   "/Haus/Garten/",
		},
		HTTP: HTTPConfig{
			Addr:              ":80",
			TriggerRatePerMin: 30,
			TriggerBurst:      5,
		},
	}
	applyBoard(&cfg, BoardESP01OneRelay)
	return cfg
}

// applyBoard overwrites the wiring fields a board profile defines.
func applyBoard(cfg *Config, board string) {
	cfg.Board = board
	switch board {
	case BoardESP01OneRelay:
		cfg.GPIO.RelayPin = gpio.DefaultRelayPin
		cfg.GPIO.ButtonEnabled = true
		cfg.GPIO.ButtonActiveLow = true
		cfg.Timing.DefaultDuration = 200 * time.Millisecond
	}
}

// Load reads the YAML file at path on top of Defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := parse(&cfg, data); err != nil {
				return Config{}, err
			}
		}
	}

	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

// parse decodes data in two passes: the first finds the board profile, the
// second lets explicit fields win over the profile.
func parse(cfg *Config, data []byte) error {
	var head struct {
		Board string `yaml:"board"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if head.Board != "" && head.Board != cfg.Board {
		applyBoard(cfg, head.Board)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Environment variable names.
const (
	EnvHostName     = "DOOR_HOST_NAME"
	EnvGPIOBackend  = "DOOR_GPIO_BACKEND"
	EnvMQTTBroker   = "DOOR_MQTT_BROKER"
	EnvMQTTUser     = "DOOR_MQTT_USER"
	EnvMQTTPassword = "DOOR_MQTT_PASSWORD"
	EnvMQTTTopic    = "DOOR_MQTT_TOPIC"
	EnvHTTPAddr     = "DOOR_HTTP_ADDR"
)

// ApplyEnvOverrides overrides config values from DOOR_* environment
// variables. Credentials are usually supplied this way.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvHostName); v != "" {
		cfg.HostName = v
	}
	if v := os.Getenv(EnvGPIOBackend); v != "" {
		cfg.GPIO.Backend = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv(EnvMQTTUser); v != "" {
		cfg.MQTT.User = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv(EnvMQTTTopic); v != "" {
		cfg.MQTT.Topic = v
	}
	if v, ok := os.LookupEnv(EnvHTTPAddr); ok {
		cfg.HTTP.Addr = v
	}
}
