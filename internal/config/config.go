// Package config loads and validates the flight computer's YAML
// configuration and watches the file for changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/flight-computer/internal/gpio"
	"github.com/sweeney/flight-computer/internal/pyro"
)

// Modes.
const (
	ModeFlightComputer = "flight_computer"
	ModePassive        = "passive"
)

type Config struct {
	Mode     string         `yaml:"mode"`
	Hardware HardwareConfig `yaml:"hardware"`
	Pyro     PyroConfig     `yaml:"pyro"`
	Flight   FlightConfig   `yaml:"flight"`
	Battery  BatteryConfig  `yaml:"battery"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Sim      SimConfig      `yaml:"sim"`
}

type HardwareConfig struct {
	GPIOChip string         `yaml:"gpio_chip"`
	Channels []gpio.PinPair `yaml:"channels"`
}

type PyroConfig struct {
	Channels   []pyro.ChannelConfig `yaml:"channels"`
	PulseWidth time.Duration        `yaml:"pulse_width"`
}

// FlightConfig tunes the phase detector's median filters.
type FlightConfig struct {
	BaroWindow  int `yaml:"baro_window"`
	GPSWindow   int `yaml:"gps_window"`
	AccelWindow int `yaml:"accel_window"`
}

type BatteryConfig struct {
	// LowVolts enables the low battery checks when > 0.
	LowVolts float64 `yaml:"low_volts"`
}

type MQTTConfig struct {
	Broker      string        `yaml:"broker"` // empty disables telemetry
	TopicPrefix string        `yaml:"topic_prefix"`
	ClientID    string        `yaml:"client_id"`
	Heartbeat   time.Duration `yaml:"heartbeat"` // 0 disables
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type SimConfig struct {
	Enable  bool    `yaml:"enable"`
	Speed   float64 `yaml:"speed"`
	MainAlt float64 `yaml:"main_alt"` // altitude the simulated main opens at
	Noise   float64 `yaml:"noise"`    // baro noise amplitude, metres
}

// FlightComputer reports whether pyro channels follow flight events.
func (c Config) FlightComputer() bool { return c.Mode == ModeFlightComputer }

// Default returns a configuration for a two channel drogue/main vehicle.
func Default() Config {
	cfg := Config{
		Hardware: HardwareConfig{
			Channels: []gpio.PinPair{{Fire: 5, Continuity: 6}, {Fire: 13, Continuity: 19}},
		},
		Pyro: PyroConfig{
			Channels: []pyro.ChannelConfig{
				{Type: pyro.TypeDrogue},
				{Type: pyro.TypeMain, MainAlt: 300},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeFlightComputer
	}
	if c.Hardware.GPIOChip == "" {
		c.Hardware.GPIOChip = gpio.DefaultChip
	}
	if c.Pyro.PulseWidth <= 0 {
		c.Pyro.PulseWidth = pyro.DefaultPulseWidth
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "rocket/fc"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "flight-computer"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Sim.Speed <= 0 {
		c.Sim.Speed = 1
	}
	if c.Sim.MainAlt <= 0 {
		c.Sim.MainAlt = 300
	}
}

// Validate checks the whole configuration and reports every problem.
func (c Config) Validate() error {
	var errs []error
	if c.Mode != ModeFlightComputer && c.Mode != ModePassive {
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeFlightComputer, ModePassive, c.Mode))
	}
	n := len(c.Pyro.Channels)
	if n == 0 || n > pyro.MaxChannels {
		errs = append(errs, fmt.Errorf("pyro.channels: need 1..%d channels, got %d", pyro.MaxChannels, n))
	}
	if !c.Sim.Enable && len(c.Hardware.Channels) != n {
		errs = append(errs, fmt.Errorf("hardware.channels: %d pin pairs for %d pyro channels", len(c.Hardware.Channels), n))
	}
	for i, ch := range c.Pyro.Channels {
		if err := ch.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pyro.channels[%d]: %w", i, err))
		}
	}
	if c.Battery.LowVolts < 0 {
		errs = append(errs, errors.New("battery.low_volts must not be negative"))
	}
	if c.Flight.BaroWindow < 0 || c.Flight.GPSWindow < 0 || c.Flight.AccelWindow < 0 {
		errs = append(errs, errors.New("flight windows must not be negative"))
	}
	return errors.Join(errs...)
}

// Load reads, defaults and validates the file at path. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
