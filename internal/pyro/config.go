// Package pyro sequences the igniter channels: it turns flight events into
// delayed, interlocked firing pulses and watches igniter continuity.
package pyro

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxChannels is the largest bank the controller drives.
const MaxChannels = 8

// DefaultPulseWidth is how long a fire output stays asserted.
const DefaultPulseWidth = 500 * time.Millisecond

var (
	// ErrChannelCount is returned when a configuration does not match the
	// number of hardware channels.
	ErrChannelCount = errors.New("pyro: channel count mismatch")
	// ErrUnknownType is returned when parsing an unrecognised channel type.
	ErrUnknownType = errors.New("pyro: unknown channel type")
)

// Type is what a channel is used for, which decides its trigger.
type Type int

const (
	TypeDisabled Type = iota
	TypeDrogue
	TypeMain
	TypeAirstart
	TypeBurnout
)

var typeNames = [...]string{
	TypeDisabled: "disabled",
	TypeDrogue:   "drogue",
	TypeMain:     "main",
	TypeAirstart: "airstart",
	TypeBurnout:  "burnout",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType accepts the lower-case names used in configuration files.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if strings.EqualFold(s, name) {
			return Type(i), nil
		}
	}
	return TypeDisabled, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// MarshalText implements encoding.TextMarshaler for YAML and JSON.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML and JSON.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ChannelConfig is the configuration of one channel. It is replaced as a
// whole, only while disarmed.
type ChannelConfig struct {
	Type         Type    `yaml:"channelType" json:"channelType"`
	DelaySeconds float64 `yaml:"delayS" json:"delayS"`

	// MainAlt is the AGL at or below which a main channel triggers after
	// apogee, metres.
	MainAlt float64 `yaml:"mainAlt,omitempty" json:"mainAlt,omitempty"`

	// BurnoutNumber selects the burnout (1-based) that triggers a burnout
	// or airstart channel.
	BurnoutNumber int `yaml:"burnoutNum,omitempty" json:"burnoutNum,omitempty"`

	// Airstart interlocks. All three are always checked: AGL and vertical
	// velocity must exceed their thresholds and |pitch| and |yaw| must be
	// below the angle.
	AirstartLockoutAltitude float64 `yaml:"airstartAlt,omitempty" json:"airstartAlt,omitempty"`
	AirstartLockoutAngle    float64 `yaml:"airstartAngle,omitempty" json:"airstartAngle,omitempty"`
	AirstartLockoutVelocity float64 `yaml:"airstartVel,omitempty" json:"airstartVel,omitempty"`
}

// Delay returns DelaySeconds as a duration.
func (c ChannelConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// Validate checks the fields that apply to the channel's type.
func (c ChannelConfig) Validate() error {
	if c.Type < TypeDisabled || c.Type > TypeBurnout {
		return fmt.Errorf("%w: %d", ErrUnknownType, int(c.Type))
	}
	if c.DelaySeconds < 0 {
		return fmt.Errorf("delayS must not be negative, got %v", c.DelaySeconds)
	}
	switch c.Type {
	case TypeMain:
		if c.MainAlt <= 0 {
			return fmt.Errorf("main channel needs mainAlt > 0, got %v", c.MainAlt)
		}
	case TypeBurnout, TypeAirstart:
		if c.BurnoutNumber < 1 {
			return fmt.Errorf("%s channel needs burnoutNum >= 1, got %d", c.Type, c.BurnoutNumber)
		}
	}
	if c.AirstartLockoutAltitude < 0 || c.AirstartLockoutAngle < 0 || c.AirstartLockoutVelocity < 0 {
		return errors.New("airstart lockouts must not be negative")
	}
	return nil
}
