// Package gpio drives the igniter lines: one output that fires the igniter
// and one input that senses continuity through it. The real implementation
// uses the Linux GPIO character device; FakeChannel stands in for tests and
// the simulator.
package gpio

import "errors"

// Channel is one igniter: a fire output and a continuity sense input.
type Channel interface {
	// SetFire drives the fire output.
	SetFire(on bool) error

	// Continuity reports whether current can flow through the igniter.
	Continuity() (bool, error)

	// Close drives the output low and releases the lines.
	Close() error
}

// PinPair is the line offsets of one channel.
type PinPair struct {
	Fire       int `yaml:"fire_pin"`
	Continuity int `yaml:"continuity_pin"`
}

// DefaultChip is the Raspberry Pi header GPIO chip.
const DefaultChip = "gpiochip0"

// ErrUnsupported is returned by NewRealBank off Linux.
var ErrUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// CloseAll closes every channel, returning the first error.
func CloseAll(chs []Channel) error {
	var first error
	for _, ch := range chs {
		if err := ch.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
