//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "flight-computer"

// realChannel is one igniter on the Linux GPIO character device.
type realChannel struct {
	fire *gpiocdev.Line
	cont *gpiocdev.Line
}

// NewRealBank requests the fire and continuity lines of every channel on
// chip. Fire lines start low. On error, lines already requested are closed.
func NewRealBank(chip string, pins []PinPair) ([]Channel, error) {
	if chip == "" {
		chip = DefaultChip
	}
	chs := make([]Channel, 0, len(pins))
	for i, p := range pins {
		ch, err := newRealChannel(chip, p)
		if err != nil {
			_ = CloseAll(chs)
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		chs = append(chs, ch)
	}
	return chs, nil
}

func newRealChannel(chip string, p PinPair) (*realChannel, error) {
	fire, err := gpiocdev.RequestLine(chip, p.Fire, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request fire pin %d: %w", p.Fire, err)
	}
	cont, err := gpiocdev.RequestLine(chip, p.Continuity,
		gpiocdev.AsInput, gpiocdev.WithPullDown, gpiocdev.WithConsumer(consumer))
	if err != nil {
		_ = fire.SetValue(0)
		fire.Close()
		return nil, fmt.Errorf("request continuity pin %d: %w", p.Continuity, err)
	}
	return &realChannel{fire: fire, cont: cont}, nil
}

func (c *realChannel) SetFire(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := c.fire.SetValue(v); err != nil {
		return fmt.Errorf("set fire line: %w", err)
	}
	return nil
}

// Continuity reads the sense line; the igniter pulls it high.
func (c *realChannel) Continuity() (bool, error) {
	v, err := c.cont.Value()
	if err != nil {
		return false, fmt.Errorf("read continuity line: %w", err)
	}
	return v == 1, nil
}

// Close drives the fire line low and returns both lines to inputs with
// pull-down, the Pi boot default, before releasing them.
func (c *realChannel) Close() error {
	var errs []error
	if c.fire != nil {
		if err := c.fire.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear fire line: %w", err))
		}
		if err := c.fire.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure fire line: %w", err))
		}
		if err := c.fire.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fire line: %w", err))
		}
		c.fire = nil
	}
	if c.cont != nil {
		if err := c.cont.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close continuity line: %w", err))
		}
		c.cont = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
