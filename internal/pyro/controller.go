package pyro

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/flight"
	"github.com/sweeney/flight-computer/internal/gpio"
	"github.com/sweeney/flight-computer/internal/log"
	"github.com/sweeney/flight-computer/internal/metrics"
)

// State is a channel's position in its Idle → DelayPending → Firing cycle.
type State int

const (
	StateIdle State = iota
	StateDelayPending
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDelayPending:
		return "delay_pending"
	case StateFiring:
		return "firing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{StateIdle, StateDelayPending, StateFiring} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("pyro: unknown channel state %q", b)
}

// Estimator supplies the live flight state used by the main trigger and the
// airstart interlocks. flight.Machine implements it.
type Estimator interface {
	Estimate() flight.Estimate
}

// SubscribeMask is the set of events the controller acts on.
const SubscribeMask = event.KindArm | event.KindDisarm | event.KindLiftoff |
	event.KindBurnout | event.KindApogee | event.KindLanding

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	PulseWidth time.Duration
	// Now stamps manual test fires; Tick and events carry their own time.
	Now    func() time.Time
	Logger *zerolog.Logger
}

// ChannelStatus is a read-only view of one channel.
type ChannelStatus struct {
	Index      int           `json:"index"`
	Config     ChannelConfig `json:"config"`
	Continuity bool          `json:"continuity"`
	State      State         `json:"state"`
	Triggered  bool          `json:"triggered"`
}

type channel struct {
	index       int
	label       string
	line        gpio.Channel
	cfg         ChannelConfig
	continuity  bool
	state       State
	delayStart  time.Time
	firingStart time.Time
	triggered   bool
}

// Controller owns the igniter channels. The channel count is fixed at
// construction and indices never change.
type Controller struct {
	bus   event.Publisher
	est   Estimator
	log   zerolog.Logger
	pulse time.Duration
	now   func() time.Time

	mu             sync.RWMutex
	chans          []*channel
	armed          bool
	liftedOff      bool
	postApogee     bool
	flightComputer bool
}

// NewController creates a controller with every channel disabled and
// samples initial continuity without publishing it.
func NewController(bus event.Publisher, lines []gpio.Channel, est Estimator, opts Options) (*Controller, error) {
	if len(lines) == 0 || len(lines) > MaxChannels {
		return nil, fmt.Errorf("%w: %d lines, want 1..%d", ErrChannelCount, len(lines), MaxChannels)
	}
	if opts.PulseWidth <= 0 {
		opts.PulseWidth = DefaultPulseWidth
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := log.WithComponent("pyro")
	if opts.Logger != nil {
		l = *opts.Logger
	}

	c := &Controller{
		bus:            bus,
		est:            est,
		log:            l,
		pulse:          opts.PulseWidth,
		now:            opts.Now,
		flightComputer: true,
	}
	for i, line := range lines {
		ch := &channel{index: i, label: strconv.Itoa(i), line: line}
		if ok, err := line.Continuity(); err == nil {
			ch.continuity = ok
		}
		c.setContinuityGauge(ch)
		c.chans = append(c.chans, ch)
	}
	return c, nil
}

// Subscribe registers the controller on the bus.
func (c *Controller) Subscribe(bus event.Subscriber) error {
	return bus.Subscribe(c.HandleEvent, SubscribeMask)
}

// Arm enables triggers for a new flight.
func (c *Controller) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
	c.liftedOff = false
	c.postApogee = false
	for _, ch := range c.chans {
		ch.triggered = false
	}
	c.log.Info().Str(log.FieldEvent, "pyro.armed").Msg("pyro armed")
}

// Disarm stops every channel and clears pending delays. It is always safe
// to call.
func (c *Controller) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked()
}

func (c *Controller) disarmLocked() {
	was := c.armed
	c.armed = false
	c.liftedOff = false
	c.postApogee = false
	for _, ch := range c.chans {
		if ch.state == StateFiring {
			c.stopFiring(ch, "disarm")
		}
		ch.state = StateIdle
		ch.triggered = false
	}
	if was {
		c.log.Info().Str(log.FieldEvent, "pyro.disarmed").Msg("pyro disarmed")
	}
}

// Armed reports whether triggers are enabled.
func (c *Controller) Armed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.armed
}

// Configure replaces the whole channel configuration. The controller is
// disarmed first so no channel changes meaning mid-fire. With
// flightComputer false, flight events and delays never trigger a channel;
// continuity sensing and test fires still work.
func (c *Controller) Configure(cfgs []ChannelConfig, flightComputer bool) error {
	if len(cfgs) != len(c.chans) {
		return fmt.Errorf("%w: got %d configs for %d channels", ErrChannelCount, len(cfgs), len(c.chans))
	}
	var errs []error
	for i, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked()
	for i, cfg := range cfgs {
		c.chans[i].cfg = cfg
	}
	c.flightComputer = flightComputer
	c.log.Info().Str(log.FieldEvent, "pyro.configured").
		Bool("flight_computer", flightComputer).
		Int("channels", len(cfgs)).Msg("channel configuration applied")
	return nil
}

// TestFire pulses channel i for a ground continuity test. It is refused
// while armed or for an index out of range.
func (c *Controller) TestFire(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed || i < 0 || i >= len(c.chans) {
		c.log.Warn().Str(log.FieldEvent, "pyro.test_refused").
			Int(log.FieldChannel, i).Bool("armed", c.armed).Msg("test fire refused")
		return false
	}
	ch := c.chans[i]
	if ch.state == StateFiring {
		return true
	}
	c.startFiring(ch, c.now(), "test")
	return true
}

// Tick runs one control cycle: continuity sampling, pulse expiry, main
// altitude triggers, and delay expiry.
func (c *Controller) Tick(now time.Time) {
	var est flight.Estimate
	if c.est != nil {
		est = c.est.Estimate()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.chans {
		c.sampleContinuity(ch)

		if ch.state == StateFiring && now.Sub(ch.firingStart) >= c.pulse {
			c.stopFiring(ch, "pulse complete")
			ch.state = StateIdle
		}

		if !c.flightComputer || !c.armed || !c.liftedOff {
			continue
		}

		if ch.cfg.Type == TypeMain && c.postApogee && !ch.triggered &&
			ch.state == StateIdle && est.AGL <= ch.cfg.MainAlt {
			c.beginDelay(ch, now)
		}
		if ch.state == StateDelayPending && now.Sub(ch.delayStart) >= ch.cfg.Delay() {
			if !ch.continuity {
				c.log.Error().Str(log.FieldEvent, "pyro.no_continuity").
					Int(log.FieldChannel, ch.index).Msg("delay expired without continuity, not firing")
				ch.state = StateIdle
				continue
			}
			c.startFiring(ch, now, ch.cfg.Type.String())
		}
	}
}

// HandleEvent applies a bus event. It runs on the dispatch goroutine.
func (c *Controller) HandleEvent(e event.Event) {
	switch e.Kind {
	case event.KindArm:
		c.Arm()
	case event.KindDisarm, event.KindLanding:
		c.Disarm()
	case event.KindLiftoff:
		c.mu.Lock()
		if c.armed {
			c.liftedOff = true
		}
		c.mu.Unlock()
	case event.KindApogee:
		c.onApogee(e.Timestamp)
	case event.KindBurnout:
		c.onBurnout(int(e.Args.Int(0)), e.Timestamp)
	}
}

func (c *Controller) onApogee(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed || !c.liftedOff {
		return
	}
	c.postApogee = true
	if !c.flightComputer {
		return
	}
	for _, ch := range c.chans {
		if ch.cfg.Type == TypeDrogue && !ch.triggered && ch.state == StateIdle {
			c.beginDelay(ch, at)
		}
	}
}

// onBurnout reads the estimate as the event is handled, not as it was when
// the burnout was detected.
func (c *Controller) onBurnout(n int, at time.Time) {
	var est flight.Estimate
	if c.est != nil {
		est = c.est.Estimate()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed || !c.liftedOff || !c.flightComputer {
		return
	}
	for _, ch := range c.chans {
		if ch.cfg.BurnoutNumber != n || ch.triggered || ch.state != StateIdle {
			continue
		}
		switch ch.cfg.Type {
		case TypeBurnout:
			c.beginDelay(ch, at)
		case TypeAirstart:
			if reason := airstartBlocked(ch.cfg, est); reason != "" {
				c.log.Warn().Str(log.FieldEvent, "pyro.airstart_suppressed").
					Int(log.FieldChannel, ch.index).Int("burnout", n).
					Str(log.FieldReason, reason).Msg("airstart interlock failed")
				continue
			}
			c.beginDelay(ch, at)
		}
	}
}

// airstartBlocked returns the first failing interlock, or "". Every
// interlock is always evaluated, so a zero threshold for angle blocks the
// channel outright.
func airstartBlocked(cfg ChannelConfig, est flight.Estimate) string {
	if !(est.AGL > cfg.AirstartLockoutAltitude) {
		return fmt.Sprintf("altitude %.1f m not above %.1f m", est.AGL, cfg.AirstartLockoutAltitude)
	}
	if !(est.VertVel > cfg.AirstartLockoutVelocity) {
		return fmt.Sprintf("velocity %.1f m/s not above %.1f m/s", est.VertVel, cfg.AirstartLockoutVelocity)
	}
	if !(math.Abs(est.PitchDeg) < cfg.AirstartLockoutAngle && math.Abs(est.YawDeg) < cfg.AirstartLockoutAngle) {
		return fmt.Sprintf("attitude pitch %.1f yaw %.1f not within %.1f deg", est.PitchDeg, est.YawDeg, cfg.AirstartLockoutAngle)
	}
	return ""
}

// Channels returns a snapshot of every channel.
func (c *Controller) Channels() []ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChannelStatus, len(c.chans))
	for i, ch := range c.chans {
		out[i] = ChannelStatus{
			Index:      ch.index,
			Config:     ch.cfg,
			Continuity: ch.continuity,
			State:      ch.state,
			Triggered:  ch.triggered,
		}
	}
	return out
}

// AllConfiguredContinuity reports whether every non-disabled channel shows
// continuity.
func (c *Controller) AllConfiguredContinuity() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.chans {
		if ch.cfg.Type != TypeDisabled && !ch.continuity {
			return false
		}
	}
	return true
}

// The helpers below must be called with c.mu held.

func (c *Controller) sampleContinuity(ch *channel) {
	ok, err := ch.line.Continuity()
	if err != nil {
		c.log.Warn().Err(err).Int(log.FieldChannel, ch.index).Msg("continuity read failed")
		return
	}
	if ok == ch.continuity {
		return
	}
	ch.continuity = ok
	c.setContinuityGauge(ch)
	if ok {
		c.log.Info().Str(log.FieldEvent, "pyro.continuity_gained").Int(log.FieldChannel, ch.index).Msg("continuity gained")
		c.publish(event.KindContinuityGained, ch.index)
		return
	}
	c.log.Warn().Str(log.FieldEvent, "pyro.continuity_lost").Int(log.FieldChannel, ch.index).Msg("continuity lost")
	c.publish(event.KindContinuityLoss, ch.index)
	if ch.state == StateFiring {
		c.stopFiring(ch, "continuity lost")
		ch.state = StateIdle
	}
}

func (c *Controller) beginDelay(ch *channel, at time.Time) {
	ch.triggered = true
	ch.state = StateDelayPending
	ch.delayStart = at
	c.log.Info().Str(log.FieldEvent, "pyro.delay").Int(log.FieldChannel, ch.index).
		Stringer("type", ch.cfg.Type).Float64("delay_s", ch.cfg.DelaySeconds).Msg("channel triggered")
}

func (c *Controller) startFiring(ch *channel, now time.Time, why string) {
	if err := ch.line.SetFire(true); err != nil {
		c.log.Error().Err(err).Int(log.FieldChannel, ch.index).Msg("set fire line failed")
	}
	ch.state = StateFiring
	ch.firingStart = now
	metrics.PyroFireTotal.WithLabelValues(ch.label).Inc()
	c.log.Warn().Str(log.FieldEvent, "pyro.fire").Int(log.FieldChannel, ch.index).
		Str(log.FieldReason, why).Msg("firing")
	c.publish(event.KindPyroFire, ch.index)
}

func (c *Controller) stopFiring(ch *channel, why string) {
	if err := ch.line.SetFire(false); err != nil {
		c.log.Error().Err(err).Int(log.FieldChannel, ch.index).Msg("clear fire line failed")
	}
	c.log.Info().Str(log.FieldEvent, "pyro.stop").Int(log.FieldChannel, ch.index).
		Str(log.FieldReason, why).Msg("fire output off")
}

func (c *Controller) setContinuityGauge(ch *channel) {
	v := 0.0
	if ch.continuity {
		v = 1
	}
	metrics.PyroContinuity.WithLabelValues(ch.label).Set(v)
}

func (c *Controller) publish(k event.Kind, index int) {
	if c.bus == nil {
		return
	}
	if !c.bus.Publish(event.New(k, int32(index))) {
		c.log.Warn().Str(log.FieldEvent, "pyro.publish_dropped").Stringer(log.FieldKind, k).
			Int(log.FieldChannel, index).Msg("event dropped")
	}
}
