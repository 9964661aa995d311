package internal

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/flight"
	"github.com/sweeney/flight-computer/internal/gpio"
	"github.com/sweeney/flight-computer/internal/mqtt"
	"github.com/sweeney/flight-computer/internal/pyro"
	"github.com/sweeney/flight-computer/internal/sim"
)

// recorder collects every event the bus dispatches.
type recorder struct {
	events []event.Event
}

func (r *recorder) handle(e event.Event) { r.events = append(r.events, e) }

func (r *recorder) strings() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		if e.Kind == event.KindApogee {
			out = append(out, "APOGEE")
			continue
		}
		out = append(out, e.String())
	}
	return out
}

func (r *recorder) find(k event.Kind) (event.Event, bool) {
	for _, e := range r.events {
		if e.Kind == k {
			return e, true
		}
	}
	return event.Event{}, false
}

// TestIntegrationSimulatedFlight flies the default simulated profile through
// the flight machine, the bus, the pyro controller and the MQTT formatting,
// stepping time by hand.
func TestIntegrationSimulatedFlight(t *testing.T) {
	t0 := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	profile := sim.Default(t0.Add(10 * time.Second))
	_, _, landing := profile.Timeline()

	now := t0
	clock := func() time.Time { return now }

	bus := event.NewBus(event.Options{Now: clock, QueueDepth: 16})
	rec := &recorder{}
	if err := bus.Subscribe(rec.handle, event.MaskAll); err != nil {
		t.Fatalf("subscribe recorder: %v", err)
	}
	pub := mqtt.NewFakePublisher()
	pub.Session = "sess-int"
	if err := bus.Subscribe(func(e event.Event) { pub.Publish(e) }, event.MaskAll); err != nil {
		t.Fatalf("subscribe publisher: %v", err)
	}

	m := flight.NewMachine(bus, flight.Options{Step: 100 * time.Millisecond})
	lines, fakes := gpio.NewFakeBank(2, true)
	c, err := pyro.NewController(bus, lines, m, pyro.Options{Now: clock})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	cfgs := []pyro.ChannelConfig{
		{Type: pyro.TypeDrogue},
		{Type: pyro.TypeMain, MainAlt: 300},
	}
	if err := c.Configure(cfgs, true); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := c.Subscribe(bus); err != nil {
		t.Fatalf("subscribe pyro: %v", err)
	}
	m.SetContinuityChecker(c)
	m.Start()

	armAt := profile.Launch.Add(-5 * time.Second)
	end := profile.Launch.Add(landing + 5*time.Second)
	armed := false
	for step := 0; !now.After(end); step++ {
		now = t0.Add(time.Duration(step) * 10 * time.Millisecond)
		smp := profile.Sample(now)
		m.IngestIMU(smp.IMU)
		if step%10 != 0 {
			continue
		}
		m.IngestGPS(smp.GPS)
		m.IngestBaro(smp.Baro)
		m.IngestBattery(smp.Battery)
		bus.DispatchPending()
		c.Tick(now)
		bus.DispatchPending()

		if !armed && !now.Before(armAt) {
			if err := m.Arm(); err != nil {
				t.Fatalf("arm at %v: %v", now.Sub(t0), err)
			}
			armed = true
			bus.DispatchPending()
		}
	}

	want := []string{"ARM", "LIFTOFF", "BURNOUT[1]", "APOGEE", "PYRO_FIRE[0]", "PYRO_FIRE[1]", "LANDING"}
	if diff := cmp.Diff(want, rec.strings()); diff != "" {
		t.Fatalf("event sequence mismatch (-want +got):\n%s", diff)
	}

	apogee, _ := rec.find(event.KindApogee)
	wantApogee, _ := profile.Apogee()
	if got := float64(apogee.Args.Int(0)); math.Abs(got-wantApogee) > 5 {
		t.Errorf("apogee: got %v m, want %.0f ±5 m", got, wantApogee)
	}

	for i, f := range fakes {
		if f.Fires() != 1 {
			t.Errorf("channel %d: fired %d times, want 1", i, f.Fires())
		}
		if f.Firing() {
			t.Errorf("channel %d: output still asserted after landing", i)
		}
	}
	if c.Armed() {
		t.Error("controller still armed after landing")
	}
	if got := m.Phase(); got != flight.PhaseTouchdown {
		t.Errorf("final phase: got %s, want TOUCHDOWN", got)
	}
	if bus.Dropped() != 0 {
		t.Errorf("bus dropped %d events", bus.Dropped())
	}

	// Every event went out on the wire with the session attached.
	if len(pub.Payloads) != len(want) {
		t.Fatalf("published %d payloads, want %d", len(pub.Payloads), len(want))
	}
	for i, p := range pub.Payloads {
		if !strings.Contains(string(p), `"session":"sess-int"`) {
			t.Errorf("payload %d missing session: %s", i, p)
		}
	}
	if !strings.Contains(string(pub.Payloads[1]), `"event":"LIFTOFF"`) {
		t.Errorf("payload 1: got %s, want LIFTOFF", pub.Payloads[1])
	}
}

// TestIntegrationOpenIgniterBlocksArm checks that a missing igniter keeps the
// vehicle on the ground and is reported on the bus.
func TestIntegrationOpenIgniterBlocksArm(t *testing.T) {
	t0 := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	profile := sim.Default(t0.Add(time.Hour))
	now := t0

	bus := event.NewBus(event.Options{Now: func() time.Time { return now }})
	rec := &recorder{}
	bus.Subscribe(rec.handle, event.MaskAll)

	m := flight.NewMachine(bus, flight.Options{})
	lines, fakes := gpio.NewFakeBank(2, true)
	c, err := pyro.NewController(bus, lines, m, pyro.Options{})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if err := c.Configure([]pyro.ChannelConfig{{Type: pyro.TypeDrogue}, {Type: pyro.TypeMain, MainAlt: 300}}, true); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	m.SetContinuityChecker(c)
	m.Start()

	smp := profile.Sample(now)
	m.IngestGPS(smp.GPS)
	m.IngestBaro(smp.Baro)

	fakes[1].SetContinuity(false)
	c.Tick(now)
	bus.DispatchPending()

	var armErr *flight.ArmError
	err = m.Arm()
	if !errors.As(err, &armErr) {
		t.Fatalf("arm with an open igniter: got %v, want *flight.ArmError", err)
	}
	if armErr.Reason != "pyro channel without continuity" {
		t.Errorf("arm error: got %q", armErr.Reason)
	}
	if diff := cmp.Diff([]string{"CONTINUITY_LOSS[1]"}, rec.strings()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	fakes[1].SetContinuity(true)
	c.Tick(now)
	if err := m.Arm(); err != nil {
		t.Errorf("arm after continuity restored: %v", err)
	}
}
