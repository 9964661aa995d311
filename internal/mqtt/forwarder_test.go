package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/log"
	"github.com/sweeney/flight-computer/internal/metrics"
)

func newTestForwarder(pub Publisher, depth int) *Forwarder {
	l := log.Nop()
	return NewForwarder(pub, depth, &l)
}

func kinds(events []event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestForwarderPublishesBusEventsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := log.Nop()
	bus := event.NewBus(event.Options{QueueDepth: 8, Logger: &l})
	pub := NewFakePublisher()
	f := newTestForwarder(pub, 8)
	if err := f.Subscribe(bus); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.PublishKind(event.KindArm)
	bus.PublishKind(event.KindLiftoff)
	bus.PublishInts(event.KindBurnout, 1)
	bus.DispatchPending()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(pub.Flight()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("published %d of 3 events", len(pub.Flight()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}

	want := []event.Kind{event.KindArm, event.KindLiftoff, event.KindBurnout}
	if diff := cmp.Diff(want, kinds(pub.Flight())); diff != "" {
		t.Errorf("published kinds (-want +got):\n%s", diff)
	}
}

func TestForwarderDropsWhenFull(t *testing.T) {
	pub := NewFakePublisher()
	f := newTestForwarder(pub, 2)
	before := testutil.ToFloat64(metrics.TelemetryDroppedTotal)

	f.Handle(event.New(event.KindArm))
	f.Handle(event.New(event.KindLiftoff))
	f.Handle(event.New(event.KindApogee, 500))

	if got := testutil.ToFloat64(metrics.TelemetryDroppedTotal) - before; got != 1 {
		t.Errorf("dropped: got %v, want 1", got)
	}

	// Cancelled before start: Run only flushes what was queued.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []event.Kind{event.KindArm, event.KindLiftoff}
	if diff := cmp.Diff(want, kinds(pub.Flight())); diff != "" {
		t.Errorf("published kinds (-want +got):\n%s", diff)
	}
}

func TestForwarderContinuesAfterPublishError(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	f := newTestForwarder(pub, 4)

	f.Handle(event.New(event.KindArm))
	f.Handle(event.New(event.KindDisarm))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pub.Flight()) != 0 {
		t.Errorf("expected nothing recorded, got %d", len(pub.Flight()))
	}
	if len(f.queue) != 0 {
		t.Errorf("queue not drained: %d left", len(f.queue))
	}
}
