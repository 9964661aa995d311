package mqtt

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/log"
	"github.com/sweeney/flight-computer/internal/metrics"
)

// DefaultForwarderDepth bounds the events waiting to be published.
const DefaultForwarderDepth = 64

// Forwarder copies bus events into a bounded queue and publishes them from
// its own goroutine, so a slow broker never stalls bus dispatch.
type Forwarder struct {
	pub    Publisher
	queue  chan event.Event
	logger zerolog.Logger
}

// NewForwarder creates a forwarder publishing through pub. A depth <= 0
// uses DefaultForwarderDepth.
func NewForwarder(pub Publisher, depth int, logger *zerolog.Logger) *Forwarder {
	if depth <= 0 {
		depth = DefaultForwarderDepth
	}
	l := log.WithComponent("telemetry")
	if logger != nil {
		l = *logger
	}
	return &Forwarder{pub: pub, queue: make(chan event.Event, depth), logger: l}
}

// Subscribe registers the forwarder for every event kind.
func (f *Forwarder) Subscribe(bus event.Subscriber) error {
	return bus.Subscribe(f.Handle, event.MaskAll)
}

// Handle queues e without blocking. When the queue is full the event is
// dropped and counted.
func (f *Forwarder) Handle(e event.Event) {
	select {
	case f.queue <- e:
	default:
		metrics.TelemetryDroppedTotal.Inc()
		f.logger.Warn().Str(log.FieldEvent, "telemetry.drop").Str(log.FieldKind, e.Kind.String()).
			Msg("telemetry queue full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// already queued.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-f.queue:
					f.publish(e)
				default:
					return nil
				}
			}
		case e := <-f.queue:
			f.publish(e)
		}
	}
}

func (f *Forwarder) publish(e event.Event) {
	if err := f.pub.Publish(e); err != nil {
		f.logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.publish_failed").
			Str(log.FieldKind, e.Kind.String()).Msg("publish error")
	}
}
