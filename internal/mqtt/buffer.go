package mqtt

import (
	"github.com/rs/zerolog"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/log"
	"github.com/sweeney/flight-computer/internal/metrics"
)

// flightRecord is the set of event kinds that make up the flight history
// a recovery crew needs. They outlive everything else in a full outbox.
const flightRecord = event.KindArm | event.KindDisarm | event.KindLiftoff |
	event.KindBurnout | event.KindAirstart | event.KindPyroFire |
	event.KindApogee | event.KindLawnDart | event.KindLanding | event.KindLostRocket

// outboxMsg is a serialized message waiting for the broker. kind is zero for
// system lifecycle messages.
type outboxMsg struct {
	kind     event.Kind
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m outboxMsg) kindLabel() string {
	if m.kind == 0 {
		return "SYSTEM"
	}
	return m.kind.String()
}

// keep reports whether m belongs to the flight record. System messages are
// sent at QoS 1 and count as part of it.
func (m outboxMsg) keep() bool {
	return m.kind == 0 || m.kind&flightRecord != 0
}

// outbox holds messages in publish order while the broker is unreachable.
// When full, the oldest message outside the flight record is evicted; only
// when every held message is part of the record does the oldest one go.
// Not safe for concurrent use; RealPublisher holds its mutex.
type outbox struct {
	msgs     []outboxMsg
	capacity int
	evicted  int // since the last drain
	logger   zerolog.Logger
}

func newOutbox(capacity int, logger zerolog.Logger) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		msgs:     make([]outboxMsg, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

func (o *outbox) add(m outboxMsg) {
	if len(o.msgs) == o.capacity {
		o.evict()
	}
	o.msgs = append(o.msgs, m)
}

func (o *outbox) evict() {
	victim := 0
	for i, m := range o.msgs {
		if !m.keep() {
			victim = i
			break
		}
	}
	gone := o.msgs[victim]
	copy(o.msgs[victim:], o.msgs[victim+1:])
	o.msgs = o.msgs[:len(o.msgs)-1]

	metrics.TelemetryEvictedTotal.WithLabelValues(gone.kindLabel()).Inc()
	if o.evicted == 0 {
		o.logger.Warn().Str(log.FieldEvent, "mqtt.outbox_full").Int("capacity", o.capacity).
			Str(log.FieldKind, gone.kindLabel()).Msg("offline outbox full, evicting")
	}
	o.evicted++
}

// drain returns every held message, oldest first, and empties the outbox.
// The second result is how many messages were evicted since the last drain.
func (o *outbox) drain() ([]outboxMsg, int) {
	out, evicted := o.msgs, o.evicted
	o.evicted = 0
	if len(out) == 0 {
		return nil, evicted
	}
	o.msgs = make([]outboxMsg, 0, o.capacity)
	return out, evicted
}

func (o *outbox) len() int {
	return len(o.msgs)
}
