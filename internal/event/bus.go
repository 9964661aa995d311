package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sweeney/flight-computer/internal/log"
	"github.com/sweeney/flight-computer/internal/metrics"
)

// Defaults for Options.
const (
	DefaultQueueDepth     = 8
	DefaultMaxSubscribers = 32
)

var (
	// ErrTooManySubscribers is returned by Subscribe once the table is full.
	ErrTooManySubscribers = errors.New("event: subscriber table full")
	// ErrNilHandler is returned by Subscribe for a nil handler.
	ErrNilHandler = errors.New("event: nil handler")
)

// Handler receives a copy of each matching event on the dispatch goroutine.
// Handlers must not block and must not call Subscribe.
type Handler func(Event)

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(Event) bool
}

// Subscriber is the registration side of the bus.
type Subscriber interface {
	Subscribe(h Handler, mask Kind) error
}

// Options configures a Bus. Zero values select the defaults.
type Options struct {
	QueueDepth     int
	MaxSubscribers int
	Now            func() time.Time
	Logger         *zerolog.Logger
}

type subscription struct {
	fn   Handler
	mask Kind
}

// Bus is a bounded, many-producer single-consumer event queue with
// mask-filtered fan-out.
type Bus struct {
	queue chan Event
	now   func() time.Time
	log   zerolog.Logger

	mu      sync.RWMutex
	subs    []subscription
	maxSubs int

	// pubMu makes stamping and enqueueing one step, so the queue is always
	// in timestamp order.
	pubMu sync.Mutex

	dropped   atomic.Uint64
	dropWarn  *rate.Limiter
	published atomic.Uint64
}

// NewBus creates a bus. Nothing is delivered until Run or DispatchPending is
// called.
func NewBus(opts Options) *Bus {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.MaxSubscribers <= 0 {
		opts.MaxSubscribers = DefaultMaxSubscribers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := log.WithComponent("bus")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Bus{
		queue:    make(chan Event, opts.QueueDepth),
		now:      opts.Now,
		log:      l,
		subs:     make([]subscription, 0, opts.MaxSubscribers),
		maxSubs:  opts.MaxSubscribers,
		dropWarn: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Subscribe registers h for every event whose kind intersects mask.
// Registration is append-only; handlers are invoked in registration order.
func (b *Bus) Subscribe(h Handler, mask Kind) error {
	if h == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) >= b.maxSubs {
		metrics.BusSubscribeRejectedTotal.Inc()
		b.log.Warn().Str(log.FieldEvent, "bus.subscribe_rejected").
			Int("max", b.maxSubs).Msg("subscriber table full")
		return ErrTooManySubscribers
	}
	b.subs = append(b.subs, subscription{fn: h, mask: mask})
	return nil
}

// Publish enqueues e without blocking. The timestamp is set here,
// overriding any caller value, and events leave the queue in timestamp
// order. It returns false when the queue is full and the event was dropped.
func (b *Bus) Publish(e Event) bool {
	b.pubMu.Lock()
	e.Timestamp = b.now()
	var ok bool
	select {
	case b.queue <- e:
		ok = true
	default:
	}
	b.pubMu.Unlock()

	if ok {
		b.published.Add(1)
		metrics.BusPublishedTotal.WithLabelValues(e.Kind.String()).Inc()
		return true
	}
	b.dropped.Add(1)
	metrics.BusDroppedTotal.WithLabelValues(e.Kind.String()).Inc()
	if b.dropWarn.Allow() {
		b.log.Warn().Str(log.FieldEvent, "bus.drop").
			Stringer(log.FieldKind, e.Kind).
			Uint64("dropped_total", b.dropped.Load()).
			Msg("event queue full, dropping")
	}
	return false
}

// PublishKind publishes an event with no args.
func (b *Bus) PublishKind(k Kind) bool {
	return b.Publish(Event{Kind: k})
}

// PublishInts publishes an event with integer args.
func (b *Bus) PublishInts(k Kind, v ...int32) bool {
	return b.Publish(New(k, v...))
}

// Run dispatches events until ctx is cancelled. Only one goroutine may run
// the dispatch loop.
func (b *Bus) Run(ctx context.Context) error {
	b.log.Debug().Str(log.FieldEvent, "bus.start").Msg("dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-b.queue:
			b.dispatch(e)
		}
	}
}

// DispatchPending delivers every event currently queued and returns how
// many were delivered. It must not be used concurrently with Run.
func (b *Bus) DispatchPending() int {
	n := 0
	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
			n++
		default:
			return n
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if e.Kind.Matches(s.mask) {
			s.fn(e)
		}
	}
}

// Dropped returns the number of events dropped on a full queue.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Published returns the number of events accepted onto the queue.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Subscribers returns the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
