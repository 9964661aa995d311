package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/log"
	"github.com/sweeney/flight-computer/internal/metrics"
)

// DefaultBufferSize is how many messages are held while the broker is
// unreachable.
const DefaultBufferSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Session     string
	BufferSize  int
	Logger      *zerolog.Logger
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected wait in an outbox and are replayed, oldest first, on reconnect.
type RealPublisher struct {
	client      paho.Client
	eventsTopic string
	systemTopic string
	session     string
	logger      zerolog.Logger

	mu        sync.Mutex
	outbox    *outbox
	connected int // successful connections so far
}

// NewRealPublisher creates a publisher and starts connecting in the
// background. It never blocks on the broker: the flight computer must come
// up without a network.
func NewRealPublisher(opts Options) *RealPublisher {
	logger := log.WithComponent("mqtt")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.ClientID == "" {
		opts.ClientID = "flight-computer"
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{
		eventsTopic: EventsTopic(opts.TopicPrefix),
		systemTopic: SystemTopic(opts.TopicPrefix),
		session:     opts.Session,
		logger:      logger,
		outbox:      newOutbox(opts.BufferSize, logger),
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.systemTopic, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn().Err(err).Str(log.FieldEvent, "mqtt.connection_lost").Msg("broker connection lost")
		})

	p.client = paho.NewClient(co)
	p.client.Connect()
	return p
}

// onConnect replays everything buffered while offline. After the first
// connection it also announces the reconnect.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected++
	reconnect := p.connected > 1
	pending, evicted := p.outbox.drain()
	metrics.TelemetryBuffered.Set(0)
	p.mu.Unlock()

	p.logger.Info().Str(log.FieldEvent, "mqtt.connected").Int("replay", len(pending)).
		Int("evicted", evicted).Bool("reconnect", reconnect).Msg("connected to broker")

	for _, m := range pending {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			p.logger.Warn().Err(token.Error()).Str(log.FieldEvent, "mqtt.replay_failed").
				Str("topic", m.topic).Msg("failed to replay buffered message")
		}
	}

	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			p.logger.Warn().Err(err).Str(log.FieldEvent, "mqtt.reconnected_failed").
				Msg("failed to publish reconnect event")
		}
	}
}

// Publish sends a flight event. QoS 0, not retained.
func (p *RealPublisher) Publish(e event.Event) error {
	payload, err := FormatPayload(e, p.session)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(outboxMsg{kind: e.Kind, topic: p.eventsTopic, payload: payload})
}

// PublishSystem sends a system lifecycle event at QoS 1.
func (p *RealPublisher) PublishSystem(e SystemEvent) error {
	payload, err := FormatSystemPayload(e)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(outboxMsg{topic: p.systemTopic, payload: payload, qos: 1, retained: e.Retained})
}

func (p *RealPublisher) send(m outboxMsg) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		p.outbox.add(m)
		metrics.TelemetryBuffered.Set(float64(p.outbox.len()))
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
