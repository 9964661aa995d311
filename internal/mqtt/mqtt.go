// Package mqtt publishes flight events and system lifecycle messages to an
// MQTT broker, with a fake for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/sweeney/flight-computer/internal/event"
)

// DefaultTopicPrefix is used when the configuration leaves it empty.
const DefaultTopicPrefix = "rocket/fc"

// TimeFormat is RFC 3339 with milliseconds; flight events are closer
// together than a second.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt: publish timeout")

// EventsTopic returns the topic flight events are published on.
func EventsTopic(prefix string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/events"
}

// SystemTopic returns the topic lifecycle events are published on.
func SystemTopic(prefix string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/system"
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a flight event to the broker. Failure must not stop
	// the flight computer.
	Publish(e event.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(e SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event: STARTUP, SHUTDOWN, HEARTBEAT or
// RECONNECTED.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // shutdown only, e.g. "SIGTERM"
	RawPayload []byte // pre-formatted JSON; returned as-is by FormatSystemPayload
	Retained   bool
}

// Payload is the MQTT message body for a flight event.
type Payload struct {
	Flight FlightPayload `json:"flight"`
}

// FlightPayload contains the flight event details.
type FlightPayload struct {
	Timestamp string  `json:"timestamp"`
	Session   string  `json:"session,omitempty"`
	Event     string  `json:"event"`
	Args      []int32 `json:"args,omitempty"`
	Text      string  `json:"text,omitempty"`
}

// FormatPayload creates the JSON payload for a flight event.
func FormatPayload(e event.Event, session string) ([]byte, error) {
	text, _ := e.Args.TextValue()
	payload := Payload{
		Flight: FlightPayload{
			Timestamp: e.Timestamp.UTC().Format(TimeFormat),
			Session:   session,
			Event:     e.Kind.String(),
			Args:      e.Args.IntSlice(),
			Text:      text,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the body of simple system events (LWT, RECONNECTED)
// that carry no status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If e.RawPayload is set it is returned directly.
func FormatSystemPayload(e SystemEvent) ([]byte, error) {
	if e.RawPayload != nil {
		return e.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Event:     e.Event,
			Reason:    e.Reason,
		},
	}
	return json.Marshal(payload)
}
