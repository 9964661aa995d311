// Package metrics provides Prometheus metrics for the flight computer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BusPublishedTotal counts events accepted onto the bus queue, by kind.
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fc_bus_published_total",
		Help: "Events accepted onto the event bus queue, by kind.",
	}, []string{"kind"})

	// BusDroppedTotal counts events dropped because the queue was full, by kind.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fc_bus_dropped_total",
		Help: "Events dropped because the event bus queue was full, by kind.",
	}, []string{"kind"})

	// BusSubscribeRejectedTotal counts subscriptions refused at capacity.
	BusSubscribeRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fc_bus_subscribe_rejected_total",
		Help: "Subscriptions refused because the subscriber table was full.",
	})

	// FlightPhase is the numeric value of the current flight phase.
	FlightPhase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fc_flight_phase",
		Help: "Current flight phase (0=INIT ... 10=POWER_FAIL).",
	})

	// AltitudeAGL is the latest barometric altitude above ground, metres.
	AltitudeAGL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fc_altitude_agl_meters",
		Help: "Barometric altitude above the armed ground reference.",
	})

	// PyroFireTotal counts igniter activations, by channel.
	PyroFireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fc_pyro_fire_total",
		Help: "Igniter activations, by channel.",
	}, []string{"channel"})

	// PyroContinuity is 1 when a channel reports continuity.
	PyroContinuity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fc_pyro_continuity",
		Help: "Igniter continuity per channel (1 = load present).",
	}, []string{"channel"})

	// TelemetryBuffered is the number of MQTT messages held while offline.
	TelemetryBuffered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fc_telemetry_buffered",
		Help: "Telemetry messages buffered while the MQTT broker is unreachable.",
	})

	// TelemetryEvictedTotal counts offline messages evicted from a full
	// outbox, by event kind ("SYSTEM" for lifecycle messages).
	TelemetryEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fc_telemetry_evicted_total",
		Help: "Messages evicted from the offline MQTT outbox, by event kind.",
	}, []string{"kind"})

	// TelemetryDroppedTotal counts events the forwarder could not queue.
	TelemetryDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fc_telemetry_dropped_total",
		Help: "Bus events dropped by the telemetry forwarder because its queue was full.",
	})
)
