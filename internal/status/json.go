package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/flight-computer/internal/pyro"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string               `json:"event,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Session       string               `json:"session"`
	Phase         string               `json:"phase"`
	ArmReady      bool                 `json:"arm_ready"`
	ArmError      string               `json:"arm_error,omitempty"`
	AGL           float64              `json:"agl_m"`
	VertVel       float64              `json:"vert_vel_mps"`
	Burnouts      int                  `json:"burnouts"`
	MachLockout   bool                 `json:"mach_lockout"`
	BatteryVolts  float64              `json:"battery_volts"`
	Channels      []pyro.ChannelStatus `json:"channels"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	StartTime     string               `json:"start_time"`
	Timestamp     string               `json:"timestamp"`
	MQTT          MQTTStatus           `json:"mqtt"`
	Counts        map[string]int       `json:"event_counts"`
	BusDropped    uint64               `json:"bus_dropped"`
	Network       *NetworkJSON         `json:"network,omitempty"`
	Config        ConfigJSON           `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode        string `json:"mode"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	HTTPAddr    string `json:"http_addr"`
	WSBroker    string `json:"ws_broker,omitempty"`
	Sim         bool   `json:"sim"`
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func buildInner(snap Snapshot) StatusInner {
	chs := snap.Channels
	if chs == nil {
		chs = []pyro.ChannelStatus{}
	}
	counts := snap.Counts
	if counts == nil {
		counts = map[string]int{}
	}

	inner := StatusInner{
		Session:       snap.Session,
		Phase:         snap.Flight.Phase.String(),
		ArmReady:      snap.Flight.ArmError == "",
		ArmError:      snap.Flight.ArmError,
		AGL:           round1(snap.Flight.AGL),
		VertVel:       round1(snap.Flight.VertVel),
		Burnouts:      snap.Flight.Burnouts,
		MachLockout:   snap.Flight.MachLockout,
		BatteryVolts:  math.Round(snap.Flight.BatteryVolts*100) / 100,
		Channels:      chs,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        counts,
		BusDropped:    snap.BusDropped,
		Config: ConfigJSON{
			Mode:        snap.Config.Mode,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HeartbeatMs: snap.Config.HeartbeatMs,
			HTTPAddr:    snap.Config.HTTPAddr,
			WSBroker:    snap.Config.WSBroker,
			Sim:         snap.Config.Sim,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
