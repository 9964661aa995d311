// Package status provides a thread-safe status tracker for the flight
// computer. It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/flight"
	"github.com/sweeney/flight-computer/internal/pyro"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Mode        string
	Broker      string
	TopicPrefix string
	HeartbeatMs int64
	HTTPAddr    string
	WSBroker    string // websocket broker URL for browser MQTT (empty = disabled)
	Sim         bool
}

// Flight is the flight state published by the machine.
type Flight struct {
	Phase        flight.Phase
	AGL          float64
	VertVel      float64
	Burnouts     int
	MachLockout  bool
	BatteryVolts float64
	ArmError     string // why arming would be refused now; empty when it would succeed
}

// Snapshot is a point-in-time view of daemon state. It is a value type and
// shares nothing with the tracker.
type Snapshot struct {
	Session       string
	Flight        Flight
	Channels      []pyro.ChannelStatus
	Counts        map[string]int // events seen on the bus, by kind name
	BusDropped    uint64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time, session and config.
func NewTracker(startTime time.Time, session string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Session:   session,
			StartTime: startTime,
			Config:    cfg,
			Counts:    make(map[string]int),
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used to stamp snapshots.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Subscribe counts every event on bus.
func (t *Tracker) Subscribe(bus event.Subscriber) error {
	return bus.Subscribe(t.RecordEvent, event.MaskAll)
}

// RecordEvent counts e by kind.
func (t *Tracker) RecordEvent(e event.Event) {
	t.mu.Lock()
	t.snap.Counts[e.Kind.String()]++
	t.mu.Unlock()
}

// UpdateFlight sets the flight state. Called on every status refresh.
func (t *Tracker) UpdateFlight(f Flight) {
	t.mu.Lock()
	t.snap.Flight = f
	t.mu.Unlock()
}

// UpdateChannels sets the per-channel pyro status.
func (t *Tracker) UpdateChannels(chs []pyro.ChannelStatus) {
	t.mu.Lock()
	t.snap.Channels = append(t.snap.Channels[:0:0], chs...)
	t.mu.Unlock()
}

// SetBusDropped sets the number of events the bus has dropped.
func (t *Tracker) SetBusDropped(n uint64) {
	t.mu.Lock()
	t.snap.BusDropped = n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetConfig replaces the displayed configuration after a reload.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	t.snap.Config = cfg
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set from the tracker's clock at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = append([]pyro.ChannelStatus(nil), t.snap.Channels...)
	s.Counts = make(map[string]int, len(t.snap.Counts))
	for k, v := range t.snap.Counts {
		s.Counts[k] = v
	}
	if t.snap.Network != nil {
		n := *t.snap.Network
		s.Network = &n
	}
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
