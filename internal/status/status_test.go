package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/flight"
	"github.com/sweeney/flight-computer/internal/pyro"
)

var start = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewTracker(t *testing.T) {
	cfg := Config{Mode: "flight_computer", Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, "sess-1", cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Session != "sess-1" {
		t.Errorf("Session: got %q, want sess-1", snap.Session)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.Flight.Phase != flight.PhaseInit {
		t.Errorf("Phase: got %v, want INIT", snap.Flight.Phase)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateFlightAndSnapshot(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	tr.UpdateFlight(Flight{Phase: flight.PhaseCoast, AGL: 812.3, VertVel: 95, Burnouts: 1})

	snap := tr.Snapshot()
	if snap.Flight.Phase != flight.PhaseCoast {
		t.Errorf("Phase: got %v, want COAST", snap.Flight.Phase)
	}
	if snap.Flight.AGL != 812.3 {
		t.Errorf("AGL: got %v, want 812.3", snap.Flight.AGL)
	}
	if snap.Flight.Burnouts != 1 {
		t.Errorf("Burnouts: got %d, want 1", snap.Flight.Burnouts)
	}
}

func TestRecordEventCountsByKind(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	tr.RecordEvent(event.New(event.KindPyroFire, 0))
	tr.RecordEvent(event.New(event.KindPyroFire, 1))
	tr.RecordEvent(event.New(event.KindApogee, 600))

	want := map[string]int{"PYRO_FIRE": 2, "APOGEE": 1}
	if diff := cmp.Diff(want, tr.Snapshot().Counts); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(start, "", Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(start, "", Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{StartTime: start, Now: start.Add(15 * time.Minute)}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotUsesClock(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	sim := start.Add(42 * time.Second)
	tr.SetClock(func() time.Time { return sim })

	if got := tr.Snapshot().Now; !got.Equal(sim) {
		t.Errorf("Now: got %v, want %v", got, sim)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	tr.UpdateChannels([]pyro.ChannelStatus{{Index: 0, Continuity: true}})
	tr.RecordEvent(event.New(event.KindArm))

	snap1 := tr.Snapshot()
	snap1.Channels[0].Continuity = false
	snap1.Counts["ARM"] = 99

	tr.RecordEvent(event.New(event.KindDisarm))

	snap2 := tr.Snapshot()
	if !snap2.Channels[0].Continuity {
		t.Error("snapshot shares channel storage with the tracker")
	}
	if snap2.Counts["ARM"] != 1 {
		t.Errorf("snapshot shares count storage: ARM=%d", snap2.Counts["ARM"])
	}
	if _, ok := snap1.Counts["DISARM"]; ok {
		t.Error("earlier snapshot saw a later event")
	}
}

func testSnapshot() Snapshot {
	return Snapshot{
		Session: "sess-1",
		Flight: Flight{
			Phase:        flight.PhaseUnderChute,
			AGL:          412.34,
			VertVel:      -19.96,
			Burnouts:     1,
			BatteryVolts: 3.912,
		},
		Channels: []pyro.ChannelStatus{
			{Index: 0, Config: pyro.ChannelConfig{Type: pyro.TypeDrogue}, Continuity: true, State: pyro.StateIdle, Triggered: true},
			{Index: 1, Config: pyro.ChannelConfig{Type: pyro.TypeMain, MainAlt: 300}, Continuity: true, State: pyro.StateDelayPending},
		},
		Counts:        map[string]int{"APOGEE": 1, "PYRO_FIRE": 1},
		BusDropped:    2,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Mode: "flight_computer", Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(testSnapshot())

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.Phase != "UNDER_CHUTE" {
		t.Errorf("Phase: got %q, want UNDER_CHUTE", s.Phase)
	}
	if s.AGL != 412.3 {
		t.Errorf("AGL: got %v, want 412.3", s.AGL)
	}
	if s.VertVel != -20 {
		t.Errorf("VertVel: got %v, want -20", s.VertVel)
	}
	if s.BatteryVolts != 3.91 {
		t.Errorf("BatteryVolts: got %v, want 3.91", s.BatteryVolts)
	}
	if !s.ArmReady {
		t.Error("expected ArmReady=true with no arm error")
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if !s.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if s.Counts["PYRO_FIRE"] != 1 {
		t.Errorf("Counts[PYRO_FIRE]: got %d, want 1", s.Counts["PYRO_FIRE"])
	}
	if s.BusDropped != 2 {
		t.Errorf("BusDropped: got %d, want 2", s.BusDropped)
	}
	if len(s.Channels) != 2 || s.Channels[1].State != pyro.StateDelayPending || s.Channels[1].Config.Type != pyro.TypeMain {
		t.Errorf("Channels: got %+v", s.Channels)
	}
	if s.Event != "" || s.Reason != "" {
		t.Errorf("expected no event/reason for web format, got %q/%q", s.Event, s.Reason)
	}
}

func TestFormatJSONArmError(t *testing.T) {
	snap := testSnapshot()
	snap.Flight.Phase = flight.PhaseDisarmed
	snap.Flight.ArmError = "no 3D GPS fix"

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.ArmReady {
		t.Error("expected ArmReady=false")
	}
	if parsed.Status.ArmError != "no 3D GPS fix" {
		t.Errorf("ArmError: got %q", parsed.Status.ArmError)
	}
}

func TestFormatJSONEmptyCollections(t *testing.T) {
	data := FormatJSON(Snapshot{StartTime: start, Now: start.Add(time.Second)})

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["status"]["channels"].([]interface{}); !ok {
		t.Errorf("channels should be an empty array, got %v", raw["status"]["channels"])
	}
	if _, ok := raw["status"]["event_counts"].(map[string]interface{}); !ok {
		t.Errorf("event_counts should be an empty object, got %v", raw["status"]["event_counts"])
	}
	if _, ok := raw["status"]["network"]; ok {
		t.Error("network should be omitted when nil")
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	data := FormatStatusEvent(testSnapshot(), "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.Session != "sess-1" {
		t.Errorf("Session: got %q", parsed.Status.Session)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(Snapshot{StartTime: start, Now: start}, "STARTUP", "")

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, exists := raw["status"]["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if raw["status"]["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", raw["status"]["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := testSnapshot()
	snap.Network = &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "RangeNet"}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.SSID != "RangeNet" {
		t.Errorf("Network.SSID: got %q, want RangeNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.UpdateFlight(Flight{Phase: flight.PhaseBoost, AGL: float64(i)})
			tr.UpdateChannels([]pyro.ChannelStatus{{Index: 0}})
			tr.RecordEvent(event.New(event.KindContinuityLoss, 0))
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
