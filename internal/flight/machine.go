package flight

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/log"
	"github.com/sweeney/flight-computer/internal/metrics"
)

const metersPerFoot = 0.3048

// G is standard gravity in m/s^2.
const G = 9.8

// Detection thresholds, metric.
const (
	LiftoffAltitude    = 100 * metersPerFoot // ground + this, on both baro and GPS
	LiftoffHold        = 100 * time.Millisecond
	BoostAccel         = 2 * G
	CoastAccel         = 0.25 * G
	VertVelThreshold   = 100 * metersPerFoot
	ChuteVelThreshold  = 200 * metersPerFoot
	ChuteAccThreshold  = 3.0
	MachLockoutTrigger = 800 * metersPerFoot
	MachLockoutRelease = 100 * metersPerFoot
	MachLockoutHold    = time.Second
	ApogeePlateau      = time.Second
	TouchdownVel       = 1.0
	TouchdownAcc       = 1.0
	LostAfter          = 2 * time.Hour
)

// Defaults for Options.
const (
	DefaultBaroWindow  = 9
	DefaultGPSWindow   = 9
	DefaultAccelWindow = 99
	DefaultStep        = 100 * time.Millisecond
	baroRingSize       = 10
)

// Options configures a Machine. Zero values select the defaults.
type Options struct {
	BaroWindow  int
	GPSWindow   int
	AccelWindow int
	// Step is the differentiator time step (the barometer cadence).
	Step time.Duration
	// LowBatteryVolts enables the low battery checks when > 0.
	LowBatteryVolts float64
	Dependencies    []Dependency
	Logger          *zerolog.Logger
}

// Machine is the flight phase state machine. All methods are safe for
// concurrent use; sensor ingestion and arm/disarm take the exclusive lock.
type Machine struct {
	bus event.Publisher
	log zerolog.Logger

	mu         sync.RWMutex
	phase      Phase
	deps       []Dependency
	continuity ContinuityChecker
	armErr     string
	lowVolts   float64

	baroFilt  *medianFilter
	gpsFilt   *medianFilter
	accelFilt *medianFilter
	baro      *readingRing
	vel       *differentiator
	acc       *differentiator

	vertVel float64
	vertAcc float64
	lastAcc float64 // accel magnitude median
	rawAcc  float64 // latest accel magnitude
	att     attitude

	lastGPS  float64
	haveGPS  bool
	lastTime time.Time

	gpsGround  float64
	baroGround float64

	goingUp      bool
	firstGoingUp time.Time

	burnouts int

	lockout           bool
	belowReleaseSince time.Time
	maxAlt            Reading

	landedAt time.Time

	batteryVolts float64
	batteryLow   bool
}

// NewMachine creates a machine in the INIT phase.
func NewMachine(bus event.Publisher, opts Options) *Machine {
	if opts.BaroWindow <= 0 {
		opts.BaroWindow = DefaultBaroWindow
	}
	if opts.GPSWindow <= 0 {
		opts.GPSWindow = DefaultGPSWindow
	}
	if opts.AccelWindow <= 0 {
		opts.AccelWindow = DefaultAccelWindow
	}
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	l := log.WithComponent("flight")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Machine{
		bus:       bus,
		log:       l,
		phase:     PhaseInit,
		deps:      append([]Dependency(nil), opts.Dependencies...),
		lowVolts:  opts.LowBatteryVolts,
		baroFilt:  newMedianFilter(opts.BaroWindow),
		gpsFilt:   newMedianFilter(opts.GPSWindow),
		accelFilt: newMedianFilter(opts.AccelWindow),
		baro:      newReadingRing(baroRingSize),
		vel:       newDifferentiator(opts.Step),
		acc:       newDifferentiator(opts.Step),
	}
}

// Start moves the machine from INIT to DISARMED. It is called once by the
// scheduler after all collaborators are set up.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseInit {
		m.setPhase(PhaseDisarmed)
	}
}

// SetContinuityChecker installs the source of igniter continuity used by
// the arm preconditions.
func (m *Machine) SetContinuityChecker(c ContinuityChecker) {
	m.mu.Lock()
	m.continuity = c
	m.mu.Unlock()
}

// IngestBaro filters a barometer sample, updates velocity and acceleration,
// and runs detection.
func (m *Machine) IngestBaro(s BaroSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alt := m.baroFilt.step(s.Altitude)
	m.baro.push(Reading{Value: alt, Time: s.Time})
	m.vertVel = m.vel.step(alt)
	m.vertAcc = m.acc.step(m.vertVel)
	m.lastTime = s.Time

	if m.phase == PhaseBoost || m.phase == PhaseCoast {
		if alt > m.maxAlt.Value {
			m.maxAlt = Reading{Value: alt, Time: s.Time}
		}
	}
	metrics.AltitudeAGL.Set(alt - m.baroGround)

	m.detect(s.Time)
}

// IngestGPS records a GPS fix. Only 3D fixes update the altitude used for
// ground reference and liftoff confirmation.
func (m *Machine) IngestGPS(f GPSFix) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.Has3D() {
		m.lastGPS = m.gpsFilt.step(f.Altitude)
		m.haveGPS = true
	}
	m.detect(f.Time)
}

// IngestIMU updates the smoothed acceleration magnitude and attitude. It
// does not run detection; the IMU rate is ten times the barometer's.
func (m *Machine) IngestIMU(s IMUSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rawAcc = norm3(s.Accel)
	m.lastAcc = m.accelFilt.step(m.rawAcc)
	m.att.update(s)
}

// IngestBattery records the supply voltage.
func (m *Machine) IngestBattery(b BatterySample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batteryVolts = b.Volts
	low := m.lowVolts > 0 && b.Volts < m.lowVolts
	if low && !m.batteryLow {
		m.log.Warn().Str(log.FieldEvent, "battery.low").
			Float64("volts", b.Volts).Msg("battery below threshold")
	}
	m.batteryLow = low
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// AGL returns the filtered barometric altitude above the ground reference.
func (m *Machine) AGL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aglLocked()
}

func (m *Machine) aglLocked() float64 {
	cur, ok := m.baro.last()
	if !ok {
		return 0
	}
	return cur.Value - m.baroGround
}

// VerticalVelocity returns the barometric vertical velocity, m/s.
func (m *Machine) VerticalVelocity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vertVel
}

// VerticalAcceleration returns the barometric vertical acceleration, m/s^2.
func (m *Machine) VerticalAcceleration() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vertAcc
}

// Estimate returns a consistent snapshot of the state used by interlocks.
func (m *Machine) Estimate() Estimate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Estimate{
		AGL:      m.aglLocked(),
		VertVel:  m.vertVel,
		PitchDeg: m.att.pitchDeg,
		YawDeg:   m.att.yawDeg,
		Time:     m.lastTime,
	}
}

// BurnoutCount returns the number of burnouts detected this flight.
func (m *Machine) BurnoutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.burnouts
}

// MachLockout reports whether apogee detection is currently suppressed.
func (m *Machine) MachLockout() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockout
}

// BatteryVolts returns the last supply voltage reading.
func (m *Machine) BatteryVolts() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batteryVolts
}

// setPhase must be called with m.mu held.
func (m *Machine) setPhase(to Phase) {
	from := m.phase
	m.phase = to
	metrics.FlightPhase.Set(float64(to))
	m.log.Info().Str(log.FieldEvent, "phase.transition").
		Stringer(log.FieldOldPhase, from).
		Stringer(log.FieldNewPhase, to).
		Msg("phase change")
}

// publish must be called with m.mu held; the bus never blocks.
func (m *Machine) publish(k event.Kind, args ...int32) {
	if m.bus == nil {
		return
	}
	if !m.bus.Publish(event.New(k, args...)) {
		m.log.Warn().Str(log.FieldEvent, "flight.publish_dropped").
			Stringer(log.FieldKind, k).Msg("transition event dropped")
	}
}

func round32(v float64) int32 {
	return int32(math.Round(v))
}
