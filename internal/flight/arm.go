package flight

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/log"
)

// Status is the lifecycle state reported by a dependent subsystem.
type Status int

const (
	StatusInit Status = iota
	StatusReady
	StatusFault
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusReady:
		return "ready"
	case StatusFault:
		return "fault"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Dependency is a subsystem whose health gates arming.
type Dependency interface {
	Name() string
	Status() Status
}

// ContinuityChecker reports whether every configured igniter shows
// continuity. The pyro controller implements it.
type ContinuityChecker interface {
	AllConfiguredContinuity() bool
}

// ErrDisarmInFlight is returned when a disarm request arrives between
// liftoff and landing.
var ErrDisarmInFlight = errors.New("flight: disarm refused in flight")

// ArmError is returned when an arm request fails its preconditions.
type ArmError struct {
	Reason string
}

func (e *ArmError) Error() string { return "arm refused: " + e.Reason }

// CanArm checks the arm preconditions without changing phase. The failure
// reason is kept for ArmError.
func (m *Machine) CanArm() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canArmLocked()
}

func (m *Machine) canArmLocked() error {
	reason := m.armBlocker()
	m.armErr = reason
	if reason == "" {
		return nil
	}
	return &ArmError{Reason: reason}
}

func (m *Machine) armBlocker() string {
	if m.phase != PhaseDisarmed {
		return fmt.Sprintf("phase is %s, not DISARMED", m.phase)
	}
	for _, d := range m.deps {
		if st := d.Status(); st != StatusRunning && st != StatusStopped {
			return fmt.Sprintf("%s is %s", d.Name(), st)
		}
	}
	if !m.haveGPS {
		return "no 3D GPS fix"
	}
	if m.baro.len() == 0 {
		return "no barometer reading"
	}
	if m.batteryLow {
		return "battery low"
	}
	if m.continuity != nil && !m.continuity.AllConfiguredContinuity() {
		return "pyro channel without continuity"
	}
	return ""
}

// ArmError returns the reason the last arm check failed, or "".
func (m *Machine) ArmError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.armErr
}

// Arm moves DISARMED to ARMED, capturing the ground references and zeroing
// the attitude estimate. ARM is published on success.
func (m *Machine) Arm() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.canArmLocked(); err != nil {
		m.log.Warn().Str(log.FieldEvent, "flight.arm_refused").
			Str(log.FieldReason, m.armErr).Msg("arm refused")
		return err
	}

	ground, _ := m.baro.last()
	m.baroGround = ground.Value
	m.gpsGround = m.lastGPS
	m.att.reset()
	m.goingUp = false
	m.burnouts = 0
	m.lockout = false
	m.belowReleaseSince = time.Time{}
	m.maxAlt = Reading{}

	m.setPhase(PhaseArmed)
	m.log.Info().Str(log.FieldEvent, "flight.armed").
		Float64("baro_ground", m.baroGround).
		Float64("gps_ground", m.gpsGround).Msg("armed")
	m.publish(event.KindArm)
	return nil
}

// Disarm returns ARMED to DISARMED. On the ground DISARM is published
// whatever the phase so that downstream consumers always stand down. Between
// liftoff and landing the request is refused and nothing is published.
func (m *Machine) Disarm() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase.InFlight() {
		m.log.Warn().Str(log.FieldEvent, "flight.disarm_refused").
			Stringer(log.FieldPhase, m.phase).Msg("disarm refused in flight")
		return ErrDisarmInFlight
	}
	if m.phase == PhaseArmed {
		m.setPhase(PhaseDisarmed)
	}
	m.publish(event.KindDisarm)
	return nil
}
