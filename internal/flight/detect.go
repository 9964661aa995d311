package flight

import (
	"math"
	"time"

	"github.com/sweeney/flight-computer/internal/event"
)

// detect evaluates the transition table for the current phase. It must be
// called with m.mu held. Each call makes at most one transition.
func (m *Machine) detect(now time.Time) {
	switch m.phase {
	case PhaseArmed:
		m.detectLiftoff(now)
	case PhaseBoost:
		m.updateLockout(now)
		if m.lastAcc < CoastAccel && m.vertVel > VertVelThreshold {
			m.burnouts++
			m.setPhase(PhaseCoast)
			m.publish(event.KindBurnout, int32(m.burnouts))
		}
	case PhaseCoast:
		m.updateLockout(now)
		if m.lastAcc > BoostAccel && m.vertVel > VertVelThreshold {
			m.setPhase(PhaseBoost)
			m.publish(event.KindAirstart)
			return
		}
		m.detectApogee(now)
	case PhaseApogee:
		if m.chuteOut() {
			m.setPhase(PhaseUnderChute)
		} else if m.ballistic() {
			m.setPhase(PhaseLawnDart)
			m.publish(event.KindLawnDart)
		}
	case PhaseLawnDart:
		if m.chuteOut() {
			m.setPhase(PhaseUnderChute)
			return
		}
		m.detectTouchdown(now)
	case PhaseUnderChute:
		m.detectTouchdown(now)
	case PhaseTouchdown:
		if m.powerFail() {
			return
		}
		if now.Sub(m.landedAt) > LostAfter {
			m.setPhase(PhaseLost)
			m.publish(event.KindLostRocket)
		}
	case PhaseLost:
		m.powerFail()
	}
}

// detectLiftoff requires a sustained upward trend backed by both the
// barometer and GPS clearing the ground reference.
func (m *Machine) detectLiftoff(now time.Time) {
	cur, ok := m.baro.last()
	oldest, _ := m.baro.first()
	up := ok && cur.Value > oldest.Value && m.rawAcc > BoostAccel
	if !up {
		m.goingUp = false
		return
	}
	if !m.goingUp {
		m.goingUp = true
		m.firstGoingUp = now
	}
	if now.Sub(m.firstGoingUp) <= LiftoffHold {
		return
	}
	if !m.haveGPS || m.lastGPS <= m.gpsGround+LiftoffAltitude {
		return
	}
	if cur.Value <= m.baroGround+LiftoffAltitude {
		return
	}

	m.maxAlt = cur
	m.burnouts = 0
	m.lockout = false
	m.belowReleaseSince = time.Time{}
	m.setPhase(PhaseBoost)
	m.publish(event.KindLiftoff)
}

// updateLockout latches the Mach lockout above the trigger speed and
// releases it once the speed has stayed under the release threshold for
// MachLockoutHold.
func (m *Machine) updateLockout(now time.Time) {
	if m.vertVel > MachLockoutTrigger {
		if !m.lockout {
			m.log.Info().Float64("vert_vel", m.vertVel).Msg("mach lockout engaged")
		}
		m.lockout = true
		m.belowReleaseSince = time.Time{}
		return
	}
	if !m.lockout {
		return
	}
	if m.vertVel >= MachLockoutRelease {
		m.belowReleaseSince = time.Time{}
		return
	}
	if m.belowReleaseSince.IsZero() {
		m.belowReleaseSince = now
		return
	}
	if now.Sub(m.belowReleaseSince) >= MachLockoutHold {
		m.lockout = false
		m.belowReleaseSince = time.Time{}
		m.log.Info().Msg("mach lockout released")
	}
}

func (m *Machine) detectApogee(now time.Time) {
	if m.lockout {
		return
	}
	cur, ok := m.baro.last()
	if !ok {
		return
	}
	if cur.Value < m.maxAlt.Value && now.Sub(m.maxAlt.Time) > ApogeePlateau {
		m.setPhase(PhaseApogee)
		m.publish(event.KindApogee, round32(m.maxAlt.Value-m.baroGround))
	}
}

// chuteOut reports a descent slow and steady enough for an open canopy.
func (m *Machine) chuteOut() bool {
	return -m.vertVel < ChuteVelThreshold && math.Abs(m.vertAcc) < ChuteAccThreshold
}

func (m *Machine) ballistic() bool {
	return -m.vertVel > ChuteVelThreshold && math.Abs(m.vertAcc) > ChuteAccThreshold
}

func (m *Machine) detectTouchdown(now time.Time) {
	if math.Abs(m.vertVel) < TouchdownVel && math.Abs(m.vertAcc) < TouchdownAcc && m.lastAcc < G {
		m.landedAt = now
		m.setPhase(PhaseTouchdown)
		m.publish(event.KindLanding)
	}
}

// powerFail moves a landed vehicle to POWER_FAIL once the battery is low.
func (m *Machine) powerFail() bool {
	if !m.batteryLow {
		return false
	}
	m.setPhase(PhasePowerFail)
	m.publish(event.KindLowBattery, round32(m.batteryVolts*1000))
	return true
}
