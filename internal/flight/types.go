// Package flight classifies the vehicle into a flight phase from filtered
// barometric, GPS and inertial samples and publishes the transitions.
//
// Time is always taken from the samples themselves, never from the wall
// clock, so the detector can be driven deterministically.
package flight

import "time"

// Phase is the discrete stage of flight.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseDisarmed
	PhaseArmed
	PhaseBoost
	PhaseCoast
	PhaseApogee
	PhaseUnderChute
	PhaseLawnDart
	PhaseTouchdown
	PhaseLost
	PhasePowerFail
)

var phaseNames = [...]string{
	PhaseInit:       "INIT",
	PhaseDisarmed:   "DISARMED",
	PhaseArmed:      "ARMED",
	PhaseBoost:      "BOOST",
	PhaseCoast:      "COAST",
	PhaseApogee:     "APOGEE",
	PhaseUnderChute: "UNDER_CHUTE",
	PhaseLawnDart:   "LAWN_DART",
	PhaseTouchdown:  "TOUCHDOWN",
	PhaseLost:       "LOST",
	PhasePowerFail:  "POWER_FAIL",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

// InFlight reports whether the phase is between liftoff and landing.
func (p Phase) InFlight() bool {
	switch p {
	case PhaseBoost, PhaseCoast, PhaseApogee, PhaseUnderChute, PhaseLawnDart:
		return true
	}
	return false
}

// BaroSample is one barometer reading. Temperature is carried but unused.
type BaroSample struct {
	Altitude    float64 // metres MSL
	Temperature float64 // degrees C
	Time        time.Time
}

// GPSFix is one positioning fix.
type GPSFix struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64 // metres MSL
	Epoch      int64
	FixType    int // 0 none, 2 = 2D, 3 = 3D
	Satellites int
	Time       time.Time
}

// Has3D reports whether the fix is good enough for altitude use.
func (f GPSFix) Has3D() bool { return f.FixType >= 3 }

// IMUSample is one inertial reading.
type IMUSample struct {
	Accel [3]float64 // m/s^2, body frame, X along the airframe
	Gyro  [3]float64 // deg/s
	Time  time.Time
}

// BatterySample is one supply voltage measurement.
type BatterySample struct {
	Volts float64
	Time  time.Time
}

// Reading is a filtered value and the time it was taken.
type Reading struct {
	Value float64
	Time  time.Time
}

// Estimate is the live state consumed by the pyro interlocks.
type Estimate struct {
	AGL      float64 // metres above the armed ground reference
	VertVel  float64 // m/s, positive up
	PitchDeg float64 // deviation from vertical
	YawDeg   float64
	Time     time.Time
}
