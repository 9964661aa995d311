// Package sim produces a deterministic single-stage flight as sensor
// samples, so the flight computer can run end to end without hardware.
package sim

import (
	"math"
	"time"

	"github.com/sweeney/flight-computer/internal/flight"
)

// Profile is a kinematic flight: constant-thrust boost, drag-free coast,
// free fall until the drogue holds a steady descent, a slower descent
// under main, and rest on the ground. Altitudes are metres above the pad.
type Profile struct {
	Launch      time.Time // motor ignition
	PadAltitude float64   // metres MSL
	Gravity     float64   // local gravity; below flight.G so rest reads under 1 g
	BoostAccel  float64   // net upward acceleration during the burn
	BurnTime    time.Duration
	DrogueRate  float64 // steady descent under drogue, m/s
	MainAlt     float64 // main opens at this height
	MainRate    float64 // steady descent under main, m/s
	Noise       float64 // baro noise amplitude, metres

	Latitude, Longitude float64
	BatteryVolts        float64
	BatteryDrainPerHour float64
}

// Default returns the standard profile launching at launch.
func Default(launch time.Time) Profile {
	return Profile{
		Launch:              launch,
		PadAltitude:         1400,
		Gravity:             9.78,
		BoostAccel:          60,
		BurnTime:            3 * time.Second,
		DrogueRate:          20,
		MainAlt:             300,
		MainRate:            6,
		Latitude:            51.4769,
		Longitude:           -0.0005,
		BatteryVolts:        4.1,
		BatteryDrainPerHour: 0.2,
	}
}

// Samples is one reading of every sensor.
type Samples struct {
	Baro    flight.BaroSample
	GPS     flight.GPSFix
	IMU     flight.IMUSample
	Battery flight.BatterySample
}

// state is height, vertical velocity and measured specific force.
type state struct {
	h, v, f float64
}

// burnout returns the velocity and height at motor burnout.
func (p Profile) burnout() (v, h float64) {
	tb := p.BurnTime.Seconds()
	return p.BoostAccel * tb, 0.5 * p.BoostAccel * tb * tb
}

// Apogee returns the peak height and its time after launch.
func (p Profile) Apogee() (float64, time.Duration) {
	vb, hb := p.burnout()
	tc := vb / p.Gravity
	return hb + vb*vb/(2*p.Gravity), p.BurnTime + seconds(tc)
}

// Timeline returns when the drogue reaches steady descent, when the main
// opens, and when the vehicle lands, all after launch.
func (p Profile) Timeline() (drogue, main, landing time.Duration) {
	hApo, tApo := p.Apogee()
	fall := p.DrogueRate / p.Gravity
	drop := p.DrogueRate * p.DrogueRate / (2 * p.Gravity)
	drogue = tApo + seconds(fall)
	main = drogue + seconds((hApo-drop-p.MainAlt)/p.DrogueRate)
	landing = main + seconds(p.MainAlt/p.MainRate)
	return drogue, main, landing
}

func (p Profile) at(t time.Time) state {
	tau := t.Sub(p.Launch)
	if tau <= 0 {
		return state{f: p.Gravity}
	}
	s := tau.Seconds()
	if tau < p.BurnTime {
		return state{h: 0.5 * p.BoostAccel * s * s, v: p.BoostAccel * s, f: p.BoostAccel + p.Gravity}
	}

	vb, hb := p.burnout()
	hApo, tApo := p.Apogee()
	drogue, main, landing := p.Timeline()
	switch {
	case tau < tApo:
		c := s - p.BurnTime.Seconds()
		return state{h: hb + vb*c - 0.5*p.Gravity*c*c, v: vb - p.Gravity*c}
	case tau < drogue:
		c := (tau - tApo).Seconds()
		return state{h: hApo - 0.5*p.Gravity*c*c, v: -p.Gravity * c}
	case tau < main:
		drop := p.DrogueRate * p.DrogueRate / (2 * p.Gravity)
		c := (tau - drogue).Seconds()
		return state{h: hApo - drop - p.DrogueRate*c, v: -p.DrogueRate, f: p.Gravity}
	case tau < landing:
		c := (tau - main).Seconds()
		return state{h: p.MainAlt - p.MainRate*c, v: -p.MainRate, f: p.Gravity}
	}
	return state{f: p.Gravity}
}

// Sample returns every sensor's reading at t.
func (p Profile) Sample(t time.Time) Samples {
	st := p.at(t)
	msl := p.PadAltitude + st.h
	drift := st.h * 1e-6 // a little downrange drift with height

	return Samples{
		Baro: flight.BaroSample{
			Altitude:    msl + p.noise(t),
			Temperature: 15 - 0.0065*st.h,
			Time:        t,
		},
		GPS: flight.GPSFix{
			Latitude:   p.Latitude + drift,
			Longitude:  p.Longitude + drift,
			Altitude:   msl,
			Epoch:      t.Unix(),
			FixType:    3,
			Satellites: 10,
			Time:       t,
		},
		IMU: flight.IMUSample{
			Accel: [3]float64{st.f, 0, 0},
			Time:  t,
		},
		Battery: flight.BatterySample{
			Volts: p.BatteryVolts - p.BatteryDrainPerHour*math.Max(0, t.Sub(p.Launch).Hours()),
			Time:  t,
		},
	}
}

// Landed reports whether the vehicle is on the ground after flight.
func (p Profile) Landed(t time.Time) bool {
	_, _, landing := p.Timeline()
	return t.Sub(p.Launch) >= landing
}

// noise is deterministic so runs are repeatable.
func (p Profile) noise(t time.Time) float64 {
	if p.Noise == 0 {
		return 0
	}
	s := float64(t.UnixNano()) / 1e9
	return p.Noise * (0.6*math.Sin(s*7.3) + 0.4*math.Sin(s*23.1+1.7))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
