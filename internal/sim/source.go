package sim

import (
	"time"

	"github.com/sweeney/flight-computer/internal/flight"
)

// Source serves a Profile's samples at the clock's current time. It reports
// itself as a running sensor dependency so arming sees healthy sensors.
type Source struct {
	profile Profile
	clock   *Clock
}

// NewSource returns a source sampling p on c.
func NewSource(p Profile, c *Clock) *Source {
	return &Source{profile: p, clock: c}
}

// Name implements flight.Dependency.
func (s *Source) Name() string { return "sim-sensors" }

// Status implements flight.Dependency.
func (s *Source) Status() flight.Status { return flight.StatusRunning }

// Now returns the simulated time.
func (s *Source) Now() time.Time { return s.clock.Now() }

// Sample reads every sensor now.
func (s *Source) Sample() Samples { return s.profile.Sample(s.clock.Now()) }

// Profile returns the flight being simulated.
func (s *Source) Profile() Profile { return s.profile }
