package sim

import "time"

// Clock maps wall time onto simulated time, optionally faster than real
// time.
type Clock struct {
	wallStart time.Time
	simStart  time.Time
	speed     float64
	wall      func() time.Time
}

// NewClock starts simulated time at simStart now. A speed <= 0 means 1.
func NewClock(simStart time.Time, speed float64, wall func() time.Time) *Clock {
	if speed <= 0 {
		speed = 1
	}
	if wall == nil {
		wall = time.Now
	}
	return &Clock{wallStart: wall(), simStart: simStart, speed: speed, wall: wall}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	elapsed := c.wall().Sub(c.wallStart)
	return c.simStart.Add(time.Duration(float64(elapsed) * c.speed))
}

// Interval scales a simulated period to wall time, for tickers.
func (c *Clock) Interval(d time.Duration) time.Duration {
	out := time.Duration(float64(d) / c.speed)
	if out < time.Millisecond {
		out = time.Millisecond
	}
	return out
}
