package flight

import (
	"math"
	"time"
)

// maxGyroGap bounds the integration step; a larger gap between IMU samples
// is treated as a restart rather than integrated.
const maxGyroGap = 500 * time.Millisecond

// attitude integrates body rates into pitch and yaw deviation from the
// orientation at arm time. The airframe axis is body X, so rotation about
// Y is pitch and about Z is yaw.
type attitude struct {
	pitchDeg float64
	yawDeg   float64
	last     time.Time
}

func (a *attitude) reset() {
	a.pitchDeg = 0
	a.yawDeg = 0
	a.last = time.Time{}
}

func (a *attitude) update(s IMUSample) {
	if !a.last.IsZero() {
		dt := s.Time.Sub(a.last)
		if dt > 0 && dt <= maxGyroGap {
			sec := dt.Seconds()
			a.pitchDeg += s.Gyro[1] * sec
			a.yawDeg += s.Gyro[2] * sec
		}
	}
	a.last = s.Time
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
