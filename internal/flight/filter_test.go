package flight

import (
	"math"
	"testing"
	"time"
)

func TestMedianFilter(t *testing.T) {
	f := newMedianFilter(3)
	tests := []struct {
		in, want float64
	}{
		{1, 1},
		{5, 3}, // partial window: mean of the middle pair
		{3, 3},
		{100, 5},
		{4, 4},
	}
	for i, tt := range tests {
		if got := f.step(tt.in); got != tt.want {
			t.Errorf("step %d (%v): got %v, want %v", i, tt.in, got, tt.want)
		}
	}
}

func TestMedianFilterRejectsSpike(t *testing.T) {
	f := newMedianFilter(9)
	var got float64
	for i := 0; i < 9; i++ {
		v := 10.0
		if i == 4 {
			v = 5000
		}
		got = f.step(v)
	}
	if got != 10 {
		t.Errorf("got %v, want 10", got)
	}
}

func TestReadingRingOverwritesOldest(t *testing.T) {
	r := newReadingRing(10)
	if _, ok := r.first(); ok {
		t.Fatal("empty ring reported a first reading")
	}
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 12; i++ {
		r.push(Reading{Value: float64(i), Time: base.Add(time.Duration(i) * time.Second)})
	}
	first, _ := r.first()
	last, _ := r.last()
	if first.Value != 3 {
		t.Errorf("first: got %v, want 3", first.Value)
	}
	if last.Value != 12 {
		t.Errorf("last: got %v, want 12", last.Value)
	}
	if r.len() != 10 {
		t.Errorf("len: got %d, want 10", r.len())
	}
}

func TestDifferentiator(t *testing.T) {
	d := newDifferentiator(100 * time.Millisecond)
	if got := d.step(50); got != 0 {
		t.Errorf("priming step: got %v, want 0", got)
	}
	if got := d.step(55); math.Abs(got-50) > 1e-9 {
		t.Errorf("got %v, want 50", got)
	}
	if got := d.step(55); got != 0 {
		t.Errorf("flat: got %v, want 0", got)
	}
}

func TestAttitudeIntegratesRates(t *testing.T) {
	var a attitude
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i <= 100; i++ {
		a.update(IMUSample{Gyro: [3]float64{0, 10, -5}, Time: base.Add(time.Duration(i) * 10 * time.Millisecond)})
	}
	if math.Abs(a.pitchDeg-10) > 1e-6 {
		t.Errorf("pitch: got %v, want 10", a.pitchDeg)
	}
	if math.Abs(a.yawDeg+5) > 1e-6 {
		t.Errorf("yaw: got %v, want -5", a.yawDeg)
	}

	// A long gap is a restart, not a rotation.
	a.update(IMUSample{Gyro: [3]float64{0, 100, 0}, Time: base.Add(5 * time.Second)})
	if math.Abs(a.pitchDeg-10) > 1e-6 {
		t.Errorf("after gap: got %v, want 10", a.pitchDeg)
	}

	a.reset()
	if a.pitchDeg != 0 || a.yawDeg != 0 {
		t.Errorf("reset: got %v/%v", a.pitchDeg, a.yawDeg)
	}
}
