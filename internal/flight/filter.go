package flight

import (
	"sort"
	"time"
)

// medianFilter smooths a stream with a sliding median over a fixed window.
// Until the window fills, the median of the samples seen so far is used.
type medianFilter struct {
	window []float64
	next   int
	count  int
	sorted []float64
}

func newMedianFilter(size int) *medianFilter {
	if size < 1 {
		size = 1
	}
	return &medianFilter{
		window: make([]float64, size),
		sorted: make([]float64, 0, size),
	}
}

// step adds v and returns the current median.
func (f *medianFilter) step(v float64) float64 {
	f.window[f.next] = v
	f.next = (f.next + 1) % len(f.window)
	if f.count < len(f.window) {
		f.count++
	}

	f.sorted = f.sorted[:0]
	if f.count < len(f.window) {
		f.sorted = append(f.sorted, f.window[:f.count]...)
	} else {
		f.sorted = append(f.sorted, f.window...)
	}
	sort.Float64s(f.sorted)

	n := len(f.sorted)
	if n%2 == 1 {
		return f.sorted[n/2]
	}
	return (f.sorted[n/2-1] + f.sorted[n/2]) / 2
}

// readingRing keeps the last N readings, overwriting the oldest.
// Not safe for concurrent use; the Machine lock guards it.
type readingRing struct {
	buf   []Reading
	head  int // next write position
	count int
}

func newReadingRing(capacity int) *readingRing {
	return &readingRing{buf: make([]Reading, capacity)}
}

func (r *readingRing) push(v Reading) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// first returns the oldest reading.
func (r *readingRing) first() (Reading, bool) {
	if r.count == 0 {
		return Reading{}, false
	}
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	return r.buf[start], true
}

// last returns the newest reading.
func (r *readingRing) last() (Reading, bool) {
	if r.count == 0 {
		return Reading{}, false
	}
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)], true
}

func (r *readingRing) len() int { return r.count }

// differentiator is a first-order finite difference at a fixed time step.
// The first sample primes it and yields zero.
type differentiator struct {
	dt     float64
	prev   float64
	primed bool
}

func newDifferentiator(step time.Duration) *differentiator {
	return &differentiator{dt: step.Seconds()}
}

func (d *differentiator) step(v float64) float64 {
	if !d.primed {
		d.prev = v
		d.primed = true
		return 0
	}
	out := (v - d.prev) / d.dt
	d.prev = v
	return out
}
