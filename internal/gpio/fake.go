package gpio

import "sync"

// FakeChannel is a test double with settable continuity that records every
// fire assertion.
type FakeChannel struct {
	mu         sync.Mutex
	continuity bool
	firing     bool
	fires      int
	closed     bool

	// ContinuityErr and FireErr, if set, are returned by the matching call.
	ContinuityErr error
	FireErr       error
}

// NewFakeChannel creates a FakeChannel with the given continuity.
func NewFakeChannel(continuity bool) *FakeChannel {
	return &FakeChannel{continuity: continuity}
}

// NewFakeBank returns n fake channels, all with the given continuity.
func NewFakeBank(n int, continuity bool) ([]Channel, []*FakeChannel) {
	chs := make([]Channel, n)
	fakes := make([]*FakeChannel, n)
	for i := range chs {
		fakes[i] = NewFakeChannel(continuity)
		chs[i] = fakes[i]
	}
	return chs, fakes
}

func (f *FakeChannel) SetFire(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FireErr != nil {
		return f.FireErr
	}
	if on && !f.firing {
		f.fires++
	}
	f.firing = on
	return nil
}

func (f *FakeChannel) Continuity() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ContinuityErr != nil {
		return false, f.ContinuityErr
	}
	return f.continuity, nil
}

// SetContinuity scripts the next continuity reads.
func (f *FakeChannel) SetContinuity(v bool) {
	f.mu.Lock()
	f.continuity = v
	f.mu.Unlock()
}

// Firing reports whether the output is currently asserted.
func (f *FakeChannel) Firing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firing
}

// Fires counts off-to-on transitions of the output.
func (f *FakeChannel) Fires() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fires
}

// Close drives the output low and marks the channel closed.
func (f *FakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.firing = false
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeChannel) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
