package gpio

import (
	"errors"
	"testing"
)

func TestFakeChannelCountsRisingEdges(t *testing.T) {
	f := NewFakeChannel(true)

	for _, on := range []bool{true, true, false, true} {
		if err := f.SetFire(on); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if f.Fires() != 2 {
		t.Errorf("fires: got %d, want 2", f.Fires())
	}
	if !f.Firing() {
		t.Error("expected output asserted")
	}
}

func TestFakeChannelContinuity(t *testing.T) {
	f := NewFakeChannel(false)

	got, err := f.Continuity()
	if err != nil || got {
		t.Fatalf("got (%v, %v), want (false, nil)", got, err)
	}
	f.SetContinuity(true)
	if got, _ := f.Continuity(); !got {
		t.Error("expected continuity after SetContinuity(true)")
	}

	f.ContinuityErr = errors.New("simulated error")
	if _, err := f.Continuity(); err == nil {
		t.Error("expected error to be returned")
	}
}

func TestCloseAllDrivesLow(t *testing.T) {
	chs, fakes := NewFakeBank(3, true)
	for _, ch := range chs {
		_ = ch.SetFire(true)
	}

	if err := CloseAll(chs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, f := range fakes {
		if f.Firing() {
			t.Errorf("channel %d still firing after close", i)
		}
		if !f.Closed() {
			t.Errorf("channel %d not closed", i)
		}
	}
}
