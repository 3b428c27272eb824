package budget

import "testing"

func TestReserveRelease(t *testing.T) {
	b := New(1000)
	b.Reserve(300)
	if got := b.Effective(); got != 300 {
		t.Errorf("effective = %d, want 300", got)
	}
	b.Release(300)
	if got := b.Effective(); got != 0 {
		t.Errorf("effective = %d, want 0", got)
	}
	// Releasing more than reserved floors at zero.
	b.Release(500)
	if got := b.Effective(); got != 0 {
		t.Errorf("effective = %d, want 0 after over-release", got)
	}
}

func TestAddUsage_Accumulates(t *testing.T) {
	b := New(100000)
	b.AddUsage("builder", 100, 50, 0.01)
	b.AddUsage("builder", 200, 100, 0.02)
	snap := b.Get()
	if snap.ActualInput != 300 || snap.ActualOutput != 150 {
		t.Errorf("actuals = %d/%d, want 300/150", snap.ActualInput, snap.ActualOutput)
	}
	if snap.PerAgent["builder"].InputTokens != 300 {
		t.Errorf("per-agent input = %d, want 300", snap.PerAgent["builder"].InputTokens)
	}
}

func TestAddUsage_WarnsOnceAtEightyPercent(t *testing.T) {
	b := New(1000)
	if b.AddUsage("a", 700, 0, 0) {
		t.Error("70% should not warn")
	}
	if !b.AddUsage("a", 150, 0, 0) {
		t.Error("crossing 80% should warn")
	}
	if b.AddUsage("a", 50, 0, 0) {
		t.Error("warning must fire only once")
	}
}

func TestExceeded_CountsReservations(t *testing.T) {
	b := New(1000)
	b.AddUsage("a", 600, 0, 0)
	if b.Exceeded() {
		t.Error("600/1000 is not exceeded")
	}
	b.Reserve(500)
	if !b.Exceeded() {
		t.Error("600 actual + 500 reserved exceeds 1000")
	}
	b.Release(500)
	if b.Exceeded() {
		t.Error("release should clear the overage")
	}
}

func TestEstimateTokens_NonZero(t *testing.T) {
	if got := EstimateTokens("hello world, this is a sentence"); got <= 0 {
		t.Errorf("estimate = %d, want > 0", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("estimate of empty = %d, want 0", got)
	}
}
