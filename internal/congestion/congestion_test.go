package congestion

import "testing"

func TestTrackerTripsAfterLimit(t *testing.T) {
	tr := NewTracker()

	var tripped bool
	for i := 0; i < Limit+1; i++ {
		if tr.Observe(42) {
			tripped = true
			break
		}
	}
	if !tripped {
		t.Fatalf("expected tracker to trip within %d events", Limit+1)
	}
}

func TestTrackerIndependentPerFlow(t *testing.T) {
	tr := NewTracker()

	for i := 0; i < Limit; i++ {
		if tr.Observe(1) {
			t.Fatalf("flow 1 tripped early at event %d", i)
		}
	}
	if tr.Observe(2) {
		t.Fatal("unrelated flow 2 should not be affected by flow 1's budget")
	}
}
