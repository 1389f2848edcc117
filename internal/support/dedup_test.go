package support

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestDeduplicator_WindowBoundary(t *testing.T) {
	clock := newFakeClock()
	d := NewDeduplicator(DedupOptions{Now: clock.Now})

	if d.Seen("queue-HANDOFF_REQUESTED-r1") {
		t.Fatal("first occurrence should not be seen")
	}

	clock.Advance(4999 * time.Millisecond)
	if !d.Seen("queue-HANDOFF_REQUESTED-r1") {
		t.Error("occurrence at +4999ms should be a duplicate")
	}

	clock.Advance(2 * time.Millisecond)
	if d.Seen("queue-HANDOFF_REQUESTED-r1") {
		t.Error("occurrence at +5001ms should be treated as new")
	}
}

func TestDeduplicator_HitDoesNotResetTimer(t *testing.T) {
	clock := newFakeClock()
	d := NewDeduplicator(DedupOptions{Now: clock.Now})

	d.Seen("fp")
	clock.Advance(4 * time.Second)
	if !d.Seen("fp") {
		t.Fatal("occurrence inside the window should be a duplicate")
	}
	clock.Advance(2 * time.Second)
	// 6s after the first record; the hit at +4s must not have extended it.
	if d.Seen("fp") {
		t.Error("occurrence past the window should be treated as new")
	}
}

func TestDeduplicator_DistinctFingerprints(t *testing.T) {
	clock := newFakeClock()
	d := NewDeduplicator(DedupOptions{Now: clock.Now})

	if d.Seen("a") || d.Seen("b") {
		t.Fatal("distinct fingerprints must not collide")
	}
	if !d.Seen("a") || !d.Seen("b") {
		t.Error("repeats within the window should be duplicates")
	}
}

func TestDeduplicator_SweepDropsOldEntries(t *testing.T) {
	clock := newFakeClock()
	d := NewDeduplicator(DedupOptions{Now: clock.Now})

	d.Seen("old")
	clock.Advance(6 * time.Minute)
	d.Seen("fresh")
	d.sweepExpired()

	if got := d.Len(); got != 1 {
		t.Errorf("Len() = %d after sweep, want 1", got)
	}
	if d.Seen("fresh") != true {
		t.Error("fresh entry should survive the sweep")
	}
}
