package timeutil

import (
	"testing"
	"time"
)

func TestSessionClock_WallDerivedFromAnchor(t *testing.T) {
	loc, err := LoadZone("America/New_York")
	if err != nil {
		t.Skipf("zone database unavailable: %v", err)
	}
	base := time.Date(2025, 4, 17, 16, 0, 0, 0, time.UTC)
	mc := NewMockClock(base)
	sc := NewSessionClock(mc, loc)

	mc.Advance(1500 * time.Millisecond)
	mono := sc.Monotonic()
	if mono != int64(1500*time.Millisecond) {
		t.Fatalf("Monotonic = %d, want %d", mono, int64(1500*time.Millisecond))
	}

	// A wall-clock jump on the underlying clock must not leak into WallAt:
	// WallAt only depends on the anchor and the monotonic argument.
	wall := sc.WallAt(mono)
	if !wall.Equal(base.Add(1500 * time.Millisecond)) {
		t.Errorf("WallAt = %v, want %v", wall, base.Add(1500*time.Millisecond))
	}
	if wall.Location().String() != "America/New_York" {
		t.Errorf("wall zone = %s", wall.Location())
	}
	if sc.Location() != loc {
		t.Errorf("Location = %v, want %v", sc.Location(), loc)
	}
}

func TestSessionClock_MonotonicNonDecreasing(t *testing.T) {
	sc := NewSessionClock(RealClock{}, time.UTC)
	prev := sc.Monotonic()
	for i := 0; i < 100; i++ {
		cur := sc.Monotonic()
		if cur < prev {
			t.Fatalf("monotonic went backwards: %d < %d", cur, prev)
		}
		prev = cur
	}
}

func TestSessionClock_NilDefaults(t *testing.T) {
	sc := NewSessionClock(nil, nil)
	if sc.Location() != time.UTC {
		t.Errorf("expected UTC default, got %v", sc.Location())
	}
	if sc.Anchor().IsZero() {
		t.Error("anchor should be sampled")
	}
}

func TestLoadZone_Invalid(t *testing.T) {
	if _, err := LoadZone("Not/AZone"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}
