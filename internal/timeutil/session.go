package timeutil

import (
	"fmt"
	"time"
)

// DefaultZone is the zone wall-clock timestamps are resolved in when no
// other zone is configured.
const DefaultZone = "America/New_York"

// SessionClock stamps frames for one capture session.
//
// The wall-clock anchor is sampled exactly once, when the clock is created.
// Every later wall-clock value is the anchor plus the monotonic time elapsed
// since then, so a wall-clock step (NTP, user change, DST) during a session
// never reorders or jumps frame timestamps.
type SessionClock struct {
	clock  Clock
	start  time.Time
	anchor time.Time
}

// NewSessionClock anchors a new session at the current instant of c and
// resolves the wall-clock anchor in loc.
func NewSessionClock(c Clock, loc *time.Location) *SessionClock {
	if c == nil {
		c = RealClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	start := c.Now()
	return &SessionClock{
		clock: c,
		start: start,
		// Round(0) drops the monotonic reading so the anchor is a pure
		// calendar value.
		anchor: start.Round(0).In(loc),
	}
}

// Monotonic returns the nanoseconds elapsed since the session started.
func (s *SessionClock) Monotonic() int64 {
	return int64(s.clock.Since(s.start))
}

// WallAt converts a session monotonic reading to a wall-clock time in the
// session zone.
func (s *SessionClock) WallAt(monotonicNanos int64) time.Time {
	return s.anchor.Add(time.Duration(monotonicNanos))
}

// Anchor returns the wall-clock time at which the session started.
func (s *SessionClock) Anchor() time.Time { return s.anchor }

// Location returns the zone wall-clock values are resolved in.
func (s *SessionClock) Location() *time.Location { return s.anchor.Location() }

// LoadZone resolves an IANA zone name. An empty name selects DefaultZone.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", name, err)
	}
	return loc, nil
}
