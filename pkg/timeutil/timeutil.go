// Package timeutil provides the wall clock used for calendar-day quota resets.
// Day boundaries are computed in a single configured location so that every
// store and every process agrees on what "today" is.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// DateLayout is the canonical calendar-date format stored in quota records.
const DateLayout = "2006-01-02"

// AlmatyTZ is the default location (UTC+5, no DST).
var AlmatyTZ = time.FixedZone("Asia/Almaty", 5*60*60)

// Clock supplies the current time and today's date.
type Clock interface {
	// Now returns the current time in the clock's location.
	Now() time.Time
	// Today returns the current calendar date as YYYY-MM-DD.
	Today() string
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock creates a clock for the given location. A nil location uses UTC.
func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return &SystemClock{loc: loc}
}

// Now implements Clock.
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Today implements Clock.
func (c *SystemClock) Today() string {
	return FormatDate(c.Now())
}

// Location returns the clock's location.
func (c *SystemClock) Location() *time.Location {
	return c.loc
}

// LoadLocation resolves a timezone name. "Asia/Almaty" falls back to the
// fixed UTC+5 zone when tzdata is missing from the host.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == AlmatyTZ.String() {
			return AlmatyTZ, nil
		}
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}

// FormatDate renders t as YYYY-MM-DD in t's own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date in the given location.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// UntilNextDay returns the time left until the next midnight in t's location.
func UntilNextDay(t time.Time) time.Duration {
	return StartOfDay(t).AddDate(0, 0, 1).Sub(t)
}

// FixedClock is a settable clock for tests and replay.
type FixedClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFixedClock creates a clock frozen at now.
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Today implements Clock.
func (c *FixedClock) Today() string {
	return FormatDate(c.Now())
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
