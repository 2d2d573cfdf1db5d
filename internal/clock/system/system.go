// Package system provides wall clocks for run scheduling.
package system

import "time"

// Clock implements chart.Clock. Now reports the time in the clock's
// location, which decides the calendar date of a scheduled run.
type Clock struct {
	loc *time.Location
}

// New creates a Clock in loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Today returns the clock's current calendar date as midnight UTC.
func (c *Clock) Today() time.Time {
	return DateOf(c.Now())
}

// DateOf drops the time of day from t, keeping t's calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Fixed is a Clock that always returns the same instant.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time {
	return time.Time(f)
}
