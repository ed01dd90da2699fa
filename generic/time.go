package generic

import (
	"time"
)

// =============================================================================
// CLOCK - Injectable "now"
// =============================================================================

// Clock supplies the current time. Services take a Clock so tests can pin
// "now" to a due-date boundary.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Set moves it.
type FixedClock struct {
	At time.Time
}

func (c *FixedClock) Now() time.Time  { return c.At }
func (c *FixedClock) Set(t time.Time) { c.At = t }

// =============================================================================
// DAY ARITHMETIC
// =============================================================================

// Date builds a UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from the start of from's day to the start
// of to's day. Negative when to is earlier.
func DaysBetween(from, to time.Time) int {
	return int(StartOfDay(to).Sub(StartOfDay(from)).Hours() / 24)
}
