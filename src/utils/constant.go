package utils

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------

const (
	// DateLayout is the ISO date used in selections and channel URLs.
	DateLayout = "2006-01-02"

	// ClockLayout formats estimated appointment times.
	ClockLayout = "15:04"

	// WaitRangeSpread is applied on each side of the wait estimate when the
	// backend does not send a range of its own.
	WaitRangeSpread = 5

	DefaultEventLogSize = 100
)

// -----------------------------------------------------------------------------

// ParseDate parses an ISO date in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, date, loc)
}

// -----------------------------------------------------------------------------

// IsPastDate reports whether date lies strictly before the calendar day of now
// in loc. Today is not past.
func IsPastDate(date string, now time.Time, loc *time.Location) (bool, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := ParseDate(date, loc)
	if err != nil {
		return false, err
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return d.Before(today), nil
}

// -----------------------------------------------------------------------------

// WaitRange renders an estimate as "low-high min".
func WaitRange(waitMinutes int) string {
	low := waitMinutes - WaitRangeSpread
	if low < 0 {
		low = 0
	}
	return fmt.Sprintf("%d-%d min", low, waitMinutes+WaitRangeSpread)
}

// -----------------------------------------------------------------------------

// EstimatedClockTime returns the wall-clock time of asOf + waitMinutes.
func EstimatedClockTime(asOf time.Time, waitMinutes int, loc *time.Location) string {
	if asOf.IsZero() {
		return ""
	}
	if loc != nil {
		asOf = asOf.In(loc)
	}
	return asOf.Add(time.Duration(waitMinutes) * time.Minute).Format(ClockLayout)
}
