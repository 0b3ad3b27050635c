package utils

import (
	"time"
)

// ResetTime truncates t according to granularity.
// "minute" resets seconds, "hour" resets minutes and seconds, "day" returns UTC midnight.
func ResetTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case "minute":
		return t.Truncate(time.Minute)
	case "hour":
		return t.Truncate(time.Hour)
	case "day":
		u := t.UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// StartOfDayUTC is the lower bound used for daily volume accounting.
func StartOfDayUTC(t time.Time) time.Time {
	return ResetTime(t, "day")
}

// UnixMilli returns t in milliseconds, the timestamp unit both venues expect.
func UnixMilli(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
