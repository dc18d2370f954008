package domain

import "time"

// SecondsPerDay converts MODIS day counts to Unix seconds.
const SecondsPerDay = 24 * 60 * 60

// unixSecs1900 is 1900-01-01T00:00:00Z as Unix seconds.
const unixSecs1900 = -2208988800

// HoursSince1900 decodes an ERA5 time value (Gregorian hours since
// 1900-01-01 00:00:00) to a UTC date.
func HoursSince1900(hours int64) time.Time {
	return time.Unix(unixSecs1900+hours*3600, 0).UTC()
}

// DayCountToUnix converts a MODIS day count to Unix seconds.
func DayCountToUnix(days int64) int64 {
	return days * SecondsPerDay
}

// UnixToDate converts Unix seconds to a calendar date in loc.
func UnixToDate(sec int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(sec, 0).In(loc)
}
