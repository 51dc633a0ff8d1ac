// Package units provides shared time-axis conversions for alignment math.
//
// The alignment layer works in float64 milliseconds on a producer-chosen
// epoch (Unix wall-clock milliseconds for live producers). These helpers
// convert between that axis and the standard library time types at the
// boundaries, preserving sub-millisecond fractions.
package units

import "time"

// MillisPerSecond is the number of milliseconds in one second.
const MillisPerSecond = 1000.0

// DurationToMillis converts a duration to fractional milliseconds.
func DurationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// MillisToDuration converts fractional milliseconds to a duration.
func MillisToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// TimeToMillis converts a wall-clock time to Unix milliseconds with
// sub-millisecond precision.
func TimeToMillis(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}

// MillisToTime converts Unix milliseconds back to a wall-clock time.
func MillisToTime(ms float64) time.Time {
	return time.Unix(0, int64(ms*float64(time.Millisecond)))
}

// MicrosToMillis converts microseconds to milliseconds. Hardware clocks
// (eye trackers, sensor boards) commonly report in microseconds.
func MicrosToMillis(us float64) float64 {
	return us / 1000.0
}
