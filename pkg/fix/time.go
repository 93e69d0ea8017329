package fix

import "time"

// UTCTimestampLayout is the FIX UTCTimestamp format with millisecond precision.
const UTCTimestampLayout = "20060102-15:04:05.000"

func FormatUTCTimestamp(t time.Time) string {
	return t.UTC().Format(UTCTimestampLayout)
}

// ParseUTCTimestamp accepts second or millisecond precision.
func ParseUTCTimestamp(s string) (time.Time, error) {
	if len(s) == len("20060102-15:04:05") {
		return time.ParseInLocation("20060102-15:04:05", s, time.UTC)
	}
	return time.ParseInLocation(UTCTimestampLayout, s, time.UTC)
}
