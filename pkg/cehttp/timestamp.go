package cehttp

import (
	"time"

	"github.com/cloudevents/sdk-go/v2/types"
)

// ParseTime parses an RFC 3339 timestamp and returns the instant in UTC.
func ParseTime(raw string) (time.Time, error) {
	ts, err := types.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, &MalformedTimestampError{Raw: raw, Err: err}
	}
	if ts == nil {
		return time.Time{}, &MalformedTimestampError{Raw: raw}
	}
	return ts.Time.UTC(), nil
}
