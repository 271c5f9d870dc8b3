package cehttp

import (
	"errors"
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    time.Time
		wantErr bool
	}{
		{name: "utc", raw: "2018-04-05T17:31:05Z", want: time.Unix(1522949465, 0)},
		{name: "offset applied", raw: "2018-04-05T19:31:05+02:00", want: time.Unix(1522949465, 0)},
		{name: "fractional seconds", raw: "2018-04-05T17:31:05.25Z", want: time.Unix(1522949465, 250000000)},
		{name: "date only", raw: "2018-04-05", wantErr: true},
		{name: "garbage", raw: "yesterday", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTime(tc.raw)
			if tc.wantErr {
				var ts *MalformedTimestampError
				if !errors.As(err, &ts) {
					t.Fatalf("error = %v, want MalformedTimestampError", err)
				}
				if ts.Raw != tc.raw {
					t.Errorf("Raw = %q, want %q", ts.Raw, tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("ParseTime(%q) = %v, want %v", tc.raw, got, tc.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("Location() = %v, want UTC", got.Location())
			}
		})
	}
}
