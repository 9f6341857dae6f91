package utils

import (
	"fmt"
	"time"
)

// DateLayout is the canonical date format at API boundaries (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// DateToUnix converts a YYYY-MM-DD date string to a Unix timestamp at
// midnight UTC. Storage uses these timestamps for all date columns.
func DateToUnix(date string) (int64, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return 0, fmt.Errorf("failed to parse date %q: %w", date, err)
	}
	return t.Unix(), nil
}

// UnixToDate converts a Unix timestamp to a YYYY-MM-DD string in UTC.
func UnixToDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(DateLayout)
}

// Today returns today's date string in UTC.
func Today() string {
	return time.Now().UTC().Format(DateLayout)
}

// Yesterday returns yesterday's date string in UTC.
func Yesterday() string {
	return time.Now().UTC().AddDate(0, 0, -1).Format(DateLayout)
}
