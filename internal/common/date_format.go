package common

import (
	"fmt"
	"time"
)

// Standard date format constants
const (
	// ISO8601Date is used for report timestamps and log lines
	ISO8601Date = "2006-01-02"

	// FlagDate is the DDMMYYYY form accepted by --start/--end and the job file
	FlagDate = "02012006"

	// OverlayTimestamp is the acquisition time format drawn on video frames
	OverlayTimestamp = "02.01.2006 15:04:05"
)

// FormatISO8601 formats a time.Time to ISO 8601 date string (YYYY-MM-DD)
func FormatISO8601(t time.Time) string {
	return t.Format(ISO8601Date)
}

// ParseFlagDate parses a DDMMYYYY date. An empty string yields the zero time and no error.
func ParseFlagDate(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(FlagDate, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want DDMMYYYY): %w", dateStr, err)
	}
	return t, nil
}

// FormatOverlay formats an acquisition time for the frame label (dd.mm.yyyy HH:MM:SS)
func FormatOverlay(t time.Time) string {
	return t.Format(OverlayTimestamp)
}

// SameOrAfterDate compares calendar dates only, ignoring time of day.
func SameOrAfterDate(t, ref time.Time) bool {
	return !dateOnly(t).Before(dateOnly(ref))
}

// SameOrBeforeDate compares calendar dates only, ignoring time of day.
func SameOrBeforeDate(t, ref time.Time) bool {
	return !dateOnly(t).After(dateOnly(ref))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
