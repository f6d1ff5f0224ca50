package ui

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// timestampFormat is the fixed display layout for submission times.
const timestampFormat = "2006/01/02 15:04:05"

// FormatDuration renders a duration with an adaptive unit: milliseconds under
// 100ms, then seconds, minutes, and hours.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	switch {
	case ms < 100:
		return fmt.Sprintf("%d ms", ms)
	case ms < 60*1000:
		return fmt.Sprintf("%.1f s", float64(ms)/1000)
	case ms < 60*60*1000:
		return fmt.Sprintf("%.1f min", float64(ms)/(60*1000))
	default:
		return fmt.Sprintf("%.2f h", float64(ms)/(60*60*1000))
	}
}

// FormatBytes renders a byte count in binary units, e.g. "2.0 KiB".
func FormatBytes(b uint64) string {
	return humanize.IBytes(b)
}

// formatShuffleBytes suppresses zero-valued shuffle cells entirely.
func formatShuffleBytes(b uint64) string {
	if b == 0 {
		return ""
	}
	return FormatBytes(b)
}

// formatTimestamp renders an optional timestamp, "Unknown" when absent.
func formatTimestamp(t *time.Time) string {
	if t == nil {
		return "Unknown"
	}
	return t.Format(timestampFormat)
}

// ElapsedTime renders the span between an optional start and an optional end.
// An absent start means the activity's timing cannot be determined and yields
// "Unknown". A still-running activity (nil end) is bounded by now, so repeated
// renders of the same item show a growing duration. Spans that come out
// negative are treated as zero.
func ElapsedTime(start, end *time.Time, now time.Time) string {
	if start == nil {
		return "Unknown"
	}
	bound := now
	if end != nil {
		bound = *end
	}
	d := bound.Sub(*start)
	if d < 0 {
		d = 0
	}
	return FormatDuration(d)
}
