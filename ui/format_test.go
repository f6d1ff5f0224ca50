package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0 ms", FormatDuration(0))
	assert.Equal(t, "99 ms", FormatDuration(99*time.Millisecond))
	assert.Equal(t, "2.3 s", FormatDuration(2300*time.Millisecond))
	assert.Equal(t, "59.0 s", FormatDuration(59*time.Second))
	assert.Equal(t, "1.5 min", FormatDuration(90*time.Second))
	assert.Equal(t, "2.00 h", FormatDuration(2*time.Hour))
}

func TestFormatDurationNegativeClampsToZero(t *testing.T) {
	assert.Equal(t, "0 ms", FormatDuration(-5*time.Second))
}

func TestFormatShuffleBytes(t *testing.T) {
	// Zero shuffle activity is suppressed, not shown as "0 B".
	assert.Equal(t, "", formatShuffleBytes(0))
	assert.Equal(t, "1.0 KiB", formatShuffleBytes(1024))
	assert.Equal(t, "2.0 KiB", formatShuffleBytes(2048))
	assert.Equal(t, "1.5 KiB", formatShuffleBytes(1536))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "Unknown", formatTimestamp(nil))

	ts := time.Date(2024, 3, 9, 14, 30, 5, 0, time.UTC)
	assert.Equal(t, "2024/03/09 14:30:05", formatTimestamp(&ts))
}

func TestElapsedTime(t *testing.T) {
	base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	end := base.Add(2300 * time.Millisecond)

	assert.Equal(t, "Unknown", ElapsedTime(nil, nil, base))
	assert.Equal(t, "Unknown", ElapsedTime(nil, &end, base))
	assert.Equal(t, "2.3 s", ElapsedTime(&base, &end, base.Add(time.Hour)))

	// Still running: bounded by now.
	assert.Equal(t, "1.0 s", ElapsedTime(&base, nil, base.Add(time.Second)))

	// Out-of-order timestamps must not go negative.
	before := base.Add(-time.Minute)
	assert.Equal(t, "0 ms", ElapsedTime(&base, &before, base))
}

func TestElapsedTimeMonotonicForRunningActivity(t *testing.T) {
	base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	first := ElapsedTime(&base, nil, base.Add(1200*time.Millisecond))
	second := ElapsedTime(&base, nil, base.Add(1700*time.Millisecond))
	assert.Equal(t, "1.2 s", first)
	assert.Equal(t, "1.7 s", second)
}
