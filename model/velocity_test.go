package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodDuration(t *testing.T) {
	for period, want := range map[string]time.Duration{
		PeriodHourly:  time.Hour,
		PeriodDaily:   24 * time.Hour,
		PeriodWeekly:  7 * 24 * time.Hour,
		PeriodMonthly: 30 * 24 * time.Hour,
	} {
		got, err := PeriodDuration(period)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := PeriodDuration("45m")
	assert.Error(t, err)
}

// Windows align to clock boundaries: every instant inside an hour maps to the
// same window start, and the next hour starts a fresh window.
func TestWindowStartAlignment(t *testing.T) {
	base := time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC)

	early, err := WindowStart(PeriodHourly, base.Add(1*time.Minute))
	assert.NoError(t, err)
	late, err := WindowStart(PeriodHourly, base.Add(59*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, early, late)
	assert.Equal(t, base, early)

	next, err := WindowStart(PeriodHourly, base.Add(61*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), next)

	_, err = WindowStart("45m", base)
	assert.Error(t, err)
}

func TestVelocityKey(t *testing.T) {
	windowStart := time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC)
	key := VelocityKey("ins_1", PeriodHourly, windowStart)
	assert.Equal(t, "velocity:ins_1:1h:1718460000", key)

	// Different windows never share a key.
	other := VelocityKey("ins_1", PeriodHourly, windowStart.Add(time.Hour))
	assert.NotEqual(t, key, other)
}
