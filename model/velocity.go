package model

import (
	"fmt"
	"time"
)

// Velocity periods. Windows are aligned to clock boundaries so counters reset
// exactly at the period boundary.
const (
	PeriodHourly  = "1h"
	PeriodDaily   = "24h"
	PeriodWeekly  = "7d"
	PeriodMonthly = "30d"
)

// PeriodSpec caps the number and total amount of approved transactions on one
// instrument within a window. A zero ceiling means uncapped.
type PeriodSpec struct {
	Period    string `json:"period"`
	MaxCount  int64  `json:"max_count"`
	MaxAmount int64  `json:"max_amount"`
}

// PeriodDuration maps a period name to its window length.
func PeriodDuration(period string) (time.Duration, error) {
	switch period {
	case PeriodHourly:
		return time.Hour, nil
	case PeriodDaily:
		return 24 * time.Hour, nil
	case PeriodWeekly:
		return 7 * 24 * time.Hour, nil
	case PeriodMonthly:
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown velocity period %q", period)
}

// WindowStart returns the aligned start of the window containing t.
func WindowStart(period string, t time.Time) (time.Time, error) {
	d, err := PeriodDuration(period)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(d), nil
}

// VelocityKey builds the counter key for one (instrument, period) window.
func VelocityKey(instrumentID, period string, windowStart time.Time) string {
	return fmt.Sprintf("velocity:%s:%s:%d", instrumentID, period, windowStart.Unix())
}

// WindowCounters is the post-operation view of one period window.
type WindowCounters struct {
	Period string `json:"period"`
	Count  int64  `json:"count"`
	Amount int64  `json:"amount"`
}

// VelocityResult is the outcome of an atomic check-and-reserve.
type VelocityResult struct {
	Allowed        bool             `json:"allowed"`
	ViolatedPeriod string           `json:"violated_period,omitempty"`
	Counters       []WindowCounters `json:"counters"`
}
