package model

import "time"

// Urgency classes a rail is suited for.
const (
	UrgencyInstant  = "instant"
	UrgencySameDay  = "same-day"
	UrgencyStandard = "standard"
)

// Rail cost classes, cheapest last in a preference list.
const (
	CostPremium  = "premium"
	CostStandard = "standard"
	CostLow      = "low"
)

// Rail describes an external money-movement network. Definitions are supplied
// by configuration; per-rail runtime health lives in the breaker.
type Rail struct {
	Name         string        `json:"name"`
	Ceiling      int64         `json:"ceiling"`
	CostClass    string        `json:"cost_class"`
	Urgency      string        `json:"urgency"`
	Capabilities []string      `json:"capabilities"`
	Timeout      time.Duration `json:"timeout"`
}

func (r Rail) HasCapability(capability string) bool {
	for _, c := range r.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Breaker states for a rail.
const (
	BreakerClosed   = "CLOSED"
	BreakerOpen     = "OPEN"
	BreakerHalfOpen = "HALF_OPEN"
)

// RailHealthState is a snapshot of a rail's breaker, for operational
// visibility. Transitions are driven only by failure/success counts and
// timers, never by external override.
// RailMetric aggregates attempt outcomes per rail over a date range, for the
// settlement metrics endpoint.
type RailMetric struct {
	Rail         string  `json:"rail"`
	Total        int64   `json:"total"`
	Succeeded    int64   `json:"succeeded"`
	Failed       int64   `json:"failed"`
	Volume       int64   `json:"volume"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs int64   `json:"max_latency_ms"`
}

type RailHealthState struct {
	Rail         string    `json:"rail"`
	State        string    `json:"state"`
	Failures     int64     `json:"failures"`
	CooldownMs   int64     `json:"cooldown_ms"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
	LastProbedAt time.Time `json:"last_probed_at,omitempty"`
}
