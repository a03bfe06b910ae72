package model

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Settlement lifecycle. INITIATED -> VALIDATING -> PROCESSING ->
// COMPLETED | FAILED | EXPIRED. No other transitions are legal.
const (
	StatusInitiated  = "INITIATED"
	StatusValidating = "VALIDATING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusExpired    = "EXPIRED"
)

// Priority tiers. Each tier fixes the SLA deadline at creation time.
const (
	TierEmergency = "EMERGENCY"
	TierHigh      = "HIGH"
	TierNormal    = "NORMAL"
	TierBatch     = "BATCH"
)

// SLAForTier returns the maximum allowed time from settlement creation to a
// terminal state for the given priority tier.
func SLAForTier(tier string) time.Duration {
	switch tier {
	case TierEmergency:
		return 4 * time.Hour
	case TierHigh:
		return 2 * time.Hour
	case TierBatch:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

var legalTransitions = map[string][]string{
	StatusInitiated:  {StatusValidating, StatusExpired},
	StatusValidating: {StatusProcessing, StatusFailed, StatusExpired},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusExpired},
}

// CanTransition reports whether moving a settlement from one state to another
// is a legal lifecycle transition.
func CanTransition(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a settlement state admits no further
// transitions.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusExpired
}

// Destination identifies where settled funds land, plus the capabilities the
// chosen rail must support to reach it.
type Destination struct {
	AccountNumber        string   `json:"account_number"`
	RoutingNumber        string   `json:"routing_number,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// SettlementRequest tracks one movement of approved value across a rail. The
// deadline is set once at creation from the priority tier and never changed.
type SettlementRequest struct {
	ID           int64                  `json:"-"`
	Reference    string                 `json:"reference"`
	Amount       int64                  `json:"amount"`
	Currency     string                 `json:"currency"`
	PriorityTier string                 `json:"priority_tier"`
	Destination  Destination            `json:"destination"`
	Status       string                 `json:"status"`
	Deadline     time.Time              `json:"deadline"`
	AttemptCycle int                    `json:"attempt_cycle"`
	NextRetryAt  time.Time              `json:"next_retry_at,omitempty"`
	SLAWarned    bool                   `json:"sla_warned"`
	ManualReview bool                   `json:"manual_review"`
	Escalated    bool                   `json:"escalated"`
	CreatedAt    time.Time              `json:"created_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	MetaData     map[string]interface{} `json:"meta_data,omitempty"`
}

func (s SettlementRequest) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Reference, validation.Required, validation.Length(4, 128)),
		validation.Field(&s.Amount, validation.Required, validation.Min(1)),
		validation.Field(&s.PriorityTier, validation.Required, validation.In(TierEmergency, TierHigh, TierNormal, TierBatch)),
		validation.Field(&s.Destination, validation.By(func(interface{}) error {
			if s.Destination.AccountNumber == "" {
				return fmt.Errorf("destination account number is required")
			}
			return nil
		})),
	)
}

// Transition mutates the settlement status after checking legality.
func (s *SettlementRequest) Transition(to string) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("illegal settlement transition %s -> %s for %s", s.Status, to, s.Reference)
	}
	s.Status = to
	return nil
}

// Attempt outcomes.
const (
	AttemptSucceeded = "SUCCEEDED"
	AttemptTimedOut  = "TIMED_OUT"
	AttemptRejected  = "REJECTED"
)

// SettlementAttempt records one rail try. Owned exclusively by its
// SettlementRequest.
type SettlementAttempt struct {
	ID          int64     `json:"-"`
	AttemptID   string    `json:"attempt_id"`
	Reference   string    `json:"reference"`
	Rail        string    `json:"rail"`
	Cycle       int       `json:"cycle"`
	Outcome     string    `json:"outcome"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
