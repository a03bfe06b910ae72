package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Reason codes recorded on a declined authorization. The recorded reason is
// always the first failing check in pipeline order.
const (
	ReasonInstrumentInactive = "INSTRUMENT_INACTIVE"
	ReasonInsufficientFunds  = "INSUFFICIENT_FUNDS"
	ReasonVelocityExceeded   = "VELOCITY_EXCEEDED"
	ReasonLimitExceeded      = "LIMIT_EXCEEDED"
	ReasonCategoryBlocked    = "CATEGORY_BLOCKED"
	ReasonSuspectedFraud     = "SUSPECTED_FRAUD"
	ReasonSystemError        = "SYSTEM_ERROR"
)

// AuthorizationRequest is the caller-supplied request for an accept/decline
// decision on an instrument.
type AuthorizationRequest struct {
	IdempotencyKey string    `json:"idempotency_key"`
	InstrumentID   string    `json:"instrument_id"`
	Amount         int64     `json:"amount"`
	CategoryCode   string    `json:"category_code"`
	Geography      string    `json:"geography"`
	Online         bool      `json:"online"`
	Timestamp      time.Time `json:"timestamp"`
}

func (r AuthorizationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IdempotencyKey, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.InstrumentID, validation.Required),
		validation.Field(&r.Amount, validation.Required, validation.Min(1)),
		validation.Field(&r.CategoryCode, validation.Required),
	)
}

// AuthorizationDecision is the immutable outcome of an authorization request.
// It is the unique result for its idempotency key within the decision TTL.
type AuthorizationDecision struct {
	ID             int64     `json:"-"`
	DecisionID     string    `json:"decision_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	InstrumentID   string    `json:"instrument_id"`
	Amount         int64     `json:"amount"`
	CategoryCode   string    `json:"category_code"`
	Approved       bool      `json:"approved"`
	AuthCode       string    `json:"auth_code,omitempty"`
	ReasonCode     string    `json:"reason_code,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
