package model

import "time"

// Reconciliation classes for a completed settlement attempt.
const (
	ReconReconciled = "reconciled"
	ReconMismatched = "mismatched"
	ReconMissing    = "missing"
)

// ExternalRecord is a transaction as reported by a rail gateway.
type ExternalRecord struct {
	Reference string    `json:"reference"`
	Rail      string    `json:"rail"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Date      time.Time `json:"date"`
}

// ReconciliationRecord links exactly one settlement attempt to an externally
// reported transaction, or records it missing/mismatched. Created only by the
// batch job, never by the live path.
type ReconciliationRecord struct {
	ID             int64     `json:"-"`
	RecordID       string    `json:"record_id"`
	ReportID       string    `json:"report_id"`
	AttemptID      string    `json:"attempt_id"`
	Reference      string    `json:"reference"`
	Rail           string    `json:"rail"`
	Class          string    `json:"class"`
	InternalAmount int64     `json:"internal_amount"`
	ExternalAmount int64     `json:"external_amount,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReconciliationReport summarizes one batch run over a date range.
type ReconciliationReport struct {
	ID          int64      `json:"-"`
	ReportID    string     `json:"report_id"`
	RangeStart  time.Time  `json:"range_start"`
	RangeEnd    time.Time  `json:"range_end"`
	Total       int        `json:"total"`
	Reconciled  int        `json:"reconciled"`
	Mismatched  int        `json:"mismatched"`
	Missing     int        `json:"missing"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PercentReconciled returns the reconciled share of the report, 0-100.
func (r *ReconciliationReport) PercentReconciled() float64 {
	if r.Total == 0 {
		return 100
	}
	return float64(r.Reconciled) / float64(r.Total) * 100
}
