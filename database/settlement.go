package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

func (d Datasource) CreateSettlementRequest(ctx context.Context, settlement *model.SettlementRequest) (*model.SettlementRequest, error) {
	ctx, span := otel.Tracer("settlement").Start(ctx, "Saving settlement request to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(settlement.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = time.Now()
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO railcore.settlement_requests(reference,amount,currency,priority_tier,account_number,routing_number,required_capabilities,status,deadline,attempt_cycle,created_at,meta_data)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		settlement.Reference, settlement.Amount, settlement.Currency, settlement.PriorityTier,
		settlement.Destination.AccountNumber, settlement.Destination.RoutingNumber,
		pq.Array(settlement.Destination.RequiredCapabilities),
		settlement.Status, settlement.Deadline, settlement.AttemptCycle, settlement.CreatedAt, metaDataJSON,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Settlement reference '%s' already exists", settlement.Reference), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create settlement request", err)
	}

	return settlement, nil
}

func (d Datasource) GetSettlementRequest(ctx context.Context, reference string) (*model.SettlementRequest, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT reference, amount, currency, priority_tier, account_number, routing_number, required_capabilities,
		       status, deadline, attempt_cycle, next_retry_at, sla_warned, manual_review, escalated, created_at, completed_at, meta_data
		FROM railcore.settlement_requests
		WHERE reference = $1
	`, reference)

	settlement, err := scanSettlement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Settlement with reference '%s' not found", reference), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve settlement", err)
	}
	return settlement, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSettlement(row rowScanner) (*model.SettlementRequest, error) {
	settlement := &model.SettlementRequest{}
	var routingNumber sql.NullString
	var capabilities pq.StringArray
	var nextRetryAt, completedAt sql.NullTime
	var metaDataJSON []byte

	err := row.Scan(&settlement.Reference, &settlement.Amount, &settlement.Currency, &settlement.PriorityTier,
		&settlement.Destination.AccountNumber, &routingNumber, &capabilities,
		&settlement.Status, &settlement.Deadline, &settlement.AttemptCycle, &nextRetryAt,
		&settlement.SLAWarned, &settlement.ManualReview, &settlement.Escalated,
		&settlement.CreatedAt, &completedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	settlement.Destination.RoutingNumber = routingNumber.String
	settlement.Destination.RequiredCapabilities = capabilities
	if nextRetryAt.Valid {
		settlement.NextRetryAt = nextRetryAt.Time
	}
	if completedAt.Valid {
		settlement.CompletedAt = &completedAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &settlement.MetaData); err != nil {
			return nil, err
		}
	}
	return settlement, nil
}

// UpdateSettlementStatus moves a settlement to a new state after re-checking
// legality against the stored state inside one UPDATE, so two workers racing
// a transition cannot both win.
func (d Datasource) UpdateSettlementStatus(ctx context.Context, reference string, status string, completedAt *time.Time) error {
	legalFrom := legalSourcesFor(status)
	if len(legalFrom) == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("no legal transition into state '%s'", status), nil)
	}

	result, err := d.Conn.ExecContext(ctx,
		`UPDATE railcore.settlement_requests SET status = $1, completed_at = COALESCE($2, completed_at)
		 WHERE reference = $3 AND status = ANY($4)`,
		status, completedAt, reference, pq.Array(legalFrom))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update settlement status", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("illegal or stale transition to '%s' for settlement '%s'", status, reference), nil)
	}
	return nil
}

func legalSourcesFor(status string) []string {
	switch status {
	case model.StatusValidating:
		return []string{model.StatusInitiated}
	case model.StatusProcessing:
		return []string{model.StatusValidating}
	case model.StatusCompleted, model.StatusFailed:
		return []string{model.StatusValidating, model.StatusProcessing}
	case model.StatusExpired:
		return []string{model.StatusInitiated, model.StatusValidating, model.StatusProcessing}
	}
	return nil
}

// UpdateRetrySchedule persists the next retry cycle so the backoff schedule
// survives a restart.
func (d Datasource) UpdateRetrySchedule(ctx context.Context, reference string, cycle int, nextRetryAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx,
		`UPDATE railcore.settlement_requests SET attempt_cycle = $1, next_retry_at = $2 WHERE reference = $3`,
		cycle, nextRetryAt, reference)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update retry schedule", err)
	}
	return nil
}

// MarkSLAWarned flips the one-shot warning flag. Returns ErrConflict when the
// warning was already emitted so the sweep never alerts twice.
func (d Datasource) MarkSLAWarned(ctx context.Context, reference string) error {
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE railcore.settlement_requests SET sla_warned = TRUE WHERE reference = $1 AND sla_warned = FALSE`, reference)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark SLA warning", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("settlement '%s' already warned", reference), nil)
	}
	return nil
}

func (d Datasource) MarkEscalated(ctx context.Context, reference string) error {
	_, err := d.Conn.ExecContext(ctx,
		`UPDATE railcore.settlement_requests SET escalated = TRUE WHERE reference = $1`, reference)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark settlement escalated", err)
	}
	return nil
}

func (d Datasource) FlagManualReview(ctx context.Context, reference string) error {
	_, err := d.Conn.ExecContext(ctx,
		`UPDATE railcore.settlement_requests SET manual_review = TRUE WHERE reference = $1`, reference)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to flag settlement for manual review", err)
	}
	return nil
}

// ListNonTerminalSettlements feeds the SLA sweep.
func (d Datasource) ListNonTerminalSettlements(ctx context.Context, limit int) ([]*model.SettlementRequest, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT reference, amount, currency, priority_tier, account_number, routing_number, required_capabilities,
		       status, deadline, attempt_cycle, next_retry_at, sla_warned, manual_review, escalated, created_at, completed_at, meta_data
		FROM railcore.settlement_requests
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY deadline ASC
		LIMIT $4
	`, model.StatusCompleted, model.StatusFailed, model.StatusExpired, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list non-terminal settlements", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var settlements []*model.SettlementRequest
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan settlement", err)
		}
		settlements = append(settlements, settlement)
	}
	return settlements, rows.Err()
}

func (d Datasource) RecordAttempt(ctx context.Context, attempt *model.SettlementAttempt) (*model.SettlementAttempt, error) {
	if attempt.AttemptID == "" {
		attempt.AttemptID = model.GenerateUUIDWithSuffix("att")
	}

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO railcore.settlement_attempts(attempt_id,reference,rail,cycle,outcome,external_ref,error,started_at,finished_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		attempt.AttemptID, attempt.Reference, attempt.Rail, attempt.Cycle, attempt.Outcome,
		attempt.ExternalRef, attempt.Error, attempt.StartedAt, attempt.FinishedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record settlement attempt", err)
	}
	return attempt, nil
}

// GetSuccessfulAttempt returns the succeeded attempt for a reference, or nil.
// The orchestrator consults this before any rail submission so a crash-retry
// can never move the same value twice.
func (d Datasource) GetSuccessfulAttempt(ctx context.Context, reference string) (*model.SettlementAttempt, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT attempt_id, reference, rail, cycle, outcome, external_ref, error, started_at, finished_at
		FROM railcore.settlement_attempts
		WHERE reference = $1 AND outcome = $2
		LIMIT 1
	`, reference, model.AttemptSucceeded)

	attempt, err := scanAttempt(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve attempt", err)
	}
	return attempt, nil
}

func scanAttempt(row rowScanner) (*model.SettlementAttempt, error) {
	attempt := &model.SettlementAttempt{}
	var externalRef, attemptErr sql.NullString
	err := row.Scan(&attempt.AttemptID, &attempt.Reference, &attempt.Rail, &attempt.Cycle, &attempt.Outcome,
		&externalRef, &attemptErr, &attempt.StartedAt, &attempt.FinishedAt)
	if err != nil {
		return nil, err
	}
	attempt.ExternalRef = externalRef.String
	attempt.Error = attemptErr.String
	return attempt, nil
}

// ListCompletedAttempts returns every succeeded attempt in a date range, for
// the reconciliation batch job.
func (d Datasource) ListCompletedAttempts(ctx context.Context, start, end time.Time) ([]*model.SettlementAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT attempt_id, reference, rail, cycle, outcome, external_ref, error, started_at, finished_at
		FROM railcore.settlement_attempts
		WHERE outcome = $1 AND finished_at BETWEEN $2 AND $3
		ORDER BY finished_at ASC
	`, model.AttemptSucceeded, start, end)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list completed attempts", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var attempts []*model.SettlementAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan attempt", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func (d Datasource) RecordSLAEvent(ctx context.Context, reference, eventType string) error {
	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO railcore.sla_events(reference, event_type) VALUES ($1, $2)`, reference, eventType)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record SLA event", err)
	}
	return nil
}

// GetSettlementMetrics aggregates attempt outcomes per rail over a range.
func (d Datasource) GetSettlementMetrics(ctx context.Context, start, end time.Time) ([]model.RailMetric, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT a.rail,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE a.outcome = $1) AS succeeded,
		       COUNT(*) FILTER (WHERE a.outcome != $1) AS failed,
		       COALESCE(SUM(s.amount) FILTER (WHERE a.outcome = $1), 0) AS volume,
		       COALESCE(AVG(EXTRACT(EPOCH FROM (a.finished_at - a.started_at)) * 1000), 0) AS avg_latency_ms,
		       COALESCE(MAX(EXTRACT(EPOCH FROM (a.finished_at - a.started_at)) * 1000), 0) AS max_latency_ms
		FROM railcore.settlement_attempts a
		JOIN railcore.settlement_requests s ON s.reference = a.reference
		WHERE a.started_at BETWEEN $2 AND $3
		GROUP BY a.rail
	`, model.AttemptSucceeded, start, end)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to aggregate settlement metrics", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var metrics []model.RailMetric
	for rows.Next() {
		var m model.RailMetric
		if err := rows.Scan(&m.Rail, &m.Total, &m.Succeeded, &m.Failed, &m.Volume, &m.AvgLatencyMs, &m.MaxLatencyMs); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan metric", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
