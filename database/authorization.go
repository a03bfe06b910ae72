package database

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

// RecordDecision persists a decision exactly once per idempotency key. A
// conflicting insert means another worker won the race; the stored row is
// returned in that case so both callers observe one decision.
func (d Datasource) RecordDecision(ctx context.Context, decision *model.AuthorizationDecision) (*model.AuthorizationDecision, error) {
	ctx, span := otel.Tracer("authorization").Start(ctx, "Saving decision to db")
	defer span.End()

	if decision.DecisionID == "" {
		decision.DecisionID = model.GenerateUUIDWithSuffix("dec")
	}
	decision.CreatedAt = time.Now()

	result, err := d.Conn.ExecContext(ctx,
		`INSERT INTO railcore.authorization_decisions(decision_id,idempotency_key,instrument_id,amount,category_code,approved,auth_code,reason_code,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		decision.DecisionID, decision.IdempotencyKey, decision.InstrumentID, decision.Amount,
		decision.CategoryCode, decision.Approved, decision.AuthCode, decision.ReasonCode, decision.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record decision", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return d.GetDecisionByIdempotencyKey(ctx, decision.IdempotencyKey, 0)
	}

	return decision, nil
}

// GetDecisionByIdempotencyKey retrieves the decision recorded for a key. A
// non-zero ttl restricts the lookup to decisions still inside their replay
// window; rows outside it behave as not found.
func (d Datasource) GetDecisionByIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (*model.AuthorizationDecision, error) {
	query := `
		SELECT decision_id, idempotency_key, instrument_id, amount, category_code, approved, auth_code, reason_code, created_at
		FROM railcore.authorization_decisions
		WHERE idempotency_key = $1
	`
	args := []interface{}{key}
	if ttl > 0 {
		query += ` AND created_at > $2`
		args = append(args, time.Now().Add(-ttl))
	}

	row := d.Conn.QueryRowContext(ctx, query, args...)

	decision := &model.AuthorizationDecision{}
	var authCode, reasonCode sql.NullString
	err := row.Scan(&decision.DecisionID, &decision.IdempotencyKey, &decision.InstrumentID, &decision.Amount,
		&decision.CategoryCode, &decision.Approved, &authCode, &reasonCode, &decision.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve decision", err)
	}
	decision.AuthCode = authCode.String
	decision.ReasonCode = reasonCode.String

	return decision, nil
}
