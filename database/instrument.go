package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

func (d Datasource) CreateInstrument(ctx context.Context, instrument *model.Instrument) (*model.Instrument, error) {
	metaDataJSON, err := json.Marshal(instrument.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	if instrument.InstrumentID == "" {
		instrument.InstrumentID = model.GenerateUUIDWithSuffix("ins")
	}
	if instrument.Status == "" {
		instrument.Status = model.InstrumentActive
	}
	instrument.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO railcore.instruments(instrument_id,customer_id,status,per_transaction_limit,daily_limit,weekly_limit,monthly_limit,capabilities,created_at,meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		instrument.InstrumentID, instrument.CustomerID, instrument.Status,
		instrument.Limits.PerTransaction, instrument.Limits.Daily, instrument.Limits.Weekly, instrument.Limits.Monthly,
		pq.Array(instrument.Capabilities), instrument.CreatedAt, metaDataJSON,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create instrument", err)
	}

	return instrument, nil
}

func (d Datasource) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT instrument_id, customer_id, status, per_transaction_limit, daily_limit, weekly_limit, monthly_limit, capabilities, created_at, meta_data
		FROM railcore.instruments
		WHERE instrument_id = $1
	`, id)

	instrument := &model.Instrument{}
	var metaDataJSON []byte
	var capabilities pq.StringArray
	err := row.Scan(&instrument.InstrumentID, &instrument.CustomerID, &instrument.Status,
		&instrument.Limits.PerTransaction, &instrument.Limits.Daily, &instrument.Limits.Weekly, &instrument.Limits.Monthly,
		&capabilities, &instrument.CreatedAt, &metaDataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Instrument with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve instrument", err)
	}
	instrument.Capabilities = capabilities

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &instrument.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	return instrument, nil
}

// UpdateInstrumentStatus applies a lifecycle action. Instruments are
// soft-closed, never deleted.
func (d Datasource) UpdateInstrumentStatus(ctx context.Context, id string, status string) error {
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE railcore.instruments SET status = $1 WHERE instrument_id = $2`, status, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update instrument status", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Instrument with ID '%s' not found", id), nil)
	}
	return nil
}
