package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

func (d Datasource) CreateReconciliationReport(ctx context.Context, report *model.ReconciliationReport) (*model.ReconciliationReport, error) {
	if report.ReportID == "" {
		report.ReportID = model.GenerateUUIDWithSuffix("rep")
	}
	report.StartedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO railcore.reconciliation_reports(report_id,range_start,range_end,status,started_at) VALUES ($1,$2,$3,$4,$5)`,
		report.ReportID, report.RangeStart, report.RangeEnd, report.Status, report.StartedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create reconciliation report", err)
	}
	return report, nil
}

func (d Datasource) FinalizeReconciliationReport(ctx context.Context, report *model.ReconciliationReport) error {
	_, err := d.Conn.ExecContext(ctx,
		`UPDATE railcore.reconciliation_reports
		 SET total = $1, reconciled = $2, mismatched = $3, missing = $4, status = $5, completed_at = $6
		 WHERE report_id = $7`,
		report.Total, report.Reconciled, report.Mismatched, report.Missing, report.Status, report.CompletedAt, report.ReportID,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to finalize reconciliation report", err)
	}
	return nil
}

func (d Datasource) GetReconciliationReport(ctx context.Context, reportID string) (*model.ReconciliationReport, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT report_id, range_start, range_end, total, reconciled, mismatched, missing, status, started_at, completed_at
		FROM railcore.reconciliation_reports
		WHERE report_id = $1
	`, reportID)

	report := &model.ReconciliationReport{}
	var completedAt sql.NullTime
	err := row.Scan(&report.ReportID, &report.RangeStart, &report.RangeEnd, &report.Total,
		&report.Reconciled, &report.Mismatched, &report.Missing, &report.Status, &report.StartedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Reconciliation report '%s' not found", reportID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve reconciliation report", err)
	}
	if completedAt.Valid {
		report.CompletedAt = &completedAt.Time
	}
	return report, nil
}

func (d Datasource) RecordReconciliation(ctx context.Context, record *model.ReconciliationRecord) error {
	if record.RecordID == "" {
		record.RecordID = model.GenerateUUIDWithSuffix("rec")
	}

	var externalAmount interface{}
	if record.Class != model.ReconMissing {
		externalAmount = record.ExternalAmount
	}

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO railcore.reconciliation_records(record_id,report_id,attempt_id,reference,rail,class,internal_amount,external_amount)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		record.RecordID, record.ReportID, record.AttemptID, record.Reference, record.Rail,
		record.Class, record.InternalAmount, externalAmount,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record reconciliation result", err)
	}
	return nil
}

func (d Datasource) ListReconciliationRecords(ctx context.Context, reportID string) ([]*model.ReconciliationRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT record_id, report_id, attempt_id, reference, rail, class, internal_amount, external_amount, created_at
		FROM railcore.reconciliation_records
		WHERE report_id = $1
		ORDER BY created_at ASC
	`, reportID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list reconciliation records", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*model.ReconciliationRecord
	for rows.Next() {
		record := &model.ReconciliationRecord{}
		var externalAmount sql.NullInt64
		err := rows.Scan(&record.RecordID, &record.ReportID, &record.AttemptID, &record.Reference,
			&record.Rail, &record.Class, &record.InternalAmount, &externalAmount, &record.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan reconciliation record", err)
		}
		record.ExternalAmount = externalAmount.Int64
		records = append(records, record)
	}
	return records, rows.Err()
}
