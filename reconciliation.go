/*
Copyright 2024 Railcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package railcore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

// Reconciliation report states.
const (
	ReportQueued    = "queued"
	ReportRunning   = "running"
	ReportCompleted = "completed"
)

// ReconciliationTypePayload carries one queued reconciliation run.
type ReconciliationTypePayload struct {
	ReportID   string    `json:"report_id"`
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
}

// StartReconciliation creates a reconciliation report for the date range and
// enqueues the batch run that fills it. The report is returned immediately in
// the queued state; callers poll it by ID.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - rangeStart time.Time: The inclusive start of the attempt range.
// - rangeEnd time.Time: The exclusive end of the attempt range.
//
// Returns:
// - *model.ReconciliationReport: The queued report.
// - error: An error if the report could not be created or enqueued.
func (r *Railcore) StartReconciliation(ctx context.Context, rangeStart, rangeEnd time.Time) (*model.ReconciliationReport, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if !rangeEnd.After(rangeStart) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "reconciliation range end must be after start", nil)
	}

	report, err := r.datasource.CreateReconciliationReport(ctx, &model.ReconciliationReport{
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Status:     ReportQueued,
	})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ReconciliationTypePayload{
		ReportID:   report.ReportID,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	})
	if err != nil {
		return nil, err
	}
	task := asynq.NewTask(cfg.Queue.ReconciliationQueue, payload,
		asynq.TaskID(report.ReportID),
		asynq.Queue(cfg.Queue.ReconciliationQueue))
	if _, err := r.queue.Client.Enqueue(task); err != nil {
		return nil, err
	}
	return report, nil
}

// GetReconciliationReport fetches a report and its per-attempt records.
func (r *Railcore) GetReconciliationReport(ctx context.Context, reportID string) (*model.ReconciliationReport, []*model.ReconciliationRecord, error) {
	report, err := r.datasource.GetReconciliationReport(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}
	records, err := r.datasource.ListReconciliationRecords(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}
	return report, records, nil
}

// RunReconciliation executes one queued reconciliation report: every
// successful settlement attempt in the range is fetched back from its rail
// and classified reconciled, mismatched or missing. Only this batch job
// writes reconciliation records; the live settlement path never does.
func (r *Railcore) RunReconciliation(ctx context.Context, reportID string, rangeStart, rangeEnd time.Time) error {
	report, err := r.datasource.GetReconciliationReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.Status == ReportCompleted {
		return nil
	}
	report.Status = ReportRunning
	if err := r.datasource.FinalizeReconciliationReport(ctx, report); err != nil {
		return err
	}

	attempts, err := r.datasource.ListCompletedAttempts(ctx, rangeStart, rangeEnd)
	if err != nil {
		return err
	}

	for _, attempt := range attempts {
		record, err := r.classifyAttempt(ctx, attempt)
		if err != nil {
			return err
		}
		record.ReportID = reportID
		if err := r.datasource.RecordReconciliation(ctx, record); err != nil {
			return err
		}

		report.Total++
		switch record.Class {
		case model.ReconReconciled:
			report.Reconciled++
		case model.ReconMismatched:
			report.Mismatched++
		case model.ReconMissing:
			report.Missing++
		}
	}

	now := time.Now()
	report.Status = ReportCompleted
	report.CompletedAt = &now
	if err := r.datasource.FinalizeReconciliationReport(ctx, report); err != nil {
		return err
	}

	logrus.Infof("reconciliation %s finished: %d attempts, %.1f%% reconciled",
		reportID, report.Total, report.PercentReconciled())
	if report.Mismatched > 0 || report.Missing > 0 {
		logrus.Warnf("reconciliation %s found %d mismatched and %d missing attempts",
			reportID, report.Mismatched, report.Missing)
	}
	return r.queue.queueWebhook(EventReconciliationFinished, report)
}

// classifyAttempt compares one successful attempt against the rail's record
// of it. No record at the rail is missing; an amount disagreement is
// mismatched.
func (r *Railcore) classifyAttempt(ctx context.Context, attempt *model.SettlementAttempt) (*model.ReconciliationRecord, error) {
	settlement, err := r.datasource.GetSettlementRequest(ctx, attempt.Reference)
	if err != nil {
		return nil, err
	}

	record := &model.ReconciliationRecord{
		AttemptID:      attempt.AttemptID,
		Reference:      attempt.Reference,
		Rail:           attempt.Rail,
		InternalAmount: settlement.Amount,
	}

	gateway, ok := r.gateways[attempt.Rail]
	if !ok {
		record.Class = model.ReconMissing
		return record, nil
	}

	external, err := gateway.GetTransaction(ctx, attempt.ExternalRef)
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrNotFound {
			record.Class = model.ReconMissing
			return record, nil
		}
		return nil, err
	}

	record.ExternalAmount = external.Amount
	if external.Amount != settlement.Amount {
		record.Class = model.ReconMismatched
	} else {
		record.Class = model.ReconReconciled
	}
	return record, nil
}
