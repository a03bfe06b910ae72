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
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

var reportColumns = []string{
	"report_id", "range_start", "range_end", "total", "reconciled", "mismatched", "missing",
	"status", "started_at", "completed_at",
}

func expectReportFetch(mock sqlmock.Sqlmock, reportID, status string, rangeStart, rangeEnd time.Time) {
	mock.ExpectQuery("SELECT .* FROM railcore.reconciliation_reports").
		WithArgs(reportID).
		WillReturnRows(sqlmock.NewRows(reportColumns).
			AddRow(reportID, rangeStart, rangeEnd, 0, 0, 0, 0, status, time.Now(), nil))
}

func TestStartReconciliation(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	mock.ExpectExec("INSERT INTO railcore.reconciliation_reports").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rangeEnd := time.Now()
	report, err := r.StartReconciliation(context.Background(), rangeEnd.Add(-24*time.Hour), rangeEnd)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(report.ReportID, "rep_"))
	assert.Equal(t, ReportQueued, report.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartReconciliationRejectsBadRange(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())

	now := time.Now()
	_, err := r.StartReconciliation(context.Background(), now, now)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
}

func TestRunReconciliation(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	rangeEnd := time.Now()
	rangeStart := rangeEnd.Add(-24 * time.Hour)
	reportID := "rep_" + "0b2f3a"

	// ext-1 matches, ext-2 disagrees on amount, ext-3 is unknown to the rail.
	r.gateways["fastwire"] = &MockGateway{name: "fastwire", mockGetTransaction: func(_ context.Context, externalRef string) (*model.ExternalRecord, error) {
		switch externalRef {
		case "ext-1":
			return &model.ExternalRecord{Reference: externalRef, Rail: "fastwire", Amount: 250000}, nil
		case "ext-2":
			return &model.ExternalRecord{Reference: externalRef, Rail: "fastwire", Amount: 240000}, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "transaction not found", nil)
	}}

	settlements := make([]*model.SettlementRequest, 3)
	for i := range settlements {
		settlements[i] = testSettlement(model.TierNormal, 250000)
		settlements[i].Status = model.StatusCompleted
	}

	expectReportFetch(mock, reportID, ReportQueued, rangeStart, rangeEnd)
	mock.ExpectExec("UPDATE railcore.reconciliation_reports").
		WithArgs(0, 0, 0, 0, ReportRunning, nil, reportID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	attemptRows := sqlmock.NewRows(attemptColumns)
	for i, settlement := range settlements {
		attemptRows.AddRow("att_"+settlement.Reference, settlement.Reference, "fastwire", 0,
			model.AttemptSucceeded, "ext-"+string(rune('1'+i)), "", time.Now(), time.Now())
	}
	mock.ExpectQuery("SELECT .* FROM railcore.settlement_attempts").
		WithArgs(model.AttemptSucceeded, rangeStart, rangeEnd).
		WillReturnRows(attemptRows)

	classes := []string{model.ReconReconciled, model.ReconMismatched, model.ReconMissing}
	externals := []interface{}{int64(250000), int64(240000), nil}
	for i, settlement := range settlements {
		expectSettlementFetch(mock, settlement)
		mock.ExpectExec("INSERT INTO railcore.reconciliation_records").
			WithArgs(sqlmock.AnyArg(), reportID, "att_"+settlement.Reference, settlement.Reference,
				"fastwire", classes[i], settlement.Amount, externals[i]).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	mock.ExpectExec("UPDATE railcore.reconciliation_reports").
		WithArgs(3, 1, 1, 1, ReportCompleted, sqlmock.AnyArg(), reportID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.RunReconciliation(context.Background(), reportID, rangeStart, rangeEnd)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// A completed report re-delivered by the queue is left untouched.
func TestRunReconciliationSkipsCompleted(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	rangeEnd := time.Now()
	rangeStart := rangeEnd.Add(-24 * time.Hour)
	expectReportFetch(mock, "rep_done", ReportCompleted, rangeStart, rangeEnd)

	err := r.RunReconciliation(context.Background(), "rep_done", rangeStart, rangeEnd)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReconciliationReport(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	rangeEnd := time.Now()
	rangeStart := rangeEnd.Add(-24 * time.Hour)
	expectReportFetch(mock, "rep_abc", ReportCompleted, rangeStart, rangeEnd)
	mock.ExpectQuery("SELECT .* FROM railcore.reconciliation_records").
		WithArgs("rep_abc").
		WillReturnRows(sqlmock.NewRows([]string{
			"record_id", "report_id", "attempt_id", "reference", "rail", "class", "internal_amount", "external_amount", "created_at",
		}).AddRow("rec_1", "rep_abc", "att_1", "set_1", "fastwire", model.ReconReconciled, int64(250000), int64(250000), time.Now()).
			AddRow("rec_2", "rep_abc", "att_2", "set_2", "fastwire", model.ReconMissing, int64(90000), nil, time.Now()))

	report, records, err := r.GetReconciliationReport(context.Background(), "rep_abc")
	assert.NoError(t, err)
	assert.Equal(t, "rep_abc", report.ReportID)
	assert.Len(t, records, 2)
	assert.Equal(t, int64(0), records[1].ExternalAmount)

	assert.NoError(t, mock.ExpectationsWereMet())
}
