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
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/railcorehq/railcore/model"
)

func expectSweepList(mock sqlmock.Sqlmock, settlements ...*model.SettlementRequest) {
	rows := sqlmock.NewRows(settlementColumns)
	for _, settlement := range settlements {
		rows.AddRow(
			settlement.Reference, settlement.Amount, settlement.Currency, settlement.PriorityTier,
			settlement.Destination.AccountNumber, settlement.Destination.RoutingNumber, "{}",
			settlement.Status, settlement.Deadline, settlement.AttemptCycle, nil,
			settlement.SLAWarned, settlement.ManualReview, settlement.Escalated,
			time.Now(), nil, nil,
		)
	}
	mock.ExpectQuery("SELECT .* FROM railcore.settlement_requests\\s+WHERE status NOT IN").
		WithArgs(model.StatusCompleted, model.StatusFailed, model.StatusExpired, slaSweepBatch).
		WillReturnRows(rows)
}

func expectSLAEvent(mock sqlmock.Sqlmock, reference, eventType string) {
	mock.ExpectExec("INSERT INTO railcore.sla_events").
		WithArgs(reference, eventType).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestSweepSLAExpiresPastDeadline(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	settlement := testSettlement(model.TierHigh, 250000)
	settlement.Deadline = time.Now().Add(-time.Minute)

	expectSweepList(mock, settlement)
	expectStatusUpdate(mock, model.StatusExpired, settlement.Reference)
	expectSLAEvent(mock, settlement.Reference, SLAEventBreach)
	mock.ExpectExec("UPDATE railcore.settlement_requests SET manual_review").
		WithArgs(settlement.Reference).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, r.SweepSLA(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepSLAWarnsAndEscalates(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	// 10 minutes left of a 24h SLA is well inside the warning fraction.
	settlement := testSettlement(model.TierNormal, 250000)
	settlement.Deadline = time.Now().Add(10 * time.Minute)

	expectSweepList(mock, settlement)
	mock.ExpectExec("UPDATE railcore.settlement_requests SET sla_warned").
		WithArgs(settlement.Reference).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectSLAEvent(mock, settlement.Reference, SLAEventWarning)
	mock.ExpectExec("UPDATE railcore.settlement_requests SET escalated").
		WithArgs(settlement.Reference).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectSLAEvent(mock, settlement.Reference, SLAEventEscalated)

	assert.NoError(t, r.SweepSLA(context.Background()))

	// The escalated settlement is back in the queue for an immediate attempt.
	queued, err := r.queue.GetSettlementFromQueue(settlement.Reference)
	assert.NoError(t, err)
	assert.NotNil(t, queued)
	assert.True(t, queued.Escalated)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// A second sweeper losing the sla_warned race must not warn again.
func TestSweepSLAWarnsOnce(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	settlement := testSettlement(model.TierNormal, 250000)
	settlement.Deadline = time.Now().Add(10 * time.Minute)

	expectSweepList(mock, settlement)
	mock.ExpectExec("UPDATE railcore.settlement_requests SET sla_warned").
		WithArgs(settlement.Reference).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, r.SweepSLA(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepSLALeavesHealthySettlements(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	settlement := testSettlement(model.TierNormal, 250000)
	settlement.Deadline = time.Now().Add(20 * time.Hour)

	expectSweepList(mock, settlement)

	assert.NoError(t, r.SweepSLA(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEscalationSkipsTerminal(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	settlement := testSettlement(model.TierNormal, 250000)
	settlement.Status = model.StatusCompleted
	expectSettlementFetch(mock, settlement)

	assert.NoError(t, r.ProcessEscalation(context.Background(), settlement.Reference))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEscalationBreaches(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	settlement := testSettlement(model.TierNormal, 250000)
	settlement.Status = model.StatusProcessing
	expectSettlementFetch(mock, settlement)
	expectStatusUpdate(mock, model.StatusExpired, settlement.Reference)
	expectSLAEvent(mock, settlement.Reference, SLAEventBreach)
	mock.ExpectExec("UPDATE railcore.settlement_requests SET manual_review").
		WithArgs(settlement.Reference).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, r.ProcessEscalation(context.Background(), settlement.Reference))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A completion racing the breach wins: the guarded EXPIRED update affects no
// rows and the breach becomes a no-op.
func TestBreachToleratesConcurrentCompletion(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	settlement := testSettlement(model.TierNormal, 250000)
	settlement.Deadline = time.Now().Add(-time.Minute)

	expectSweepList(mock, settlement)
	mock.ExpectExec("UPDATE railcore.settlement_requests SET status").
		WithArgs(model.StatusExpired, sqlmock.AnyArg(), settlement.Reference, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, r.SweepSLA(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Only the zero-rows conflict means a concurrent completion; a store outage
// surfaces so the task retries instead of silently dropping the breach.
func TestProcessEscalationSurfacesStoreErrors(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	settlement := testSettlement(model.TierNormal, 250000)
	settlement.Status = model.StatusProcessing
	expectSettlementFetch(mock, settlement)
	mock.ExpectExec("UPDATE railcore.settlement_requests SET status").
		WithArgs(model.StatusExpired, sqlmock.AnyArg(), settlement.Reference, sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	assert.Error(t, r.ProcessEscalation(context.Background(), settlement.Reference))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscalateSkipsEmergencyTier(t *testing.T) {
	r, mock, _ := newTestRailcore(t, settlementTestConfig())

	settlement := testSettlement(model.TierEmergency, 250000)
	assert.NoError(t, r.escalateSettlement(context.Background(), settlement))

	already := testSettlement(model.TierNormal, 250000)
	already.Escalated = true
	assert.NoError(t, r.escalateSettlement(context.Background(), already))

	assert.NoError(t, mock.ExpectationsWereMet())
}
