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

package database

import (
	"context"
	"time"

	"github.com/railcorehq/railcore/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	instrument
	authorization
	settlement
	reconciliation
}

// instrument defines methods for handling spending instruments.
type instrument interface {
	CreateInstrument(ctx context.Context, instrument *model.Instrument) (*model.Instrument, error)
	GetInstrument(ctx context.Context, id string) (*model.Instrument, error)
	UpdateInstrumentStatus(ctx context.Context, id string, status string) error
}

// authorization defines methods for persisting authorization decisions.
type authorization interface {
	RecordDecision(ctx context.Context, decision *model.AuthorizationDecision) (*model.AuthorizationDecision, error)
	GetDecisionByIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (*model.AuthorizationDecision, error)
}

// settlement defines methods for settlement requests and their attempts.
type settlement interface {
	CreateSettlementRequest(ctx context.Context, settlement *model.SettlementRequest) (*model.SettlementRequest, error)
	GetSettlementRequest(ctx context.Context, reference string) (*model.SettlementRequest, error)
	UpdateSettlementStatus(ctx context.Context, reference string, status string, completedAt *time.Time) error
	UpdateRetrySchedule(ctx context.Context, reference string, cycle int, nextRetryAt time.Time) error
	MarkSLAWarned(ctx context.Context, reference string) error
	MarkEscalated(ctx context.Context, reference string) error
	FlagManualReview(ctx context.Context, reference string) error
	ListNonTerminalSettlements(ctx context.Context, limit int) ([]*model.SettlementRequest, error)
	RecordAttempt(ctx context.Context, attempt *model.SettlementAttempt) (*model.SettlementAttempt, error)
	GetSuccessfulAttempt(ctx context.Context, reference string) (*model.SettlementAttempt, error)
	ListCompletedAttempts(ctx context.Context, start, end time.Time) ([]*model.SettlementAttempt, error)
	RecordSLAEvent(ctx context.Context, reference, eventType string) error
	GetSettlementMetrics(ctx context.Context, start, end time.Time) ([]model.RailMetric, error)
}

// reconciliation defines methods for the batch reconciliation ledger.
type reconciliation interface {
	CreateReconciliationReport(ctx context.Context, report *model.ReconciliationReport) (*model.ReconciliationReport, error)
	FinalizeReconciliationReport(ctx context.Context, report *model.ReconciliationReport) error
	GetReconciliationReport(ctx context.Context, reportID string) (*model.ReconciliationReport, error)
	RecordReconciliation(ctx context.Context, record *model.ReconciliationRecord) error
	ListReconciliationRecords(ctx context.Context, reportID string) ([]*model.ReconciliationRecord, error)
}
