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
	"fmt"
	"time"

	"github.com/railcorehq/railcore/model"
)

// MockLedger substitutes the external funds authority in tests. Without an
// override every reserve succeeds.
type MockLedger struct {
	mockReserve func(ctx context.Context, instrumentID string, amount int64, reference string) error
	mockRelease func(ctx context.Context, instrumentID string, amount int64, reference string) error

	ReserveCalls int
	ReleaseCalls int
}

func (m *MockLedger) ReserveAndConfirm(ctx context.Context, instrumentID string, amount int64, reference string) error {
	m.ReserveCalls++
	if m.mockReserve != nil {
		return m.mockReserve(ctx, instrumentID, amount, reference)
	}
	return nil
}

func (m *MockLedger) Release(ctx context.Context, instrumentID string, amount int64, reference string) error {
	m.ReleaseCalls++
	if m.mockRelease != nil {
		return m.mockRelease(ctx, instrumentID, amount, reference)
	}
	return nil
}

// MockGateway substitutes a rail gateway in tests. Without an override every
// submission succeeds with a synthetic external reference.
type MockGateway struct {
	name               string
	mockSubmit         func(ctx context.Context, settlement *model.SettlementRequest) (string, error)
	mockGetTransaction func(ctx context.Context, externalRef string) (*model.ExternalRecord, error)
	mockHealth         func(ctx context.Context) error

	SubmitCalls int
	HealthCalls int
}

func (m *MockGateway) Name() string {
	return m.name
}

func (m *MockGateway) Submit(ctx context.Context, settlement *model.SettlementRequest) (string, error) {
	m.SubmitCalls++
	if m.mockSubmit != nil {
		return m.mockSubmit(ctx, settlement)
	}
	return fmt.Sprintf("ext_%s", settlement.Reference), nil
}

func (m *MockGateway) GetTransaction(ctx context.Context, externalRef string) (*model.ExternalRecord, error) {
	if m.mockGetTransaction != nil {
		return m.mockGetTransaction(ctx, externalRef)
	}
	return &model.ExternalRecord{Reference: externalRef, Rail: m.name, Date: time.Now()}, nil
}

func (m *MockGateway) Health(ctx context.Context) error {
	m.HealthCalls++
	if m.mockHealth != nil {
		return m.mockHealth(ctx)
	}
	return nil
}
