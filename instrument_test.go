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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

func expectInstrumentFetch(mock sqlmock.Sqlmock, id, status string) {
	mock.ExpectQuery("SELECT .* FROM railcore.instruments WHERE instrument_id").
		WithArgs(id).
		WillReturnRows(instrumentRows(id, status, model.SpendingLimits{}, "{online}"))
}

func expectInstrumentStatusUpdate(mock sqlmock.Sqlmock, id, status string) {
	mock.ExpectExec("UPDATE railcore.instruments SET status").
		WithArgs(status, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestCreateInstrument(t *testing.T) {
	r, mock, _ := newTestRailcore(t, nil)

	mock.ExpectExec("INSERT INTO railcore.instruments").
		WillReturnResult(sqlmock.NewResult(1, 1))

	instrument, err := r.CreateInstrument(context.Background(), &model.Instrument{
		CustomerID:   "cus_" + gofakeit.UUID(),
		Capabilities: []string{"online"},
	})
	assert.NoError(t, err)
	assert.Contains(t, instrument.InstrumentID, "ins_")
	assert.Equal(t, model.InstrumentActive, instrument.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInstrumentRequiresCustomer(t *testing.T) {
	r, _, _ := newTestRailcore(t, nil)

	_, err := r.CreateInstrument(context.Background(), &model.Instrument{})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
}

func TestFreezeInstrument(t *testing.T) {
	r, mock, _ := newTestRailcore(t, nil)
	id := "ins_" + gofakeit.UUID()

	expectInstrumentFetch(mock, id, model.InstrumentActive)
	expectInstrumentStatusUpdate(mock, id, model.InstrumentFrozen)

	assert.NoError(t, r.FreezeInstrument(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFreezeClosedInstrumentConflicts(t *testing.T) {
	r, mock, _ := newTestRailcore(t, nil)
	id := "ins_" + gofakeit.UUID()

	expectInstrumentFetch(mock, id, model.InstrumentClosed)

	err := r.FreezeInstrument(context.Background(), id)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnfreezeInstrument(t *testing.T) {
	r, mock, _ := newTestRailcore(t, nil)
	id := "ins_" + gofakeit.UUID()

	expectInstrumentFetch(mock, id, model.InstrumentFrozen)
	expectInstrumentStatusUpdate(mock, id, model.InstrumentActive)

	assert.NoError(t, r.UnfreezeInstrument(context.Background(), id))
}

// Closing is one-way: a closed instrument can never return to ACTIVE.
func TestUnfreezeClosedInstrumentConflicts(t *testing.T) {
	r, mock, _ := newTestRailcore(t, nil)
	id := "ins_" + gofakeit.UUID()

	expectInstrumentFetch(mock, id, model.InstrumentClosed)

	err := r.UnfreezeInstrument(context.Background(), id)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
}

func TestCloseInstrumentFromEitherState(t *testing.T) {
	r, mock, _ := newTestRailcore(t, nil)

	active := "ins_" + gofakeit.UUID()
	expectInstrumentFetch(mock, active, model.InstrumentActive)
	expectInstrumentStatusUpdate(mock, active, model.InstrumentClosed)
	assert.NoError(t, r.CloseInstrument(context.Background(), active))

	frozen := "ins_" + gofakeit.UUID()
	expectInstrumentFetch(mock, frozen, model.InstrumentFrozen)
	expectInstrumentStatusUpdate(mock, frozen, model.InstrumentClosed)
	assert.NoError(t, r.CloseInstrument(context.Background(), frozen))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFreezeUnknownInstrument(t *testing.T) {
	r, mock, _ := newTestRailcore(t, nil)

	mock.ExpectQuery("SELECT .* FROM railcore.instruments WHERE instrument_id").
		WithArgs("ins_missing").
		WillReturnRows(sqlmock.NewRows(nil))

	err := r.FreezeInstrument(context.Background(), "ins_missing")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))
}
