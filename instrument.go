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

	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

// CreateInstrument registers a new spending instrument. Instruments start
// ACTIVE unless the caller says otherwise.
func (r *Railcore) CreateInstrument(ctx context.Context, instrument *model.Instrument) (*model.Instrument, error) {
	if instrument.CustomerID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "customer id is required", nil)
	}
	return r.datasource.CreateInstrument(ctx, instrument)
}

// GetInstrument fetches one instrument by ID.
func (r *Railcore) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	return r.datasource.GetInstrument(ctx, id)
}

// FreezeInstrument suspends authorizations on an instrument. Frozen
// instruments decline INSTRUMENT_INACTIVE until unfrozen.
func (r *Railcore) FreezeInstrument(ctx context.Context, id string) error {
	return r.changeInstrumentStatus(ctx, id, model.InstrumentFrozen, model.InstrumentActive)
}

// UnfreezeInstrument restores a frozen instrument to ACTIVE. A closed
// instrument cannot be reopened.
func (r *Railcore) UnfreezeInstrument(ctx context.Context, id string) error {
	return r.changeInstrumentStatus(ctx, id, model.InstrumentActive, model.InstrumentFrozen)
}

// CloseInstrument permanently closes an instrument. Closing is a status
// change; the row and its decision history remain.
func (r *Railcore) CloseInstrument(ctx context.Context, id string) error {
	return r.changeInstrumentStatus(ctx, id, model.InstrumentClosed, model.InstrumentActive, model.InstrumentFrozen)
}

func (r *Railcore) changeInstrumentStatus(ctx context.Context, id, to string, from ...string) error {
	instrument, err := r.datasource.GetInstrument(ctx, id)
	if err != nil {
		return err
	}
	for _, legal := range from {
		if instrument.Status == legal {
			return r.datasource.UpdateInstrumentStatus(ctx, id, to)
		}
	}
	return apierror.NewAPIError(apierror.ErrConflict,
		fmt.Sprintf("instrument %s cannot move from %s to %s", id, instrument.Status, to), nil)
}
