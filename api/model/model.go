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
package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/railcorehq/railcore/model"
)

// CreateAuthorization is the request body for POST /authorizations.
type CreateAuthorization struct {
	IdempotencyKey string `json:"idempotency_key"`
	InstrumentID   string `json:"instrument_id"`
	Amount         int64  `json:"amount"`
	CategoryCode   string `json:"category_code"`
	Geography      string `json:"geography"`
	Online         bool   `json:"online"`
}

func (a *CreateAuthorization) ValidateCreateAuthorization() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.IdempotencyKey, validation.Required, validation.Length(8, 128)),
		validation.Field(&a.InstrumentID, validation.Required),
		validation.Field(&a.Amount, validation.Required, validation.Min(1)),
		validation.Field(&a.CategoryCode, validation.Required),
	)
}

func (a *CreateAuthorization) ToAuthorizationRequest() *model.AuthorizationRequest {
	return &model.AuthorizationRequest{
		IdempotencyKey: a.IdempotencyKey,
		InstrumentID:   a.InstrumentID,
		Amount:         a.Amount,
		CategoryCode:   a.CategoryCode,
		Geography:      a.Geography,
		Online:         a.Online,
		Timestamp:      time.Now(),
	}
}

// CreateSettlement is the request body for POST /settlements.
type CreateSettlement struct {
	Reference    string                 `json:"reference"`
	Amount       int64                  `json:"amount"`
	Currency     string                 `json:"currency"`
	PriorityTier string                 `json:"priority_tier"`
	Destination  model.Destination      `json:"destination"`
	MetaData     map[string]interface{} `json:"meta_data"`
}

func (s *CreateSettlement) ValidateCreateSettlement() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Reference, validation.Required, validation.Length(4, 128)),
		validation.Field(&s.Amount, validation.Required, validation.Min(1)),
		validation.Field(&s.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&s.PriorityTier, validation.Required,
			validation.In(model.TierEmergency, model.TierHigh, model.TierNormal, model.TierBatch)),
		validation.Field(&s.Destination, validation.By(func(interface{}) error {
			if s.Destination.AccountNumber == "" {
				return errors.New("destination account number is required")
			}
			return nil
		})),
	)
}

func (s *CreateSettlement) ToSettlementRequest() *model.SettlementRequest {
	return &model.SettlementRequest{
		Reference:    s.Reference,
		Amount:       s.Amount,
		Currency:     s.Currency,
		PriorityTier: s.PriorityTier,
		Destination:  s.Destination,
		MetaData:     s.MetaData,
	}
}

// CreateInstrument is the request body for POST /instruments.
type CreateInstrument struct {
	CustomerID   string                 `json:"customer_id"`
	Limits       model.SpendingLimits   `json:"limits"`
	Capabilities []string               `json:"capabilities"`
	MetaData     map[string]interface{} `json:"meta_data"`
}

func (i *CreateInstrument) ValidateCreateInstrument() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.CustomerID, validation.Required),
	)
}

func (i *CreateInstrument) ToInstrument() *model.Instrument {
	return &model.Instrument{
		CustomerID:   i.CustomerID,
		Limits:       i.Limits,
		Capabilities: i.Capabilities,
		MetaData:     i.MetaData,
	}
}

// CreateReconciliation is the request body for POST /reconciliations.
type CreateReconciliation struct {
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
}

func (r *CreateReconciliation) ValidateCreateReconciliation() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RangeStart, validation.Required),
		validation.Field(&r.RangeEnd, validation.Required, validation.By(func(interface{}) error {
			if !r.RangeEnd.After(r.RangeStart) {
				return errors.New("range_end must be after range_start")
			}
			return nil
		})),
	)
}
