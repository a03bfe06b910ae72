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

package rails

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/internal/request"
	"github.com/railcorehq/railcore/model"
)

// Gateway is one external money-movement network. Submit is the only money
// moving call; GetTransaction serves reconciliation; Health serves the
// periodic breaker probe.
type Gateway interface {
	Name() string
	Submit(ctx context.Context, settlement *model.SettlementRequest) (externalRef string, err error)
	GetTransaction(ctx context.Context, externalRef string) (*model.ExternalRecord, error)
	Health(ctx context.Context) error
}

// HTTPGateway talks to a rail over its HTTP transfer API with a bounded
// per-rail timeout.
type HTTPGateway struct {
	name     string
	endpoint string
	timeout  time.Duration
}

func NewHTTPGateway(name, endpoint string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{name: name, endpoint: endpoint, timeout: timeout}
}

func (g *HTTPGateway) Name() string {
	return g.name
}

type submitPayload struct {
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number,omitempty"`
	Priority      string `json:"priority"`
}

type submitResponse struct {
	Success     bool   `json:"success"`
	ReferenceID string `json:"reference_id"`
	Error       string `json:"error,omitempty"`
}

// Submit pushes one transfer to the rail. Connectivity failures and 5xx map
// to RAIL_TIMEOUT (transient, failover); an explicit rejection maps to
// RAIL_REJECTED (permanent, no further rails for this request).
func (g *HTTPGateway) Submit(ctx context.Context, settlement *model.SettlementRequest) (string, error) {
	payload, err := request.ToJsonReq(&submitPayload{
		Reference:     settlement.Reference,
		Amount:        settlement.Amount,
		Currency:      settlement.Currency,
		AccountNumber: settlement.Destination.AccountNumber,
		RoutingNumber: settlement.Destination.RoutingNumber,
		Priority:      settlement.PriorityTier,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/transfers", g.endpoint), payload)
	if err != nil {
		return "", err
	}

	var body submitResponse
	resp, err := request.CallWithTimeout(req, &body, g.timeout)
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrRailTimeout,
			fmt.Sprintf("rail %s unreachable", g.name), errors.Wrap(err, "submit"))
	}

	if resp.StatusCode >= 500 {
		return "", apierror.NewAPIError(apierror.ErrRailTimeout,
			fmt.Sprintf("rail %s returned %d", g.name, resp.StatusCode), body.Error)
	}

	if resp.StatusCode >= 400 || !body.Success {
		return "", apierror.NewAPIError(apierror.ErrRailRejected,
			fmt.Sprintf("rail %s rejected transfer %s", g.name, settlement.Reference), body.Error)
	}

	return body.ReferenceID, nil
}

// transactionResponse carries the rail's view of a transfer. Rails report
// amounts as decimal strings in major units; they are converted to minor
// units before comparison against internal records.
type transactionResponse struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	Date      time.Time       `json:"date"`
}

// GetTransaction fetches the rail's record of a transfer by its external
// reference. A 404 comes back as NOT_FOUND so reconciliation can classify
// the attempt as missing.
func (g *HTTPGateway) GetTransaction(ctx context.Context, externalRef string) (*model.ExternalRecord, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/transactions/%s", g.endpoint, externalRef), nil)
	if err != nil {
		return nil, err
	}

	var body transactionResponse
	resp, err := request.CallWithTimeout(req, &body, g.timeout)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrRailTimeout,
			fmt.Sprintf("rail %s unreachable", g.name), errors.Wrap(err, "get transaction"))
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, apierror.NewAPIError(apierror.ErrNotFound,
			fmt.Sprintf("no record of %s at rail %s", externalRef, g.name), nil)
	}

	if resp.StatusCode >= 400 {
		return nil, apierror.NewAPIError(apierror.ErrRailTimeout,
			fmt.Sprintf("rail %s returned %d", g.name, resp.StatusCode), nil)
	}

	return &model.ExternalRecord{
		Reference: body.Reference,
		Rail:      g.name,
		Amount:    body.Amount.Shift(2).IntPart(),
		Currency:  body.Currency,
		Status:    body.Status,
		Date:      body.Date,
	}, nil
}

// Health hits the rail's health endpoint, used by the periodic probe so a
// rail recovers even without organic traffic.
func (g *HTTPGateway) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/health", g.endpoint), nil)
	if err != nil {
		return err
	}

	var body map[string]interface{}
	resp, err := request.CallWithTimeout(req, &body, g.timeout)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrRailTimeout,
			fmt.Sprintf("rail %s health check failed", g.name), err)
	}
	if resp.StatusCode != http.StatusOK {
		return apierror.NewAPIError(apierror.ErrRailTimeout,
			fmt.Sprintf("rail %s unhealthy: %d", g.name, resp.StatusCode), nil)
	}
	return nil
}
