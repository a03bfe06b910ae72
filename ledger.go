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
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/internal/request"
)

// LedgerReserver is the external funds authority. ReserveAndConfirm must be
// atomic on the ledger side; the decision engine compensates with Release when
// a later check declines the authorization.
type LedgerReserver interface {
	ReserveAndConfirm(ctx context.Context, instrumentID string, amount int64, reference string) error
	Release(ctx context.Context, instrumentID string, amount int64, reference string) error
}

// HTTPLedger talks to the ledger service over HTTP with a bounded timeout.
// The ledger being unreachable is reported as SYSTEM_UNAVAILABLE so the
// pipeline fails closed rather than approving against unknown balances.
type HTTPLedger struct {
	url     string
	timeout time.Duration
}

func NewHTTPLedger(url string, timeout time.Duration) *HTTPLedger {
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	return &HTTPLedger{url: url, timeout: timeout}
}

type ledgerPayload struct {
	InstrumentID string `json:"instrument_id"`
	Amount       int64  `json:"amount"`
	Reference    string `json:"reference"`
}

type ledgerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (l *HTTPLedger) call(ctx context.Context, path string, body ledgerPayload) error {
	payload, err := request.ToJsonReq(&body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s%s", l.url, path), payload)
	if err != nil {
		return err
	}

	var response ledgerResponse
	resp, err := request.CallWithTimeout(req, &response, l.timeout)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrSystemUnavailable,
			"ledger unreachable", errors.Wrap(err, "ledger"))
	}
	if resp.StatusCode >= 500 {
		return apierror.NewAPIError(apierror.ErrSystemUnavailable,
			fmt.Sprintf("ledger returned %d", resp.StatusCode), response.Error)
	}
	if resp.StatusCode >= 400 || !response.Success {
		return apierror.NewAPIError(apierror.ErrInsufficientFunds,
			"insufficient funds", response.Error)
	}
	return nil
}

// ReserveAndConfirm places a hold for the amount and confirms it in one
// ledger-side atomic step.
func (l *HTTPLedger) ReserveAndConfirm(ctx context.Context, instrumentID string, amount int64, reference string) error {
	return l.call(ctx, "/holds", ledgerPayload{InstrumentID: instrumentID, Amount: amount, Reference: reference})
}

// Release backs out a confirmed hold after a downstream decline.
func (l *HTTPLedger) Release(ctx context.Context, instrumentID string, amount int64, reference string) error {
	return l.call(ctx, "/holds/release", ledgerPayload{InstrumentID: instrumentID, Amount: amount, Reference: reference})
}
