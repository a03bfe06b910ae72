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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

// Authorize runs the accept/decline pipeline for one authorization request.
// Checks run in a fixed priority order and the recorded reason code is always
// the first failing check:
//
//	idempotency replay -> instrument ACTIVE -> ledger reserve -> velocity
//	reserve -> spending limits -> category lists -> fraud signals
//
// The limit, category and fraud checks are read-only and run concurrently;
// their results are joined back in pipeline order so concurrency never changes
// the recorded reason. A decline after the ledger or velocity reservation
// compensates both before the decision is recorded. Any infrastructure
// failure declines SYSTEM_ERROR rather than approving blind.
func (r *Railcore) Authorize(ctx context.Context, req *model.AuthorizationRequest) (*model.AuthorizationDecision, error) {
	ctx, span := otel.Tracer("authorization").Start(ctx, "Authorizing request")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Authorization.TimeoutMs)*time.Millisecond)
	defer cancel()

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	// 1. Idempotency replay.
	ttl := time.Duration(cfg.Authorization.DecisionTTLHours) * time.Hour
	if replay, err := r.replayDecision(ctx, req.IdempotencyKey, ttl); err == nil && replay != nil {
		return replay, nil
	}

	// 2. Instrument must be ACTIVE.
	instrument, err := r.datasource.GetInstrument(ctx, req.InstrumentID)
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrNotFound {
			return r.decline(ctx, req, model.ReasonInstrumentInactive)
		}
		return r.decline(ctx, req, model.ReasonSystemError)
	}
	if !instrument.IsActive() {
		return r.decline(ctx, req, model.ReasonInstrumentInactive)
	}

	// 3. Funds. The ledger's reserve is atomic on its side; from here on a
	// decline must release the hold.
	if err := r.ledger.ReserveAndConfirm(ctx, req.InstrumentID, req.Amount, req.IdempotencyKey); err != nil {
		if apierror.CodeOf(err) == apierror.ErrInsufficientFunds {
			return r.decline(ctx, req, model.ReasonInsufficientFunds)
		}
		return r.decline(ctx, req, model.ReasonSystemError)
	}

	// 4. Velocity. A violation here releases the ledger hold only; the
	// tracker already rolled its own increment back.
	velocity, err := r.ReserveVelocity(ctx, req.InstrumentID, req.Amount, req.Timestamp)
	if err != nil {
		r.compensate(ctx, req, true, false)
		return r.decline(ctx, req, model.ReasonSystemError)
	}
	if !velocity.Allowed {
		r.compensate(ctx, req, true, false)
		return r.decline(ctx, req, model.ReasonVelocityExceeded)
	}

	// 5-7. Read-only checks fan out; the join below walks them in pipeline
	// order so the first failing check wins regardless of finish order.
	reasons := make([]string, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		reasons[0] = checkSpendingLimits(instrument, req, velocity.Counters)
	}()
	go func() {
		defer wg.Done()
		reasons[1] = checkCategoryLists(cfg.Authorization, req)
	}()
	go func() {
		defer wg.Done()
		reasons[2] = checkFraudSignals(cfg.Authorization, instrument, req)
	}()
	wg.Wait()

	for _, reason := range reasons {
		if reason != "" {
			r.compensate(ctx, req, true, true)
			return r.decline(ctx, req, reason)
		}
	}

	if ctx.Err() != nil {
		r.compensate(context.WithoutCancel(ctx), req, true, true)
		return r.decline(context.WithoutCancel(ctx), req, model.ReasonSystemError)
	}

	return r.approve(ctx, req)
}

// replayDecision looks up a prior decision for the key, cache first, then the
// durable store. Only decisions inside the TTL replay.
func (r *Railcore) replayDecision(ctx context.Context, key string, ttl time.Duration) (*model.AuthorizationDecision, error) {
	var cached model.AuthorizationDecision
	if err := r.cache.Get(ctx, decisionCacheKey(key), &cached); err == nil && cached.DecisionID != "" {
		if time.Since(cached.CreatedAt) < ttl {
			return &cached, nil
		}
	}
	return r.datasource.GetDecisionByIdempotencyKey(ctx, key, ttl)
}

// compensate backs out the reservations made before a decline. Failures are
// logged and reported to operators; they never change the decline.
func (r *Railcore) compensate(ctx context.Context, req *model.AuthorizationRequest, ledger, velocity bool) {
	if ledger {
		if err := r.ledger.Release(ctx, req.InstrumentID, req.Amount, req.IdempotencyKey); err != nil {
			logrus.Errorf("ledger release failed for %s: %v", req.IdempotencyKey, err)
		}
	}
	if velocity {
		if err := r.ReleaseVelocity(ctx, req.InstrumentID, req.Amount, req.Timestamp); err != nil {
			logrus.Errorf("velocity release failed for %s: %v", req.IdempotencyKey, err)
		}
	}
}

func (r *Railcore) approve(ctx context.Context, req *model.AuthorizationRequest) (*model.AuthorizationDecision, error) {
	decision := &model.AuthorizationDecision{
		IdempotencyKey: req.IdempotencyKey,
		InstrumentID:   req.InstrumentID,
		Amount:         req.Amount,
		CategoryCode:   req.CategoryCode,
		Approved:       true,
		AuthCode:       model.GenerateAuthCode(),
	}
	return r.recordDecision(ctx, decision)
}

func (r *Railcore) decline(ctx context.Context, req *model.AuthorizationRequest, reason string) (*model.AuthorizationDecision, error) {
	decision := &model.AuthorizationDecision{
		IdempotencyKey: req.IdempotencyKey,
		InstrumentID:   req.InstrumentID,
		Amount:         req.Amount,
		CategoryCode:   req.CategoryCode,
		Approved:       false,
		ReasonCode:     reason,
	}
	return r.recordDecision(ctx, decision)
}

// recordDecision persists the decision exactly once per idempotency key,
// caches it for replay, and publishes the outcome event.
func (r *Railcore) recordDecision(ctx context.Context, decision *model.AuthorizationDecision) (*model.AuthorizationDecision, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cfg.Authorization.DecisionTTLHours) * time.Hour

	recorded, err := r.datasource.RecordDecision(ctx, decision)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, decisionCacheKey(recorded.IdempotencyKey), recorded, ttl); err != nil {
		logrus.Warnf("decision cache write failed for %s: %v", recorded.IdempotencyKey, err)
	}
	event := EventAuthorizationDeclined
	if recorded.Approved {
		event = EventAuthorizationApproved
	}
	if err := r.queue.queueWebhook(event, recorded); err != nil {
		logrus.Warnf("webhook enqueue failed for %s: %v", recorded.IdempotencyKey, err)
	}
	return recorded, nil
}

func decisionCacheKey(idempotencyKey string) string {
	return fmt.Sprintf("decision:%s", idempotencyKey)
}

// checkSpendingLimits enforces the per-transaction ceiling and the rolling
// daily/weekly/monthly amount ceilings against the post-reservation window
// counters. A zero limit is uncapped.
func checkSpendingLimits(instrument *model.Instrument, req *model.AuthorizationRequest, counters []model.WindowCounters) string {
	limits := instrument.Limits
	if limits.PerTransaction > 0 && req.Amount > limits.PerTransaction {
		return model.ReasonLimitExceeded
	}
	for _, window := range counters {
		var ceiling int64
		switch window.Period {
		case model.PeriodDaily:
			ceiling = limits.Daily
		case model.PeriodWeekly:
			ceiling = limits.Weekly
		case model.PeriodMonthly:
			ceiling = limits.Monthly
		}
		if ceiling > 0 && window.Amount > ceiling {
			return model.ReasonLimitExceeded
		}
	}
	return ""
}

// checkCategoryLists declines blocked categories, and when an allow list is
// configured, anything outside it.
func checkCategoryLists(cfg config.AuthorizationConfig, req *model.AuthorizationRequest) string {
	for _, blocked := range cfg.BlockedCategories {
		if req.CategoryCode == blocked {
			return model.ReasonCategoryBlocked
		}
	}
	if len(cfg.AllowedCategories) > 0 {
		for _, allowed := range cfg.AllowedCategories {
			if req.CategoryCode == allowed {
				return ""
			}
		}
		return model.ReasonCategoryBlocked
	}
	return ""
}

// checkFraudSignals combines independent boolean signals; any single signal
// is tolerated, two or more decline.
func checkFraudSignals(cfg config.AuthorizationConfig, instrument *model.Instrument, req *model.AuthorizationRequest) string {
	signals := 0
	floor := cfg.FraudAmountFloor
	if floor <= 0 {
		floor = instrument.Limits.PerTransaction
	}
	if floor > 0 && req.Amount > floor {
		signals++
	}
	if cfg.HomeGeography != "" && req.Geography != "" && req.Geography != cfg.HomeGeography {
		signals++
	}
	if req.Online && !instrument.HasCapability(model.CapabilityOnline) {
		signals++
	}
	if signals >= 2 {
		return model.ReasonSuspectedFraud
	}
	return ""
}
