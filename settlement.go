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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/internal/apierror"
	redlock "github.com/railcorehq/railcore/internal/lock"
	"github.com/railcorehq/railcore/internal/notification"
	"github.com/railcorehq/railcore/model"
)

// CreateSettlement validates and persists a new settlement request, fixes its
// SLA deadline from the priority tier, and enqueues it for asynchronous
// processing. A duplicate reference returns the existing settlement unchanged
// so retried creates are safe.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - settlement *model.SettlementRequest: The settlement to create.
//
// Returns:
// - *model.SettlementRequest: The persisted settlement.
// - error: An error if validation or persistence fails.
func (r *Railcore) CreateSettlement(ctx context.Context, settlement *model.SettlementRequest) (*model.SettlementRequest, error) {
	ctx, span := otel.Tracer("settlement").Start(ctx, "Creating settlement")
	defer span.End()

	if err := settlement.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	settlement.Status = model.StatusInitiated
	settlement.AttemptCycle = 0
	now := time.Now()
	settlement.Deadline = now.Add(model.SLAForTier(settlement.PriorityTier))

	created, err := r.datasource.CreateSettlementRequest(ctx, settlement)
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrConflict {
			return r.datasource.GetSettlementRequest(ctx, settlement.Reference)
		}
		return nil, err
	}

	if err := r.queue.EnqueueSettlement(created, 0); err != nil {
		return nil, err
	}
	if err := r.queue.queueEscalation(created.Reference, created.Deadline); err != nil {
		logrus.Warnf("escalation scheduling failed for %s: %v", created.Reference, err)
	}
	if err := r.queue.queueWebhook(EventSettlementCreated, created); err != nil {
		logrus.Warnf("webhook enqueue failed for %s: %v", created.Reference, err)
	}
	return created, nil
}

// GetSettlement fetches one settlement by reference.
func (r *Railcore) GetSettlement(ctx context.Context, reference string) (*model.SettlementRequest, error) {
	return r.datasource.GetSettlementRequest(ctx, reference)
}

// GetSettlementMetrics aggregates attempt outcomes per rail over a date
// range.
func (r *Railcore) GetSettlementMetrics(ctx context.Context, start, end time.Time) ([]model.RailMetric, error) {
	return r.datasource.GetSettlementMetrics(ctx, start, end)
}

// ProcessSettlement drives one settlement through its rail candidates. A
// per-reference lock plus the recorded-attempt idempotency check guarantee at
// most one successful rail submission per reference, no matter how many
// workers pick the task up.
//
// Transient rail failures feed the breaker and fail over to the next
// candidate without delay. A permanent rejection fails the settlement
// immediately. Exhausting every candidate schedules a durable retry cycle
// with exponential backoff, up to the configured maximum, after which the
// settlement fails and is flagged for manual review.
func (r *Railcore) ProcessSettlement(ctx context.Context, reference string) error {
	ctx, span := otel.Tracer("settlement").Start(ctx, "Processing settlement")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	locker := redlock.NewLocker(r.redis, fmt.Sprintf("lock:settlement:%s", reference), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, 2*time.Minute, 30*time.Second); err != nil {
		return err
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.Warnf("settlement unlock failed for %s: %v", reference, err)
		}
	}()

	settlement, err := r.datasource.GetSettlementRequest(ctx, reference)
	if err != nil {
		return err
	}
	if model.IsTerminalStatus(settlement.Status) {
		return nil
	}

	// A recorded success means a previous worker crashed between submitting
	// and completing. Finish the bookkeeping; never submit again.
	if prior, err := r.datasource.GetSuccessfulAttempt(ctx, reference); err == nil && prior != nil {
		return r.completeSettlement(ctx, settlement)
	}

	if settlement.Status == model.StatusInitiated {
		if err := r.datasource.UpdateSettlementStatus(ctx, reference, model.StatusValidating, nil); err != nil {
			return err
		}
		settlement.Status = model.StatusValidating
	}
	if settlement.Status == model.StatusValidating {
		if err := settlement.Validate(); err != nil {
			return r.failSettlement(ctx, settlement, false)
		}
		if err := r.datasource.UpdateSettlementStatus(ctx, reference, model.StatusProcessing, nil); err != nil {
			return err
		}
		settlement.Status = model.StatusProcessing
	}

	candidates, err := r.SelectRails(ctx, settlement)
	if err != nil {
		return err
	}

	for _, rail := range candidates {
		outcome, err := r.attemptRail(ctx, settlement, rail)
		if err == nil {
			return r.completeSettlement(ctx, settlement)
		}
		if outcome == model.AttemptSucceeded {
			// The transfer went out but the attempt record did not stick.
			// Failing over now would pay twice; surface the error so the
			// task retries and re-enters through the recorded-attempt check.
			return err
		}
		if outcome == model.AttemptRejected {
			return r.failSettlement(ctx, settlement, false)
		}
		// Timed out; next candidate.
	}

	return r.scheduleRetry(ctx, settlement, cfg)
}

// attemptRail submits the settlement to one rail, recording the attempt and
// feeding the outcome into the rail's breaker. The returned outcome is one of
// the attempt outcome constants.
func (r *Railcore) attemptRail(ctx context.Context, settlement *model.SettlementRequest, rail model.Rail) (string, error) {
	brk := r.breakerFor(rail.Name)
	allowed, probe, err := brk.Allow(ctx)
	if err != nil || !allowed {
		return model.AttemptTimedOut, apierror.NewAPIError(apierror.ErrRailTimeout,
			fmt.Sprintf("rail %s not accepting traffic", rail.Name), err)
	}
	if probe {
		logrus.Infof("rail %s half-open, settlement %s admitted as probe", rail.Name, settlement.Reference)
	}

	gateway, ok := r.gateways[rail.Name]
	if !ok {
		return model.AttemptTimedOut, apierror.NewAPIError(apierror.ErrRailTimeout,
			fmt.Sprintf("no gateway for rail %s", rail.Name), nil)
	}

	r.incrInflight(ctx, rail.Name)
	started := time.Now()
	externalRef, submitErr := gateway.Submit(ctx, settlement)
	finished := time.Now()
	r.decrInflight(ctx, rail.Name)

	attempt := &model.SettlementAttempt{
		Reference:  settlement.Reference,
		Rail:       rail.Name,
		Cycle:      settlement.AttemptCycle,
		StartedAt:  started,
		FinishedAt: finished,
	}

	if submitErr == nil {
		attempt.Outcome = model.AttemptSucceeded
		attempt.ExternalRef = externalRef
		if _, err := r.datasource.RecordAttempt(ctx, attempt); err != nil {
			return model.AttemptSucceeded, err
		}
		if err := brk.RecordSuccess(ctx); err != nil {
			logrus.Warnf("breaker success record failed for rail %s: %v", rail.Name, err)
		}
		return model.AttemptSucceeded, nil
	}

	attempt.Error = submitErr.Error()
	if apierror.IsTransient(submitErr) {
		attempt.Outcome = model.AttemptTimedOut
		if state, err := brk.RecordFailure(ctx); err == nil && state == model.BreakerOpen {
			notification.NotifyError(fmt.Errorf("rail %s breaker opened", rail.Name))
		}
	} else {
		attempt.Outcome = model.AttemptRejected
	}
	if _, err := r.datasource.RecordAttempt(ctx, attempt); err != nil {
		logrus.Errorf("attempt record failed for %s on %s: %v", settlement.Reference, rail.Name, err)
	}
	return attempt.Outcome, submitErr
}

func (r *Railcore) completeSettlement(ctx context.Context, settlement *model.SettlementRequest) error {
	now := time.Now()
	if err := r.datasource.UpdateSettlementStatus(ctx, settlement.Reference, model.StatusCompleted, &now); err != nil {
		return err
	}
	settlement.Status = model.StatusCompleted
	settlement.CompletedAt = &now
	if err := r.queue.cancelEscalation(settlement.Reference); err != nil {
		logrus.Warnf("escalation cancel failed for %s: %v", settlement.Reference, err)
	}
	if err := r.datasource.RecordSLAEvent(ctx, settlement.Reference, SLAEventCompleted); err != nil {
		logrus.Warnf("sla event record failed for %s: %v", settlement.Reference, err)
	}
	return r.queue.queueWebhook(EventSettlementCompleted, settlement)
}

// failSettlement moves the settlement to FAILED. Manual review is flagged
// when automatic processing exhausted its retry budget rather than being
// rejected outright.
func (r *Railcore) failSettlement(ctx context.Context, settlement *model.SettlementRequest, manualReview bool) error {
	if err := r.datasource.UpdateSettlementStatus(ctx, settlement.Reference, model.StatusFailed, nil); err != nil {
		return err
	}
	settlement.Status = model.StatusFailed
	if manualReview {
		if err := r.datasource.FlagManualReview(ctx, settlement.Reference); err != nil {
			logrus.Errorf("manual review flag failed for %s: %v", settlement.Reference, err)
		}
		settlement.ManualReview = true
		notification.NotifyError(fmt.Errorf("settlement %s failed after exhausting retries, manual review required", settlement.Reference))
	}
	if err := r.queue.cancelEscalation(settlement.Reference); err != nil {
		logrus.Warnf("escalation cancel failed for %s: %v", settlement.Reference, err)
	}
	return r.queue.queueWebhook(EventSettlementFailed, settlement)
}

// scheduleRetry books the next retry cycle with exponential backoff, or fails
// the settlement once the cycle budget is spent.
func (r *Railcore) scheduleRetry(ctx context.Context, settlement *model.SettlementRequest, cfg *config.Configuration) error {
	nextCycle := settlement.AttemptCycle + 1
	if nextCycle >= cfg.Settlement.MaxRetryCycles {
		return r.failSettlement(ctx, settlement, true)
	}

	delay := time.Duration(cfg.Settlement.RetryBackoffSec) * time.Second * (1 << settlement.AttemptCycle)
	nextRetryAt := time.Now().Add(delay)
	if err := r.datasource.UpdateRetrySchedule(ctx, settlement.Reference, nextCycle, nextRetryAt); err != nil {
		return err
	}
	settlement.AttemptCycle = nextCycle
	settlement.NextRetryAt = nextRetryAt

	if err := r.queue.EnqueueSettlement(settlement, delay); err != nil {
		return err
	}
	logrus.Infof("settlement %s scheduled for retry cycle %d at %s", settlement.Reference, nextCycle, nextRetryAt.Format(time.RFC3339))
	return nil
}
