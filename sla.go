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

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/internal/notification"
	"github.com/railcorehq/railcore/model"
)

// SLA event types recorded against a settlement.
const (
	SLAEventWarning   = "WARNING"
	SLAEventBreach    = "BREACH"
	SLAEventCompleted = "COMPLETED"
	SLAEventEscalated = "ESCALATED"
)

const slaSweepBatch = 500

// StartSLASweeper runs the periodic SLA sweep until the context is cancelled.
// The sweep is the backstop for the per-settlement escalation tasks: a breach
// is caught even when the scheduled task was lost.
func (r *Railcore) StartSLASweeper(ctx context.Context) {
	cfg, err := config.Fetch()
	if err != nil {
		logrus.Errorf("sla sweeper not started: %v", err)
		return
	}
	ticker := time.NewTicker(time.Duration(cfg.Sla.SweepIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepSLA(ctx); err != nil {
				logrus.Errorf("sla sweep failed: %v", err)
			}
		}
	}
}

// SweepSLA walks every non-terminal settlement once. Past-deadline
// settlements expire with a BREACH event; settlements inside the warning
// fraction of their SLA raise a one-shot WARNING and escalate.
func (r *Railcore) SweepSLA(ctx context.Context) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	settlements, err := r.datasource.ListNonTerminalSettlements(ctx, slaSweepBatch)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, settlement := range settlements {
		if now.After(settlement.Deadline) {
			if err := r.breachSettlement(ctx, settlement); err != nil {
				logrus.Errorf("sla breach handling failed for %s: %v", settlement.Reference, err)
			}
			continue
		}

		total := model.SLAForTier(settlement.PriorityTier)
		remaining := settlement.Deadline.Sub(now)
		if !settlement.SLAWarned && remaining < time.Duration(float64(total)*cfg.Sla.WarningFraction) {
			if err := r.warnSettlement(ctx, settlement); err != nil {
				logrus.Errorf("sla warning failed for %s: %v", settlement.Reference, err)
			}
		}
	}
	return nil
}

// ProcessEscalation handles the one-shot task scheduled at a settlement's
// deadline. A settlement already terminal is left alone; the task firing at
// all means completion never cancelled it.
func (r *Railcore) ProcessEscalation(ctx context.Context, reference string) error {
	settlement, err := r.datasource.GetSettlementRequest(ctx, reference)
	if err != nil {
		return err
	}
	if model.IsTerminalStatus(settlement.Status) {
		return nil
	}
	return r.breachSettlement(ctx, settlement)
}

// breachSettlement expires a settlement past its deadline. Automatic retries
// stop: the terminal status makes any queued cycle a no-op, and the
// settlement is flagged for manual remediation.
func (r *Railcore) breachSettlement(ctx context.Context, settlement *model.SettlementRequest) error {
	if err := r.datasource.UpdateSettlementStatus(ctx, settlement.Reference, model.StatusExpired, nil); err != nil {
		if apierror.CodeOf(err) == apierror.ErrConflict {
			// A concurrent completion beat the breach; nothing to do.
			return nil
		}
		return err
	}
	settlement.Status = model.StatusExpired

	if err := r.datasource.RecordSLAEvent(ctx, settlement.Reference, SLAEventBreach); err != nil {
		logrus.Errorf("breach event record failed for %s: %v", settlement.Reference, err)
	}
	if err := r.datasource.FlagManualReview(ctx, settlement.Reference); err != nil {
		logrus.Errorf("manual review flag failed for %s: %v", settlement.Reference, err)
	}
	notification.NotifyError(fmt.Errorf("settlement %s breached its %s SLA", settlement.Reference, settlement.PriorityTier))
	return r.queue.queueWebhook(EventSettlementExpired, settlement)
}

// warnSettlement raises the one-shot SLA warning and escalates the settlement
// onto the emergency rail set. MarkSLAWarned is guarded so concurrent sweeps
// produce exactly one warning.
func (r *Railcore) warnSettlement(ctx context.Context, settlement *model.SettlementRequest) error {
	if err := r.datasource.MarkSLAWarned(ctx, settlement.Reference); err != nil {
		// Another sweeper already warned.
		return nil
	}
	settlement.SLAWarned = true

	if err := r.datasource.RecordSLAEvent(ctx, settlement.Reference, SLAEventWarning); err != nil {
		logrus.Errorf("warning event record failed for %s: %v", settlement.Reference, err)
	}
	if err := r.queue.queueWebhook(EventSettlementSLAWarning, settlement); err != nil {
		logrus.Warnf("webhook enqueue failed for %s: %v", settlement.Reference, err)
	}
	return r.escalateSettlement(ctx, settlement)
}

// escalateSettlement re-queues a warned settlement for an immediate attempt
// against the emergency rail set. Instant-urgency work cannot be escalated
// further, and a settlement already escalated stays escalated.
func (r *Railcore) escalateSettlement(ctx context.Context, settlement *model.SettlementRequest) error {
	if settlement.PriorityTier == model.TierEmergency || settlement.Escalated {
		return nil
	}
	if err := r.datasource.MarkEscalated(ctx, settlement.Reference); err != nil {
		return err
	}
	settlement.Escalated = true

	if err := r.datasource.RecordSLAEvent(ctx, settlement.Reference, SLAEventEscalated); err != nil {
		logrus.Errorf("escalation event record failed for %s: %v", settlement.Reference, err)
	}
	// A retry cycle still waiting in the queue is superseded by the
	// escalated attempt.
	if err := r.queue.dequeueSettlementCycle(settlement.Reference, settlement.AttemptCycle); err != nil {
		logrus.Warnf("retry dequeue failed for %s: %v", settlement.Reference, err)
	}
	logrus.Infof("settlement %s escalated to emergency rail set", settlement.Reference)
	return r.queue.EnqueueSettlement(settlement, 0)
}
