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
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/model"
)

// SelectRails returns the ordered rail candidates for a settlement. The
// tier's static preference list is filtered down to rails that are not OPEN,
// whose ceiling covers the amount, and that carry every capability the
// destination requires. NORMAL-tier settlements additionally re-order rails
// of equal cost class by current in-flight load. Selection is read-only: it
// never mutates breaker state, so evaluating candidates has no side effects.
func (r *Railcore) SelectRails(ctx context.Context, settlement *model.SettlementRequest) ([]model.Rail, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]config.RailConfig, len(cfg.Rails))
	for _, rc := range cfg.Rails {
		byName[rc.Name] = rc
	}

	tier := settlement.PriorityTier
	if settlement.Escalated {
		// SLA escalation moves the settlement onto the emergency rail set.
		tier = model.TierEmergency
	}
	preferences := cfg.Settlement.TierPreferences[tier]
	candidates := make([]model.Rail, 0, len(preferences))
	for _, name := range preferences {
		rc, ok := byName[name]
		if !ok {
			continue
		}
		rail := model.Rail{
			Name:         rc.Name,
			Ceiling:      rc.Ceiling,
			CostClass:    rc.CostClass,
			Urgency:      rc.Urgency,
			Capabilities: rc.Capabilities,
			Timeout:      time.Duration(rc.TimeoutMs) * time.Millisecond,
		}

		if rail.Ceiling > 0 && settlement.Amount > rail.Ceiling {
			continue
		}
		if urgentTier(tier) && rail.Urgency == model.UrgencyStandard {
			continue
		}
		if !hasAllCapabilities(rail, settlement.Destination.RequiredCapabilities) {
			continue
		}

		state, err := r.breakerFor(rail.Name).State(ctx)
		if err != nil {
			// Unknown health reads as unavailable; candidacy fails closed.
			logrus.Warnf("breaker state read failed for rail %s: %v", rail.Name, err)
			continue
		}
		if state.State == model.BreakerOpen {
			continue
		}

		candidates = append(candidates, rail)
	}

	if settlement.PriorityTier == model.TierNormal && len(candidates) > 1 {
		r.orderByLoad(ctx, candidates)
	}

	return candidates, nil
}

func urgentTier(tier string) bool {
	return tier == model.TierEmergency || tier == model.TierHigh
}

func hasAllCapabilities(rail model.Rail, required []string) bool {
	for _, capability := range required {
		if !rail.HasCapability(capability) {
			return false
		}
	}
	return true
}

// orderByLoad stably re-orders rails of the same cost class by their
// in-flight counter, least-loaded first. Cost-class ordering from the
// preference list is preserved.
func (r *Railcore) orderByLoad(ctx context.Context, candidates []model.Rail) {
	loads := make(map[string]int64, len(candidates))
	for _, rail := range candidates {
		load, err := r.redis.Get(ctx, inflightKey(rail.Name)).Int64()
		if err != nil {
			load = 0
		}
		loads[rail.Name] = load
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CostClass != candidates[j].CostClass {
			return false
		}
		return loads[candidates[i].Name] < loads[candidates[j].Name]
	})
}

func inflightKey(rail string) string {
	return fmt.Sprintf("rail_inflight:%s", rail)
}

// incrInflight bumps a rail's in-flight counter around a submission. The key
// carries a TTL so a crashed worker cannot pin load on a rail forever.
func (r *Railcore) incrInflight(ctx context.Context, rail string) {
	pipe := r.redis.TxPipeline()
	pipe.Incr(ctx, inflightKey(rail))
	pipe.Expire(ctx, inflightKey(rail), 10*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		logrus.Warnf("inflight incr failed for rail %s: %v", rail, err)
	}
}

func (r *Railcore) decrInflight(ctx context.Context, rail string) {
	if err := r.redis.Decr(ctx, inflightKey(rail)).Err(); err != nil {
		logrus.Warnf("inflight decr failed for rail %s: %v", rail, err)
	}
}

// RailHealth snapshots every configured rail's breaker for the health
// endpoint.
func (r *Railcore) RailHealth(ctx context.Context) ([]model.RailHealthState, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	states := make([]model.RailHealthState, 0, len(cfg.Rails))
	for _, rc := range cfg.Rails {
		state, err := r.breakerFor(rc.Name).State(ctx)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}
