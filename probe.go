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

	"github.com/sirupsen/logrus"

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/model"
)

// ProbeRails health-checks every rail whose breaker is not CLOSED, so an
// unhealthy rail recovers even without organic settlement traffic. Probe
// admission goes through the breaker's own gate, which keeps the single
// half-open probe invariant intact: a probe already out on live traffic means
// the health probe is turned away.
func (r *Railcore) ProbeRails(ctx context.Context) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	for _, rc := range cfg.Rails {
		brk := r.breakerFor(rc.Name)
		state, err := brk.State(ctx)
		if err != nil {
			logrus.Warnf("breaker state read failed for rail %s: %v", rc.Name, err)
			continue
		}
		if state.State == model.BreakerClosed {
			continue
		}

		allowed, _, err := brk.Allow(ctx)
		if err != nil || !allowed {
			continue
		}

		gateway, ok := r.gateways[rc.Name]
		if !ok {
			continue
		}
		if err := gateway.Health(ctx); err != nil {
			if _, err := brk.RecordFailure(ctx); err != nil {
				logrus.Warnf("breaker failure record failed for rail %s: %v", rc.Name, err)
			}
			logrus.Infof("health probe failed for rail %s, breaker stays open", rc.Name)
			continue
		}
		if err := brk.RecordSuccess(ctx); err != nil {
			logrus.Warnf("breaker success record failed for rail %s: %v", rc.Name, err)
			continue
		}
		logrus.Infof("health probe succeeded for rail %s, breaker closed", rc.Name)
	}
	return nil
}
