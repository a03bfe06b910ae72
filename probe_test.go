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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/railcorehq/railcore/model"
)

// openBreaker writes an OPEN breaker hash directly so tests control the clock
// instead of sleeping through cooldowns.
func openBreaker(t *testing.T, r *Railcore, rail string, openedAgo, cooldown time.Duration) {
	t.Helper()
	err := r.redis.HSet(context.Background(), fmt.Sprintf("breaker:%s", rail),
		"state", model.BreakerOpen,
		"opened_at_ms", time.Now().Add(-openedAgo).UnixMilli(),
		"cooldown_ms", cooldown.Milliseconds(),
		"failures", 0,
		"probe", 0,
	).Err()
	assert.NoError(t, err)
}

func TestProbeRailsClosesHealthyRail(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())
	openBreaker(t, r, "fastwire", 5*time.Second, time.Second)

	assert.NoError(t, r.ProbeRails(context.Background()))

	gateway := r.gateways["fastwire"].(*MockGateway)
	assert.Equal(t, 1, gateway.HealthCalls)

	state, err := r.breakerFor("fastwire").State(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, state.State)
}

func TestProbeRailsKeepsFailingRailOpen(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())
	openBreaker(t, r, "fastwire", 5*time.Second, time.Second)

	r.gateways["fastwire"] = &MockGateway{name: "fastwire", mockHealth: func(context.Context) error {
		return fmt.Errorf("connection refused")
	}}

	assert.NoError(t, r.ProbeRails(context.Background()))

	state, err := r.breakerFor("fastwire").State(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.BreakerOpen, state.State)
	// A failed probe doubles the cooldown.
	assert.Equal(t, int64(2000), state.CooldownMs)
}

func TestProbeRailsSkipsClosedRails(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())

	assert.NoError(t, r.ProbeRails(context.Background()))

	for name, gateway := range r.gateways {
		assert.Equal(t, 0, gateway.(*MockGateway).HealthCalls, "rail %s should not be probed", name)
	}
}

func TestProbeRailsRespectsCooldown(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())
	openBreaker(t, r, "fastwire", time.Second, time.Minute)

	assert.NoError(t, r.ProbeRails(context.Background()))

	assert.Equal(t, 0, r.gateways["fastwire"].(*MockGateway).HealthCalls)
	state, err := r.breakerFor("fastwire").State(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.BreakerOpen, state.State)
}
