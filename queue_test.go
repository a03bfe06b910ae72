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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/model"
)

func TestSettlementQueueSharding(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())
	_ = r
	cfg, err := config.Fetch()
	assert.NoError(t, err)

	// Every cycle of one reference lands on the same queue.
	queueName := settlementQueueFor(cfg, "set_abc123")
	for i := 0; i < 5; i++ {
		assert.Equal(t, queueName, settlementQueueFor(cfg, "set_abc123"))
	}
	assert.Regexp(t, fmt.Sprintf(`^%s_[1-%d]$`, cfg.Queue.SettlementQueue, cfg.Queue.NumberOfQueues), queueName)
}

func TestEnqueueSettlementDedupesCycle(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())
	settlement := testSettlement(model.TierNormal, 250000)

	assert.NoError(t, r.queue.EnqueueSettlement(settlement, 0))

	// A second enqueue of the same reference and cycle conflicts on task ID.
	assert.Error(t, r.queue.EnqueueSettlement(settlement, 0))

	// The next cycle is a distinct task.
	settlement.AttemptCycle = 1
	assert.NoError(t, r.queue.EnqueueSettlement(settlement, 30*time.Second))
}

func TestDequeueSettlementCycleAllowsRequeue(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())
	settlement := testSettlement(model.TierNormal, 250000)

	assert.NoError(t, r.queue.EnqueueSettlement(settlement, time.Minute))
	assert.NoError(t, r.queue.dequeueSettlementCycle(settlement.Reference, settlement.AttemptCycle))
	assert.NoError(t, r.queue.EnqueueSettlement(settlement, 0))

	// Dequeueing a cycle that is not queued is a no-op.
	assert.NoError(t, r.queue.dequeueSettlementCycle(settlement.Reference, 7))
}

func TestCancelEscalationIdempotent(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())
	reference := "set_escalation_test"

	assert.NoError(t, r.queue.queueEscalation(reference, time.Now().Add(time.Hour)))
	assert.NoError(t, r.queue.cancelEscalation(reference))
	// The task is already gone; cancelling again is not an error.
	assert.NoError(t, r.queue.cancelEscalation(reference))
}

func TestGetSettlementFromQueue(t *testing.T) {
	r, _, _ := newTestRailcore(t, settlementTestConfig())
	settlement := testSettlement(model.TierNormal, 250000)

	queued, err := r.queue.GetSettlementFromQueue(settlement.Reference)
	assert.NoError(t, err)
	assert.Nil(t, queued)

	assert.NoError(t, r.queue.EnqueueSettlement(settlement, 0))

	queued, err = r.queue.GetSettlementFromQueue(settlement.Reference)
	assert.NoError(t, err)
	assert.NotNil(t, queued)
	assert.Equal(t, settlement.Reference, queued.Reference)
	assert.Equal(t, settlement.Amount, queued.Amount)
}
