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
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/railcorehq/railcore/model"
)

const webhookTestURL = "https://hooks.test/railcore"

func webhookTask(t *testing.T, event string, data interface{}) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(NewEvent{Event: event, Payload: data})
	assert.NoError(t, err)
	return asynq.NewTask("new:webhook", payload)
}

func TestProcessWebhookSkipsWhenUnconfigured(t *testing.T) {
	_, _, _ = newTestRailcore(t, settlementTestConfig())
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	task := webhookTask(t, EventSettlementCompleted, testSettlement(model.TierNormal, 250000))
	assert.NoError(t, ProcessWebhook(context.Background(), task))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestProcessWebhookDelivers(t *testing.T) {
	cnf := settlementTestConfig()
	cnf.Notification.Webhook.Url = webhookTestURL
	cnf.Notification.Webhook.Headers = map[string]string{"X-Signature": "test"}
	_, _, _ = newTestRailcore(t, cnf)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", webhookTestURL, httpmock.NewStringResponder(200, `{}`))

	task := webhookTask(t, EventSettlementCompleted, testSettlement(model.TierNormal, 250000))
	assert.NoError(t, ProcessWebhook(context.Background(), task))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

// A 4xx means the receiver rejected the payload; redelivering the same body
// cannot help, so the task completes without retrying.
func TestProcessWebhookDoesNotRetryClientError(t *testing.T) {
	cnf := settlementTestConfig()
	cnf.Notification.Webhook.Url = webhookTestURL
	_, _, _ = newTestRailcore(t, cnf)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", webhookTestURL, httpmock.NewStringResponder(404, "not found"))

	task := webhookTask(t, EventSettlementFailed, testSettlement(model.TierNormal, 250000))
	assert.NoError(t, ProcessWebhook(context.Background(), task))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestProcessWebhookRetriesServerError(t *testing.T) {
	cnf := settlementTestConfig()
	cnf.Notification.Webhook.Url = webhookTestURL
	_, _, _ = newTestRailcore(t, cnf)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", webhookTestURL, httpmock.NewStringResponder(500, "boom"))

	task := webhookTask(t, EventSettlementExpired, testSettlement(model.TierNormal, 250000))
	assert.Error(t, ProcessWebhook(context.Background(), task))
	// Initial call plus the bounded retries.
	assert.Equal(t, 4, httpmock.GetTotalCallCount())
}
