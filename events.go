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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/railcorehq/railcore/config"

	"github.com/hibiken/asynq"
)

// Outbound event types. One fires for every externally observable state
// change.
const (
	EventAuthorizationApproved  = "authorization.approved"
	EventAuthorizationDeclined  = "authorization.declined"
	EventSettlementCreated      = "settlement.created"
	EventSettlementCompleted    = "settlement.completed"
	EventSettlementFailed       = "settlement.failed"
	EventSettlementExpired      = "settlement.expired"
	EventSettlementSLAWarning   = "settlement.sla_warning"
	EventReconciliationFinished = "reconciliation.finished"
)

// NewEvent represents the structure of an outbound event notification.
// It includes an event type and associated payload data.
type NewEvent struct {
	Event   string      `json:"event"` // The event type that triggered the notification.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// deliverHTTP sends an event notification via HTTP POST, retrying transient
// failures with exponential backoff before handing the task back to the queue.
//
// Parameters:
// - data NewEvent: The event notification data to send.
//
// Returns:
// - error: An error if the request or processing fails.
func deliverHTTP(data NewEvent) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}

	operation := func() error {
		payload := bytes.NewBuffer(jsonData)
		req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		for key, value := range conf.Notification.Webhook.Headers {
			req.Header.Set(key, value)
		}

		client := &http.Client{}
		resp, err := client.Do(req)
		if err != nil {
			log.Println("Error sending request:", err)
			return err
		}
		defer func(Body io.ReadCloser) {
			err := Body.Close()
			if err != nil {
				logrus.Error(err)
			}
		}(resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("event delivery failed with status code: %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// The receiver rejected the payload; retrying the same body
			// cannot help.
			log.Printf("Request failed with status code: %d\n", resp.StatusCode)
			return nil
		}
		return nil
	}

	err = backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if err != nil {
		return err
	}

	log.Println("Event notification sent successfully:", data.Event)
	return nil
}

// ProcessWebhook processes an event notification task from the queue.
//
// Parameters:
// - _ context.Context: The context for the operation.
// - task *asynq.Task: The task containing the event notification data.
//
// Returns:
// - error: An error if the event processing fails.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewEvent
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing event: %+v\n", payload.Event)
	err = deliverHTTP(payload)
	if err != nil {
		return err
	}
	return nil
}
