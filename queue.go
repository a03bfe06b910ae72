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
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/railcorehq/railcore/config"
	redis_db "github.com/railcorehq/railcore/internal/redis-db"
	"github.com/railcorehq/railcore/model"
)

// Queue represents a queue for handling settlement, webhook, probe, SLA and
// reconciliation tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// SettlementTypePayload represents the payload for a settlement task.
type SettlementTypePayload struct {
	Data model.SettlementRequest
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueSettlement enqueues a settlement for asynchronous processing. A
// non-zero delay schedules the task for a retry cycle instead of immediate
// processing. The task ID carries the reference and cycle so a crash-retry of
// the same cycle dedupes instead of double-submitting.
//
// Parameters:
// - settlement *model.SettlementRequest: The settlement to process.
// - delay time.Duration: How long to hold the task before it becomes runnable.
//
// Returns:
// - error: An error if the task could not be enqueued.
func (q *Queue) EnqueueSettlement(settlement *model.SettlementRequest, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(SettlementTypePayload{Data: *settlement})
	if err != nil {
		return err
	}
	queueName := settlementQueueFor(cfg, settlement.Reference)
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:cycle:%d", settlement.Reference, settlement.AttemptCycle)),
		asynq.Queue(queueName),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}
	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued settlement: %+v", settlement.Reference)
	return nil
}

// queueEscalation schedules the one-shot escalation task that fires at a
// settlement's SLA deadline. Completing the settlement first cancels it by
// deleting the task.
func (q *Queue) queueEscalation(reference string, deadline time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(reference)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(escalationTaskID(reference)),
		asynq.Queue(cfg.Queue.SlaQueue),
		asynq.ProcessIn(time.Until(deadline)),
	}
	task := asynq.NewTask(cfg.Queue.SlaQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// cancelEscalation removes a pending escalation task once its settlement has
// reached a terminal state. A task already gone is not an error.
func (q *Queue) cancelEscalation(reference string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	err = q.Inspector.DeleteTask(cfg.Queue.SlaQueue, escalationTaskID(reference))
	if err != nil && err != asynq.ErrTaskNotFound {
		return err
	}
	return nil
}

func escalationTaskID(reference string) string {
	return fmt.Sprintf("escalate:%s", reference)
}

// dequeueSettlementCycle removes a waiting or scheduled settlement task so
// the settlement can be re-queued for immediate processing.
func (q *Queue) dequeueSettlementCycle(reference string, cycle int) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	err = q.Inspector.DeleteTask(settlementQueueFor(cfg, reference), fmt.Sprintf("%s:cycle:%d", reference, cycle))
	if err != nil && err != asynq.ErrTaskNotFound && err != asynq.ErrQueueNotFound {
		return err
	}
	return nil
}

// settlementQueueFor shards settlements across the configured number of
// queues by reference, keeping every cycle of one reference on the same
// queue.
func settlementQueueFor(cfg *config.Configuration, reference string) string {
	queueIndex := hashReference(reference)%cfg.Queue.NumberOfQueues + 1
	return fmt.Sprintf("%s_%d", cfg.Queue.SettlementQueue, queueIndex)
}

// hashReference hashes a settlement reference for queue sharding.
//
// Parameters:
// - reference string: The settlement reference to hash.
//
// Returns:
// - int: The hash value of the reference.
func hashReference(reference string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(reference))
	return int(hasher.Sum32())
}

// queueWebhook enqueues an outbound event notification.
func (q *Queue) queueWebhook(event string, data interface{}) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data":  data,
	})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.WebhookQueue),
		asynq.MaxRetry(5),
	}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// GetSettlementFromQueue scans waiting and scheduled tasks for one carrying
// the given reference. Used to detect an in-flight duplicate before enqueueing.
//
// Parameters:
// - reference string: The settlement reference to look for.
//
// Returns:
// - *model.SettlementRequest: The queued settlement, or nil when absent.
// - error: An error if the queues could not be inspected.
func (q *Queue) GetSettlementFromQueue(reference string) (*model.SettlementRequest, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	queueName := settlementQueueFor(cfg, reference)
	for _, list := range []func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		q.Inspector.ListPendingTasks,
		q.Inspector.ListScheduledTasks,
	} {
		tasks, err := list(queueName)
		if err != nil {
			if err == asynq.ErrQueueNotFound {
				continue
			}
			return nil, err
		}
		for _, task := range tasks {
			var payload SettlementTypePayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				continue
			}
			if payload.Data.Reference == reference {
				return &payload.Data, nil
			}
		}
	}
	return nil, nil
}
