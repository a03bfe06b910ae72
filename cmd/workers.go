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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/railcorehq/railcore"
	"github.com/railcorehq/railcore/config"
	redis_db "github.com/railcorehq/railcore/internal/redis-db"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

// processSettlement drives a settlement task from the queue through the rail
// candidates. Returning an error pushes the task back for an asynq retry;
// the orchestrator's own cycle bookkeeping makes replays harmless.
func (b *railcoreInstance) processSettlement(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("railcore.settlements.worker").Start(ctx, "Process Settlement From Redis Queue")
	defer span.End()

	var payload railcore.SettlementTypePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	err := b.railcore.ProcessSettlement(ctx, payload.Data.Reference)
	if err != nil {
		logrus.Infof("Settlement %s pushed back for retry due to error: %v", payload.Data.Reference, err)
		return err
	}

	log.Println(" [*] Settlement Processed", payload.Data.Reference)
	return nil
}

// processEscalation handles the one-shot task scheduled at a settlement's
// SLA deadline.
func (b *railcoreInstance) processEscalation(ctx context.Context, t *asynq.Task) error {
	var reference string
	if err := json.Unmarshal(t.Payload(), &reference); err != nil {
		logrus.Error(err)
		return err
	}

	err := b.railcore.ProcessEscalation(ctx, reference)
	if err != nil {
		return err
	}

	logrus.Printf(" [*] Escalation Processed %s", reference)
	return nil
}

// processProbe health-checks every rail whose breaker is not closed.
func (b *railcoreInstance) processProbe(ctx context.Context, _ *asynq.Task) error {
	return b.railcore.ProbeRails(ctx)
}

// processReconciliation runs one queued reconciliation report.
func (b *railcoreInstance) processReconciliation(ctx context.Context, t *asynq.Task) error {
	var payload railcore.ReconciliationTypePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	err := b.railcore.RunReconciliation(ctx, payload.ReportID, payload.RangeStart, payload.RangeEnd)
	if err != nil {
		return err
	}

	log.Println(" [*] Reconciliation Processed", payload.ReportID)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.ProbeQueue] = 1
	queues[cfg.Queue.SlaQueue] = 3
	queues[cfg.Queue.ReconciliationQueue] = 1

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.SettlementQueue, i)
		queues[queueName] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *railcoreInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	// Register handlers for settlement queues
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.SettlementQueue, i)
		mux.HandleFunc(queueName, b.processSettlement)
	}

	// Register handlers for other task types
	mux.HandleFunc(cfg.Queue.WebhookQueue, railcore.ProcessWebhook)
	mux.HandleFunc(cfg.Queue.SlaQueue, b.processEscalation)
	mux.HandleFunc(cfg.Queue.ProbeQueue, b.processProbe)
	mux.HandleFunc(cfg.Queue.ReconciliationQueue, b.processReconciliation)
}

// startProbeScheduler enqueues a rail health probe task at the configured
// interval so breakers recover without organic traffic.
func startProbeScheduler(ctx context.Context, b *railcoreInstance) {
	interval := time.Duration(b.cnf.Breaker.ProbeIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task := asynq.NewTask(b.cnf.Queue.ProbeQueue, nil,
					asynq.Queue(b.cnf.Queue.ProbeQueue))
				if _, err := b.railcore.Queue().Client.Enqueue(task); err != nil {
					logrus.Warnf("probe enqueue failed: %v", err)
				}
			}
		}
	}()
}

// workerCommands defines the "workers" command to start worker processes.
// The workers listen to the settlement, webhook, SLA, probe and
// reconciliation queues.
func workerCommands(b *railcoreInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start railcore workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			// Load configuration
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeTracing(ctx)
			if err != nil {
				log.Printf("tracing disabled: %v", err)
			} else {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}

			// Initialize queues
			queues := initializeQueues()

			// Initialize worker server
			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			// Initialize task handlers
			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Periodic rail health probes and the SLA sweep run beside the
			// queue consumers.
			startProbeScheduler(ctx, b)
			go b.railcore.StartSLASweeper(ctx)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring", //  Optional: if you want to serve asynqmon under a sub-path.
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			// Start asynqmon HTTP server in a new goroutine
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			// Start worker server
			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
