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
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/database"
	"github.com/railcorehq/railcore/internal/breaker"
	"github.com/railcorehq/railcore/internal/cache"
	redis_db "github.com/railcorehq/railcore/internal/redis-db"
	"github.com/railcorehq/railcore/internal/rails"
)

// Railcore is the control plane for card authorizations and settlement rails.
// One instance wires the decision engine, the velocity tracker, rail selection
// and the settlement orchestrator onto shared Redis and Postgres state, so any
// number of replicas behave as a single system.
type Railcore struct {
	queue      *Queue
	redis      redis.UniversalClient
	cache      cache.Cache
	datasource database.IDataSource
	ledger     LedgerReserver
	gateways   map[string]rails.Gateway
	breakers   map[string]*breaker.Breaker
}

// NewRailcore initializes a new instance of Railcore with the provided database
// datasource. It fetches the configuration, initializes the Redis client, the
// cache, the queue, the ledger client, and one gateway plus breaker per
// configured rail.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *Railcore: A pointer to the newly created Railcore instance.
// - error: An error if any of the initialization steps fail.
func NewRailcore(db database.IDataSource) (*Railcore, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	ledger := NewHTTPLedger(configuration.Ledger.Url, time.Duration(configuration.Ledger.TimeoutMs)*time.Millisecond)

	gateways := make(map[string]rails.Gateway, len(configuration.Rails))
	breakers := make(map[string]*breaker.Breaker, len(configuration.Rails))
	for _, rc := range configuration.Rails {
		gateways[rc.Name] = rails.NewHTTPGateway(rc.Name, rc.Endpoint, time.Duration(rc.TimeoutMs)*time.Millisecond)
		breakers[rc.Name] = breaker.NewBreaker(redisClient.Client(), rc.Name, breaker.Settings{
			FailureThreshold: configuration.Breaker.FailureThreshold,
			FailureWindow:    time.Duration(configuration.Breaker.FailureWindowSec) * time.Second,
			Cooldown:         time.Duration(configuration.Breaker.CooldownSec) * time.Second,
			MaxCooldown:      time.Duration(configuration.Breaker.MaxCooldownSec) * time.Second,
		})
	}

	newRailcore := &Railcore{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		cache:      newCache,
		ledger:     ledger,
		gateways:   gateways,
		breakers:   breakers,
	}
	return newRailcore, nil
}

// Queue exposes the task queue, used by the workers entrypoint to share one
// client between the service and its mux handlers.
func (r *Railcore) Queue() *Queue {
	return r.queue
}

// breakerFor returns the breaker guarding one rail. Unknown rails get a
// throwaway breaker so callers never nil-check.
func (r *Railcore) breakerFor(rail string) *breaker.Breaker {
	if b, ok := r.breakers[rail]; ok {
		return b
	}
	configuration, _ := config.Fetch()
	cfg := breaker.Settings{FailureThreshold: 5, FailureWindow: time.Minute, Cooldown: time.Minute, MaxCooldown: 16 * time.Minute}
	if configuration != nil {
		cfg = breaker.Settings{
			FailureThreshold: configuration.Breaker.FailureThreshold,
			FailureWindow:    time.Duration(configuration.Breaker.FailureWindowSec) * time.Second,
			Cooldown:         time.Duration(configuration.Breaker.CooldownSec) * time.Second,
			MaxCooldown:      time.Duration(configuration.Breaker.MaxCooldownSec) * time.Second,
		}
	}
	b := breaker.NewBreaker(r.redis, rail, cfg)
	r.breakers[rail] = b
	return b
}
