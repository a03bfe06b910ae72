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
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/internal/apierror"
	"github.com/railcorehq/railcore/model"
)

// velocityReserveScript checks every period window and, only when all of them
// admit the transaction, increments all of them in the same atomic step. Two
// concurrent requests can therefore never both pass a window that only has
// room for one of them.
//
// KEYS: one counter hash per period.
// ARGV: amount, then per period: maxCount, maxAmount, ttlSec.
// Returns the 1-based index of the first violated period, or 0, followed by
// the post-operation count and amount per window.
const velocityReserveScript = `
local amount = tonumber(ARGV[1])
local violated = 0
for i = 1, #KEYS do
  local maxCount = tonumber(ARGV[3*i - 1])
  local maxAmount = tonumber(ARGV[3*i])
  local count = tonumber(redis.call('hget', KEYS[i], 'count') or '0')
  local total = tonumber(redis.call('hget', KEYS[i], 'amount') or '0')
  if violated == 0 then
    if (maxCount > 0 and count + 1 > maxCount) or (maxAmount > 0 and total + amount > maxAmount) then
      violated = i
    end
  end
end
local result = {violated}
for i = 1, #KEYS do
  local count
  local total
  if violated == 0 then
    count = redis.call('hincrby', KEYS[i], 'count', 1)
    total = redis.call('hincrby', KEYS[i], 'amount', amount)
    redis.call('expire', KEYS[i], tonumber(ARGV[3*i + 1]))
  else
    count = tonumber(redis.call('hget', KEYS[i], 'count') or '0')
    total = tonumber(redis.call('hget', KEYS[i], 'amount') or '0')
  end
  result[2*i] = count
  result[2*i + 1] = total
end
return result
`

// velocityReleaseScript backs one reserved transaction out of every window,
// clamping at zero so a double release cannot go negative.
const velocityReleaseScript = `
local amount = tonumber(ARGV[1])
for i = 1, #KEYS do
  local count = tonumber(redis.call('hget', KEYS[i], 'count') or '0')
  local total = tonumber(redis.call('hget', KEYS[i], 'amount') or '0')
  if count > 0 then
    redis.call('hincrby', KEYS[i], 'count', -1)
  end
  if total >= amount then
    redis.call('hincrby', KEYS[i], 'amount', -amount)
  elseif total > 0 then
    redis.call('hset', KEYS[i], 'amount', '0')
  end
end
return 1
`

// ReserveVelocity atomically checks the instrument's counters against every
// configured period ceiling and reserves the transaction in all of them. When
// any window would be exceeded, nothing is incremented and the first violated
// period in configuration order is reported. Redis being unreachable fails
// closed.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - instrumentID string: The instrument whose counters to check.
// - amount int64: The transaction amount in minor units.
// - at time.Time: The transaction time that selects the windows.
//
// Returns:
// - *model.VelocityResult: The outcome and post-operation window counters.
// - error: An error if the counters could not be reached.
func (r *Railcore) ReserveVelocity(ctx context.Context, instrumentID string, amount int64, at time.Time) (*model.VelocityResult, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	periods := cfg.Authorization.VelocityPeriods

	keys := make([]string, 0, len(periods))
	argv := make([]interface{}, 0, 1+3*len(periods))
	argv = append(argv, amount)
	for _, p := range periods {
		start, err := model.WindowStart(p.Period, at)
		if err != nil {
			return nil, err
		}
		duration, _ := model.PeriodDuration(p.Period)
		keys = append(keys, model.VelocityKey(instrumentID, p.Period, start))
		// Counters survive twice their window so a request landing right at a
		// boundary still observes the closing window.
		argv = append(argv, p.MaxCount, p.MaxAmount, int64((2*duration).Seconds()))
	}

	raw, err := r.redis.Eval(ctx, velocityReserveScript, keys, argv...).Result()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrSystemUnavailable,
			"velocity counters unavailable", errors.Wrap(err, "velocity reserve"))
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 1+2*len(periods) {
		return nil, apierror.NewAPIError(apierror.ErrSystemUnavailable,
			"velocity counters returned malformed response", nil)
	}

	violated, _ := values[0].(int64)
	result := &model.VelocityResult{Allowed: violated == 0}
	for i, p := range periods {
		count, _ := values[1+2*i].(int64)
		total, _ := values[2+2*i].(int64)
		result.Counters = append(result.Counters, model.WindowCounters{Period: p.Period, Count: count, Amount: total})
	}
	if violated > 0 {
		result.ViolatedPeriod = periods[violated-1].Period
	}
	return result, nil
}

// ReleaseVelocity compensates a reservation whose authorization was declined
// by a later check, restoring every window it touched.
func (r *Railcore) ReleaseVelocity(ctx context.Context, instrumentID string, amount int64, at time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(cfg.Authorization.VelocityPeriods))
	for _, p := range cfg.Authorization.VelocityPeriods {
		start, err := model.WindowStart(p.Period, at)
		if err != nil {
			return err
		}
		keys = append(keys, model.VelocityKey(instrumentID, p.Period, start))
	}

	_, err = r.redis.Eval(ctx, velocityReleaseScript, keys, amount).Result()
	if err != nil {
		return errors.Wrap(err, "velocity release")
	}
	return nil
}

// VelocityCounters reads the current window counters for an instrument
// without reserving anything.
func (r *Railcore) VelocityCounters(ctx context.Context, instrumentID string, at time.Time) ([]model.WindowCounters, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	counters := make([]model.WindowCounters, 0, len(cfg.Authorization.VelocityPeriods))
	for _, p := range cfg.Authorization.VelocityPeriods {
		start, err := model.WindowStart(p.Period, at)
		if err != nil {
			return nil, err
		}
		fields, err := r.redis.HGetAll(ctx, model.VelocityKey(instrumentID, p.Period, start)).Result()
		if err != nil {
			return nil, errors.Wrap(err, "velocity read")
		}
		window := model.WindowCounters{Period: p.Period}
		if v, ok := fields["count"]; ok {
			window.Count = parseInt64(v)
		}
		if v, ok := fields["amount"]; ok {
			window.Amount = parseInt64(v)
		}
		counters = append(counters, window)
	}
	return counters, nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
