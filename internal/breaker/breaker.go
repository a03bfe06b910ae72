package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/railcorehq/railcore/model"
)

// Breaker is a per-rail circuit breaker whose state lives in a Redis hash so
// every service instance observes the same view of rail health. Transitions
// are driven only by recorded outcomes and timers; there is no external
// override.
//
// Hash fields: state, failures, window_start_ms, opened_at_ms, cooldown_ms,
// probe, probe_at_ms.
type Breaker struct {
	client redis.UniversalClient
	rail   string
	cfg    Settings
}

// Settings bound the breaker's behavior. Cooldown grows exponentially on
// repeated half-open failures up to MaxCooldown. ProbeTimeout bounds how long
// an admitted probe may go without a recorded outcome before its token is
// reclaimed; without it a worker crashing mid-probe would wedge the rail in
// HALF_OPEN forever.
type Settings struct {
	FailureThreshold int64
	FailureWindow    time.Duration
	Cooldown         time.Duration
	MaxCooldown      time.Duration
	ProbeTimeout     time.Duration
}

func NewBreaker(client redis.UniversalClient, rail string, cfg Settings) *Breaker {
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	return &Breaker{client: client, rail: rail, cfg: cfg}
}

func (b *Breaker) key() string {
	return fmt.Sprintf("breaker:%s", b.rail)
}

// allowScript decides candidacy in one atomic step. An OPEN rail whose
// cooldown has elapsed moves to HALF_OPEN and admits the caller as the single
// probe; a HALF_OPEN rail admits nobody while a probe is out, except that a
// probe with no recorded outcome inside the probe timeout is treated as
// abandoned and its token handed to the caller.
const allowScript = `
local state = redis.call('hget', KEYS[1], 'state')
local now = tonumber(ARGV[1])
if not state or state == 'CLOSED' then
  return 1
end
if state == 'OPEN' then
  local opened = tonumber(redis.call('hget', KEYS[1], 'opened_at_ms') or '0')
  local cooldown = tonumber(redis.call('hget', KEYS[1], 'cooldown_ms') or ARGV[2])
  if now - opened < cooldown then
    return 0
  end
  redis.call('hset', KEYS[1], 'state', 'HALF_OPEN', 'probe', '1', 'probe_at_ms', now)
  return 2
end
if state == 'HALF_OPEN' then
  local probe = redis.call('hget', KEYS[1], 'probe')
  if probe == '1' then
    local probeAt = tonumber(redis.call('hget', KEYS[1], 'probe_at_ms') or '0')
    if now - probeAt < tonumber(ARGV[3]) then
      return 0
    end
  end
  redis.call('hset', KEYS[1], 'probe', '1', 'probe_at_ms', now)
  return 2
end
return 0
`

// failureScript rolls the failure counter inside its window and opens the
// breaker at the threshold. A half-open probe failure reopens with doubled,
// bounded cooldown.
const failureScript = `
local state = redis.call('hget', KEYS[1], 'state') or 'CLOSED'
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local base = tonumber(ARGV[4])
local max = tonumber(ARGV[5])
if state == 'HALF_OPEN' then
  local cooldown = tonumber(redis.call('hget', KEYS[1], 'cooldown_ms') or ARGV[4])
  cooldown = cooldown * 2
  if cooldown > max then cooldown = max end
  redis.call('hset', KEYS[1], 'state', 'OPEN', 'opened_at_ms', now, 'cooldown_ms', cooldown, 'probe', '0', 'failures', '0')
  return 'OPEN'
end
if state == 'OPEN' then
  return 'OPEN'
end
local ws = tonumber(redis.call('hget', KEYS[1], 'window_start_ms') or '0')
local failures = tonumber(redis.call('hget', KEYS[1], 'failures') or '0')
if now - ws > window then
  failures = 0
  redis.call('hset', KEYS[1], 'window_start_ms', now)
end
failures = failures + 1
redis.call('hset', KEYS[1], 'failures', failures, 'state', 'CLOSED')
if failures >= threshold then
  redis.call('hset', KEYS[1], 'state', 'OPEN', 'opened_at_ms', now, 'cooldown_ms', base, 'probe', '0', 'failures', '0')
  return 'OPEN'
end
return 'CLOSED'
`

// successScript closes the breaker and resets counters. Success from the
// half-open probe restores the base cooldown.
const successScript = `
redis.call('hset', KEYS[1], 'state', 'CLOSED', 'failures', '0', 'probe', '0', 'cooldown_ms', ARGV[1])
return 'CLOSED'
`

// Allow reports whether the rail may receive traffic. The second return is
// true when the caller has been admitted as the single half-open probe. Redis
// being unreachable counts as not allowed; candidacy fails closed.
func (b *Breaker) Allow(ctx context.Context) (allowed bool, probe bool, err error) {
	now := time.Now().UnixMilli()
	res, err := b.client.Eval(ctx, allowScript, []string{b.key()},
		now, b.cfg.Cooldown.Milliseconds(), b.cfg.ProbeTimeout.Milliseconds()).Result()
	if err != nil {
		return false, false, err
	}
	switch res {
	case int64(1):
		return true, false, nil
	case int64(2):
		return true, true, nil
	}
	return false, false, nil
}

// RecordFailure feeds a live or probe failure into the breaker and returns
// the resulting state.
func (b *Breaker) RecordFailure(ctx context.Context) (string, error) {
	now := time.Now().UnixMilli()
	res, err := b.client.Eval(ctx, failureScript, []string{b.key()},
		now,
		b.cfg.FailureThreshold,
		b.cfg.FailureWindow.Milliseconds(),
		b.cfg.Cooldown.Milliseconds(),
		b.cfg.MaxCooldown.Milliseconds()).Result()
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// RecordSuccess feeds a success into the breaker, closing it and resetting
// counters.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	_, err := b.client.Eval(ctx, successScript, []string{b.key()},
		b.cfg.Cooldown.Milliseconds()).Result()
	return err
}

// State reads a snapshot of the breaker for operational visibility.
func (b *Breaker) State(ctx context.Context) (model.RailHealthState, error) {
	fields, err := b.client.HGetAll(ctx, b.key()).Result()
	if err != nil {
		return model.RailHealthState{}, err
	}
	state := fields["state"]
	if state == "" {
		state = model.BreakerClosed
	}
	snapshot := model.RailHealthState{Rail: b.rail, State: state}
	if v, ok := fields["failures"]; ok {
		_, _ = fmt.Sscanf(v, "%d", &snapshot.Failures)
	}
	if v, ok := fields["cooldown_ms"]; ok {
		_, _ = fmt.Sscanf(v, "%d", &snapshot.CooldownMs)
	}
	if v, ok := fields["opened_at_ms"]; ok {
		var ms int64
		_, _ = fmt.Sscanf(v, "%d", &ms)
		if ms > 0 {
			snapshot.OpenedAt = time.UnixMilli(ms)
		}
	}
	return snapshot, nil
}
