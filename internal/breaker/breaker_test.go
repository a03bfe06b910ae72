package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railcorehq/railcore/model"
)

func testBreaker(t *testing.T, cfg Settings) (*Breaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewBreaker(client, "testrail", cfg), mr
}

func defaultSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		Cooldown:         100 * time.Millisecond,
		MaxCooldown:      400 * time.Millisecond,
	}
}

func openAtThreshold(t *testing.T, b *Breaker) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		state, err := b.RecordFailure(ctx)
		require.NoError(t, err)
		require.Equal(t, model.BreakerClosed, state)
	}
	state, err := b.RecordFailure(ctx)
	require.NoError(t, err)
	require.Equal(t, model.BreakerOpen, state)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(t, defaultSettings())
	ctx := context.Background()

	allowed, probe, err := b.Allow(ctx)
	assert.NoError(t, err)
	assert.True(t, allowed)
	assert.False(t, probe)

	openAtThreshold(t, b)

	allowed, _, err = b.Allow(ctx)
	assert.NoError(t, err)
	assert.False(t, allowed)
}

func TestBreakerAdmitsSingleProbeAfterCooldown(t *testing.T) {
	b, _ := testBreaker(t, defaultSettings())
	ctx := context.Background()
	openAtThreshold(t, b)

	time.Sleep(150 * time.Millisecond)

	allowed, probe, err := b.Allow(ctx)
	assert.NoError(t, err)
	assert.True(t, allowed)
	assert.True(t, probe)

	// A second caller is turned away while the probe is out.
	allowed, _, err = b.Allow(ctx)
	assert.NoError(t, err)
	assert.False(t, allowed)
}

// A probe whose worker died without recording an outcome must not wedge the
// rail in HALF_OPEN: the token is reclaimed after the probe timeout.
func TestBreakerReclaimsAbandonedProbe(t *testing.T) {
	cfg := defaultSettings()
	cfg.ProbeTimeout = 100 * time.Millisecond
	b, _ := testBreaker(t, cfg)
	ctx := context.Background()
	openAtThreshold(t, b)

	time.Sleep(150 * time.Millisecond)
	allowed, probe, err := b.Allow(ctx)
	require.NoError(t, err)
	require.True(t, allowed && probe)

	// Inside the timeout the token stays with the missing worker.
	allowed, _, err = b.Allow(ctx)
	assert.NoError(t, err)
	assert.False(t, allowed)

	// Past it, the next caller takes over as the probe.
	time.Sleep(150 * time.Millisecond)
	allowed, probe, err = b.Allow(ctx)
	assert.NoError(t, err)
	assert.True(t, allowed)
	assert.True(t, probe)

	assert.NoError(t, b.RecordSuccess(ctx))
	state, err := b.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, state.State)
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, _ := testBreaker(t, defaultSettings())
	ctx := context.Background()
	openAtThreshold(t, b)

	time.Sleep(150 * time.Millisecond)
	allowed, probe, err := b.Allow(ctx)
	require.NoError(t, err)
	require.True(t, allowed && probe)

	assert.NoError(t, b.RecordSuccess(ctx))

	state, err := b.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, state.State)
	// Success restores the base cooldown.
	assert.Equal(t, int64(100), state.CooldownMs)

	allowed, probe, err = b.Allow(ctx)
	assert.NoError(t, err)
	assert.True(t, allowed)
	assert.False(t, probe)
}

func TestBreakerProbeFailureDoublesCooldown(t *testing.T) {
	b, _ := testBreaker(t, defaultSettings())
	ctx := context.Background()
	openAtThreshold(t, b)

	// First probe failure: 100ms -> 200ms.
	time.Sleep(150 * time.Millisecond)
	allowed, probe, err := b.Allow(ctx)
	require.NoError(t, err)
	require.True(t, allowed && probe)
	state, err := b.RecordFailure(ctx)
	assert.NoError(t, err)
	assert.Equal(t, model.BreakerOpen, state)

	snapshot, err := b.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(200), snapshot.CooldownMs)

	// Second probe failure: 200ms -> 400ms.
	time.Sleep(250 * time.Millisecond)
	allowed, probe, err = b.Allow(ctx)
	require.NoError(t, err)
	require.True(t, allowed && probe)
	_, err = b.RecordFailure(ctx)
	assert.NoError(t, err)

	// Third probe failure: capped at MaxCooldown.
	time.Sleep(450 * time.Millisecond)
	allowed, probe, err = b.Allow(ctx)
	require.NoError(t, err)
	require.True(t, allowed && probe)
	_, err = b.RecordFailure(ctx)
	assert.NoError(t, err)

	snapshot, err = b.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(400), snapshot.CooldownMs)
}

func TestBreakerFailureWindowResets(t *testing.T) {
	cfg := defaultSettings()
	cfg.FailureWindow = 100 * time.Millisecond
	b, _ := testBreaker(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		state, err := b.RecordFailure(ctx)
		assert.NoError(t, err)
		assert.Equal(t, model.BreakerClosed, state)
	}

	// The window rolls over; stale failures no longer count toward the
	// threshold.
	time.Sleep(150 * time.Millisecond)
	state, err := b.RecordFailure(ctx)
	assert.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, state)

	snapshot, err := b.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Failures)
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := testBreaker(t, defaultSettings())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.RecordFailure(ctx)
		assert.NoError(t, err)
	}
	assert.NoError(t, b.RecordSuccess(ctx))

	// The counter starts over; two more failures do not open the breaker.
	for i := 0; i < 2; i++ {
		state, err := b.RecordFailure(ctx)
		assert.NoError(t, err)
		assert.Equal(t, model.BreakerClosed, state)
	}
}

// Candidacy fails closed: an unreachable store means no traffic.
func TestBreakerFailsClosedWhenRedisDown(t *testing.T) {
	b, mr := testBreaker(t, defaultSettings())
	mr.Close()

	allowed, _, err := b.Allow(context.Background())
	assert.Error(t, err)
	assert.False(t, allowed)
}
