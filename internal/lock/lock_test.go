package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func testClient(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestLockIsExclusive(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	holder := NewLocker(client, "lock:settlement:set_1", "holder-a")
	assert.NoError(t, holder.Lock(ctx, time.Minute))

	contender := NewLocker(client, "lock:settlement:set_1", "holder-b")
	assert.Error(t, contender.Lock(ctx, time.Minute))

	// A different key is free.
	other := NewLocker(client, "lock:settlement:set_2", "holder-b")
	assert.NoError(t, other.Lock(ctx, time.Minute))
}

func TestUnlockOnlyByHolder(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	holder := NewLocker(client, "lock:settlement:set_1", "holder-a")
	assert.NoError(t, holder.Lock(ctx, time.Minute))

	impostor := NewLocker(client, "lock:settlement:set_1", "holder-b")
	assert.Error(t, impostor.Unlock(ctx))

	assert.NoError(t, holder.Unlock(ctx))
	// The lock is gone; unlocking again fails.
	assert.Error(t, holder.Unlock(ctx))
}

func TestWaitLockAcquiresAfterRelease(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	holder := NewLocker(client, "lock:settlement:set_1", "holder-a")
	assert.NoError(t, holder.Lock(ctx, time.Minute))

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = holder.Unlock(context.Background())
	}()

	contender := NewLocker(client, "lock:settlement:set_1", "holder-b")
	assert.NoError(t, contender.WaitLock(ctx, time.Minute, 2*time.Second))
}

func TestWaitLockTimesOut(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	holder := NewLocker(client, "lock:settlement:set_1", "holder-a")
	assert.NoError(t, holder.Lock(ctx, time.Minute))

	contender := NewLocker(client, "lock:settlement:set_1", "holder-b")
	assert.Error(t, contender.WaitLock(ctx, time.Minute, 300*time.Millisecond))
}

func TestExtendLock(t *testing.T) {
	client, mr := testClient(t)
	ctx := context.Background()

	holder := NewLocker(client, "lock:settlement:set_1", "holder-a")
	assert.NoError(t, holder.Lock(ctx, time.Second))
	assert.NoError(t, holder.ExtendLock(ctx, time.Minute))

	// The extension replaced the original TTL.
	mr.FastForward(2 * time.Second)
	assert.Error(t, holder.Lock(ctx, time.Second))

	impostor := NewLocker(client, "lock:settlement:set_1", "holder-b")
	assert.Error(t, impostor.ExtendLock(ctx, time.Minute))
}

// A redis failure surfaces as an error rather than a held lock.
func TestLockPropagatesRedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectSetNX("lock:settlement:set_1", "holder-a", time.Minute).
		SetErr(errors.New("connection reset"))

	locker := NewLocker(client, "lock:settlement:set_1", "holder-a")
	assert.Error(t, locker.Lock(context.Background(), time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockSetsRequestedTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectSetNX("lock:settlement:set_1", "holder-a", 2*time.Minute).SetVal(true)

	locker := NewLocker(client, "lock:settlement:set_1", "holder-a")
	assert.NoError(t, locker.Lock(context.Background(), 2*time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}
