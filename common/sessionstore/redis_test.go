package sessionstore

import (
	"context"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/convertd/common/logger"
	redisWrapper "github.com/lyzr/convertd/common/redis"
)

// setupRedisStore connects to a local Redis and flushes the test DB.
// Skipped when no server is reachable, so the suite stays runnable
// without infrastructure.
func setupRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw := goredis.NewClient(&goredis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for tests
	})
	if err := raw.Ping(ctx).Err(); err != nil {
		raw.Close()
		t.Skipf("redis not available on localhost:6379: %v", err)
	}
	require.NoError(t, raw.FlushDB(ctx).Err())
	t.Cleanup(func() { raw.Close() })

	log := logger.New("error", "text")
	return NewRedisStore(redisWrapper.NewClient(raw, log), time.Hour, log)
}

func TestRedisStore_CreateGetDelete(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	sess := newTestSession("r1", StateUploaded, time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StateUploaded, got.State)
	assert.Equal(t, "photo.png", got.Filename)
	assert.Equal(t, sess.ExpiresAt.Unix(), got.ExpiresAt.Unix())

	// Duplicate create is rejected by SETNX
	assert.Error(t, store.Create(ctx, sess))

	require.NoError(t, store.Delete(ctx, "r1"))
	_, err = store.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent delete
	require.NoError(t, store.Delete(ctx, "r1"))
}

func TestRedisStore_CompareAndTransition(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("r1", StateUploaded, time.Now().Add(time.Hour))))

	sess, err := store.CompareAndTransition(ctx, "r1", StateUploaded, StateQueued, nil)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, sess.State)

	// Replaying the same transition conflicts
	_, err = store.CompareAndTransition(ctx, "r1", StateUploaded, StateQueued, nil)
	assert.ErrorIs(t, err, ErrConflict)

	// The conflict left the record untouched
	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, got.State)

	// Mutator changes are committed atomically with the state
	sess, err = store.CompareAndTransition(ctx, "r1", StateQueued, StateProcessing,
		func(s *Session) { s.Progress = 10 })
	require.NoError(t, err)
	assert.Equal(t, 10, sess.Progress)

	_, err = store.CompareAndTransition(ctx, "missing", StateUploaded, StateQueued, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_CompareAndTransition_InvariantViolationHasNoSideEffects(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("r1", StateProcessing, time.Now().Add(time.Hour))))

	// completed without an output ref violates the record invariants
	_, err := store.CompareAndTransition(ctx, "r1", StateProcessing, StateCompleted, nil)
	require.Error(t, err)

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, got.State)
}

func TestRedisStore_CompareAndTransition_SingleWinner(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("r1", StateQueued, time.Now().Add(time.Hour))))

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CompareAndTransition(ctx, "r1", StateQueued, StateProcessing, nil)
			if err == nil {
				wins <- struct{}{}
			} else {
				assert.ErrorIs(t, err, ErrConflict)
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one racer may win the WATCH transaction")
}

func TestRedisStore_Queue(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "a"))
	require.NoError(t, store.Enqueue(ctx, "b"))

	id, err := store.NextQueued(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = store.NextQueued(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	// Empty queue times out with no id and no error
	id, err = store.NextQueued(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRedisStore_ExpiryAndProcessingIndexes(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Create(ctx, newTestSession("old", StateUploaded, now.Add(-time.Minute))))
	require.NoError(t, store.Create(ctx, newTestSession("live", StateUploaded, now.Add(time.Hour))))

	ids, err := store.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	// A processing session with a backdated heartbeat shows up as stuck
	_, err = store.CompareAndTransition(ctx, "live", StateUploaded, StateProcessing,
		func(s *Session) { s.UpdatedAt = now.Add(-10 * time.Minute) })
	require.NoError(t, err)

	stuck, err := store.ListStuck(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, stuck)

	// A fresh heartbeat clears it
	_, err = store.CompareAndTransition(ctx, "live", StateProcessing, StateProcessing,
		func(s *Session) { s.Progress = 50 })
	require.NoError(t, err)

	stuck, err = store.ListStuck(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	// Leaving processing drops the session from the heartbeat index
	_, err = store.CompareAndTransition(ctx, "live", StateProcessing, StateFailed,
		func(s *Session) { s.Error = &Failure{Code: "X", Message: "boom"} })
	require.NoError(t, err)

	stuck, err = store.ListStuck(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	// Delete clears the expiry index along with the record
	require.NoError(t, store.Delete(ctx, "old"))
	ids, err = store.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
