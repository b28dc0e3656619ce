package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/internal/coordination/coordinationtest"
)

func TestWithLock_RunsBodyAndReleases(t *testing.T) {
	store, _ := coordinationtest.NewStore(t)
	l := New(store, time.Second)
	ctx := context.Background()

	got, err := WithLock(ctx, l, "lock:a", func(ctx context.Context) (int, error) {
		_, held, err := store.Get(ctx, "lock:a")
		require.NoError(t, err)
		assert.True(t, held)
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, held, err := store.Get(ctx, "lock:a")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestWithLock_PropagatesBodyErrorAndStillReleases(t *testing.T) {
	store, _ := coordinationtest.NewStore(t)
	l := New(store, time.Second)
	boom := errors.New("boom")

	err := Do(context.Background(), l, "lock:b", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, held, err := store.Get(context.Background(), "lock:b")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAcquire_FailsWithContentionAfterRetries(t *testing.T) {
	store, _ := coordinationtest.NewStore(t)
	l := New(store, time.Minute, WithBackoff(time.Millisecond, 2*time.Millisecond, 3*time.Millisecond))
	ctx := context.Background()

	held, err := l.Acquire(ctx, "lock:c")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "lock:c")
	assert.ErrorIs(t, err, ErrContention)

	require.NoError(t, held.Release(ctx))
	again, err := l.Acquire(ctx, "lock:c")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRelease_DoesNotDropAnotherOwnersLock(t *testing.T) {
	store, mr := coordinationtest.NewStore(t)
	l := New(store, time.Second, WithBackoff())
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "lock:d")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	current, err := l.Acquire(ctx, "lock:d")
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	_, held, err := store.Get(ctx, "lock:d")
	require.NoError(t, err)
	assert.True(t, held, "stale owner must not release the new holder's lock")
	require.NoError(t, current.Release(ctx))
}

func TestWithLock_SerializesBodies(t *testing.T) {
	store, _ := coordinationtest.NewStore(t)
	l := New(store, time.Second, WithBackoff(
		5*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond, 40*time.Millisecond,
		80*time.Millisecond, 160*time.Millisecond, 320*time.Millisecond,
	))

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Do(context.Background(), l, "lock:e", func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestAcquire_StoreFailureIsContention(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	l := New(coordination.NewRedisStore(rdb, 100*time.Millisecond), time.Second, WithBackoff(time.Millisecond))

	_, err := l.Acquire(context.Background(), "lock:f")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContention)
	assert.ErrorIs(t, err, coordination.ErrUnavailable)
}

type countingStore struct {
	coordination.Store
	attempts int
}

func (s *countingStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	s.attempts++
	return false, nil
}

func TestAcquire_DefaultMakesThreeAttempts(t *testing.T) {
	store := &countingStore{}
	l := New(store, time.Second)

	_, err := l.Acquire(context.Background(), "lock:g")
	require.ErrorIs(t, err, ErrContention)
	assert.Equal(t, 3, store.attempts)
}
