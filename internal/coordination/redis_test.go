package coordination_test

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

func TestSetIfAbsent_OnlyFirstWins(t *testing.T) {
	s, mr := coordinationtest.NewStore(t)
	ctx := context.Background()

	ok, err := s.SetIfAbsent(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetIfAbsent(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a", v)

	mr.FastForward(2 * time.Minute)
	ok, err = s.SetIfAbsent(ctx, "k", "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired marker must be claimable again")
}

func TestReplace_KeepsTTLAndRequiresKey(t *testing.T) {
	s, mr := coordinationtest.NewStore(t)
	ctx := context.Background()

	ok, err := s.Replace(ctx, "missing", "x")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.SetIfAbsent(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	ok, err = s.Replace(ctx, "k", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, mr.TTL("k"), time.Duration(0))
}

func TestCompareAndDelete(t *testing.T) {
	s, _ := coordinationtest.NewStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "lock", "owner-1", time.Minute))

	ok, err := s.CompareAndDelete(ctx, "lock", "owner-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndDelete(ctx, "lock", "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIncrement_ArmsTTLOnce(t *testing.T) {
	s, mr := coordinationtest.NewStore(t)
	ctx := context.Background()

	n, err := s.Increment(ctx, "c", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.Increment(ctx, "c", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Greater(t, mr.TTL("c"), time.Duration(0))
}

func TestAdvanceRing_WrapsAndRecoversFromStalePointer(t *testing.T) {
	s, _ := coordinationtest.NewStore(t)
	ctx := context.Background()
	ring := []string{"a", "b", "c"}

	var got []string
	for i := 0; i < 4; i++ {
		v, err := s.AdvanceRing(ctx, "rr", ring, 0)
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)

	require.NoError(t, s.Set(ctx, "rr", "removed", 0))
	v, err := s.AdvanceRing(ctx, "rr", ring, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = s.AdvanceRing(ctx, "rr", nil, 0)
	assert.Error(t, err)
}

func TestRecordLeastLoaded_PrunesExpiredEntries(t *testing.T) {
	s, _ := coordinationtest.NewStore(t)
	ctx := context.Background()
	windows := []string{"w:a", "w:b"}
	now := time.Unix(1700000000, 0)

	idx, err := s.RecordLeastLoaded(ctx, windows, "m1", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	idx, err = s.RecordLeastLoaded(ctx, windows, "m2", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	idx, err = s.RecordLeastLoaded(ctx, windows, "m3", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	counts, err := s.WindowCounts(ctx, windows, now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, counts)

	later := now.Add(2 * time.Hour)
	counts, err = s.WindowCounts(ctx, windows, later, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, counts)
}

func TestDropNewest_RemovesLatestEntryOnly(t *testing.T) {
	s, _ := coordinationtest.NewStore(t)
	ctx := context.Background()
	windows := []string{"w:a"}
	now := time.Unix(1700000000, 0)

	_, err := s.RecordLeastLoaded(ctx, windows, "old", now, time.Hour)
	require.NoError(t, err)
	_, err = s.RecordLeastLoaded(ctx, windows, "new", now.Add(time.Second), time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.DropNewest(ctx, "w:a"))
	counts, err := s.WindowCounts(ctx, windows, now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, counts)
	// Removing from an empty window is a no-op.
	require.NoError(t, s.DropNewest(ctx, "w:empty"))
}

func TestRecordLeastLoaded_ConcurrentWritersLoseNothing(t *testing.T) {
	s, _ := coordinationtest.NewStore(t)
	ctx := context.Background()
	windows := []string{"w:a", "w:b", "w:c"}
	now := time.Unix(1700000000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.RecordLeastLoaded(ctx, windows, time.Duration(i).String(), now, time.Hour)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	counts, err := s.WindowCounts(ctx, windows, now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 10, 10}, counts)
}

func TestSlots_RespectLimit(t *testing.T) {
	s, _ := coordinationtest.NewStore(t)
	ctx := context.Background()

	ok, err := s.AcquireSlot(ctx, "cap", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AcquireSlot(ctx, "cap", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.SlotCount(ctx, "cap")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.ReleaseSlot(ctx, "cap"))
	n, err = s.SlotCount(ctx, "cap")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestDeleteMatching(t *testing.T) {
	s, _ := coordinationtest.NewStore(t)
	ctx := context.Background()
	keys := coordination.NewKeys("t")

	require.NoError(t, s.Set(ctx, keys.PriorityRotation("ten", "g1", 10, 1), "1", 0))
	require.NoError(t, s.Set(ctx, keys.PriorityRotation("ten", "g1", 5, 2), "1", 0))
	require.NoError(t, s.Set(ctx, keys.PriorityRotation("ten", "g2", 10, 1), "1", 0))

	n, err := s.DeleteMatching(ctx, keys.PriorityRotationPattern("ten", "g1"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, found, err := s.Get(ctx, keys.PriorityRotation("ten", "g2", 10, 1))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStoreErrorsAreUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	s := coordination.NewRedisStore(rdb, 200*time.Millisecond)

	_, err := s.SetIfAbsent(context.Background(), "k", "v", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, coordination.ErrUnavailable))
}
