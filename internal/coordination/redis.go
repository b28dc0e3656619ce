package coordination

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 500 * time.Millisecond

// RedisStore implements Store on Redis. Every call runs under its own bounded
// timeout so a slow store can never pin a webhook worker.
type RedisStore struct {
	rdb     redis.UniversalClient
	timeout time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb redis.UniversalClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RedisStore{rdb: rdb, timeout: timeout}
}

func (s *RedisStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("coordination: ttl must be > 0 for %s", key)
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, opErr("set-if-absent", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Replace(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	_, err := s.rdb.SetArgs(ctx, key, value, redis.SetArgs{Mode: "XX", KeepTTL: true}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, opErr("replace", key, err)
	}
	return true, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, opErr("get", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return opErr("set", key, s.rdb.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return opErr("delete", keys[0], s.rdb.Del(ctx, keys...).Err())
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	n, err := compareAndDeleteScript.Run(ctx, s.rdb, []string{key}, expected).Int()
	if err != nil {
		return false, opErr("compare-and-delete", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, opErr("scan", pattern, err)
		}
		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, opErr("delete", pattern, err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	n, err := incrementScript.Run(ctx, s.rdb, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, opErr("increment", key, err)
	}
	return n, nil
}

func (s *RedisStore) AdvanceRing(ctx context.Context, key string, ring []string, ttl time.Duration) (string, error) {
	if len(ring) == 0 {
		return "", fmt.Errorf("coordination: empty ring for %s", key)
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	args := make([]any, 0, len(ring)+1)
	args = append(args, ttl.Milliseconds())
	for _, slot := range ring {
		args = append(args, slot)
	}
	v, err := advanceRingScript.Run(ctx, s.rdb, []string{key}, args...).Text()
	if err != nil {
		return "", opErr("advance-ring", key, err)
	}
	return v, nil
}

func (s *RedisStore) RecordLeastLoaded(ctx context.Context, windows []string, member string, now time.Time, window time.Duration) (int, error) {
	if len(windows) == 0 {
		return -1, nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	idx, err := recordLeastLoadedScript.Run(ctx, s.rdb, windows,
		now.UnixMilli(), window.Milliseconds(), member, cutoffMillis(now, window)).Int()
	if err != nil {
		return -1, opErr("record-least-loaded", windows[0], err)
	}
	return idx, nil
}

func (s *RedisStore) DropNewest(ctx context.Context, window string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.rdb.ZRemRangeByRank(ctx, window, -1, -1).Err(); err != nil {
		return opErr("drop-newest", window, err)
	}
	return nil
}

func (s *RedisStore) WindowCounts(ctx context.Context, windows []string, now time.Time, window time.Duration) ([]int64, error) {
	if len(windows) == 0 {
		return nil, nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	counts, err := windowCountsScript.Run(ctx, s.rdb, windows, cutoffMillis(now, window)).Int64Slice()
	if err != nil {
		return nil, opErr("window-counts", windows[0], err)
	}
	return counts, nil
}

// AcquireSlot increments key unless it is already at limit. The ttl expires
// slots a crashed worker never released.
func (s *RedisStore) AcquireSlot(ctx context.Context, key string, limit int, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("coordination: key is required")
	}
	if limit <= 0 {
		return false, fmt.Errorf("coordination: limit must be > 0")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("coordination: ttl must be > 0")
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	res, err := slotAcquireScript.Run(ctx, s.rdb, []string{key}, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, opErr("acquire-slot", key, err)
	}
	return res == 1, nil
}

func (s *RedisStore) ReleaseSlot(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("coordination: key is required")
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	_, err := slotReleaseScript.Run(ctx, s.rdb, []string{key}).Result()
	return opErr("release-slot", key, err)
}

func (s *RedisStore) SlotCount(ctx context.Context, key string) (int64, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("coordination: slot counter %s is not an integer: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return opErr("publish", channel, s.rdb.Publish(ctx, channel, payload).Err())
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return opErr("ping", "", s.rdb.Ping(ctx).Err())
}

// cutoffMillis is the inclusive upper score bound of expired window entries.
func cutoffMillis(now time.Time, window time.Duration) int64 {
	return now.Add(-window).UnixMilli()
}
