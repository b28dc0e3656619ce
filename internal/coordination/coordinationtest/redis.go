// Package coordinationtest runs the coordination store against an in-process
// Redis for tests.
package coordinationtest

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"voiceagent-lbs/internal/coordination"
)

// NewStore starts a miniredis server bound to t and returns a store on it.
func NewStore(t testing.TB) (*coordination.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return coordination.NewRedisStore(rdb, time.Second), mr
}
