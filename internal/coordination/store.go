package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the shared ephemeral state used by all workers.
//
// Every mutation is a single atomic primitive (set-if-absent, increment, or a
// server-side script). There is deliberately no read-modify-write helper.
type Store interface {
	// SetIfAbsent creates key with ttl iff it does not exist.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Replace overwrites key iff it exists, keeping its ttl.
	Replace(ctx context.Context, key, value string) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// CompareAndDelete deletes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// DeleteMatching removes every key matching a SCAN pattern.
	DeleteMatching(ctx context.Context, pattern string) (int, error)

	// Increment adds one to a counter, arming ttl when the counter has none.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// AdvanceRing moves the pointer at key to the slot after its current value
	// in ring and returns it. A missing or stale pointer yields ring[0].
	AdvanceRing(ctx context.Context, key string, ring []string, ttl time.Duration) (string, error)

	// RecordLeastLoaded prunes each window older than now-window, picks the
	// window with the fewest entries (first on ties), records member in it and
	// returns its index.
	RecordLeastLoaded(ctx context.Context, windows []string, member string, now time.Time, window time.Duration) (int, error)
	// DropNewest removes the most recent entry from a window.
	DropNewest(ctx context.Context, window string) error
	// WindowCounts prunes and counts each window.
	WindowCounts(ctx context.Context, windows []string, now time.Time, window time.Duration) ([]int64, error)

	// AcquireSlot reserves one unit of a capped counter.
	AcquireSlot(ctx context.Context, key string, limit int, ttl time.Duration) (bool, error)
	ReleaseSlot(ctx context.Context, key string) error
	SlotCount(ctx context.Context, key string) (int64, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
}

// ErrUnavailable marks failures talking to the store (timeouts, connection loss).
// Callers treat them as retryable.
var ErrUnavailable = errors.New("coordination: store unavailable")

// OpError records which primitive failed.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("coordination: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Is(target error) bool { return target == ErrUnavailable }

func opErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Key: key, Err: err}
}
