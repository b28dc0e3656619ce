// Package lock is the short-lived distributed mutual exclusion used to
// serialize per-session routing and per-group rotation state.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/pkg/logger"
)

const DefaultTTL = 5 * time.Second

// ErrContention means the lock could not be acquired within the retry budget.
// It is retryable. When the store itself failed, the store error is wrapped too.
var ErrContention = errors.New("lock: contention")

// Three attempts in total by default.
var defaultBackoff = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}

type Locker struct {
	store   coordination.Store
	ttl     time.Duration
	backoff []time.Duration
}

type Option func(*Locker)

// WithBackoff sets the wait before each retry; len(b)+1 attempts are made.
func WithBackoff(b ...time.Duration) Option {
	return func(l *Locker) { l.backoff = b }
}

func New(store coordination.Store, ttl time.Duration, opts ...Option) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &Locker{store: store, ttl: ttl, backoff: defaultBackoff}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Lease is a held lock.
type Lease struct {
	key   string
	owner string
	store coordination.Store
}

// Release deletes the lock only if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("lock: release %s: %w", l.key, err)
	}
	return nil
}

// Acquire takes the lock at key. The first attempt is immediate, then one retry
// per backoff step.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	owner := uuid.NewString()
	var lastErr error
	for attempt := 0; ; attempt++ {
		ok, err := l.store.SetIfAbsent(ctx, key, owner, l.ttl)
		if err == nil && ok {
			return &Lease{key: key, owner: owner, store: l.store}, nil
		}
		if err != nil {
			lastErr = err
		}
		if attempt >= len(l.backoff) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrContention, key, ctx.Err())
		case <-time.After(l.backoff[attempt]):
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrContention, key, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrContention, key)
}

// WithLock runs body while holding the lock at key.
func WithLock[T any](ctx context.Context, l *Locker, key string, body func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return zero, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.From(ctx).Warn("lock release failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}()
	return body(ctx)
}

// Do is WithLock for bodies without a result.
func Do(ctx context.Context, l *Locker, key string, body func(ctx context.Context) error) error {
	_, err := WithLock(ctx, l, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return err
}
