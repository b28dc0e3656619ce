package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/internal/coordination/coordinationtest"
)

func newGuard(t *testing.T) (*Guard, func(time.Duration)) {
	t.Helper()
	store, mr := coordinationtest.NewStore(t)
	return NewGuard(store, coordination.NewKeys("test"), time.Hour), mr.FastForward
}

func TestTryClaim_SecondDeliveryIsDuplicate(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()
	d := Delivery{TenantID: "t1", EventType: "call.start", SessionToken: "s1", EventID: "c1"}

	ok, err := g.TryClaim(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TryClaim(ctx, d)
	require.NoError(t, err)
	assert.False(t, ok)

	other := d
	other.TenantID = "t2"
	ok, err = g.TryClaim(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok, "same delivery for another tenant is independent")
}

func TestTryClaim_ExpiresAfterTTL(t *testing.T) {
	g, fastForward := newGuard(t)
	ctx := context.Background()
	d := Delivery{TenantID: "t1", EventType: "cdr", EventID: "c1"}

	ok, err := g.TryClaim(ctx, d)
	require.NoError(t, err)
	require.True(t, ok)

	fastForward(2 * time.Hour)
	ok, err = g.TryClaim(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFinalize_StoresResult(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()
	d := Delivery{TenantID: "t1", EventType: "call.start", SessionToken: "s1", EventID: "c1"}

	_, err := g.TryClaim(ctx, d)
	require.NoError(t, err)

	m, ok, err := g.Lookup(ctx, d)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, m.Completed)

	require.NoError(t, g.Finalize(ctx, d, "<Response><Hangup/></Response>"))
	m, ok, err = g.Lookup(ctx, d)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.Completed)
	assert.Equal(t, "<Response><Hangup/></Response>", m.Result)
}

func TestRelease_AllowsRetry(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()
	d := Delivery{TenantID: "t1", EventType: "session", SessionToken: "s1", EventID: "e1"}

	_, err := g.TryClaim(ctx, d)
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx, d))

	ok, err := g.TryClaim(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryClaim_RejectsIncompleteKey(t *testing.T) {
	g, _ := newGuard(t)
	_, err := g.TryClaim(context.Background(), Delivery{TenantID: "t1"})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestTryClaim_SurfacesStoreErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	g := NewGuard(coordination.NewRedisStore(rdb, 200*time.Millisecond), coordination.NewKeys(""), 0)

	ok, err := g.TryClaim(context.Background(), Delivery{TenantID: "t", EventType: "e", EventID: "1"})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, coordination.ErrUnavailable))
}
