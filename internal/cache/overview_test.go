package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*OverviewCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewOverviewCache(client, ttl), mr
}

func TestOverviewCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Second)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := &domain.Overview{UserID: "user-1", PendingCommission: 45000, TotalReferrals: 2}
	require.NoError(t, c.Set(ctx, want))

	got, ok, err := c.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestOverviewCache_Expires(t *testing.T) {
	c, mr := newTestCache(t, 5*time.Second)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &domain.Overview{UserID: "user-1"}))
	mr.FastForward(6 * time.Second)

	_, ok, err := c.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverviewCache_Invalidate(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &domain.Overview{UserID: "a"}))
	require.NoError(t, c.Set(ctx, &domain.Overview{UserID: "b"}))
	require.NoError(t, c.Invalidate(ctx, "a", "", "b"))

	assert.False(t, mr.Exists(key("a")))
	assert.False(t, mr.Exists(key("b")))
	require.NoError(t, c.Invalidate(ctx))
}

func TestOverviewCache_CorruptEntry(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	require.NoError(t, mr.Set(key("user-1"), "{not json"))

	_, _, err := c.Get(context.Background(), "user-1")
	assert.Error(t, err)
}
