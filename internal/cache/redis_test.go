package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcq-autopilot/internal/mcq"
)

func newTestRedisStore(t *testing.T, clock *fakeClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, RedisConfig{Prefix: "mcq", Now: clock.Now}), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	clock := newFakeClock()
	s, mr := newTestRedisStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	_, hit, err := s.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, s.Put(ctx, "fp1", mcq.B))

	got, hit, err := s.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, mcq.B, got.Answer)
	assert.Equal(t, clock.Now().UnixMilli(), got.CreatedAt.UnixMilli())

	assert.True(t, mr.Exists("mcq:answer:fp1"))
	assert.Equal(t, "B", mr.HGet("mcq:answer:fp1", "answer"))
}

func TestRedisStoreEviction(t *testing.T) {
	clock := newFakeClock()
	s, mr := newTestRedisStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "old", mcq.A))
	clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, s.Put(ctx, "fresh", mcq.C))

	_, hit, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.True(t, hit, "stale entry must be visible until a sweep runs")

	n, err := s.EvictOlderThan(ctx, DefaultMaxAge)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, hit, err = s.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, hit)

	members, err := mr.ZMembers("mcq:answers:by_created")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, members)
}

func TestRedisStoreOverwriteRefreshesIndex(t *testing.T) {
	clock := newFakeClock()
	s, _ := newTestRedisStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "fp", mcq.A))
	clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, s.Put(ctx, "fp", mcq.D))

	n, err := s.EvictOlderThan(ctx, DefaultMaxAge)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, hit, err := s.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, mcq.D, got.Answer)
}

func TestRedisStoreCancelledContext(t *testing.T) {
	s, _ := newTestRedisStore(t, newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Get(ctx, "fp")
	assert.Error(t, err)
	assert.Error(t, s.Put(ctx, "fp", mcq.A))
}
