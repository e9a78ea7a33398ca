package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mcq-autopilot/internal/mcq"
)

func TestJanitorSweepsOnStart(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old", mcq.A))
	clock.Advance(DefaultMaxAge + time.Second)
	require.NoError(t, store.Put(ctx, "fresh", mcq.B))

	j := NewJanitor(NewLoggingStore(store, "memory"), 0, time.Hour, zaptest.NewLogger(t))
	j.Start(ctx)
	t.Cleanup(func() { _ = j.Close() })

	assert.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)

	_, hit, _ := store.Get(ctx, "fresh")
	assert.True(t, hit)
}

func TestJanitorSweepsOnInterval(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	j := NewJanitor(store, time.Minute, 10*time.Millisecond, zaptest.NewLogger(t))
	j.Start(ctx)
	t.Cleanup(func() { _ = j.Close() })

	require.NoError(t, store.Put(ctx, "k", mcq.C))
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestNewStoreBackends(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, Config{Backend: "memory"}, Backends{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(ctx, Config{Backend: "redis"}, Backends{})
	assert.Error(t, err)

	_, err = NewStore(ctx, Config{Backend: "etcd"}, Backends{})
	assert.Error(t, err)
}
