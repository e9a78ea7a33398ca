package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"mcq-autopilot/internal/mcq"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	fp := Fingerprint("abc")

	if err := s.Put(ctx, fp, mcq.B); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, hit, err := s.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit immediately after Put")
	}
	if got.Answer != mcq.B {
		t.Fatalf("expected answer B, got %q", got.Answer)
	}
	if got.Fingerprint != fp {
		t.Fatalf("expected fingerprint %q, got %q", fp, got.Fingerprint)
	}
}

func TestMemoryStorePutOverwritesWithFreshTimestamp(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	if err := s.Put(ctx, "k", mcq.A); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	first, _, _ := s.Get(ctx, "k")

	clock.Advance(time.Hour)
	if err := s.Put(ctx, "k", mcq.D); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, hit, _ := s.Get(ctx, "k")
	if !hit || got.Answer != mcq.D {
		t.Fatalf("expected overwritten answer D, got %#v", got)
	}
	if !got.CreatedAt.After(first.CreatedAt) {
		t.Fatalf("expected fresh timestamp, got %v (first %v)", got.CreatedAt, first.CreatedAt)
	}
	if s.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", s.Len())
	}
}

func TestMemoryStoreRejectsInvalidAnswer(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Put(context.Background(), "k", mcq.Letter("E")); err != ErrInvalidAnswer {
		t.Fatalf("expected ErrInvalidAnswer, got %v", err)
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	if err := s.Put(ctx, "old", mcq.C); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	clock.Advance(DefaultMaxAge + time.Minute)
	if err := s.Put(ctx, "fresh", mcq.A); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Lookups never sweep: the stale entry is still visible.
	if _, hit, _ := s.Get(ctx, "old"); !hit {
		t.Fatalf("expected stale entry to be present before eviction")
	}

	n, err := s.EvictOlderThan(ctx, DefaultMaxAge)
	if err != nil {
		t.Fatalf("EvictOlderThan failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}

	if _, hit, _ := s.Get(ctx, "old"); hit {
		t.Fatalf("expected stale entry to be gone after eviction")
	}
	if _, hit, _ := s.Get(ctx, "fresh"); !hit {
		t.Fatalf("expected fresh entry to survive eviction")
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := range 200 {
				fp := Fingerprint(string(rune('a' + (i+j)%8)))
				_ = s.Put(ctx, fp, mcq.Letters[j%4])
				_, _, _ = s.Get(ctx, fp)
				if j%50 == 0 {
					_, _ = s.EvictOlderThan(ctx, time.Hour)
				}
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 8 {
		t.Fatalf("expected 8 keys, got %d", s.Len())
	}
}
