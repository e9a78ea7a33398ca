package cache

import (
	"context"
	"sync"
	"time"

	"mcq-autopilot/internal/mcq"
)

type MemoryStore struct {
	mu    sync.RWMutex
	items map[Fingerprint]CachedAnswer
	now   func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used to stamp entries and compute ages.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an in-process answer store. Entries do not survive
// a restart.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items: make(map[Fingerprint]CachedAnswer),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, fp Fingerprint) (CachedAnswer, bool, error) {
	s.mu.RLock()
	entry, ok := s.items[fp]
	s.mu.RUnlock()
	return entry, ok, nil
}

// Put overwrites any entry for fp with a fresh timestamp.
func (s *MemoryStore) Put(ctx context.Context, fp Fingerprint, answer mcq.Letter) error {
	if !answer.Valid() {
		return ErrInvalidAnswer
	}

	entry := CachedAnswer{
		Fingerprint: fp,
		Answer:      answer,
		CreatedAt:   s.now(),
	}

	s.mu.Lock()
	s.items[fp] = entry
	s.mu.Unlock()

	return nil
}

// EvictOlderThan removes every entry whose age exceeds maxAge.
func (s *MemoryStore) EvictOlderThan(_ context.Context, maxAge time.Duration) (int, error) {
	now := s.now()
	removed := 0

	s.mu.Lock()
	for k, v := range s.items {
		if v.Age(now) > maxAge {
			delete(s.items, k)
			removed++
		}
	}
	s.mu.Unlock()

	return removed, nil
}

// Len returns the number of entries currently stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear removes all entries. Useful for tests or manual resets.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.items = make(map[Fingerprint]CachedAnswer)
	s.mu.Unlock()
}
