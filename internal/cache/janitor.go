package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Janitor sweeps a Store on a fixed interval. Lookups never evict, so this is
// the only place stale answers disappear.
type Janitor struct {
	store    Store
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewJanitor creates a sweeper. Non-positive maxAge falls back to
// DefaultMaxAge and non-positive interval to one hour.
func NewJanitor(store Store, maxAge, interval time.Duration, logger *zap.Logger) *Janitor {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger.Named("cache_janitor"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Sweep runs one eviction pass.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := j.store.EvictOlderThan(ctx, j.maxAge)
	if err != nil {
		j.logger.Error("cache_sweep_failed", zap.Error(err))
		return 0, err
	}
	j.logger.Info("cache_sweep",
		zap.Int("evicted", n),
		zap.Duration("max_age", j.maxAge),
		zap.Duration("latency", time.Since(start)),
	)
	return n, nil
}

// Start sweeps once immediately, then every interval until ctx is done or
// Close is called.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		defer close(j.done)

		_, _ = j.Sweep(ctx)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_, _ = j.Sweep(ctx)
			case <-ctx.Done():
				return
			case <-j.stop:
				return
			}
		}
	}()
}

// Close stops the sweep loop and waits for it to exit. Call this on shutdown
// or in tests; it must only be called after Start.
func (j *Janitor) Close() error {
	j.stopOnce.Do(func() {
		close(j.stop)
	})
	<-j.done
	return nil
}
