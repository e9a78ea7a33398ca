package cache

import (
	"context"
	"time"

	"mcq-autopilot/internal/mcq"
	"mcq-autopilot/internal/metrics"
	"mcq-autopilot/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner   Store
	backend string
}

// NewLoggingStore returns a store that logs and records metrics.
func NewLoggingStore(inner Store, backend string) Store {
	if backend == "" {
		backend = "memory"
	}
	return &LoggingStore{inner: inner, backend: backend}
}

func (s *LoggingStore) Get(ctx context.Context, fp Fingerprint) (CachedAnswer, bool, error) {
	start := time.Now()
	entry, ok, err := s.inner.Get(ctx, fp)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(result).Inc()

	fields := []zap.Field{
		zap.String("cache_backend", s.backend),
		zap.String("fingerprint", fp.String()),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}
	if ok {
		fields = append(fields,
			zap.String("answer", entry.Answer.String()),
			zap.Time("created_at", entry.CreatedAt),
		)
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("answer_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Info("answer_cache_get", fields...)
	}

	return entry, ok, err
}

func (s *LoggingStore) Put(ctx context.Context, fp Fingerprint, answer mcq.Letter) error {
	start := time.Now()
	err := s.inner.Put(ctx, fp, answer)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := []zap.Field{
		zap.String("cache_backend", s.backend),
		zap.String("fingerprint", fp.String()),
		zap.String("answer", answer.String()),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("answer_cache_put", append(fields, zap.Error(err))...)
	} else {
		logger.Info("answer_cache_put", fields...)
	}

	return err
}

func (s *LoggingStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := s.inner.EvictOlderThan(ctx, maxAge)
	if err == nil {
		metrics.CacheEvictionsTotal.Add(float64(n))
	}
	return n, err
}
