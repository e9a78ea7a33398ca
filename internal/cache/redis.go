package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mcq-autopilot/internal/mcq"
)

// RedisStore implements Store using Redis. Each answer is a hash
// <prefix>:answer:<fingerprint> with fields answer and created_at (epoch ms);
// a sorted set <prefix>:answers:by_created indexes fingerprints by created_at
// so a sweep does not need to SCAN the keyspace.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type RedisConfig struct {
	Prefix string
	Now    func() time.Time
}

// evictScript deletes every indexed answer created before ARGV[1] and
// returns how many were removed. It runs atomically, so a Put racing with
// the sweep either lands before (and is evicted only if still old) or after.
var evictScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, fp in ipairs(ids) do
	redis.call('DEL', ARGV[2] .. fp)
	redis.call('ZREM', KEYS[1], fp)
end
return #ids
`)

// NewRedisStore creates a Redis-backed answer store.
func NewRedisStore(client *redis.Client, config RedisConfig) *RedisStore {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		now:    now,
	}
}

func (s *RedisStore) key(parts ...string) string {
	k := strings.Join(parts, ":")
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) answerKey(fp Fingerprint) string { return s.key("answer", string(fp)) }

func (s *RedisStore) indexKey() string { return s.key("answers", "by_created") }

// Get retrieves an answer from Redis.
// On Redis error, it returns (zero, false, err) so the caller can log and treat it as a miss.
func (s *RedisStore) Get(ctx context.Context, fp Fingerprint) (CachedAnswer, bool, error) {
	if err := ctx.Err(); err != nil {
		return CachedAnswer{}, false, fmt.Errorf("context error: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, s.answerKey(fp)).Result()
	if err != nil {
		return CachedAnswer{}, false, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return CachedAnswer{}, false, nil
	}

	answer, err := mcq.ParseLetter(fields["answer"])
	if err != nil {
		return CachedAnswer{}, false, fmt.Errorf("redis entry %s: %w", fp, err)
	}
	ms, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return CachedAnswer{}, false, fmt.Errorf("redis entry %s: bad created_at: %w", fp, err)
	}

	return CachedAnswer{
		Fingerprint: fp,
		Answer:      answer,
		CreatedAt:   time.UnixMilli(ms),
	}, true, nil
}

// Put upserts the answer and its index entry in one transaction.
func (s *RedisStore) Put(ctx context.Context, fp Fingerprint, answer mcq.Letter) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if !answer.Valid() {
		return ErrInvalidAnswer
	}

	createdAt := s.now().UnixMilli()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.answerKey(fp),
			"answer", string(answer),
			"created_at", createdAt,
		)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(createdAt), Member: string(fp)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put failed: %w", err)
	}
	return nil
}

// EvictOlderThan removes every answer whose age exceeds maxAge.
func (s *RedisStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error: %w", err)
	}

	cutoff := s.now().Add(-maxAge).UnixMilli()
	n, err := evictScript.Run(ctx, s.client,
		[]string{s.indexKey()},
		cutoff, s.key("answer", ""),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis evict failed: %w", err)
	}
	return n, nil
}

// Ping checks if Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Ping(ctx).Err()
}
