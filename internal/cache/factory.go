package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Config selects the store backend. Eviction timing belongs to Janitor.
type Config struct {
	Backend string // "memory", "redis" or "mongo"
	Prefix  string
}

// Backends holds the already-connected clients a store may be built on.
// Only the one matching Config.Backend needs to be set.
type Backends struct {
	Redis *redis.Client
	Mongo *mongo.Collection
}

func NewStore(ctx context.Context, cfg Config, b Backends) (Store, error) {
	switch cfg.Backend {
	case "redis":
		if b.Redis == nil {
			return nil, fmt.Errorf("cache: redis backend selected without a client")
		}
		return NewRedisStore(b.Redis, RedisConfig{Prefix: cfg.Prefix}), nil
	case "mongo":
		if b.Mongo == nil {
			return nil, fmt.Errorf("cache: mongo backend selected without a collection")
		}
		return NewMongoStore(ctx, b.Mongo)
	case "", "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
