// Package app builds the long-lived services once at startup and tears them
// down in reverse order.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mcq-autopilot/internal/cache"
	"mcq-autopilot/internal/config"
	"mcq-autopilot/internal/device"
	"mcq-autopilot/internal/llm"
	"mcq-autopilot/internal/pipeline"
	"mcq-autopilot/internal/resolver"
)

// Services owns every dependency of the HTTP layer.
type Services struct {
	Config   config.Config
	Store    cache.Store
	Janitor  *cache.Janitor
	Resolver *resolver.Resolver
	Pipeline *pipeline.Orchestrator

	logger  *zap.Logger
	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option replaces a collaborator that would otherwise be built from config.
type Option func(*options)

type options struct {
	redis      *redis.Client
	inferer    resolver.Inferer
	capturer   pipeline.Capturer
	extractor  pipeline.Extractor
	dispatcher pipeline.Dispatcher
}

// WithRedisClient uses an existing client for the redis cache backend.
// Services does not close it.
func WithRedisClient(c *redis.Client) Option {
	return func(o *options) { o.redis = c }
}

func WithInferer(i resolver.Inferer) Option {
	return func(o *options) { o.inferer = i }
}

func WithCapturer(c pipeline.Capturer) Option {
	return func(o *options) { o.capturer = c }
}

// WithExtractor sets the OCR stage. Without it extraction fails at run time.
func WithExtractor(e pipeline.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

func WithDispatcher(d pipeline.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// New connects the cache backend, starts the eviction janitor and assembles
// the resolver and pipeline. On error everything built so far is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Services, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Services{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	// ----- Cache backend -----
	var backends cache.Backends
	switch cfg.Cache.Backend {
	case "redis":
		backends.Redis = o.redis
		if backends.Redis == nil {
			backends.Redis = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			s.onClose("redis", func(context.Context) error { return backends.Redis.Close() })
		}
		// Fail fast if Redis is misconfigured
		if err := backends.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("app: redis ping %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	case "mongo":
		client, coll, err := cache.ConnectMongo(ctx, cache.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		s.onClose("mongo", client.Disconnect)
		backends.Mongo = coll
		logger.Info("mongo connection established",
			zap.String("database", cfg.Mongo.Database),
			zap.String("collection", cfg.Mongo.Collection),
		)
	}

	store, err := cache.NewStore(ctx, cache.Config{
		Backend: cfg.Cache.Backend,
		Prefix:  cfg.Cache.Prefix,
	}, backends)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	s.Store = cache.NewLoggingStore(store, cfg.Cache.Backend)

	s.Janitor = cache.NewJanitor(s.Store, cfg.Cache.MaxAge, cfg.Cache.SweepInterval, logger)
	s.Janitor.Start(context.WithoutCancel(ctx))
	s.onClose("cache_janitor", func(context.Context) error { return s.Janitor.Close() })

	// ----- Inference -----
	inferer := o.inferer
	if inferer == nil {
		client, err := llm.NewClient(llm.Config{
			BaseURL:         cfg.LLM.BaseURL,
			APIKey:          cfg.LLM.APIKey,
			ChatPath:        cfg.LLM.ChatPath,
			ConnectTimeout:  cfg.LLM.ConnectTimeout,
			UpstreamTimeout: cfg.LLM.UpstreamTimeout,
			MaxRetries:      cfg.LLM.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if c, ok := client.(interface{ Close() error }); ok {
			s.onClose("llm", func(context.Context) error { return c.Close() })
		}
		inferer = llm.NewCompleter(client, llm.CompleterConfig{
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Stream:    cfg.LLM.Stream,
		})
	}
	s.Resolver = resolver.New(s.Store, inferer, resolver.WithTimeout(cfg.Resolver.Timeout))

	// ----- Device bridge -----
	adb := device.NewADB(cfg.Device.ADBPath, cfg.Device.Serial)
	capturer := o.capturer
	if capturer == nil {
		capturer = device.NewADBCapturer(adb, cfg.Device.Region, cfg.Device.Preprocess)
	}
	dispatcher := o.dispatcher
	if dispatcher == nil {
		dispatcher = device.NewADBDispatcher(adb, cfg.Device.UITreeMaxDepth)
	}

	// ----- Pipeline -----
	dispatchCfg, err := cfg.DispatchConfig()
	if err != nil {
		return nil, err
	}
	s.Pipeline = pipeline.New(capturer, o.extractor, s.Resolver, dispatcher, dispatchCfg,
		pipeline.WithStatusSink(func(st pipeline.Status) {
			logger.Info("status_changed", zap.String("status", string(st)))
		}),
	)
	s.onClose("pipeline", func(ctx context.Context) error { return waitCtx(ctx, s.Pipeline.Wait) })

	return s, nil
}

func (s *Services) onClose(name string, fn func(context.Context) error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Close releases resources in reverse construction order. It is safe to
// call more than once.
func (s *Services) Close(ctx context.Context) error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.fn(ctx); err != nil {
			s.logger.Error("close failed", zap.String("service", c.name), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("app: close %s: %w", c.name, err)
			}
		}
	}
	s.closers = nil
	return firstErr
}

func waitCtx(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
