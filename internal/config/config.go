package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"mcq-autopilot/internal/device"
	"mcq-autopilot/internal/mcq"
	"mcq-autopilot/internal/pipeline"
)

// PathEnv names the environment variable holding the YAML config path.
const PathEnv = "MCQ_CONFIG"

type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend"` // memory | redis | mongo
	Prefix        string        `yaml:"prefix"`
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type LLMConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	ChatPath        string        `yaml:"chat_path"`
	Model           string        `yaml:"model"`
	MaxTokens       int           `yaml:"max_tokens"`
	Stream          bool          `yaml:"stream"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
}

type ResolverConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type DeviceConfig struct {
	ADBPath              string                    `yaml:"adb_path"`
	Serial               string                    `yaml:"serial"`
	Region               device.Region             `yaml:"region"`
	Preprocess           *device.PreprocessOptions `yaml:"preprocess"`
	OCRLanguages         []string                  `yaml:"ocr_languages"`
	UseCoordinateTapping bool                      `yaml:"use_coordinate_tapping"`
	TapPoints            map[string]pipeline.Point `yaml:"tap_points"`
	UITreeMaxDepth       int                       `yaml:"ui_tree_max_depth"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongo"`
	LLM      LLMConfig      `yaml:"llm"`
	Resolver ResolverConfig `yaml:"resolver"`
	Device   DeviceConfig   `yaml:"device"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv is Load with the path taken from MCQ_CONFIG.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv(PathEnv))
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("PORT", &c.Server.Port)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("MONGO_URI", &c.Mongo.URI)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("LLM_MODEL", &c.LLM.Model)
	str("ADB_PATH", &c.Device.ADBPath)
	str("ADB_SERIAL", &c.Device.Serial)

	return errors.Join(
		boolean("LLM_STREAM", &c.LLM.Stream),
		boolean("USE_COORDINATE_TAPPING", &c.Device.UseCoordinateTapping),
	)
}

// WithDefaults returns a copy of Config with defaults applied.
func (c Config) WithDefaults() Config {
	cfg := c

	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 45 * time.Second
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = 512 * 1024
	}

	cfg.Cache.Backend = strings.ToLower(cfg.Cache.Backend)
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "mcq"
	}
	if cfg.Cache.MaxAge <= 0 {
		cfg.Cache.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.Cache.SweepInterval <= 0 {
		cfg.Cache.SweepInterval = time.Hour
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = "mongodb://127.0.0.1:27017"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "mcq"
	}
	if cfg.Mongo.Collection == "" {
		cfg.Mongo.Collection = "answers"
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if cfg.LLM.ChatPath == "" {
		cfg.LLM.ChatPath = "/chat/completions"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gemini-2.0-flash"
	}
	if cfg.LLM.ConnectTimeout <= 0 {
		cfg.LLM.ConnectTimeout = 10 * time.Second
	}
	if cfg.LLM.UpstreamTimeout <= 0 {
		cfg.LLM.UpstreamTimeout = 30 * time.Second
	}
	if cfg.LLM.MaxRetries < 0 {
		cfg.LLM.MaxRetries = 0
	}

	if cfg.Resolver.Timeout <= 0 {
		cfg.Resolver.Timeout = 30 * time.Second
	}

	if cfg.Device.ADBPath == "" {
		cfg.Device.ADBPath = "adb"
	}
	if cfg.Device.Region.IsZero() {
		cfg.Device.Region = device.DefaultRegion
	}
	if cfg.Device.Preprocess == nil {
		pre := device.DefaultPreprocess()
		cfg.Device.Preprocess = &pre
	}
	if len(cfg.Device.OCRLanguages) == 0 {
		cfg.Device.OCRLanguages = []string{"eng"}
	}
	if cfg.Device.UITreeMaxDepth <= 0 {
		cfg.Device.UITreeMaxDepth = device.DefaultMaxDepth
	}

	return cfg
}

// Validate checks the fields that have no usable default.
func (c Config) Validate() error {
	var errs []error

	switch c.Cache.Backend {
	case "memory", "redis", "mongo":
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of memory, redis, mongo", c.Cache.Backend))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key (LLM_API_KEY) is required"))
	}

	r := c.Device.Region
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 || r.X+r.Width > 1+1e-9 || r.Y+r.Height > 1+1e-9 {
		errs = append(errs, fmt.Errorf("device.region %+v must lie within the unit square", r))
	}
	if _, err := c.DispatchConfig(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DispatchConfig converts the device tap settings for the orchestrator.
func (c Config) DispatchConfig() (pipeline.DispatchConfig, error) {
	out := pipeline.DispatchConfig{
		UseCoordinateTapping: c.Device.UseCoordinateTapping,
		TapPoints:            make(map[mcq.Letter]pipeline.Point, len(c.Device.TapPoints)),
	}
	for key, p := range c.Device.TapPoints {
		l, err := mcq.ParseLetter(key)
		if err != nil {
			return pipeline.DispatchConfig{}, fmt.Errorf("device.tap_points: %w", err)
		}
		out.TapPoints[l] = p
	}
	return out, nil
}
