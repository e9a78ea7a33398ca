package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcq-autopilot/internal/device"
	"mcq-autopilot/internal/mcq"
	"mcq-autopilot/internal/pipeline"
)

var envKeys = []string{
	"PORT", "CACHE_BACKEND", "REDIS_ADDR", "MONGO_URI", "LLM_BASE_URL",
	"LLM_API_KEY", "LLM_MODEL", "ADB_PATH", "ADB_SERIAL", "LLM_STREAM",
	"USE_COORDINATE_TAPPING",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_API_KEY", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, 10*time.Second, cfg.LLM.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.LLM.UpstreamTimeout)
	assert.Zero(t, cfg.LLM.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, device.DefaultRegion, cfg.Device.Region)
	require.NotNil(t, cfg.Device.Preprocess)
	assert.Equal(t, 1.5, cfg.Device.Preprocess.Contrast)
	assert.False(t, cfg.Device.UseCoordinateTapping)
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: "9090"
cache:
  backend: Redis
  max_age: 48h
  sweep_interval: 10m
llm:
  api_key: from-file
  model: file-model
  stream: true
resolver:
  timeout: 5s
device:
  serial: emulator-5554
  region: {x: 0, y: 0.5, width: 1, height: 0.5}
  use_coordinate_tapping: true
  tap_points:
    a: {x: 100, y: 1200}
    B: {x: 100, y: 1400}
`)
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("USE_COORDINATE_TAPPING", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 48*time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, 10*time.Minute, cfg.Cache.SweepInterval)
	assert.Equal(t, "from-file", cfg.LLM.APIKey)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.True(t, cfg.LLM.Stream)
	assert.Equal(t, 5*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, "emulator-5554", cfg.Device.Serial)
	assert.Equal(t, device.Region{X: 0, Y: 0.5, Width: 1, Height: 0.5}, cfg.Device.Region)

	dc, err := cfg.DispatchConfig()
	require.NoError(t, err)
	assert.False(t, dc.UseCoordinateTapping)
	assert.Equal(t, map[mcq.Letter]pipeline.Point{
		mcq.A: {X: 100, Y: 1200},
		mcq.B: {X: 100, Y: 1400},
	}, dc.TapPoints)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "missing api key", yaml: "cache: {backend: memory}"},
		{name: "unknown backend", yaml: "cache: {backend: etcd}\nllm: {api_key: k}"},
		{name: "region outside screen", yaml: "llm: {api_key: k}\ndevice: {region: {x: 0.5, y: 0, width: 0.8, height: 1}}"},
		{name: "bad tap letter", yaml: "llm: {api_key: k}\ndevice: {tap_points: {E: {x: 1, y: 1}}}"},
		{name: "bad bool", yaml: "llm: {api_key: k}", env: map[string]string{"LLM_STREAM": "maybe"}},
		{name: "bad yaml", yaml: "server: [port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
