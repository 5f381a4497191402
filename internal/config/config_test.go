package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "strategy.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "store", cfg.Engine.SeriesSource)
	assert.False(t, cfg.Engine.ReplayMode)
	assert.True(t, cfg.Queue.BackpressureEnabled)
	assert.Equal(t, int64(1000), cfg.Queue.BackpressureThreshold)
	assert.InDelta(t, 30.0, cfg.Queue.TargetWaitSecs, 0.001)
	assert.Equal(t, []string{"crawl_queue", "content_queue"}, cfg.Queue.CriticalQueues)
	assert.InDelta(t, 120.0, cfg.Queue.CriticalLagSecs, 0.001)
	assert.Equal(t, 10, cfg.Queue.BucketCapacity)
	assert.True(t, cfg.ShadowReplay.Enabled)
	assert.True(t, cfg.ShadowReplay.BackpressureDisable)
	assert.Equal(t, 4, cfg.ShadowReplay.MaxConcurrency)
	assert.InDelta(t, 5.0, cfg.ShadowReplay.SampleRatePercent, 0.001)
	assert.InDelta(t, 0.05, cfg.Monitoring.ReplayFailureRateThreshold, 0.0001)
	assert.Equal(t, 20, cfg.Monitoring.MinReplayRuns)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 3600, cfg.Monitoring.AlertCooldownSecs)
	assert.Equal(t, "dev", cfg.Invariants.CodeFingerprint)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/strategy
  pool:
    max_conns: 20
log:
  level: debug
  format: console
queue:
  redis_url: redis://localhost:6379/0
  tenant_weights:
    acme: 3
    globex: 1
shadow_replay:
  sample_rate_percent: 12.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(20), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Queue.RedisURL)
	assert.Equal(t, map[string]int{"acme": 3, "globex": 1}, cfg.Queue.TenantWeights)
	assert.InDelta(t, 12.5, cfg.ShadowReplay.SampleRatePercent, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.ShadowReplay.MaxConcurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("STRATEGY_STORE_DRIVER", "postgres")
	t.Setenv("STRATEGY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("STRATEGY_SHADOW_REPLAY_MAX_CONCURRENCY", "9")
	t.Setenv("STRATEGY_ENGINE_REPLAY_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.ShadowReplay.MaxConcurrency)
	assert.True(t, cfg.Engine.ReplayMode)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "strategy.db"
	cfg.Engine.SeriesSource = "store"
	cfg.Queue.RedisURL = "redis://localhost:6379/0"
	cfg.Queue.BackpressureEnabled = true
	cfg.Queue.BackpressureThreshold = 1000
	cfg.Queue.TargetWaitSecs = 30
	cfg.Queue.CriticalLagSecs = 120
	cfg.Queue.BucketCapacity = 10
	cfg.Queue.BucketRefillPerSec = 1
	cfg.ShadowReplay.MaxConcurrency = 4
	cfg.ShadowReplay.SampleRatePercent = 5
	cfg.Monitoring.ReplayFailureRateThreshold = 0.05
	return cfg
}

func TestValidateAllModesPass(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"strategy", "automation", "replay", "queue"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateAutomation_MissingStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("automation")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateAutomation_FixtureNeedsPath(t *testing.T) {
	cfg := validDefaults()
	cfg.Engine.SeriesSource = "fixture"

	err := cfg.Validate("automation")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.fixture_path is required")

	cfg.Engine.FixturePath = "series.json"
	assert.NoError(t, cfg.Validate("automation"))
}

func TestValidateAutomation_UnknownSeriesSource(t *testing.T) {
	cfg := validDefaults()
	cfg.Engine.SeriesSource = "s3"

	err := cfg.Validate("automation")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.series_source must be store or fixture")
}

func TestValidateReplayBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.ShadowReplay.SampleRatePercent = 101
	cfg.ShadowReplay.MaxConcurrency = 0
	cfg.Monitoring.ReplayFailureRateThreshold = 1.5
	cfg.Monitoring.AlertCooldownSecs = -1
	err := cfg.Validate("replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_rate_percent must be between 0 and 100")
	assert.Contains(t, err.Error(), "max_concurrency must be between 1 and 64")
	assert.Contains(t, err.Error(), "replay_failure_rate_threshold must be between 0 and 1")
	assert.Contains(t, err.Error(), "alert_cooldown_secs must be >= 0")

	cfg.Monitoring.AlertCooldownSecs = 0
	cfg.ShadowReplay.SampleRatePercent = 100
	cfg.ShadowReplay.MaxConcurrency = 64
	cfg.Monitoring.ReplayFailureRateThreshold = 1
	assert.NoError(t, cfg.Validate("replay"))
}

func TestValidateQueue(t *testing.T) {
	cfg := validDefaults()
	cfg.Queue.RedisURL = ""
	cfg.Queue.TargetWaitSecs = 0
	cfg.Queue.BucketCapacity = 0
	cfg.Queue.TenantWeights = map[string]int{"acme": 0}

	err := cfg.Validate("queue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.redis_url is required")
	assert.Contains(t, err.Error(), "queue.target_wait_secs must be > 0")
	assert.Contains(t, err.Error(), "queue.bucket_capacity must be > 0")
	assert.Contains(t, err.Error(), "queue.tenant_weights.acme must be > 0")
}

func TestValidateQueue_NoRedisWithoutBackpressure(t *testing.T) {
	cfg := validDefaults()
	cfg.Queue.RedisURL = ""
	cfg.Queue.BackpressureEnabled = false

	assert.NoError(t, cfg.Validate("queue"))
}

func TestValidateInvariants_RequiresPostgres(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("invariants")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invariants require store.driver postgres")

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/strategy"
	assert.NoError(t, cfg.Validate("invariants"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
