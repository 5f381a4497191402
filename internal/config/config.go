package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Engine       EngineConfig       `yaml:"engine" mapstructure:"engine"`
	Queue        QueueConfig        `yaml:"queue" mapstructure:"queue"`
	ShadowReplay ShadowReplayConfig `yaml:"shadow_replay" mapstructure:"shadow_replay"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Invariants   InvariantsConfig   `yaml:"invariants" mapstructure:"invariants"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds Postgres pool tuning. Zero values use the store defaults.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EngineConfig selects where the automation engine reads temporal series
// from and whether it runs in replay mode.
type EngineConfig struct {
	SeriesSource string `yaml:"series_source" mapstructure:"series_source"`
	FixturePath  string `yaml:"fixture_path" mapstructure:"fixture_path"`
	ReplayMode   bool   `yaml:"replay_mode" mapstructure:"replay_mode"`
}

// QueueConfig configures admission control and backpressure.
type QueueConfig struct {
	RedisURL              string         `yaml:"redis_url" mapstructure:"redis_url"`
	BackpressureEnabled   bool           `yaml:"backpressure_enabled" mapstructure:"backpressure_enabled"`
	BackpressureThreshold int64          `yaml:"backpressure_threshold" mapstructure:"backpressure_threshold"`
	TargetWaitSecs        float64        `yaml:"target_wait_secs" mapstructure:"target_wait_secs"`
	CriticalQueues        []string       `yaml:"critical_queues" mapstructure:"critical_queues"`
	CriticalLagSecs       float64        `yaml:"critical_lag_secs" mapstructure:"critical_lag_secs"`
	TenantWeights         map[string]int `yaml:"tenant_weights" mapstructure:"tenant_weights"`
	BucketCapacity        int            `yaml:"bucket_capacity" mapstructure:"bucket_capacity"`
	BucketRefillPerSec    float64        `yaml:"bucket_refill_per_sec" mapstructure:"bucket_refill_per_sec"`
}

// ShadowReplayConfig configures live shadow replay sampling.
type ShadowReplayConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	BackpressureDisable bool    `yaml:"backpressure_disable" mapstructure:"backpressure_disable"`
	MaxConcurrency      int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	SampleRatePercent   float64 `yaml:"sample_rate_percent" mapstructure:"sample_rate_percent"`
	MaxPerSecond        float64 `yaml:"max_per_second" mapstructure:"max_per_second"`
}

// MonitoringConfig configures the alert checker.
type MonitoringConfig struct {
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ReplayFailureRateThreshold float64 `yaml:"replay_failure_rate_threshold" mapstructure:"replay_failure_rate_threshold"`
	MinReplayRuns              int     `yaml:"min_replay_runs" mapstructure:"min_replay_runs"`
	CheckIntervalSecs          int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	AlertCooldownSecs          int     `yaml:"alert_cooldown_secs" mapstructure:"alert_cooldown_secs"`
}

// InvariantsConfig configures startup invariant checks.
type InvariantsConfig struct {
	ExpectedSchema  string `yaml:"expected_schema" mapstructure:"expected_schema"`
	CodeFingerprint string `yaml:"code_fingerprint" mapstructure:"code_fingerprint"`
	Skip            bool   `yaml:"skip" mapstructure:"skip"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STRATEGY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "strategy.db")
	v.SetDefault("store.pool.max_conns", 0)
	v.SetDefault("store.pool.min_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.series_source", "store")
	v.SetDefault("engine.fixture_path", "")
	v.SetDefault("engine.replay_mode", false)
	v.SetDefault("queue.redis_url", "")
	v.SetDefault("queue.backpressure_enabled", true)
	v.SetDefault("queue.backpressure_threshold", 1000)
	v.SetDefault("queue.target_wait_secs", 30.0)
	v.SetDefault("queue.critical_queues", []string{"crawl_queue", "content_queue"})
	v.SetDefault("queue.critical_lag_secs", 120.0)
	v.SetDefault("queue.bucket_capacity", 10)
	v.SetDefault("queue.bucket_refill_per_sec", 1.0)
	v.SetDefault("shadow_replay.enabled", true)
	v.SetDefault("shadow_replay.backpressure_disable", true)
	v.SetDefault("shadow_replay.max_concurrency", 4)
	v.SetDefault("shadow_replay.sample_rate_percent", 5.0)
	v.SetDefault("shadow_replay.max_per_second", 2.0)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.replay_failure_rate_threshold", 0.05)
	v.SetDefault("monitoring.min_replay_runs", 20)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.alert_cooldown_secs", 3600)
	v.SetDefault("invariants.expected_schema", "")
	v.SetDefault("invariants.code_fingerprint", "dev")
	v.SetDefault("invariants.skip", false)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on and reports every
// violation at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "strategy":
		if c.Engine.SeriesSource == "fixture" && c.Engine.FixturePath == "" {
			errs = append(errs, "engine.fixture_path is required when engine.series_source is fixture")
		}
	case "automation":
		errs = append(errs, c.validateStore()...)
		switch c.Engine.SeriesSource {
		case "store":
		case "fixture":
			if c.Engine.FixturePath == "" {
				errs = append(errs, "engine.fixture_path is required when engine.series_source is fixture")
			}
		default:
			errs = append(errs, fmt.Sprintf("engine.series_source must be store or fixture, got %q", c.Engine.SeriesSource))
		}
	case "replay":
		s := c.ShadowReplay
		if s.SampleRatePercent < 0 || s.SampleRatePercent > 100 {
			errs = append(errs, "shadow_replay.sample_rate_percent must be between 0 and 100")
		}
		if s.MaxConcurrency < 1 || s.MaxConcurrency > 64 {
			errs = append(errs, "shadow_replay.max_concurrency must be between 1 and 64")
		}
		if s.MaxPerSecond < 0 {
			errs = append(errs, "shadow_replay.max_per_second must be >= 0")
		}
		errs = append(errs, c.validateMonitoring()...)
	case "queue":
		q := c.Queue
		if q.BackpressureEnabled && q.RedisURL == "" {
			errs = append(errs, "queue.redis_url is required when backpressure is enabled")
		}
		if q.BackpressureThreshold <= 0 {
			errs = append(errs, "queue.backpressure_threshold must be > 0")
		}
		if q.TargetWaitSecs <= 0 {
			errs = append(errs, "queue.target_wait_secs must be > 0")
		}
		if q.CriticalLagSecs <= 0 {
			errs = append(errs, "queue.critical_lag_secs must be > 0")
		}
		if q.BucketCapacity <= 0 {
			errs = append(errs, "queue.bucket_capacity must be > 0")
		}
		if q.BucketRefillPerSec < 0 {
			errs = append(errs, "queue.bucket_refill_per_sec must be >= 0")
		}
		for tenant, w := range q.TenantWeights {
			if w <= 0 {
				errs = append(errs, fmt.Sprintf("queue.tenant_weights.%s must be > 0", tenant))
			}
		}
	case "invariants":
		errs = append(errs, c.validateStore()...)
		if c.Store.Driver != "postgres" {
			errs = append(errs, "invariants require store.driver postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.Pool.MinConns > c.Store.Pool.MaxConns && c.Store.Pool.MaxConns > 0 {
		errs = append(errs, "store.pool.min_conns must be <= store.pool.max_conns")
	}
	return errs
}

func (c *Config) validateMonitoring() []string {
	var errs []string
	m := c.Monitoring
	if m.ReplayFailureRateThreshold < 0 || m.ReplayFailureRateThreshold > 1 {
		errs = append(errs, "monitoring.replay_failure_rate_threshold must be between 0 and 1")
	}
	if m.MinReplayRuns < 0 {
		errs = append(errs, "monitoring.min_replay_runs must be >= 0")
	}
	if m.AlertCooldownSecs < 0 {
		errs = append(errs, "monitoring.alert_cooldown_secs must be >= 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
