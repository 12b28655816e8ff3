// Package config provides structures and utilities for managing the
// ingestion engine's configuration: defaults, the embedded YAML overlay, and
// environment-variable overrides.
package config

import (
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// EmbeddedConfig holds the content of the configuration file, typically
// passed from main.go via go:embed.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds"`
}

// DatabaseConfig holds the metadata store connection settings.
type DatabaseConfig struct {
	// Driver selects the GORM dialector: "sqlite", "postgres" or "mysql".
	Driver string `yaml:"driver"`
	// DSN is the driver-specific data source name.
	DSN string `yaml:"dsn"`
	// MigrationsTable overrides golang-migrate's version table name.
	MigrationsTable string     `yaml:"migrations_table"`
	Pool            PoolConfig `yaml:"pool"`
}

// AdminConfig holds the admin HTTP surface settings.
type AdminConfig struct {
	// Addr is the listen address of the admin server (e.g., ":8093").
	Addr string `yaml:"addr"`
	// Enabled gates the admin server entirely.
	Enabled bool `yaml:"enabled"`
}

// BreakerConfig holds circuit breaker tunables for one job kind.
type BreakerConfig struct {
	FailureThreshold       int     `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds int     `yaml:"recovery_timeout_seconds"`
	MaxBackoffMultiplier   int     `yaml:"max_backoff_multiplier"`
	ErrorRateThreshold     float64 `yaml:"error_rate_threshold"`
	ErrorRateWindow        int     `yaml:"error_rate_window"`
}

// BreakersConfig holds the default breaker tunables and per-job-kind overrides.
type BreakersConfig struct {
	Defaults BreakerConfig            `yaml:"defaults"`
	PerKind  map[string]BreakerConfig `yaml:"per_kind"`
}

// LimiterConfig holds token-bucket pacing for one external source.
type LimiterConfig struct {
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	Burst              int     `yaml:"burst"`
	WaitTimeoutSeconds int     `yaml:"wait_timeout_seconds"`
}

// LimitersConfig holds the default pacing and per-source overrides.
type LimitersConfig struct {
	Defaults  LimiterConfig            `yaml:"defaults"`
	PerSource map[string]LimiterConfig `yaml:"per_source"`
}

// RunnerConfig holds job runner behavior shared by all jobs.
type RunnerConfig struct {
	// StaleLeaseTimeoutSeconds is how silent a held lease may go before a new
	// acquire may steal it.
	StaleLeaseTimeoutSeconds int `yaml:"stale_lease_timeout_seconds"`
	// PageSize is the default page size requested from source adapters.
	PageSize int `yaml:"page_size"`
	// RetryableErrors lists error type names treated as transient by the
	// breaker in addition to PipelineError flags.
	RetryableErrors []string `yaml:"retryable_errors"`
}

// JobConfig declares one scheduled ingestion job.
type JobConfig struct {
	// Name is the unique job name owning one checkpoint row.
	Name string `yaml:"name"`
	// Kind is the pipeline kind (e.g., "pricing", "bibliographic", "lore").
	Kind string `yaml:"kind"`
	// Source is the source adapter name the job pulls from.
	Source string `yaml:"source"`
	// Schedule is the cron expression of the job's invocations.
	Schedule string `yaml:"schedule"`
}

// HealerConfig holds stall detector / self-healer tunables.
type HealerConfig struct {
	// SweepSchedule is the cron expression of the stall sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
	// FloorSeconds is the fixed lower bound of the stall threshold.
	FloorSeconds int `yaml:"floor_seconds"`
	// P95MinSamples is the minimum completed-batch history before the
	// adaptive p95 threshold is trusted; below it the floor applies.
	P95MinSamples int `yaml:"p95_min_samples"`
	// P95HistoryLimit is how many recent completed batches feed the p95.
	P95HistoryLimit int `yaml:"p95_history_limit"`
	// MaxSelfHealAttempts bounds heals per batch id before hard-failing it.
	MaxSelfHealAttempts int `yaml:"max_self_heal_attempts"`
	// StatsRefreshMinutes is how often the adaptive statistics are recomputed.
	StatsRefreshMinutes int `yaml:"stats_refresh_minutes"`
}

// DLQConfig holds dead letter queue tunables.
type DLQConfig struct {
	// SweepSchedule is the cron expression of the retry sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
	// MaxRetries is the default retry budget for new entries.
	MaxRetries int `yaml:"max_retries"`
	// InitialBackoffSeconds seeds the exponential retry schedule.
	InitialBackoffSeconds int `yaml:"initial_backoff_seconds"`
	// MaxBackoffSeconds caps the exponential retry schedule.
	MaxBackoffSeconds int `yaml:"max_backoff_seconds"`
	// ClaimBatchSize bounds entries claimed per sweep.
	ClaimBatchSize int `yaml:"claim_batch_size"`
}

// MergeConfig holds merge gate tunables.
type MergeConfig struct {
	// ConfidenceThreshold is the minimum confidence for an automatic merge.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// FuzzyMatchThreshold is the score above which a candidate is treated as
	// a fuzzy duplicate and quarantined.
	FuzzyMatchThreshold float64 `yaml:"fuzzy_match_threshold"`
	// SourceTrust maps source name to its trust weight in [0,1].
	SourceTrust map[string]float64 `yaml:"source_trust"`
}

// RetentionTableConfig holds the retention window of one telemetry table.
type RetentionTableConfig struct {
	DaysToKeep int  `yaml:"days_to_keep"`
	Archive    bool `yaml:"archive"`
}

// ArchiveConfig holds the pre-purge parquet archive settings.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`
	// BaseDir is the base directory of the local archive storage.
	BaseDir string `yaml:"base_dir"`
	// Compression is the parquet compression codec ("SNAPPY", "GZIP", "NONE").
	Compression string `yaml:"compression"`
}

// RetentionConfig holds retention sweep tunables.
type RetentionConfig struct {
	// SweepSchedule is the cron expression of the retention sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
	// Operator is recorded on every purge proof written by the sweep.
	Operator string                          `yaml:"operator"`
	Archive  ArchiveConfig                   `yaml:"archive"`
	Tables   map[string]RetentionTableConfig `yaml:"tables"`
}

// IngestConfig holds all configuration under the "ingest" top-level key.
type IngestConfig struct {
	System    SystemConfig    `yaml:"system"`
	Database  DatabaseConfig  `yaml:"database"`
	Admin     AdminConfig     `yaml:"admin"`
	Runner    RunnerConfig    `yaml:"runner"`
	Jobs      []JobConfig     `yaml:"jobs"`
	Breakers  BreakersConfig  `yaml:"breakers"`
	Limiters  LimitersConfig  `yaml:"limiters"`
	Healer    HealerConfig    `yaml:"healer"`
	DLQ       DLQConfig       `yaml:"dlq"`
	Merge     MergeConfig     `yaml:"merge"`
	Retention RetentionConfig `yaml:"retention"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Ingest IngestConfig `yaml:"ingest"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Ingest: IngestConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Database: DatabaseConfig{
				Driver:          "sqlite",
				DSN:             "ingest_meta.db",
				MigrationsTable: "ingest_schema_migrations",
				Pool: PoolConfig{
					MaxOpenConns:           10,
					MaxIdleConns:           5,
					ConnMaxLifetimeSeconds: 1800,
				},
			},
			Admin: AdminConfig{
				Addr:    ":8093",
				Enabled: true,
			},
			Runner: RunnerConfig{
				StaleLeaseTimeoutSeconds: 900,
				PageSize:                 100,
				RetryableErrors: []string{
					"context.DeadlineExceeded",
					"net.OpError",
				},
			},
			Breakers: BreakersConfig{
				Defaults: BreakerConfig{
					FailureThreshold:       5,
					RecoveryTimeoutSeconds: 60,
					MaxBackoffMultiplier:   16,
					ErrorRateWindow:        20,
				},
			},
			Limiters: LimitersConfig{
				Defaults: LimiterConfig{
					RequestsPerSecond:  2,
					Burst:              4,
					WaitTimeoutSeconds: 30,
				},
			},
			Healer: HealerConfig{
				SweepSchedule:       "*/2 * * * *",
				FloorSeconds:        600,
				P95MinSamples:       10,
				P95HistoryLimit:     50,
				MaxSelfHealAttempts: 3,
				StatsRefreshMinutes: 15,
			},
			DLQ: DLQConfig{
				SweepSchedule:         "*/5 * * * *",
				MaxRetries:            5,
				InitialBackoffSeconds: 60,
				MaxBackoffSeconds:     3600,
				ClaimBatchSize:        20,
			},
			Merge: MergeConfig{
				ConfidenceThreshold: 0.85,
				FuzzyMatchThreshold: 0.6,
				SourceTrust:         map[string]float64{},
			},
			Retention: RetentionConfig{
				SweepSchedule: "30 3 * * *",
				Operator:      "retention-sweeper",
				Archive: ArchiveConfig{
					BaseDir:     "archive",
					Compression: "SNAPPY",
				},
				Tables: map[string]RetentionTableConfig{},
			},
		},
	}
}

// BreakerSettingsFor resolves the breaker settings of a job kind: the
// per-kind override when present, otherwise the defaults.
func (c *Config) BreakerSettingsFor(kind string) model.BreakerSettings {
	bc := c.Ingest.Breakers.Defaults
	if override, ok := c.Ingest.Breakers.PerKind[kind]; ok {
		if override.FailureThreshold > 0 {
			bc.FailureThreshold = override.FailureThreshold
		}
		if override.RecoveryTimeoutSeconds > 0 {
			bc.RecoveryTimeoutSeconds = override.RecoveryTimeoutSeconds
		}
		if override.MaxBackoffMultiplier > 0 {
			bc.MaxBackoffMultiplier = override.MaxBackoffMultiplier
		}
		if override.ErrorRateThreshold > 0 {
			bc.ErrorRateThreshold = override.ErrorRateThreshold
		}
		if override.ErrorRateWindow > 0 {
			bc.ErrorRateWindow = override.ErrorRateWindow
		}
	}
	settings := model.DefaultBreakerSettings()
	if bc.FailureThreshold > 0 {
		settings.FailureThreshold = bc.FailureThreshold
	}
	if bc.RecoveryTimeoutSeconds > 0 {
		settings.RecoveryTimeout = time.Duration(bc.RecoveryTimeoutSeconds) * time.Second
	}
	if bc.MaxBackoffMultiplier > 0 {
		settings.MaxBackoffMultiplier = bc.MaxBackoffMultiplier
	}
	settings.ErrorRateThreshold = bc.ErrorRateThreshold
	if bc.ErrorRateWindow > 0 {
		settings.ErrorRateWindow = bc.ErrorRateWindow
	}
	settings.RetryableErrors = c.Ingest.Runner.RetryableErrors
	return settings
}

// LimiterSettingsFor resolves the pacing of an external source: the
// per-source override when present, otherwise the defaults.
func (c *Config) LimiterSettingsFor(source string) LimiterConfig {
	lc := c.Ingest.Limiters.Defaults
	if override, ok := c.Ingest.Limiters.PerSource[source]; ok {
		if override.RequestsPerSecond > 0 {
			lc.RequestsPerSecond = override.RequestsPerSecond
		}
		if override.Burst > 0 {
			lc.Burst = override.Burst
		}
		if override.WaitTimeoutSeconds > 0 {
			lc.WaitTimeoutSeconds = override.WaitTimeoutSeconds
		}
	}
	return lc
}

// StaleLeaseTimeout returns the runner's stale lease timeout as a duration.
func (c *Config) StaleLeaseTimeout() time.Duration {
	return time.Duration(c.Ingest.Runner.StaleLeaseTimeoutSeconds) * time.Second
}
