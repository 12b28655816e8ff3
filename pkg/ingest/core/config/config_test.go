package config_test

import (
	"testing"
	"time"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"

	"github.com/stretchr/testify/assert"
)

const testYAML = `
ingest:
  system:
    logging:
      level: DEBUG
  database:
    driver: sqlite
    dsn: "file::memory:"
  jobs:
    - name: pricebook-full-pull
      kind: pricing
      source: pricebook
      schedule: "*/10 * * * *"
  breakers:
    defaults:
      failure_threshold: 7
    per_kind:
      pricing:
        failure_threshold: 2
        recovery_timeout_seconds: 120
  limiters:
    per_source:
      pricebook:
        requests_per_second: 0.5
        burst: 1
  merge:
    source_trust:
      pricebook: 0.7
      loreweb: 0.4
  retention:
    tables:
      ingest_batch_metrics:
        days_to_keep: 90
        archive: true
`

func TestLoadConfig_OverlaysEmbeddedYAML(t *testing.T) {
	cfg, err := config.LoadConfig("", config.EmbeddedConfig(testYAML))
	assert.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Ingest.System.Logging.Level)
	assert.Equal(t, "file::memory:", cfg.Ingest.Database.DSN)
	if assert.Len(t, cfg.Ingest.Jobs, 1) {
		assert.Equal(t, "pricebook-full-pull", cfg.Ingest.Jobs[0].Name)
		assert.Equal(t, "*/10 * * * *", cfg.Ingest.Jobs[0].Schedule)
	}
	assert.Equal(t, 0.7, cfg.Ingest.Merge.SourceTrust["pricebook"])
	assert.Equal(t, 90, cfg.Ingest.Retention.Tables["ingest_batch_metrics"].DaysToKeep)

	// Keys absent from the YAML keep their defaults.
	assert.Equal(t, 5, cfg.Ingest.DLQ.MaxRetries)
	assert.Equal(t, ":8093", cfg.Ingest.Admin.Addr)
}

func TestBreakerSettingsFor_PerKindOverride(t *testing.T) {
	cfg, err := config.LoadConfig("", config.EmbeddedConfig(testYAML))
	assert.NoError(t, err)

	pricing := cfg.BreakerSettingsFor("pricing")
	assert.Equal(t, 2, pricing.FailureThreshold)
	assert.Equal(t, 120*time.Second, pricing.RecoveryTimeout)

	// Unconfigured kinds fall back to the defaults block.
	other := cfg.BreakerSettingsFor("bibliographic")
	assert.Equal(t, 7, other.FailureThreshold)
	assert.Equal(t, 60*time.Second, other.RecoveryTimeout)
}

func TestLimiterSettingsFor_PerSourceOverride(t *testing.T) {
	cfg, err := config.LoadConfig("", config.EmbeddedConfig(testYAML))
	assert.NoError(t, err)

	pricebook := cfg.LimiterSettingsFor("pricebook")
	assert.Equal(t, 0.5, pricebook.RequestsPerSecond)
	assert.Equal(t, 1, pricebook.Burst)

	other := cfg.LimiterSettingsFor("loreweb")
	assert.Equal(t, float64(2), other.RequestsPerSecond)
	assert.Equal(t, 4, other.Burst)
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	t.Setenv("INGEST_DATABASE_DSN", "ingest_prod.db")
	t.Setenv("INGEST_RUNNER_PAGE_SIZE", "250")

	cfg, err := config.LoadConfig("", config.EmbeddedConfig(testYAML))
	assert.NoError(t, err)
	assert.Equal(t, "ingest_prod.db", cfg.Ingest.Database.DSN)
	assert.Equal(t, 250, cfg.Ingest.Runner.PageSize)
}

func TestStaleLeaseTimeout(t *testing.T) {
	cfg := config.NewConfig()
	assert.Equal(t, 900*time.Second, cfg.StaleLeaseTimeout())
}
