package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	ratelimit "github.com/pagecliff/ingest/pkg/ingest/engine/ratelimit"
)

func TestForSource_CachesLimiterPerSource(t *testing.T) {
	registry := ratelimit.NewRegistry(config.NewConfig(), metrics.NewNoOpMetricRecorder())

	a := registry.ForSource("pricebook")
	b := registry.ForSource("pricebook")
	assert.Same(t, a, b)
	assert.NotSame(t, a, registry.ForSource("loreweb"))
}

func TestWait_WithinBurstIsImmediate(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Limiters.Defaults = config.LimiterConfig{
		RequestsPerSecond:  1,
		Burst:              3,
		WaitTimeoutSeconds: 5,
	}
	registry := ratelimit.NewRegistry(cfg, metrics.NewNoOpMetricRecorder())
	limiter := registry.ForSource("pricebook")

	start := time.Now()
	for i := 0; i < 3; i++ {
		assert.NoError(t, limiter.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestWait_TimesOutOnSaturatedBucket(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Limiters.PerSource = map[string]config.LimiterConfig{
		"pricebook": {RequestsPerSecond: 0.001, Burst: 1, WaitTimeoutSeconds: 1},
	}
	registry := ratelimit.NewRegistry(cfg, metrics.NewNoOpMetricRecorder())
	limiter := registry.ForSource("pricebook")

	assert.NoError(t, limiter.Wait(context.Background()))

	err := limiter.Wait(context.Background())
	var timeoutErr *ratelimit.WaitTimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "pricebook", timeoutErr.Source)
}

func TestWait_CanceledContextWins(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Limiters.PerSource = map[string]config.LimiterConfig{
		"pricebook": {RequestsPerSecond: 0.001, Burst: 1, WaitTimeoutSeconds: 30},
	}
	registry := ratelimit.NewRegistry(cfg, metrics.NewNoOpMetricRecorder())
	limiter := registry.ForSource("pricebook")

	assert.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}

func TestForSource_NoConfiguredRateIsUnlimited(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Limiters.Defaults = config.LimiterConfig{}
	registry := ratelimit.NewRegistry(cfg, metrics.NewNoOpMetricRecorder())
	limiter := registry.ForSource("pricebook")

	start := time.Now()
	for i := 0; i < 100; i++ {
		assert.NoError(t, limiter.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}
