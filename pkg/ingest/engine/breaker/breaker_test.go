package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	breaker "github.com/pagecliff/ingest/pkg/ingest/engine/breaker"
	exception "github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	ingesttest "github.com/pagecliff/ingest/pkg/ingest/test"
)

func newTestBreaker(t *testing.T, settings model.BreakerSettings, clock clockwork.Clock) *breaker.Breaker {
	t.Helper()
	repo := ingesttest.NewSQLiteRepository(t)
	_, err := repo.Acquire(context.Background(), "pricebook-full-pull", "pricing", time.Hour)
	assert.NoError(t, err)
	return breaker.New("pricebook-full-pull", settings, model.NewBreakerSnapshot(),
		clock, repo, repo, metrics.NewNoOpMetricRecorder())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	settings := model.BreakerSettings{
		FailureThreshold:     3,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
	}
	b := newTestBreaker(t, settings, clock)
	ctx := context.Background()
	callErr := errors.New("upstream returned 503")

	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, func(context.Context) error { return callErr })
		assert.ErrorIs(t, err, callErr)
	}
	assert.Equal(t, model.BreakerOpen, b.Snapshot().State)

	// Rejected without invoking the call at all.
	invoked := false
	err := b.Execute(ctx, func(context.Context) error { invoked = true; return nil })
	assert.True(t, breaker.IsOpen(err))
	assert.False(t, invoked)

	var openErr *breaker.OpenError
	assert.ErrorAs(t, err, &openErr)
	assert.Equal(t, "pricebook-full-pull", openErr.JobName)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
}

func TestBreaker_TrialCallRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	settings := model.BreakerSettings{
		FailureThreshold:     2,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
	}
	b := newTestBreaker(t, settings, clock)
	ctx := context.Background()
	callErr := errors.New("upstream returned 503")

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return callErr })
	}
	assert.Equal(t, model.BreakerOpen, b.Snapshot().State)

	clock.Advance(30 * time.Second)

	// The reopen deadline has passed; the next call runs as the trial and
	// its success closes the circuit.
	err := b.Execute(ctx, func(context.Context) error { return nil })
	assert.NoError(t, err)
	snap := b.Snapshot()
	assert.Equal(t, model.BreakerClosed, snap.State)
	assert.Equal(t, 1, snap.BackoffMultiplier)
}

func TestBreaker_FailedTrialDoublesBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	settings := model.BreakerSettings{
		FailureThreshold:     2,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
	}
	b := newTestBreaker(t, settings, clock)
	ctx := context.Background()
	callErr := errors.New("upstream returned 503")

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return callErr })
	}

	clock.Advance(30 * time.Second)
	err := b.Execute(ctx, func(context.Context) error { return callErr })
	assert.ErrorIs(t, err, callErr)

	snap := b.Snapshot()
	assert.Equal(t, model.BreakerOpen, snap.State)
	assert.Equal(t, 2, snap.BackoffMultiplier)

	// The next admission now waits twice the base recovery timeout.
	clock.Advance(30 * time.Second)
	err = b.Allow(ctx)
	assert.True(t, breaker.IsOpen(err))
	clock.Advance(30 * time.Second)
	assert.NoError(t, b.Allow(ctx))
}

func TestBreaker_ErrorRateTripsBelowConsecutiveThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	settings := model.BreakerSettings{
		FailureThreshold:     100,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
		ErrorRateThreshold:   0.5,
		ErrorRateWindow:      4,
	}
	b := newTestBreaker(t, settings, clock)
	ctx := context.Background()
	callErr := errors.New("upstream returned 503")

	// Alternating outcomes never build a consecutive-failure streak, but
	// once the window fills at a 50% error rate the circuit trips anyway.
	outcomes := []error{callErr, nil, callErr, nil}
	for _, outcome := range outcomes {
		o := outcome
		_ = b.Execute(ctx, func(context.Context) error { return o })
	}
	assert.Equal(t, model.BreakerOpen, b.Snapshot().State)
}

func TestBreaker_InterruptedTrialRecoversAfterRestart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	settings := model.BreakerSettings{
		FailureThreshold:     2,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
	}
	repo := ingesttest.NewSQLiteRepository(t)
	ctx := context.Background()
	_, err := repo.Acquire(ctx, "pricebook-full-pull", "pricing", time.Hour)
	assert.NoError(t, err)

	// The previous process admitted a trial call and died before recording
	// its outcome, leaving HALF_OPEN in the checkpoint.
	openedAt := clock.Now().Add(-time.Minute)
	interrupted := model.BreakerSnapshot{
		State:             model.BreakerHalfOpen,
		FailureCount:      2,
		BackoffMultiplier: 1,
		OpenedAt:          &openedAt,
	}
	b := breaker.New("pricebook-full-pull", settings, interrupted,
		clock, repo, repo, metrics.NewNoOpMetricRecorder())

	// The reopen deadline passed while the process was down, so the restarted
	// breaker admits a fresh trial instead of rejecting every call forever.
	err = b.Execute(ctx, func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, b.Snapshot().State)
}

func TestBreaker_NonRetryableDataErrorsDoNotTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	settings := model.BreakerSettings{
		FailureThreshold:     2,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
	}
	b := newTestBreaker(t, settings, clock)
	ctx := context.Background()

	// Records the pipeline rejects are data problems; the upstream itself is
	// healthy and the circuit must stay closed however many arrive.
	dataErr := exception.NewPipelineError("merge", "record failed structural validation", nil, true, false)
	for i := 0; i < 5; i++ {
		err := b.Execute(ctx, func(context.Context) error { return dataErr })
		assert.Error(t, err)
	}
	assert.Equal(t, model.BreakerClosed, b.Snapshot().State)

	invoked := false
	assert.NoError(t, b.Execute(ctx, func(context.Context) error { invoked = true; return nil }))
	assert.True(t, invoked)
}

func TestBreaker_ConfiguredErrorClassCountsAsFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	settings := model.BreakerSettings{
		FailureThreshold:     2,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
		RetryableErrors:      []string{"context.DeadlineExceeded"},
	}
	b := newTestBreaker(t, settings, clock)
	ctx := context.Background()

	// A deadline wrapped in a non-retryable pipeline error is still an
	// upstream outage when its class is configured as retryable.
	timeoutErr := exception.NewPipelineError("source", "page fetch gave up", context.DeadlineExceeded, false, false)
	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return timeoutErr })
	}
	assert.Equal(t, model.BreakerOpen, b.Snapshot().State)
}

func TestBreaker_PersistsSnapshotAcrossRestart(t *testing.T) {
	repo := ingesttest.NewSQLiteRepository(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	_, err := repo.Acquire(ctx, "pricebook-full-pull", "pricing", time.Hour)
	assert.NoError(t, err)

	settings := model.BreakerSettings{
		FailureThreshold:     2,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
	}
	b := breaker.New("pricebook-full-pull", settings, model.NewBreakerSnapshot(),
		clock, repo, repo, metrics.NewNoOpMetricRecorder())
	callErr := errors.New("upstream returned 503")
	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return callErr })
	}

	// The registry of a fresh process resumes from the persisted snapshot,
	// so the restart does not reset backoff.
	cfg := config.NewConfig()
	registry := breaker.NewRegistry(cfg, repo, metrics.NewNoOpMetricRecorder(), clock)
	restored, err := registry.ForJob(ctx, "pricebook-full-pull", "pricing")
	assert.NoError(t, err)
	snap := restored.Snapshot()
	assert.Equal(t, model.BreakerOpen, snap.State)
	assert.Equal(t, 2, snap.FailureCount)
	assert.NotNil(t, snap.OpenedAt)
}

func TestBreaker_TransitionsAppendAuditTrail(t *testing.T) {
	repo := ingesttest.NewSQLiteRepository(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	_, err := repo.Acquire(ctx, "pricebook-full-pull", "pricing", time.Hour)
	assert.NoError(t, err)

	settings := model.BreakerSettings{
		FailureThreshold:     2,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
	}
	b := breaker.New("pricebook-full-pull", settings, model.NewBreakerSnapshot(),
		clock, repo, repo, metrics.NewNoOpMetricRecorder())
	callErr := errors.New("upstream returned 503")
	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return callErr })
	}

	audits, err := repo.ListBreakerAudit(ctx, "pricebook-full-pull", 10)
	assert.NoError(t, err)
	if assert.Len(t, audits, 1) {
		assert.Equal(t, model.BreakerClosed, audits[0].FromState)
		assert.Equal(t, model.BreakerOpen, audits[0].ToState)
		assert.Equal(t, 2, audits[0].FailureCount)
	}
}

func TestRegistry_ReturnsSameBreakerPerJob(t *testing.T) {
	repo := ingesttest.NewSQLiteRepository(t)
	cfg := config.NewConfig()
	registry := breaker.NewRegistry(cfg, repo, metrics.NewNoOpMetricRecorder(), clockwork.NewFakeClock())
	ctx := context.Background()

	a, err := registry.ForJob(ctx, "pricebook-full-pull", "pricing")
	assert.NoError(t, err)
	b, err := registry.ForJob(ctx, "pricebook-full-pull", "pricing")
	assert.NoError(t, err)
	assert.Same(t, a, b)
}
