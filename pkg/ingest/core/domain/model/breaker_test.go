package model_test

import (
	"testing"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"

	"github.com/stretchr/testify/assert"
)

func testBreakerSettings() model.BreakerSettings {
	return model.BreakerSettings{
		FailureThreshold:     3,
		RecoveryTimeout:      30 * time.Second,
		MaxBackoffMultiplier: 4,
		ErrorRateWindow:      10,
	}
}

func TestBreakerSnapshot_OpensAtFailureThreshold(t *testing.T) {
	settings := testBreakerSettings()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b := model.NewBreakerSnapshot()
	assert.Equal(t, model.BreakerClosed, b.State)

	b = b.Record(model.OutcomeFailure, now, settings)
	b = b.Record(model.OutcomeFailure, now.Add(time.Second), settings)
	assert.Equal(t, model.BreakerClosed, b.State)
	assert.Equal(t, 2, b.FailureCount)

	openedAt := now.Add(2 * time.Second)
	b = b.Record(model.OutcomeFailure, openedAt, settings)
	assert.Equal(t, model.BreakerOpen, b.State)
	assert.Equal(t, 3, b.FailureCount)
	if assert.NotNil(t, b.OpenedAt) {
		assert.Equal(t, openedAt, *b.OpenedAt)
	}
	assert.Equal(t, 1, b.BackoffMultiplier)
}

func TestBreakerSnapshot_SuccessResetsConsecutiveFailures(t *testing.T) {
	settings := testBreakerSettings()
	now := time.Now()

	b := model.NewBreakerSnapshot()
	b = b.Record(model.OutcomeFailure, now, settings)
	b = b.Record(model.OutcomeFailure, now, settings)
	b = b.Record(model.OutcomeSuccess, now, settings)
	assert.Equal(t, 0, b.FailureCount)
	assert.Equal(t, 1, b.SuccessCount)

	// The counter starts over; two more failures do not open a threshold-3 circuit.
	b = b.Record(model.OutcomeFailure, now, settings)
	b = b.Record(model.OutcomeFailure, now, settings)
	assert.Equal(t, model.BreakerClosed, b.State)
}

func TestBreakerSnapshot_OpenRejectsUntilReopenDeadline(t *testing.T) {
	settings := testBreakerSettings()
	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b := model.NewBreakerSnapshot()
	for i := 0; i < settings.FailureThreshold; i++ {
		b = b.Record(model.OutcomeFailure, openedAt, settings)
	}
	assert.Equal(t, model.BreakerOpen, b.State)
	assert.Equal(t, openedAt.Add(30*time.Second), b.ReopenDeadline(settings))

	_, admitted := b.Admit(openedAt.Add(29*time.Second), settings)
	assert.False(t, admitted)

	next, admitted := b.Admit(openedAt.Add(30*time.Second), settings)
	assert.True(t, admitted)
	assert.Equal(t, model.BreakerHalfOpen, next.State)
}

func TestBreakerSnapshot_HalfOpenAdmitsSingleTrial(t *testing.T) {
	settings := testBreakerSettings()
	now := time.Now()

	b := model.NewBreakerSnapshot()
	for i := 0; i < settings.FailureThreshold; i++ {
		b = b.Record(model.OutcomeFailure, now, settings)
	}
	b, admitted := b.Admit(now.Add(settings.RecoveryTimeout), settings)
	assert.True(t, admitted)
	assert.Equal(t, model.BreakerHalfOpen, b.State)

	// The trial slot is taken; a second caller is rejected.
	_, admitted = b.Admit(now.Add(settings.RecoveryTimeout), settings)
	assert.False(t, admitted)
}

func TestBreakerSnapshot_TrialSuccessClosesAndResetsBackoff(t *testing.T) {
	settings := testBreakerSettings()
	now := time.Now()

	b := model.NewBreakerSnapshot()
	for i := 0; i < settings.FailureThreshold; i++ {
		b = b.Record(model.OutcomeFailure, now, settings)
	}
	b, _ = b.Admit(now.Add(settings.RecoveryTimeout), settings)
	b = b.Record(model.OutcomeFailure, now.Add(settings.RecoveryTimeout), settings)
	assert.Equal(t, model.BreakerOpen, b.State)
	assert.Equal(t, 2, b.BackoffMultiplier)

	b, _ = b.Admit(now.Add(3*settings.RecoveryTimeout), settings)
	b = b.Record(model.OutcomeSuccess, now.Add(3*settings.RecoveryTimeout), settings)
	assert.Equal(t, model.BreakerClosed, b.State)
	assert.Equal(t, 0, b.FailureCount)
	assert.Equal(t, 1, b.BackoffMultiplier)
	assert.Nil(t, b.OpenedAt)
}

func TestBreakerSnapshot_TrialFailureDoublesBackoffUpToCap(t *testing.T) {
	settings := testBreakerSettings()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b := model.NewBreakerSnapshot()
	for i := 0; i < settings.FailureThreshold; i++ {
		b = b.Record(model.OutcomeFailure, now, settings)
	}

	wantMultipliers := []int{2, 4, 4, 4} // doubles, then pins at the cap
	at := now
	for _, want := range wantMultipliers {
		at = b.ReopenDeadline(settings)
		var admitted bool
		b, admitted = b.Admit(at, settings)
		assert.True(t, admitted)
		b = b.Record(model.OutcomeFailure, at, settings)
		assert.Equal(t, model.BreakerOpen, b.State)
		assert.Equal(t, want, b.BackoffMultiplier)
		if assert.NotNil(t, b.OpenedAt) {
			assert.Equal(t, at, *b.OpenedAt)
		}
	}
}

func TestBreakerSnapshot_Trip(t *testing.T) {
	settings := testBreakerSettings()
	now := time.Now()

	b := model.NewBreakerSnapshot()
	b = b.Record(model.OutcomeFailure, now, settings)
	assert.Equal(t, model.BreakerClosed, b.State)

	b = b.Trip(now, settings)
	assert.Equal(t, model.BreakerOpen, b.State)
	assert.NotNil(t, b.OpenedAt)

	// Tripping an already-open circuit does not restart the backoff clock.
	later := b
	later = later.Trip(now.Add(time.Minute), settings)
	assert.Equal(t, b.OpenedAt, later.OpenedAt)
}

func TestBreakerSnapshot_NormalizeRepairsRestoredState(t *testing.T) {
	fresh := model.BreakerSnapshot{State: "corrupt", FailureCount: 9}.Normalize()
	assert.Equal(t, model.BreakerClosed, fresh.State)
	assert.Equal(t, 0, fresh.FailureCount)
	assert.Equal(t, 1, fresh.BackoffMultiplier)

	zeroMult := model.BreakerSnapshot{State: model.BreakerClosed, FailureCount: 2}.Normalize()
	assert.Equal(t, 2, zeroMult.FailureCount)
	assert.Equal(t, 1, zeroMult.BackoffMultiplier)
}

func TestBreakerSnapshot_NormalizeDegradesInterruptedTrial(t *testing.T) {
	openedAt := time.Now().Add(-10 * time.Minute)

	// A trial admitted by a process that died mid-call comes back as
	// HALF_OPEN; it must revert to OPEN so the reopen deadline can
	// admit a fresh trial instead of rejecting forever.
	restored := model.BreakerSnapshot{
		State:             model.BreakerHalfOpen,
		OpenedAt:          &openedAt,
		BackoffMultiplier: 2,
	}.Normalize()
	assert.Equal(t, model.BreakerOpen, restored.State)
	assert.Equal(t, openedAt, *restored.OpenedAt)
	assert.Equal(t, 2, restored.BackoffMultiplier)

	// HALF_OPEN with no opened_at is unrecoverable garbage.
	garbage := model.BreakerSnapshot{State: model.BreakerHalfOpen}.Normalize()
	assert.Equal(t, model.BreakerClosed, garbage.State)
}

func TestBreakerSettings_Validate(t *testing.T) {
	assert.NoError(t, model.DefaultBreakerSettings().Validate())

	bad := model.DefaultBreakerSettings()
	bad.FailureThreshold = 0
	assert.Error(t, bad.Validate())

	bad = model.DefaultBreakerSettings()
	bad.ErrorRateThreshold = 1.5
	assert.Error(t, bad.Validate())
}
