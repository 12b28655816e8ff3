package model_test

import (
	"testing"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"

	"github.com/stretchr/testify/assert"
)

func TestDeadLetterEntry_Due(t *testing.T) {
	now := time.Now()
	e := model.NewDeadLetterEntry("pricing", "pricebook-full-pull", "batch-1", "printing", "neo-001", 3)

	// A fresh pending entry with no scheduled slot is due immediately.
	assert.True(t, e.Due(now))

	e.ScheduleRetry(now.Add(time.Minute))
	assert.False(t, e.Due(now))
	assert.True(t, e.Due(now.Add(time.Minute)))
	assert.True(t, e.Due(now.Add(2*time.Minute)))

	e.Status = model.DeadLetterRetrying
	assert.False(t, e.Due(now.Add(2*time.Minute)))
}

func TestDeadLetterEntry_RetriesExhausted(t *testing.T) {
	e := model.NewDeadLetterEntry("pricing", "pricebook-full-pull", "batch-1", "printing", "neo-001", 2)
	assert.False(t, e.RetriesExhausted())

	e.RetryCount = 2
	assert.True(t, e.RetriesExhausted())
	assert.False(t, e.Due(time.Now()), "an exhausted entry is never due")
}

func TestDeadLetterEntry_ScheduleRetryDoesNotAdvanceCount(t *testing.T) {
	// The count tracks attempts that ran; booking the slot leaves it alone.
	e := model.NewDeadLetterEntry("pricing", "pricebook-full-pull", "batch-1", "printing", "neo-001", 3)
	e.RetryCount = 1
	e.Status = model.DeadLetterRetrying

	at := time.Now().Add(time.Minute)
	e.ScheduleRetry(at)
	assert.Equal(t, 1, e.RetryCount)
	assert.Equal(t, model.DeadLetterPending, e.Status)
	if assert.NotNil(t, e.NextRetryAt) {
		assert.Equal(t, at, *e.NextRetryAt)
	}
}

func TestDeadLetterEntry_TerminalStates(t *testing.T) {
	now := time.Now()

	e := model.NewDeadLetterEntry("pricing", "pricebook-full-pull", "batch-1", "printing", "neo-001", 3)
	assert.False(t, e.Terminal())

	e.Resolve(now, "ops", "replay succeeded")
	assert.True(t, e.Terminal())
	assert.Equal(t, model.DeadLetterResolved, e.Status)
	assert.Equal(t, "ops", e.ResolvedBy)
	assert.NotNil(t, e.ResolvedAt)

	e2 := model.NewDeadLetterEntry("pricing", "pricebook-full-pull", "batch-1", "printing", "neo-002", 3)
	e2.ScheduleRetry(now)
	e2.Abandon(now, "dlq-scheduler", "retry budget exhausted")
	assert.True(t, e2.Terminal())
	assert.Equal(t, model.DeadLetterAbandoned, e2.Status)
	assert.Nil(t, e2.NextRetryAt, "abandoning clears the scheduled slot")
}

func TestParseDeadLetterStatus(t *testing.T) {
	s, err := model.ParseDeadLetterStatus("pending")
	assert.NoError(t, err)
	assert.Equal(t, model.DeadLetterPending, s)

	_, err = model.ParseDeadLetterStatus("bogus")
	assert.Error(t, err)
}
