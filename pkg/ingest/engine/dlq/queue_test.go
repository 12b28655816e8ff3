package dlq_test

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
	dlq "github.com/pagecliff/ingest/pkg/ingest/engine/dlq"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	ingesttest "github.com/pagecliff/ingest/pkg/ingest/test"
)

// fakeReplayer scripts replay outcomes and records the entries it saw.
type fakeReplayer struct {
	err      error
	replayed []string
}

func (f *fakeReplayer) Replay(ctx context.Context, entry *model.DeadLetterEntry) error {
	f.replayed = append(f.replayed, entry.ID)
	return f.err
}

func newTestQueue(t *testing.T) (*dlq.Queue, *fakeReplayer, *clockwork.FakeClock) {
	t.Helper()
	repo := ingesttest.NewSQLiteRepository(t)
	cfg := config.NewConfig()
	cfg.Ingest.DLQ.MaxRetries = 2
	clock := clockwork.NewFakeClock()
	q := dlq.NewQueue(repo, cfg, clock, metrics.NewNoOpMetricRecorder())
	replayer := &fakeReplayer{}
	q.SetReplayer(replayer)
	return q, replayer, clock
}

func testFailure(ref string, err error) dlq.Failure {
	return dlq.Failure{
		JobKind:    "pricing",
		JobName:    "pricebook-full-pull",
		BatchID:    "batch-1",
		EntityType: "printing",
		EntityRef:  ref,
		Err:        err,
		Request:    model.SnapshotMap{"ref": ref},
	}
}

func TestCapture_SchedulesFirstRetry(t *testing.T) {
	q, _, clock := newTestQueue(t)
	ctx := context.Background()

	cause := exception.NewPipelineError("source", "upstream returned 503", errors.New("503"), false, true)
	entry := q.Capture(ctx, testFailure("neo-001", cause))

	if assert.NotNil(t, entry) {
		assert.Equal(t, model.DeadLetterPending, entry.Status)
		assert.Equal(t, 0, entry.RetryCount, "capture books the first attempt without spending the budget")
		assert.Equal(t, "source", entry.ErrorType)
		assert.Contains(t, entry.ErrorMessage, "upstream returned 503")
		if assert.NotNil(t, entry.NextRetryAt) {
			assert.True(t, entry.NextRetryAt.After(clock.Now()))
		}
	}
}

func TestSweep_ResolvesOnSuccessfulReplay(t *testing.T) {
	q, replayer, clock := newTestQueue(t)
	ctx := context.Background()

	entry := q.Capture(ctx, testFailure("neo-001", errors.New("boom")))
	assert.NotNil(t, entry)

	clock.Advance(2 * time.Hour)
	assert.NoError(t, q.Sweep(ctx))
	assert.Equal(t, []string{entry.ID}, replayer.replayed)
}

func TestSweep_ReschedulesFailedReplay(t *testing.T) {
	q, replayer, clock := newTestQueue(t)
	ctx := context.Background()

	entry := q.Capture(ctx, testFailure("neo-001", errors.New("boom")))
	assert.NotNil(t, entry)
	replayer.err = errors.New("still failing")

	clock.Advance(2 * time.Hour)
	err := q.Sweep(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "still failing")
	assert.Len(t, replayer.replayed, 1)

	// First failed attempt: budget of 2 not yet exhausted, entry rebooked.
	clock.Advance(2 * time.Hour)
	err = q.Sweep(ctx)
	assert.Error(t, err)
	assert.Len(t, replayer.replayed, 2)

	// Second failed attempt exhausts the budget; nothing left to claim.
	clock.Advance(2 * time.Hour)
	assert.NoError(t, q.Sweep(ctx))
	assert.Len(t, replayer.replayed, 2)
}

func TestSweep_NoDueEntriesIsANoOp(t *testing.T) {
	q, replayer, _ := newTestQueue(t)
	assert.NoError(t, q.Sweep(context.Background()))
	assert.Empty(t, replayer.replayed)
}

func TestReplay_ManualSuccessResolvesWithActor(t *testing.T) {
	repo := ingesttest.NewSQLiteRepository(t)
	cfg := config.NewConfig()
	clock := clockwork.NewFakeClock()
	q := dlq.NewQueue(repo, cfg, clock, metrics.NewNoOpMetricRecorder())
	q.SetReplayer(&fakeReplayer{})
	ctx := context.Background()

	entry := q.Capture(ctx, testFailure("neo-001", errors.New("boom")))
	assert.NotNil(t, entry)

	assert.NoError(t, q.Replay(ctx, entry.ID, "ops-alice"))

	found, err := repo.FindDeadLetter(ctx, entry.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.DeadLetterResolved, found.Status)
	assert.Equal(t, "ops-alice", found.ResolvedBy)
}

func TestReplay_RejectsTerminalEntry(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	entry := q.Capture(ctx, testFailure("neo-001", errors.New("boom")))
	assert.NotNil(t, entry)
	assert.NoError(t, q.Resolve(ctx, entry.ID, "ops", "fixed by hand"))

	err := q.Replay(ctx, entry.ID, "ops")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")
}

func TestAbandon_Manual(t *testing.T) {
	repo := ingesttest.NewSQLiteRepository(t)
	cfg := config.NewConfig()
	clock := clockwork.NewFakeClock()
	q := dlq.NewQueue(repo, cfg, clock, metrics.NewNoOpMetricRecorder())
	ctx := context.Background()

	entry := q.Capture(ctx, testFailure("neo-001", errors.New("boom")))
	assert.NotNil(t, entry)

	assert.NoError(t, q.Abandon(ctx, entry.ID, "ops-bob", "source decommissioned"))
	found, err := repo.FindDeadLetter(ctx, entry.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.DeadLetterAbandoned, found.Status)
	assert.Equal(t, "source decommissioned", found.ResolutionNote)

	// Abandoning twice is rejected.
	assert.Error(t, q.Abandon(ctx, entry.ID, "ops-bob", "again"))
}
