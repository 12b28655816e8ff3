package retention_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	retention "github.com/pagecliff/ingest/pkg/ingest/engine/retention"
	ingesttest "github.com/pagecliff/ingest/pkg/ingest/test"
)

func newTestSweeper(t *testing.T, cfg *config.Config) (*retention.Sweeper, repository.IngestRepository) {
	t.Helper()
	repo := ingesttest.NewSQLiteRepository(t)
	clock := clockwork.NewFakeClockAt(time.Now())
	sweeper := retention.NewSweeper(repo, retention.NewArchiver(cfg), cfg, clock, metrics.NewNoOpMetricRecorder())
	return sweeper, repo
}

// seedCompletedBatches saves completed batch metrics started `age` ago.
func seedCompletedBatches(t *testing.T, repo repository.IngestRepository, n int, age time.Duration) {
	t.Helper()
	started := time.Now().Add(-age)
	for i := 0; i < n; i++ {
		m := model.NewBatchMetric("pricing", "pricebook-full-pull")
		m.StartedAt = started
		m.Complete(started.Add(10 * time.Minute))
		assert.NoError(t, repo.SaveBatchMetric(context.Background(), m))
	}
}

func TestSweep_PurgesExpiredRowsWithOneProof(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Retention.Tables = map[string]config.RetentionTableConfig{
		"ingest_batch_metrics": {DaysToKeep: 30},
	}
	sweeper, repo := newTestSweeper(t, cfg)
	ctx := context.Background()

	seedCompletedBatches(t, repo, 3, 60*24*time.Hour)
	seedCompletedBatches(t, repo, 2, 24*time.Hour)

	assert.NoError(t, sweeper.Sweep(ctx))

	remaining, err := repo.CountExpired(ctx, "ingest_batch_metrics", time.Now().AddDate(0, 0, -30))
	assert.NoError(t, err)
	assert.Zero(t, remaining)

	proofs, err := repo.ListPurgeProofs(ctx, "ingest_batch_metrics", 10)
	assert.NoError(t, err)
	if assert.Len(t, proofs, 1) {
		assert.Equal(t, int64(3), proofs[0].RecordsPurged)
		assert.Equal(t, "retention-sweeper", proofs[0].Operator)
		assert.Empty(t, proofs[0].ArchivePath)
	}

	// The recent rows survived.
	recent, err := repo.ListBatchesByStatus(ctx, model.BatchCompleted, 10)
	assert.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestSweep_NothingExpiredWritesNoProof(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Retention.Tables = map[string]config.RetentionTableConfig{
		"ingest_batch_metrics": {DaysToKeep: 30},
	}
	sweeper, repo := newTestSweeper(t, cfg)
	ctx := context.Background()

	seedCompletedBatches(t, repo, 2, 24*time.Hour)

	assert.NoError(t, sweeper.Sweep(ctx))
	proofs, err := repo.ListPurgeProofs(ctx, "", 10)
	assert.NoError(t, err)
	assert.Empty(t, proofs)
}

func TestSweep_SecondSweepIsIdempotent(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Retention.Tables = map[string]config.RetentionTableConfig{
		"ingest_batch_metrics": {DaysToKeep: 30},
	}
	sweeper, repo := newTestSweeper(t, cfg)
	ctx := context.Background()

	seedCompletedBatches(t, repo, 3, 60*24*time.Hour)

	assert.NoError(t, sweeper.Sweep(ctx))
	assert.NoError(t, sweeper.Sweep(ctx))

	proofs, err := repo.ListPurgeProofs(ctx, "ingest_batch_metrics", 10)
	assert.NoError(t, err)
	assert.Len(t, proofs, 1)
}

func TestSweep_RunningBatchesAreNeverPurged(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Retention.Tables = map[string]config.RetentionTableConfig{
		"ingest_batch_metrics": {DaysToKeep: 30},
	}
	sweeper, repo := newTestSweeper(t, cfg)
	ctx := context.Background()

	m := model.NewBatchMetric("pricing", "pricebook-full-pull")
	m.StartedAt = time.Now().Add(-60 * 24 * time.Hour)
	assert.NoError(t, repo.SaveBatchMetric(ctx, m))

	assert.NoError(t, sweeper.Sweep(ctx))

	running, err := repo.ListRunningBatches(ctx, "pricing")
	assert.NoError(t, err)
	assert.Len(t, running, 1)
	proofs, err := repo.ListPurgeProofs(ctx, "", 10)
	assert.NoError(t, err)
	assert.Empty(t, proofs)
}

func TestSweep_UnknownTableIsSkipped(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Retention.Tables = map[string]config.RetentionTableConfig{
		"ingest_checkpoints": {DaysToKeep: 30}, // durable state, not purgeable
	}
	sweeper, repo := newTestSweeper(t, cfg)
	ctx := context.Background()

	assert.NoError(t, sweeper.Sweep(ctx))
	proofs, err := repo.ListPurgeProofs(ctx, "", 10)
	assert.NoError(t, err)
	assert.Empty(t, proofs)
}

func TestSweep_ArchivesBeforePurge(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.Retention.Archive.Enabled = true
	cfg.Ingest.Retention.Archive.BaseDir = t.TempDir()
	cfg.Ingest.Retention.Tables = map[string]config.RetentionTableConfig{
		"ingest_batch_metrics": {DaysToKeep: 30, Archive: true},
	}
	sweeper, repo := newTestSweeper(t, cfg)
	ctx := context.Background()

	seedCompletedBatches(t, repo, 3, 60*24*time.Hour)

	assert.NoError(t, sweeper.Sweep(ctx))

	proofs, err := repo.ListPurgeProofs(ctx, "ingest_batch_metrics", 10)
	assert.NoError(t, err)
	if assert.Len(t, proofs, 1) {
		assert.NotEmpty(t, proofs[0].ArchivePath)
		info, statErr := os.Stat(proofs[0].ArchivePath)
		assert.NoError(t, statErr)
		assert.Greater(t, info.Size(), int64(0))
	}
}
