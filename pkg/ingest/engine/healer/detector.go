// Package healer detects stalled batches and heals them. A batch whose
// heartbeat has gone silent past its kind's adaptive threshold is flagged,
// its job's lease is cleared atomically so the next scheduled invocation
// resumes from the checkpoint, and every intervention leaves an audit row.
// Heals per batch are budgeted; an exhausted budget hard-fails the batch for
// operator attention instead of flapping forever.
package healer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// Detector is the stall detector / self-healer.
type Detector struct {
	repo     repository.IngestRepository
	stats    *Stats
	cfg      *config.Config
	clock    clockwork.Clock
	recorder metrics.MetricRecorder
}

// NewDetector creates a Detector.
func NewDetector(repo repository.IngestRepository, stats *Stats, cfg *config.Config, clock clockwork.Clock, recorder metrics.MetricRecorder) *Detector {
	return &Detector{
		repo:     repo,
		stats:    stats,
		cfg:      cfg,
		clock:    clock,
		recorder: recorder,
	}
}

// Sweep examines all running batches once. Per-batch failures are collected
// and the sweep keeps going; one broken batch never shields the others.
func (d *Detector) Sweep(ctx context.Context) error {
	running, err := d.repo.ListRunningBatches(ctx, "")
	if err != nil {
		return err
	}

	var merr *multierror.Error
	for _, batch := range running {
		if err := d.examine(ctx, batch); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("batch %s: %w", batch.ID, err))
		}
	}
	return merr.ErrorOrNil()
}

// examine heals one running batch if its heartbeat is past the threshold.
func (d *Detector) examine(ctx context.Context, batch *model.BatchMetric) error {
	now := d.clock.Now()
	threshold := d.stats.Threshold(ctx, batch.PipelineKind)
	age := batch.HeartbeatAge(now)
	if age <= threshold {
		return nil
	}

	logger.Warnf("Batch %s (job '%s') stalled: heartbeat %s old, threshold %s.", batch.ID, batch.JobName, age, threshold)

	// A stale batch row does not imply a stale lease: a new invocation may
	// have stolen the lease the crashed one left behind and be heartbeating
	// the checkpoint right now. Clearing its lease would kill a healthy run,
	// so the crashed batch is finalized on its own instead.
	cp, err := d.repo.Find(ctx, batch.JobName)
	if err != nil && !errors.Is(err, repository.ErrCheckpointNotFound) {
		return err
	}
	if err == nil && cp.IsRunning && now.Sub(cp.LastHeartbeatAt) <= threshold {
		return d.finalizeOrphan(ctx, batch, age, threshold)
	}

	heals, err := d.repo.CountSelfHeals(ctx, batch.ID)
	if err != nil {
		return err
	}
	if heals >= d.cfg.Ingest.Healer.MaxSelfHealAttempts {
		return d.giveUp(ctx, batch, age, threshold, heals)
	}
	return d.heal(ctx, batch, age, threshold)
}

// heal clears the job's lease (only if still held) and marks the batch
// self-healed. The next scheduled invocation resumes from the checkpoint.
func (d *Detector) heal(ctx context.Context, batch *model.BatchMetric, age, threshold time.Duration) error {
	cleared, err := d.repo.ClearLeaseIfHeld(ctx, batch.JobName)
	if err != nil {
		return err
	}
	if !cleared {
		// The lease was released between listing and healing; the batch row
		// is likely finalized by now. Leave it to the next sweep.
		logger.Infof("Batch %s: lease for job '%s' no longer held, skipping heal.", batch.ID, batch.JobName)
		return nil
	}

	now := d.clock.Now()
	batch.Status = model.BatchSelfHealed
	batch.SelfHealCount++
	completed := now
	batch.CompletedAt = &completed
	batch.ErrorMessage = fmt.Sprintf("self-healed: heartbeat silent for %s (threshold %s)", age, threshold)
	if err := d.repo.UpdateBatchMetric(ctx, batch); err != nil {
		return err
	}

	audit := model.NewSelfHealAudit(batch.ID, batch.PipelineKind, batch.JobName, model.SelfHealLeaseCleared, age, threshold,
		fmt.Sprintf("lease cleared, heal %d of %d", batch.SelfHealCount, d.cfg.Ingest.Healer.MaxSelfHealAttempts))
	if err := d.repo.AppendSelfHealAudit(ctx, audit); err != nil {
		logger.Warnf("Failed to append self-heal audit for batch '%s': %v", batch.ID, err)
	}
	d.recorder.RecordSelfHeal(ctx, batch.JobName, model.SelfHealLeaseCleared)
	logger.Infof("Batch %s (job '%s') self-healed; job resumes on its next schedule.", batch.ID, batch.JobName)
	return nil
}

// finalizeOrphan closes out a batch row orphaned by a crash after a newer
// invocation took over the job's lease. The lease stays untouched.
func (d *Detector) finalizeOrphan(ctx context.Context, batch *model.BatchMetric, age, threshold time.Duration) error {
	now := d.clock.Now()
	batch.Fail(now, fmt.Sprintf("orphaned by a crashed invocation; heartbeat silent for %s while the job's lease is live", age))
	if err := d.repo.UpdateBatchMetric(ctx, batch); err != nil {
		return err
	}

	audit := model.NewSelfHealAudit(batch.ID, batch.PipelineKind, batch.JobName, model.SelfHealOrphanFinalized, age, threshold,
		"batch failed without clearing the lease; a successor invocation holds it")
	if err := d.repo.AppendSelfHealAudit(ctx, audit); err != nil {
		logger.Warnf("Failed to append self-heal audit for batch '%s': %v", batch.ID, err)
	}
	d.recorder.RecordSelfHeal(ctx, batch.JobName, model.SelfHealOrphanFinalized)
	logger.Warnf("Batch %s (job '%s') was orphaned by a crash; finalized without touching the live lease.", batch.ID, batch.JobName)
	return nil
}

// giveUp hard-fails a batch whose heal budget is exhausted.
func (d *Detector) giveUp(ctx context.Context, batch *model.BatchMetric, age, threshold time.Duration, heals int) error {
	if _, err := d.repo.ClearLeaseIfHeld(ctx, batch.JobName); err != nil {
		logger.Warnf("Failed to clear lease for job '%s' while giving up on batch '%s': %v", batch.JobName, batch.ID, err)
	}

	now := d.clock.Now()
	batch.Fail(now, fmt.Sprintf("self-heal budget exhausted after %d attempts; heartbeat silent for %s", heals, age))
	if err := d.repo.UpdateBatchMetric(ctx, batch); err != nil {
		return err
	}

	audit := model.NewSelfHealAudit(batch.ID, batch.PipelineKind, batch.JobName, model.SelfHealGaveUp, age, threshold,
		fmt.Sprintf("budget of %d heals exhausted, batch failed", d.cfg.Ingest.Healer.MaxSelfHealAttempts))
	if err := d.repo.AppendSelfHealAudit(ctx, audit); err != nil {
		logger.Warnf("Failed to append self-heal audit for batch '%s': %v", batch.ID, err)
	}
	d.recorder.RecordSelfHeal(ctx, batch.JobName, model.SelfHealGaveUp)
	logger.Errorf("Batch %s (job '%s') failed: self-heal budget exhausted.", batch.ID, batch.JobName)
	return nil
}
