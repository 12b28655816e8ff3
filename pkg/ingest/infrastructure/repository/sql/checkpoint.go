package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"

	"gorm.io/gorm"
)

// --- CheckpointRepository implementation ---

// Acquire flips the is_running lease with a single compare-and-set UPDATE.
// The guard admits the flip only while no lease is held or the held lease's
// heartbeat is older than staleAfter, so concurrent acquirers race on the
// database row and exactly one wins.
func (r *SQLIngestRepository) Acquire(ctx context.Context, jobName, jobKind string, staleAfter time.Duration) (*model.Checkpoint, error) {
	const op = "SQLIngestRepository.Acquire"
	now := time.Now()

	casUpdate := func() (int64, error) {
		tx := r.db.WithContext(ctx).Model(&CheckpointEntity{}).
			Where("job_name = ?", jobName)
		if staleAfter > 0 {
			tx = tx.Where("is_running = ? OR last_heartbeat_at < ?", false, now.Add(-staleAfter))
		} else {
			tx = tx.Where("is_running = ?", false)
		}
		result := tx.Updates(map[string]interface{}{
			"is_running":        true,
			"job_kind":          jobKind,
			"last_heartbeat_at": now,
			"updated_at":        now,
			"version":           gorm.Expr("version + 1"),
		})
		return result.RowsAffected, result.Error
	}

	rows, err := casUpdate()
	if err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to acquire lease for job '%s'", jobName), err, false, true)
	}

	if rows == 0 {
		// Either the row does not exist yet or another process holds a live
		// lease. Create-if-absent, then retry the CAS once.
		var count int64
		if err := r.db.WithContext(ctx).Model(&CheckpointEntity{}).Where("job_name = ?", jobName).Count(&count).Error; err != nil {
			return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to probe checkpoint for job '%s'", jobName), err, false, true)
		}
		if count == 0 {
			entity := fromDomainCheckpoint(model.NewCheckpoint(jobName, jobKind))
			if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
				// A concurrent acquirer may have created the row first; fall
				// through to the CAS retry in that case.
				logger.Debugf("%s: checkpoint create for job '%s' raced: %v", op, jobName, err)
			}
		}
		rows, err = casUpdate()
		if err != nil {
			return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to acquire lease for job '%s'", jobName), err, false, true)
		}
		if rows == 0 {
			return nil, repository.ErrAlreadyRunning
		}
	}

	checkpoint, err := r.Find(ctx, jobName)
	if err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("lease acquired but checkpoint for job '%s' could not be loaded", jobName), err, false, true)
	}
	return checkpoint, nil
}

// Heartbeat advances the cursor, counters and heartbeat timestamp in one
// statement. It does not bump the version: heartbeats are best-effort and
// must never fail a job over a lost race with an admin update.
func (r *SQLIngestRepository) Heartbeat(ctx context.Context, jobName string, cursor model.CursorState, counters model.ProgressCounters) error {
	const op = "SQLIngestRepository.Heartbeat"
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&CheckpointEntity{}).
		Where("job_name = ? AND is_running = ?", jobName, true).
		Updates(map[string]interface{}{
			"cursor":            cursor,
			"processed":         counters.Processed,
			"updated":           counters.Updated,
			"errors":            counters.Errors,
			"last_heartbeat_at": now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to heartbeat job '%s'", jobName), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		// The lease has been cleared out from under us (stop signal or a
		// self-heal). The caller notices via the control signal.
		logger.Warnf("%s: heartbeat for job '%s' matched no held lease.", op, jobName)
	}
	return nil
}

// Release clears the lease unconditionally. Used on every normal exit path.
func (r *SQLIngestRepository) Release(ctx context.Context, jobName string) error {
	const op = "SQLIngestRepository.Release"
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&CheckpointEntity{}).
		Where("job_name = ?", jobName).
		Updates(map[string]interface{}{
			"is_running": false,
			"updated_at": now,
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to release lease for job '%s'", jobName), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrCheckpointNotFound
	}
	return nil
}

// ClearLeaseIfHeld is the self-healer's atomic intervention: it clears the
// lease only while it is still set, so a healer racing a just-resumed job
// never clears a live lease.
func (r *SQLIngestRepository) ClearLeaseIfHeld(ctx context.Context, jobName string) (bool, error) {
	const op = "SQLIngestRepository.ClearLeaseIfHeld"
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&CheckpointEntity{}).
		Where("job_name = ? AND is_running = ?", jobName, true).
		Updates(map[string]interface{}{
			"is_running":         false,
			"control_signal":     string(model.ControlRun),
			"paused_at":          nil,
			"pause_requested_by": "",
			"updated_at":         now,
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, exception.NewPipelineError(op, fmt.Sprintf("failed to clear lease for job '%s'", jobName), result.Error, false, true)
	}
	return result.RowsAffected > 0, nil
}

// SetControl records an admin control signal. Pause stamps who asked and
// when; stop also clears the lease so a stuck process cannot block the next
// invocation; run clears pause metadata.
func (r *SQLIngestRepository) SetControl(ctx context.Context, jobName string, signal model.ControlSignal, actor string) error {
	const op = "SQLIngestRepository.SetControl"
	now := time.Now()

	updates := map[string]interface{}{
		"control_signal": string(signal),
		"updated_at":     now,
		"version":        gorm.Expr("version + 1"),
	}
	switch signal {
	case model.ControlPause:
		updates["paused_at"] = now
		updates["pause_requested_by"] = actor
	case model.ControlRun:
		updates["paused_at"] = nil
		updates["pause_requested_by"] = ""
	case model.ControlStop:
		updates["is_running"] = false
	}

	result := r.db.WithContext(ctx).Model(&CheckpointEntity{}).
		Where("job_name = ?", jobName).
		Updates(updates)
	if result.Error != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to set control signal '%s' for job '%s'", signal, jobName), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrCheckpointNotFound
	}
	return nil
}

// SaveBreaker persists the breaker snapshot columns of a job's checkpoint.
func (r *SQLIngestRepository) SaveBreaker(ctx context.Context, jobName string, snapshot model.BreakerSnapshot) error {
	const op = "SQLIngestRepository.SaveBreaker"
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&CheckpointEntity{}).
		Where("job_name = ?", jobName).
		Updates(map[string]interface{}{
			"breaker_state":              string(snapshot.State),
			"breaker_failure_count":      snapshot.FailureCount,
			"breaker_success_count":      snapshot.SuccessCount,
			"breaker_backoff_multiplier": snapshot.BackoffMultiplier,
			"breaker_last_failure_at":    snapshot.LastFailureAt,
			"breaker_opened_at":          snapshot.OpenedAt,
			"updated_at":                 now,
		})
	if result.Error != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to save breaker snapshot for job '%s'", jobName), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrCheckpointNotFound
	}
	return nil
}

// Find returns the checkpoint for a job name.
func (r *SQLIngestRepository) Find(ctx context.Context, jobName string) (*model.Checkpoint, error) {
	const op = "SQLIngestRepository.Find"
	var entity CheckpointEntity

	err := r.db.WithContext(ctx).Where("job_name = ?", jobName).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrCheckpointNotFound
		}
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to find checkpoint for job '%s'", jobName), err, false, true)
	}
	return toDomainCheckpoint(&entity), nil
}

// List returns all checkpoints ordered by job name.
func (r *SQLIngestRepository) List(ctx context.Context) ([]*model.Checkpoint, error) {
	const op = "SQLIngestRepository.List"
	var entities []CheckpointEntity

	if err := r.db.WithContext(ctx).Order("job_name").Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, "failed to list checkpoints", err, false, true)
	}

	checkpoints := make([]*model.Checkpoint, 0, len(entities))
	for i := range entities {
		checkpoints = append(checkpoints, toDomainCheckpoint(&entities[i]))
	}
	return checkpoints, nil
}
