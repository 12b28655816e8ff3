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

// --- BatchMetricRepository implementation ---

func (r *SQLIngestRepository) SaveBatchMetric(ctx context.Context, metric *model.BatchMetric) error {
	const op = "SQLIngestRepository.SaveBatchMetric"
	entity := fromDomainBatchMetric(metric)

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to save batch metric (ID: %s)", metric.ID), err, false, true)
	}
	return nil
}

func (r *SQLIngestRepository) UpdateBatchMetric(ctx context.Context, metric *model.BatchMetric) error {
	const op = "SQLIngestRepository.UpdateBatchMetric"

	originalVersion := metric.Version
	metric.Version++
	entity := fromDomainBatchMetric(metric)

	result := r.db.WithContext(ctx).Model(&BatchMetricEntity{}).
		Where("id = ? AND version = ?", metric.ID, originalVersion).
		Select("*").Omit("id").
		Updates(entity)
	if result.Error != nil {
		metric.Version = originalVersion
		return exception.NewPipelineError(op, fmt.Sprintf("failed to update batch metric (ID: %s)", metric.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		metric.Version = originalVersion
		return exception.NewConcurrentUpdateException("repository", fmt.Sprintf("batch metric (ID: %s) with version %d not found for update", metric.ID, originalVersion), nil)
	}
	return nil
}

// HeartbeatBatch advances the batch heartbeat without touching the version,
// mirroring the checkpoint heartbeat's best-effort contract.
func (r *SQLIngestRepository) HeartbeatBatch(ctx context.Context, batchID string, processed int64) error {
	const op = "SQLIngestRepository.HeartbeatBatch"
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&BatchMetricEntity{}).
		Where("id = ? AND status = ?", batchID, string(model.BatchRunning)).
		Updates(map[string]interface{}{
			"last_heartbeat_at": now,
			"records_processed": processed,
		})
	if result.Error != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to heartbeat batch (ID: %s)", batchID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		logger.Debugf("%s: heartbeat for batch '%s' matched no running row.", op, batchID)
	}
	return nil
}

func (r *SQLIngestRepository) FindBatchMetric(ctx context.Context, batchID string) (*model.BatchMetric, error) {
	const op = "SQLIngestRepository.FindBatchMetric"
	var entity BatchMetricEntity

	err := r.db.WithContext(ctx).Where("id = ?", batchID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrBatchMetricNotFound
		}
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to find batch metric (ID: %s)", batchID), err, false, true)
	}
	return toDomainBatchMetric(&entity), nil
}

func (r *SQLIngestRepository) ListRunningBatches(ctx context.Context, kind string) ([]*model.BatchMetric, error) {
	const op = "SQLIngestRepository.ListRunningBatches"
	var entities []BatchMetricEntity

	tx := r.db.WithContext(ctx).Where("status = ?", string(model.BatchRunning))
	if kind != "" {
		tx = tx.Where("pipeline_kind = ?", kind)
	}
	if err := tx.Order("started_at").Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, "failed to list running batches", err, false, true)
	}
	return toDomainBatchMetrics(entities), nil
}

func (r *SQLIngestRepository) ListBatchesByStatus(ctx context.Context, status model.BatchStatus, limit int) ([]*model.BatchMetric, error) {
	const op = "SQLIngestRepository.ListBatchesByStatus"
	var entities []BatchMetricEntity

	tx := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("started_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to list batches with status '%s'", status), err, false, true)
	}
	return toDomainBatchMetrics(entities), nil
}

// CompletedBatchDurations feeds the stall detector's adaptive threshold.
// Only completed batches with a recorded completion time count.
func (r *SQLIngestRepository) CompletedBatchDurations(ctx context.Context, kind string, limit int) ([]time.Duration, error) {
	const op = "SQLIngestRepository.CompletedBatchDurations"
	var entities []BatchMetricEntity

	tx := r.db.WithContext(ctx).
		Where("status = ? AND completed_at IS NOT NULL", string(model.BatchCompleted))
	if kind != "" {
		tx = tx.Where("pipeline_kind = ?", kind)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Order("started_at desc").Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to load completed batch durations for kind '%s'", kind), err, false, true)
	}

	durations := make([]time.Duration, 0, len(entities))
	for i := range entities {
		if entities[i].CompletedAt == nil {
			continue
		}
		durations = append(durations, entities[i].CompletedAt.Sub(entities[i].StartedAt))
	}
	return durations, nil
}

func toDomainBatchMetrics(entities []BatchMetricEntity) []*model.BatchMetric {
	metrics := make([]*model.BatchMetric, 0, len(entities))
	for i := range entities {
		metrics = append(metrics, toDomainBatchMetric(&entities[i]))
	}
	return metrics
}
