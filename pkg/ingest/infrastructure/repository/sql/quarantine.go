package sql

import (
	"context"
	"errors"
	"fmt"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"

	"gorm.io/gorm"
)

// --- QuarantineRepository implementation ---

func (r *SQLIngestRepository) SaveQuarantine(ctx context.Context, entry *model.QuarantineEntry) error {
	const op = "SQLIngestRepository.SaveQuarantine"
	entity := fromDomainQuarantine(entry)

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to save quarantine entry (ID: %s)", entry.ID), err, false, true)
	}
	return nil
}

func (r *SQLIngestRepository) UpdateQuarantine(ctx context.Context, entry *model.QuarantineEntry) error {
	const op = "SQLIngestRepository.UpdateQuarantine"

	originalVersion := entry.Version
	entry.Version++
	entity := fromDomainQuarantine(entry)

	result := r.db.WithContext(ctx).Model(&QuarantineEntity{}).
		Where("id = ? AND version = ?", entry.ID, originalVersion).
		Select("*").Omit("id").
		Updates(entity)
	if result.Error != nil {
		entry.Version = originalVersion
		return exception.NewPipelineError(op, fmt.Sprintf("failed to update quarantine entry (ID: %s)", entry.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		entry.Version = originalVersion
		return exception.NewConcurrentUpdateException("repository", fmt.Sprintf("quarantine entry (ID: %s) with version %d not found for update", entry.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLIngestRepository) FindQuarantine(ctx context.Context, id string) (*model.QuarantineEntry, error) {
	const op = "SQLIngestRepository.FindQuarantine"
	var entity QuarantineEntity

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrQuarantineNotFound
		}
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to find quarantine entry (ID: %s)", id), err, false, true)
	}
	return toDomainQuarantine(&entity), nil
}

func (r *SQLIngestRepository) ListQuarantineByStatus(ctx context.Context, status model.QuarantineStatus, limit int) ([]*model.QuarantineEntry, error) {
	const op = "SQLIngestRepository.ListQuarantineByStatus"
	var entities []QuarantineEntity

	tx := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to list quarantine entries with status '%s'", status), err, false, true)
	}

	entries := make([]*model.QuarantineEntry, 0, len(entities))
	for i := range entities {
		entries = append(entries, toDomainQuarantine(&entities[i]))
	}
	return entries, nil
}

func (r *SQLIngestRepository) CountQuarantineByReason(ctx context.Context) (map[model.QuarantineReason]int64, error) {
	const op = "SQLIngestRepository.CountQuarantineByReason"

	var rows []struct {
		Reason string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&QuarantineEntity{}).
		Select("reason, count(*) as total").
		Where("status = ?", string(model.QuarantinePending)).
		Group("reason").
		Scan(&rows).Error
	if err != nil {
		return nil, exception.NewPipelineError(op, "failed to count quarantine entries by reason", err, false, true)
	}

	counts := make(map[model.QuarantineReason]int64, len(rows))
	for _, row := range rows {
		counts[model.QuarantineReason(row.Reason)] = row.Total
	}
	return counts, nil
}
