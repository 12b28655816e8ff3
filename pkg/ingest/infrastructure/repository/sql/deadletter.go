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

// --- DeadLetterRepository implementation ---

func (r *SQLIngestRepository) SaveDeadLetter(ctx context.Context, entry *model.DeadLetterEntry) error {
	const op = "SQLIngestRepository.SaveDeadLetter"
	entity := fromDomainDeadLetter(entry)

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to save dead letter (ID: %s)", entry.ID), err, false, true)
	}
	return nil
}

func (r *SQLIngestRepository) UpdateDeadLetter(ctx context.Context, entry *model.DeadLetterEntry) error {
	const op = "SQLIngestRepository.UpdateDeadLetter"

	originalVersion := entry.Version
	entry.Version++
	entity := fromDomainDeadLetter(entry)

	result := r.db.WithContext(ctx).Model(&DeadLetterEntity{}).
		Where("id = ? AND version = ?", entry.ID, originalVersion).
		Select("*").Omit("id").
		Updates(entity)
	if result.Error != nil {
		entry.Version = originalVersion
		return exception.NewPipelineError(op, fmt.Sprintf("failed to update dead letter (ID: %s)", entry.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		entry.Version = originalVersion
		return exception.NewConcurrentUpdateException("repository", fmt.Sprintf("dead letter (ID: %s) with version %d not found for update", entry.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLIngestRepository) FindDeadLetter(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	const op = "SQLIngestRepository.FindDeadLetter"
	var entity DeadLetterEntity

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrDeadLetterNotFound
		}
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to find dead letter (ID: %s)", id), err, false, true)
	}
	return toDomainDeadLetter(&entity), nil
}

// ClaimDueDeadLetters selects candidate entries, then claims each one with a
// per-row compare-and-set on (status, version). Entries lost to a concurrent
// scheduler instance are silently skipped; both instances never retry the
// same entry.
func (r *SQLIngestRepository) ClaimDueDeadLetters(ctx context.Context, now time.Time, limit int) ([]*model.DeadLetterEntry, error) {
	const op = "SQLIngestRepository.ClaimDueDeadLetters"
	var entities []DeadLetterEntity

	tx := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", string(model.DeadLetterPending), now).
		Order("next_retry_at")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, "failed to list due dead letters", err, false, true)
	}

	claimed := make([]*model.DeadLetterEntry, 0, len(entities))
	for i := range entities {
		entity := &entities[i]
		result := r.db.WithContext(ctx).Model(&DeadLetterEntity{}).
			Where("id = ? AND status = ? AND version = ?", entity.ID, string(model.DeadLetterPending), entity.Version).
			Updates(map[string]interface{}{
				"status":     string(model.DeadLetterRetrying),
				"updated_at": now,
				"version":    gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to claim dead letter (ID: %s)", entity.ID), result.Error, false, true)
		}
		if result.RowsAffected == 0 {
			logger.Debugf("%s: dead letter '%s' claimed by another instance, skipping.", op, entity.ID)
			continue
		}
		entry := toDomainDeadLetter(entity)
		entry.Status = model.DeadLetterRetrying
		entry.Version++
		claimed = append(claimed, entry)
	}
	return claimed, nil
}

func (r *SQLIngestRepository) ListDeadLettersByStatus(ctx context.Context, status model.DeadLetterStatus, limit int) ([]*model.DeadLetterEntry, error) {
	const op = "SQLIngestRepository.ListDeadLettersByStatus"
	var entities []DeadLetterEntity

	tx := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to list dead letters with status '%s'", status), err, false, true)
	}

	entries := make([]*model.DeadLetterEntry, 0, len(entities))
	for i := range entities {
		entries = append(entries, toDomainDeadLetter(&entities[i]))
	}
	return entries, nil
}

func (r *SQLIngestRepository) CountDeadLettersByStatus(ctx context.Context) (map[model.DeadLetterStatus]int64, error) {
	const op = "SQLIngestRepository.CountDeadLettersByStatus"

	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&DeadLetterEntity{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, exception.NewPipelineError(op, "failed to count dead letters by status", err, false, true)
	}

	counts := make(map[model.DeadLetterStatus]int64, len(rows))
	for _, row := range rows {
		counts[model.DeadLetterStatus(row.Status)] = row.Total
	}
	return counts, nil
}
