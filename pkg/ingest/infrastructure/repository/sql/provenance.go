package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- ProvenanceRepository implementation ---

func (r *SQLIngestRepository) FindProvenance(ctx context.Context, key model.ProvenanceKey) (*model.FieldProvenance, error) {
	const op = "SQLIngestRepository.FindProvenance"
	var entity ProvenanceEntity

	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND field_name = ?", key.EntityType, key.EntityID, key.FieldName).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrProvenanceNotFound
		}
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to find provenance for %s/%s.%s", key.EntityType, key.EntityID, key.FieldName), err, false, true)
	}
	return toDomainProvenance(&entity), nil
}

// UpsertProvenance inserts or replaces on the composite key. Lock columns
// are deliberately excluded from the conflict update so an upsert can never
// silently drop a curator lock.
func (r *SQLIngestRepository) UpsertProvenance(ctx context.Context, p *model.FieldProvenance) error {
	const op = "SQLIngestRepository.UpsertProvenance"
	entity := fromDomainProvenance(p)

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "field_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_name", "source_ref", "confidence", "trust_weight",
			"license", "fetched_at", "updated_at",
		}),
	}).Create(entity).Error
	if err != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to upsert provenance for %s/%s.%s", p.EntityType, p.EntityID, p.FieldName), err, false, true)
	}
	return nil
}

func (r *SQLIngestRepository) LockProvenance(ctx context.Context, key model.ProvenanceKey, actor, reason string) error {
	const op = "SQLIngestRepository.LockProvenance"
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&ProvenanceEntity{}).
		Where("entity_type = ? AND entity_id = ? AND field_name = ?", key.EntityType, key.EntityID, key.FieldName).
		Updates(map[string]interface{}{
			"locked":      true,
			"locked_by":   actor,
			"lock_reason": reason,
			"updated_at":  now,
		})
	if result.Error != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to lock provenance for %s/%s.%s", key.EntityType, key.EntityID, key.FieldName), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrProvenanceNotFound
	}
	return nil
}

func (r *SQLIngestRepository) UnlockProvenance(ctx context.Context, key model.ProvenanceKey) error {
	const op = "SQLIngestRepository.UnlockProvenance"
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&ProvenanceEntity{}).
		Where("entity_type = ? AND entity_id = ? AND field_name = ?", key.EntityType, key.EntityID, key.FieldName).
		Updates(map[string]interface{}{
			"locked":      false,
			"locked_by":   "",
			"lock_reason": "",
			"updated_at":  now,
		})
	if result.Error != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to unlock provenance for %s/%s.%s", key.EntityType, key.EntityID, key.FieldName), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrProvenanceNotFound
	}
	return nil
}

func (r *SQLIngestRepository) ListProvenanceByEntity(ctx context.Context, entityType, entityID string) ([]*model.FieldProvenance, error) {
	const op = "SQLIngestRepository.ListProvenanceByEntity"
	var entities []ProvenanceEntity

	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("field_name").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to list provenance for entity %s/%s", entityType, entityID), err, false, true)
	}
	return toDomainProvenances(entities), nil
}

func (r *SQLIngestRepository) ListProvenanceBySource(ctx context.Context, sourceName string, limit int) ([]*model.FieldProvenance, error) {
	const op = "SQLIngestRepository.ListProvenanceBySource"
	var entities []ProvenanceEntity

	tx := r.db.WithContext(ctx).Where("source_name = ?", sourceName).Order("updated_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to list provenance for source '%s'", sourceName), err, false, true)
	}
	return toDomainProvenances(entities), nil
}

func toDomainProvenances(entities []ProvenanceEntity) []*model.FieldProvenance {
	rows := make([]*model.FieldProvenance, 0, len(entities))
	for i := range entities {
		rows = append(rows, toDomainProvenance(&entities[i]))
	}
	return rows
}
