// Package store implements the example's downstream entity store: merged
// catalog entities in a single GORM-managed table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	ingestsource "github.com/pagecliff/ingest/pkg/ingest/engine/source"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
)

// CatalogEntity is one merged downstream entity.
type CatalogEntity struct {
	ID         string    `gorm:"column:id;primaryKey"`
	EntityType string    `gorm:"column:entity_type;uniqueIndex:uq_catalog_ref"`
	EntityRef  string    `gorm:"column:entity_ref;uniqueIndex:uq_catalog_ref"`
	Fields     string    `gorm:"column:fields"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (CatalogEntity) TableName() string { return "catalog_entities" }

// CatalogUpserter merges normalized records into catalog_entities.
type CatalogUpserter struct {
	db *gorm.DB
}

// NewCatalogUpserter creates a CatalogUpserter.
func NewCatalogUpserter(db *gorm.DB) *CatalogUpserter {
	return &CatalogUpserter{db: db}
}

// Migrate creates the example's entity table.
func (u *CatalogUpserter) Migrate(ctx context.Context) error {
	return u.db.WithContext(ctx).AutoMigrate(&CatalogEntity{})
}

// Resolve looks up the entity id of a source ref, or "" when nothing has
// been merged for it yet.
func (u *CatalogUpserter) Resolve(ctx context.Context, entityType, entityRef string) (string, error) {
	var row CatalogEntity
	err := u.db.WithContext(ctx).Select("id").
		Where("entity_type = ? AND entity_ref = ?", entityType, entityRef).
		First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	case err != nil:
		return "", exception.NewPipelineError("store", "CatalogUpserter.Resolve: failed to look up entity", err, false, true)
	}
	return row.ID, nil
}

// Upsert merges the record's fields into the stored entity. Fields absent
// from the record are preserved; changed reports whether any stored value
// actually moved.
func (u *CatalogUpserter) Upsert(ctx context.Context, record *ingestsource.Record) (string, bool, error) {
	const op = "CatalogUpserter.Upsert"

	var row CatalogEntity
	err := u.db.WithContext(ctx).
		Where("entity_type = ? AND entity_ref = ?", record.EntityType, record.EntityRef).
		First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		merged, encodeErr := json.Marshal(record.Fields)
		if encodeErr != nil {
			return "", false, exception.NewPipelineError("store", op+": failed to encode fields", encodeErr, false, false)
		}
		row = CatalogEntity{
			ID:         uuid.New().String(),
			EntityType: record.EntityType,
			EntityRef:  record.EntityRef,
			Fields:     string(merged),
		}
		if createErr := u.db.WithContext(ctx).Create(&row).Error; createErr != nil {
			return "", false, exception.NewPipelineError("store", op+": failed to create entity", createErr, false, true)
		}
		return row.ID, true, nil
	case err != nil:
		return "", false, exception.NewPipelineError("store", op+": failed to load entity", err, false, true)
	}

	existing := map[string]interface{}{}
	if row.Fields != "" {
		if decodeErr := json.Unmarshal([]byte(row.Fields), &existing); decodeErr != nil {
			return "", false, exception.NewPipelineError("store", op+": failed to decode stored fields", decodeErr, false, false)
		}
	}

	changed := false
	for name, value := range record.Fields {
		if !sameValue(existing[name], value) {
			existing[name] = value
			changed = true
		}
	}
	if !changed {
		return row.ID, false, nil
	}

	merged, encodeErr := json.Marshal(existing)
	if encodeErr != nil {
		return "", false, exception.NewPipelineError("store", op+": failed to encode merged fields", encodeErr, false, false)
	}
	if updateErr := u.db.WithContext(ctx).Model(&row).Update("fields", string(merged)).Error; updateErr != nil {
		return "", false, exception.NewPipelineError("store", op+": failed to update entity", updateErr, false, true)
	}
	return row.ID, true, nil
}

// sameValue compares field values through their JSON form, normalizing the
// numeric type differences a JSON round trip introduces.
func sameValue(a, b interface{}) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

var _ ingestsource.Upserter = (*CatalogUpserter)(nil)
