package repository

import (
	"context"
	"errors"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// ErrProvenanceNotFound is returned when no provenance row exists for a key.
var ErrProvenanceNotFound = errors.New("field provenance not found")

// ProvenanceRepository persists per-field provenance rows keyed uniquely by
// (entity type, entity id, field name).
type ProvenanceRepository interface {
	// FindProvenance returns the row for a key, or ErrProvenanceNotFound.
	FindProvenance(ctx context.Context, key model.ProvenanceKey) (*model.FieldProvenance, error)

	// UpsertProvenance creates the row on first write of a field and replaces
	// source, confidence, trust, license and fetched-at on subsequent writes.
	// The lock check belongs to the recorder above this layer.
	UpsertProvenance(ctx context.Context, p *model.FieldProvenance) error

	// LockProvenance sets the lock flag with the locking actor and reason.
	LockProvenance(ctx context.Context, key model.ProvenanceKey, actor, reason string) error

	// UnlockProvenance clears the lock flag.
	UnlockProvenance(ctx context.Context, key model.ProvenanceKey) error

	// ListProvenanceByEntity returns all provenance rows of one entity.
	ListProvenanceByEntity(ctx context.Context, entityType, entityID string) ([]*model.FieldProvenance, error)

	// ListProvenanceBySource returns the most recent rows last written by a
	// source, supporting selective re-sync or takedown.
	ListProvenanceBySource(ctx context.Context, sourceName string, limit int) ([]*model.FieldProvenance, error)
}
