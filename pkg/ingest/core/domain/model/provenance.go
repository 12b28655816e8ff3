package model

import "time"

// FieldProvenance records, per mutable field of a merged entity, which source
// last wrote it, with what confidence and trust, and whether the field is
// locked against further automated writes. One row exists per
// (entity type, entity id, field name).
//
// The lock is typically set after a manual correction so that a low-trust
// source can never clobber a verified value; writing to a locked field is a
// no-op at the recorder layer. Provenance also supports selective re-sync or
// takedown by source.
type FieldProvenance struct {
	EntityType string
	EntityID   string
	FieldName  string

	SourceName string
	// SourceRef is the source-local id or URL the value was fetched from.
	SourceRef  string
	Confidence float64
	// TrustWeight is the configured trust of the source for this field,
	// independent of the per-record confidence.
	TrustWeight float64
	// License carries the license metadata under which the value was supplied.
	License string

	Locked     bool
	LockedBy   string
	LockReason string

	FetchedAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the unique (entity type, entity id, field name) tuple.
func (p *FieldProvenance) Key() ProvenanceKey {
	return ProvenanceKey{EntityType: p.EntityType, EntityID: p.EntityID, FieldName: p.FieldName}
}

// ProvenanceKey identifies one provenance row.
type ProvenanceKey struct {
	EntityType string
	EntityID   string
	FieldName  string
}
