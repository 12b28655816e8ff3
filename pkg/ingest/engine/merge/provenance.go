package merge

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// fieldDisposition classifies one field of an incoming record against its
// current provenance.
type fieldDisposition int

const (
	// fieldWrite admits the automated write.
	fieldWrite fieldDisposition = iota
	// fieldSkip drops the write silently (locked field or outranked source).
	fieldSkip
	// fieldConflict routes the field to a conflict quarantine.
	fieldConflict
)

// Recorder enforces field locks and trust ordering against the provenance
// table and records provenance rows after successful writes.
type Recorder struct {
	repo  repository.ProvenanceRepository
	cfg   *config.Config
	clock clockwork.Clock
}

// NewRecorder creates a Recorder.
func NewRecorder(repo repository.ProvenanceRepository, cfg *config.Config, clock clockwork.Clock) *Recorder {
	return &Recorder{repo: repo, cfg: cfg, clock: clock}
}

// TrustWeight returns the configured trust of a source, zero when unknown.
func (r *Recorder) TrustWeight(sourceName string) float64 {
	return r.cfg.Ingest.Merge.SourceTrust[sourceName]
}

// Classify decides the disposition of one incoming field write.
//
// A locked field is never written automatically. An unlocked field last
// written by a strictly more trusted source is skipped; by a strictly less
// trusted source, overwritten; by an equally trusted different source,
// quarantined as a conflict. First writes and same-source refreshes always
// pass.
func (r *Recorder) Classify(ctx context.Context, key model.ProvenanceKey, incomingSource string) (fieldDisposition, *model.FieldProvenance, error) {
	existing, err := r.repo.FindProvenance(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrProvenanceNotFound) {
			return fieldWrite, nil, nil
		}
		return fieldSkip, nil, err
	}

	if existing.Locked {
		logger.Debugf("Field %s/%s.%s is locked by '%s'; skipping automated write from '%s'.",
			key.EntityType, key.EntityID, key.FieldName, existing.LockedBy, incomingSource)
		return fieldSkip, existing, nil
	}
	if existing.SourceName == incomingSource {
		return fieldWrite, existing, nil
	}

	incomingTrust := r.TrustWeight(incomingSource)
	switch {
	case incomingTrust > existing.TrustWeight:
		return fieldWrite, existing, nil
	case incomingTrust < existing.TrustWeight:
		logger.Debugf("Field %s/%s.%s held by '%s' (trust %.2f) outranks '%s' (trust %.2f); skipping.",
			key.EntityType, key.EntityID, key.FieldName, existing.SourceName, existing.TrustWeight, incomingSource, incomingTrust)
		return fieldSkip, existing, nil
	default:
		return fieldConflict, existing, nil
	}
}

// Record upserts the provenance row after a successful field write.
func (r *Recorder) Record(ctx context.Context, key model.ProvenanceKey, rec recordMeta) error {
	now := r.clock.Now()
	return r.repo.UpsertProvenance(ctx, &model.FieldProvenance{
		EntityType:  key.EntityType,
		EntityID:    key.EntityID,
		FieldName:   key.FieldName,
		SourceName:  rec.SourceName,
		SourceRef:   rec.SourceRef,
		Confidence:  rec.Confidence,
		TrustWeight: r.TrustWeight(rec.SourceName),
		License:     rec.License,
		FetchedAt:   rec.FetchedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Lock sets the lock flag of one field, typically after a manual correction.
func (r *Recorder) Lock(ctx context.Context, key model.ProvenanceKey, actor, reason string) error {
	return r.repo.LockProvenance(ctx, key, actor, reason)
}

// Unlock clears the lock flag of one field.
func (r *Recorder) Unlock(ctx context.Context, key model.ProvenanceKey) error {
	return r.repo.UnlockProvenance(ctx, key)
}

// recordMeta is the provenance-relevant slice of an incoming record.
type recordMeta struct {
	SourceName string
	SourceRef  string
	Confidence float64
	License    string
	FetchedAt  time.Time
}
