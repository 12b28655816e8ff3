// Package merge implements the merge gate: the decision layer between a
// normalized source record and the downstream entity store. Doubtful merges
// are quarantined with their full payload, never silently applied or
// dropped, and every successful field write leaves a provenance row.
package merge

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	source "github.com/pagecliff/ingest/pkg/ingest/engine/source"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// Outcome summarizes what the gate did with one record.
type Outcome struct {
	// Applied reports whether any field reached the downstream store.
	Applied bool
	// Changed reports whether the downstream store was actually modified.
	Changed bool
	// Quarantined reports whether a quarantine entry was written.
	Quarantined bool
	// SkippedFields lists fields dropped by locks or trust ordering.
	SkippedFields []string
}

// Gate applies normalized records through confidence, duplicate and
// conflict checks.
type Gate struct {
	upserter source.Upserter
	recorder *Recorder
	repo     repository.QuarantineRepository
	cfg      *config.Config
	clock    clockwork.Clock
	metrics  metrics.MetricRecorder
}

// NewGate creates a Gate.
func NewGate(
	upserter source.Upserter,
	recorder *Recorder,
	repo repository.QuarantineRepository,
	cfg *config.Config,
	clock clockwork.Clock,
	m metrics.MetricRecorder,
) *Gate {
	return &Gate{
		upserter: upserter,
		recorder: recorder,
		repo:     repo,
		cfg:      cfg,
		clock:    clock,
		metrics:  m,
	}
}

// Apply runs one record through the gate.
//
// Order of checks: structural validation, confidence threshold, fuzzy
// duplicates, then per-field lock/trust classification. Conflicting fields
// are quarantined together in one conflict entry while clean fields still
// merge; a record that quarantines wholesale writes nothing downstream.
func (g *Gate) Apply(ctx context.Context, sourceName string, rec *source.Record) (*Outcome, error) {
	const op = "merge.Gate.Apply"
	outcome := &Outcome{}

	if rec.EntityType == "" || rec.EntityRef == "" || len(rec.Fields) == 0 {
		if err := g.quarantine(ctx, sourceName, rec, model.QuarantineValidationFail, nil, nil); err != nil {
			return nil, err
		}
		outcome.Quarantined = true
		return outcome, nil
	}

	if rec.Confidence < g.cfg.Ingest.Merge.ConfidenceThreshold {
		if err := g.quarantine(ctx, sourceName, rec, model.QuarantineLowConfidence, nil, nil); err != nil {
			return nil, err
		}
		outcome.Quarantined = true
		return outcome, nil
	}

	if g.hasFuzzyDuplicate(rec) {
		if err := g.quarantine(ctx, sourceName, rec, model.QuarantineFuzzyMatch, nil, rec.Candidates); err != nil {
			return nil, err
		}
		outcome.Quarantined = true
		return outcome, nil
	}

	// Field classification keys on the downstream entity id, never on the
	// source-local ref: two sources name the same entity by different refs,
	// and provenance rows are written under the id. The upsert itself is
	// deferred until fields have been filtered.
	entityID, err := g.upserter.Resolve(ctx, rec.EntityType, rec.EntityRef)
	if err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to resolve %s '%s'", rec.EntityType, rec.EntityRef), err, false, true)
	}
	allowed, skipped, conflicts, err := g.classifyFields(ctx, sourceName, entityID, rec)
	if err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to classify fields of %s '%s'", rec.EntityType, rec.EntityRef), err, false, true)
	}
	outcome.SkippedFields = skipped

	if len(conflicts) > 0 {
		if err := g.quarantine(ctx, sourceName, rec, model.QuarantineConflict, conflicts, nil); err != nil {
			return nil, err
		}
		outcome.Quarantined = true
	}

	if len(allowed) == 0 {
		return outcome, nil
	}

	filtered := *rec
	filtered.Fields = allowed
	// The upsert returns the authoritative id: it matches the resolved one
	// for an existing entity and mints the id on first merge.
	entityID, changed, err := g.upserter.Upsert(ctx, &filtered)
	if err != nil {
		return nil, err
	}
	outcome.Applied = true
	outcome.Changed = changed

	meta := recordMeta{
		SourceName: sourceName,
		SourceRef:  rec.SourceRef,
		Confidence: rec.Confidence,
		License:    rec.License,
		FetchedAt:  g.clock.Now(),
	}
	for field := range allowed {
		key := model.ProvenanceKey{EntityType: rec.EntityType, EntityID: entityID, FieldName: field}
		if err := g.recorder.Record(ctx, key, meta); err != nil {
			logger.Warnf("Failed to record provenance for %s/%s.%s: %v", rec.EntityType, entityID, field, err)
		}
	}
	return outcome, nil
}

// classifyFields splits a record's fields by lock and trust rules, looking
// up provenance under the resolved downstream entity id. An empty id means
// no entity has been merged for the ref yet, so no provenance rows can
// exist and every field writes. Conflicts carry the competing values keyed
// by field and source.
func (g *Gate) classifyFields(ctx context.Context, sourceName, entityID string, rec *source.Record) (map[string]interface{}, []string, model.CompetingValues, error) {
	if entityID == "" {
		return rec.Fields, nil, nil, nil
	}

	allowed := make(map[string]interface{}, len(rec.Fields))
	var skipped []string
	conflicts := model.CompetingValues{}

	for field, value := range rec.Fields {
		key := model.ProvenanceKey{EntityType: rec.EntityType, EntityID: entityID, FieldName: field}
		disposition, existing, err := g.recorder.Classify(ctx, key, sourceName)
		if err != nil {
			return nil, nil, nil, err
		}
		switch disposition {
		case fieldWrite:
			allowed[field] = value
		case fieldSkip:
			skipped = append(skipped, field)
		case fieldConflict:
			competing := map[string]interface{}{sourceName: value}
			if existing != nil {
				// The incumbent value lives downstream; reference it by the
				// source ref it was last fetched from.
				competing[existing.SourceName] = existing.SourceRef
			}
			conflicts[field] = competing
		}
	}
	if len(conflicts) == 0 {
		conflicts = nil
	}
	return allowed, skipped, conflicts, nil
}

func (g *Gate) hasFuzzyDuplicate(rec *source.Record) bool {
	threshold := g.cfg.Ingest.Merge.FuzzyMatchThreshold
	if threshold <= 0 {
		return false
	}
	for _, c := range rec.Candidates {
		if c.Score >= threshold {
			return true
		}
	}
	return false
}

func (g *Gate) quarantine(ctx context.Context, sourceName string, rec *source.Record, reason model.QuarantineReason, competing model.CompetingValues, candidates model.CandidateMatches) error {
	payload := model.SnapshotMap{}
	for k, v := range rec.Fields {
		payload[k] = v
	}

	entry := model.NewQuarantineEntry(rec.EntityType, rec.EntityRef, sourceName, reason, payload)
	entry.Confidence = rec.Confidence
	if competing != nil {
		entry.Competing = competing
	}
	if candidates != nil {
		entry.Candidates = candidates
	}

	if err := g.repo.SaveQuarantine(ctx, entry); err != nil {
		return err
	}
	g.metrics.RecordQuarantine(ctx, rec.EntityType, reason)
	logger.Infof("Quarantined %s '%s' from source '%s' (%s).", rec.EntityType, rec.EntityRef, sourceName, reason)
	return nil
}

// ResolveQuarantine closes a quarantine entry with a reviewer decision. An
// accept decision re-applies the payload through the upserter, bypassing the
// confidence check the reviewer just overrode but still honoring locks.
func (g *Gate) ResolveQuarantine(ctx context.Context, id string, action model.ResolutionAction, actor, notes string) error {
	entry, err := g.repo.FindQuarantine(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status == model.QuarantineResolved {
		return fmt.Errorf("quarantine entry %s is already resolved", id)
	}

	if action == model.ResolutionAccept || action == model.ResolutionMerge {
		rec := &source.Record{
			EntityType: entry.EntityType,
			EntityRef:  entry.EntityRef,
			Fields:     map[string]interface{}(entry.Payload),
			Confidence: 1,
		}
		entityID, err := g.upserter.Resolve(ctx, entry.EntityType, entry.EntityRef)
		if err != nil {
			return err
		}
		allowed, _, _, err := g.classifyFields(ctx, entry.SourceName, entityID, rec)
		if err != nil {
			return err
		}
		if len(allowed) > 0 {
			rec.Fields = allowed
			if _, _, err := g.upserter.Upsert(ctx, rec); err != nil {
				return err
			}
		}
	}

	entry.Resolve(g.clock.Now(), action, actor, notes)
	return g.repo.UpdateQuarantine(ctx, entry)
}
