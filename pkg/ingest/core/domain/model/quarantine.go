package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuarantineReason classifies why a record could not be merged automatically.
type QuarantineReason string

const (
	// QuarantineLowConfidence marks a merge decision below the confidence threshold.
	QuarantineLowConfidence QuarantineReason = "low_confidence"
	// QuarantineFuzzyMatch marks a fuzzy-duplicate candidate.
	QuarantineFuzzyMatch QuarantineReason = "fuzzy_match"
	// QuarantineConflict marks a disagreement between two trusted sources.
	QuarantineConflict QuarantineReason = "conflict"
	// QuarantineValidationFail marks a candidate payload that failed validation.
	QuarantineValidationFail QuarantineReason = "validation_fail"
	// QuarantineManualFlag marks a record flagged by an operator.
	QuarantineManualFlag QuarantineReason = "manual_flag"
	// QuarantineOutlier marks a statistically implausible value (e.g. a price spike).
	QuarantineOutlier QuarantineReason = "outlier"
)

// QuarantineStatus is the review status of a quarantine entry.
type QuarantineStatus string

const (
	// QuarantinePending marks an entry awaiting review.
	QuarantinePending QuarantineStatus = "pending"
	// QuarantineResolved marks a reviewed entry. Terminal.
	QuarantineResolved QuarantineStatus = "resolved"
)

// ParseQuarantineStatus validates a quarantine status string.
func ParseQuarantineStatus(s string) (QuarantineStatus, error) {
	switch QuarantineStatus(s) {
	case QuarantinePending, QuarantineResolved:
		return QuarantineStatus(s), nil
	}
	return "", fmt.Errorf("unknown quarantine status: %q", s)
}

// ResolutionAction is the action taken when resolving a quarantine entry.
type ResolutionAction string

const (
	// ResolutionAccept applies the candidate payload as-is.
	ResolutionAccept ResolutionAction = "accept"
	// ResolutionReject discards the candidate payload.
	ResolutionReject ResolutionAction = "reject"
	// ResolutionMerge applies a field-by-field merge chosen by the reviewer.
	ResolutionMerge ResolutionAction = "merge"
	// ResolutionManualEdit applies a hand-edited payload.
	ResolutionManualEdit ResolutionAction = "manual_edit"
)

// ParseResolutionAction validates a resolution action string.
func ParseResolutionAction(s string) (ResolutionAction, error) {
	switch ResolutionAction(s) {
	case ResolutionAccept, ResolutionReject, ResolutionMerge, ResolutionManualEdit:
		return ResolutionAction(s), nil
	}
	return "", fmt.Errorf("unknown resolution action: %q", s)
}

// CompetingValues maps field name -> source name -> the value that source
// supplied, captured for conflict quarantines so a reviewer sees every
// competing value.
type CompetingValues map[string]map[string]interface{}

// Value implements the driver.Valuer interface.
func (cv CompetingValues) Value() (driver.Value, error) {
	if cv == nil {
		return "{}", nil
	}
	data, err := json.Marshal(cv)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface.
func (cv *CompetingValues) Scan(value interface{}) error {
	if value == nil {
		*cv = CompetingValues{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for CompetingValues: %T", value)
	}
	if len(data) == 0 {
		*cv = CompetingValues{}
		return nil
	}
	return json.Unmarshal(data, cv)
}

// CandidateMatch is one potential duplicate with its match score.
type CandidateMatch struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

// CandidateMatches is the list of potential duplicates for a fuzzy-match quarantine.
type CandidateMatches []CandidateMatch

// Value implements the driver.Valuer interface.
func (cm CandidateMatches) Value() (driver.Value, error) {
	if cm == nil {
		return "[]", nil
	}
	data, err := json.Marshal(cm)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface.
func (cm *CandidateMatches) Scan(value interface{}) error {
	if value == nil {
		*cm = CandidateMatches{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for CandidateMatches: %T", value)
	}
	if len(data) == 0 {
		*cm = CandidateMatches{}
		return nil
	}
	return json.Unmarshal(data, cm)
}

// QuarantineEntry is a record that cannot be merged automatically. It is
// written with its full candidate payload for asynchronous resolution and is
// never silently discarded.
type QuarantineEntry struct {
	ID         string
	EntityType string
	EntityRef  string
	SourceName string
	Reason     QuarantineReason

	// Payload is the full candidate record as normalized by the source adapter.
	Payload SnapshotMap
	// Competing holds every competing source value for conflict quarantines.
	Competing CompetingValues
	// Candidates holds duplicate candidates with match scores for fuzzy matches.
	Candidates CandidateMatches
	// Confidence is the merge confidence that fell short, when applicable.
	Confidence float64

	Status           QuarantineStatus
	ResolutionAction ResolutionAction
	ResolutionNotes  string
	ResolvedBy       string
	ResolvedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// NewQuarantineEntry quarantines a candidate record.
func NewQuarantineEntry(entityType, entityRef, sourceName string, reason QuarantineReason, payload SnapshotMap) *QuarantineEntry {
	now := time.Now()
	if payload == nil {
		payload = SnapshotMap{}
	}
	return &QuarantineEntry{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityRef:  entityRef,
		SourceName: sourceName,
		Reason:     reason,
		Payload:    payload,
		Competing:  CompetingValues{},
		Candidates: CandidateMatches{},
		Status:     QuarantinePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Resolve closes the entry with the reviewer's decision.
func (q *QuarantineEntry) Resolve(now time.Time, action ResolutionAction, actor, notes string) {
	q.Status = QuarantineResolved
	q.ResolutionAction = action
	q.ResolvedBy = actor
	q.ResolutionNotes = notes
	t := now
	q.ResolvedAt = &t
}
