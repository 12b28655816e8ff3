package model

import (
	"time"

	"github.com/google/uuid"
)

// RetentionPolicy fixes the telemetry lifetime of one table. Rows older than
// DaysToKeep are eligible for the purge sweep.
type RetentionPolicy struct {
	TableName  string
	DaysToKeep int
	// ArchiveBeforePurge exports expired rows to the archive storage before
	// deleting them.
	ArchiveBeforePurge bool
}

// Cutoff returns the deletion cutoff for a sweep running at `now`; rows with
// a timestamp strictly before the cutoff are expired.
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.DaysToKeep)
}

// PurgeProof is one immutable audit row written to an append-only log before
// a retention deletion returns. Exactly one proof exists per purge that
// deleted at least one row; an idempotent zero-row sweep writes none.
type PurgeProof struct {
	ID            string
	TableName     string
	RecordsPurged int64
	CutoffTime    time.Time
	Operator      string
	// ArchivePath is the location of the pre-purge archive, when one was written.
	ArchivePath string
	CreatedAt   time.Time
}

// NewPurgeProof records a completed purge.
func NewPurgeProof(tableName string, purged int64, cutoff time.Time, operator string) *PurgeProof {
	return &PurgeProof{
		ID:            uuid.New().String(),
		TableName:     tableName,
		RecordsPurged: purged,
		CutoffTime:    cutoff,
		Operator:      operator,
		CreatedAt:     time.Now(),
	}
}
