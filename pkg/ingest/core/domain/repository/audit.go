package repository

import (
	"context"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// AuditRepository appends to the append-only operational audit trails.
// Appends are best-effort for callers: a failed audit write is logged and
// never blocks the primary operation.
type AuditRepository interface {
	// AppendBreakerAudit appends one breaker transition row.
	AppendBreakerAudit(ctx context.Context, audit *model.BreakerAudit) error

	// ListBreakerAudit returns the most recent transitions for a job name,
	// or for all jobs when jobName is empty.
	ListBreakerAudit(ctx context.Context, jobName string, limit int) ([]*model.BreakerAudit, error)

	// AppendSelfHealAudit appends one self-heal intervention row.
	AppendSelfHealAudit(ctx context.Context, audit *model.SelfHealAudit) error

	// ListSelfHealAudit returns the most recent interventions, newest first.
	ListSelfHealAudit(ctx context.Context, limit int) ([]*model.SelfHealAudit, error)

	// CountSelfHeals returns how many lease-clearing heals have been recorded
	// for one batch id. Bounds the self-heal budget.
	CountSelfHeals(ctx context.Context, batchID string) (int, error)

	// AppendPurgeProof appends one immutable purge-proof row.
	AppendPurgeProof(ctx context.Context, proof *model.PurgeProof) error

	// ListPurgeProofs returns the most recent purge proofs for a table, or
	// for all tables when tableName is empty.
	ListPurgeProofs(ctx context.Context, tableName string, limit int) ([]*model.PurgeProof, error)
}

// TelemetryPurger exposes the bulk retention operations of the purgeable
// telemetry tables. Only closed rows are ever eligible: running batches,
// unresolved dead letters and pending quarantines are excluded regardless of
// age.
type TelemetryPurger interface {
	// CountExpired counts purgeable rows of a telemetry table older than cutoff.
	CountExpired(ctx context.Context, tableName string, cutoff time.Time) (int64, error)

	// FetchExpired returns purgeable rows older than cutoff as generic maps,
	// used to build the optional pre-purge archive.
	FetchExpired(ctx context.Context, tableName string, cutoff time.Time) ([]map[string]interface{}, error)

	// DeleteExpired deletes purgeable rows older than cutoff and returns how
	// many were removed.
	DeleteExpired(ctx context.Context, tableName string, cutoff time.Time) (int64, error)

	// PurgeableTables lists the telemetry tables retention may sweep.
	PurgeableTables() []string
}
