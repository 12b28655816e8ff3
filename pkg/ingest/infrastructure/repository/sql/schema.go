package sql

import (
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// CheckpointEntity is a schema model used for persistence.
type CheckpointEntity struct {
	JobName          string `gorm:"primaryKey"`
	JobKind          string
	Cursor           model.CursorState
	Processed        int64
	Updated          int64
	Errors           int64
	IsRunning        bool
	ControlSignal    string
	PausedAt         *time.Time
	PauseRequestedBy string

	// Embedded circuit breaker snapshot.
	BreakerState             string
	BreakerFailureCount      int
	BreakerSuccessCount      int
	BreakerBackoffMultiplier int
	BreakerLastFailureAt     *time.Time
	BreakerOpenedAt          *time.Time

	LastHeartbeatAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int
}

func (CheckpointEntity) TableName() string {
	return "ingest_checkpoints"
}

// BatchMetricEntity is a schema model used for persistence.
type BatchMetricEntity struct {
	ID               string `gorm:"primaryKey"`
	PipelineKind     string
	JobName          string
	StartedAt        time.Time
	CompletedAt      *time.Time
	LastHeartbeatAt  time.Time
	RecordsInBatch   int64
	RecordsProcessed int64
	Status           string
	SelfHealCount    int
	ErrorMessage     string
	Version          int
}

func (BatchMetricEntity) TableName() string {
	return "ingest_batch_metrics"
}

// DeadLetterEntity is a schema model used for persistence.
type DeadLetterEntity struct {
	ID             string `gorm:"primaryKey"`
	JobKind        string
	JobName        string
	BatchID        string
	EntityType     string
	EntityRef      string
	ErrorType      string
	ErrorMessage   string
	ErrorTrace     string
	Request        model.SnapshotMap
	Response       model.SnapshotMap
	Status         string
	RetryCount     int
	MaxRetries     int
	NextRetryAt    *time.Time
	ResolvedBy     string
	ResolutionNote string
	ResolvedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int
}

func (DeadLetterEntity) TableName() string {
	return "ingest_dead_letters"
}

// QuarantineEntity is a schema model used for persistence.
type QuarantineEntity struct {
	ID               string `gorm:"primaryKey"`
	EntityType       string
	EntityRef        string
	SourceName       string
	Reason           string
	Payload          model.SnapshotMap
	Competing        model.CompetingValues
	Candidates       model.CandidateMatches
	Confidence       float64
	Status           string
	ResolutionAction string
	ResolutionNotes  string
	ResolvedBy       string
	ResolvedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int
}

func (QuarantineEntity) TableName() string {
	return "ingest_quarantine"
}

// ProvenanceEntity is a schema model used for persistence.
// The (entity_type, entity_id, field_name) tuple is unique.
type ProvenanceEntity struct {
	EntityType  string `gorm:"primaryKey"`
	EntityID    string `gorm:"primaryKey"`
	FieldName   string `gorm:"primaryKey"`
	SourceName  string
	SourceRef   string
	Confidence  float64
	TrustWeight float64
	License     string
	Locked      bool
	LockedBy    string
	LockReason  string
	FetchedAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProvenanceEntity) TableName() string {
	return "ingest_field_provenance"
}

// BreakerAuditEntity is a schema model used for persistence. Append-only.
type BreakerAuditEntity struct {
	ID           string `gorm:"primaryKey"`
	JobName      string
	FromState    string
	ToState      string
	FailureCount int
	// RetryAfterMS is the computed retry-after in milliseconds.
	RetryAfterMS int64
	Reason       string
	CreatedAt    time.Time
}

func (BreakerAuditEntity) TableName() string {
	return "ingest_breaker_audit"
}

// SelfHealAuditEntity is a schema model used for persistence. Append-only.
type SelfHealAuditEntity struct {
	ID           string `gorm:"primaryKey"`
	BatchID      string
	PipelineKind string
	JobName      string
	Action       string
	// HeartbeatAgeMS and ThresholdMS are stored in milliseconds.
	HeartbeatAgeMS int64
	ThresholdMS    int64
	Detail         string
	CreatedAt      time.Time
}

func (SelfHealAuditEntity) TableName() string {
	return "ingest_self_heal_audit"
}

// PurgeProofEntity is a schema model used for persistence. Append-only.
type PurgeProofEntity struct {
	ID            string `gorm:"primaryKey"`
	PurgedTable   string `gorm:"column:table_name"`
	RecordsPurged int64
	CutoffTime    time.Time
	Operator      string
	ArchivePath   string
	CreatedAt     time.Time
}

func (PurgeProofEntity) TableName() string {
	return "ingest_purge_proofs"
}
