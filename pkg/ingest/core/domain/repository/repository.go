// Package repository defines the persistence interfaces of the ingestion
// engine and their sentinel errors. Implementations live under
// infrastructure/repository.
package repository

// IngestRepository is the interface for persisting and managing all
// ingestion metadata. It embeds the per-concern repository interfaces to
// separate concerns while sharing one underlying store.
type IngestRepository interface {
	CheckpointRepository
	BatchMetricRepository
	DeadLetterRepository
	QuarantineRepository
	ProvenanceRepository
	AuditRepository
	TelemetryPurger

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
