// Package sql implements the ingestion metadata repositories on GORM. All
// concerns share one connection to the metadata store; lease and claim
// operations are expressed as single-statement compare-and-set updates so
// their invariants hold across multiple running processes.
package sql

import (
	"fmt"

	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"

	"gorm.io/gorm"
)

// SQLIngestRepository implements repository.IngestRepository.
type SQLIngestRepository struct {
	db *gorm.DB
}

// NewSQLIngestRepository creates a new instance of SQLIngestRepository.
func NewSQLIngestRepository(db *gorm.DB) repository.IngestRepository {
	return &SQLIngestRepository{db: db}
}

// Close closes the underlying database connection.
func (r *SQLIngestRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB for close: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close metadata store connection: %w", err)
	}
	logger.Debugf("Metadata store connection closed.")
	return nil
}

var _ repository.IngestRepository = (*SQLIngestRepository)(nil)
