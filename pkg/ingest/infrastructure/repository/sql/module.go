// Package sql wiring for Fx. The module opens the metadata store, applies
// pending migrations on startup and provides the repository to the graph.
package sql

import (
	"context"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// NewDB opens the metadata store connection from the loaded configuration.
func NewDB(cfg *config.Config) (*gorm.DB, error) {
	return OpenDB(cfg.Ingest.Database)
}

// Module is an Fx module that provides the SQL-backed IngestRepository.
var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Provide(
		fx.Annotate(
			NewSQLIngestRepository,
			fx.As(new(repository.IngestRepository)),
		),
	),
	// Narrow views for components that only need one concern.
	fx.Provide(func(r repository.IngestRepository) repository.CheckpointRepository { return r }),
	fx.Provide(func(r repository.IngestRepository) repository.BatchMetricRepository { return r }),
	fx.Provide(func(r repository.IngestRepository) repository.DeadLetterRepository { return r }),
	fx.Provide(func(r repository.IngestRepository) repository.QuarantineRepository { return r }),
	fx.Provide(func(r repository.IngestRepository) repository.ProvenanceRepository { return r }),
	fx.Provide(func(r repository.IngestRepository) repository.AuditRepository { return r }),
	fx.Provide(func(r repository.IngestRepository) repository.TelemetryPurger { return r }),
	fx.Invoke(func(lc fx.Lifecycle, db *gorm.DB, cfg *config.Config, repo repository.IngestRepository) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return Migrate(ctx, db, cfg.Ingest.Database)
			},
			OnStop: func(ctx context.Context) error {
				if err := repo.Close(); err != nil {
					logger.Errorf("Failed to close metadata store: %v", err)
					return err
				}
				return nil
			},
		})
	}),
)
