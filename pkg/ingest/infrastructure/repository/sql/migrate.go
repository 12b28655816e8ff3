package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// getDatabaseDriver retrieves a migrate/v4 Driver based on the configured
// driver name.
func getDatabaseDriver(sqlDB *sql.DB, driverName string, tableName string) (database.Driver, error) {
	switch driverName {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{
			MigrationsTable: tableName,
		})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{
			MigrationsTable: tableName,
		})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{
			MigrationsTable: tableName,
		})
	default:
		return nil, fmt.Errorf("unsupported database driver for migration: %s", driverName)
	}
}

// Migrate applies all pending schema migrations for the metadata store.
// Running it against an already current schema is a no-op.
func Migrate(ctx context.Context, db *gorm.DB, cfg config.DatabaseConfig) error {
	logger.Infof("Applying metadata store migrations (Driver: %s, Table: %s)", cfg.Driver, cfg.MigrationsTable)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	dbDriver, err := getDatabaseDriver(sqlDB, cfg.Driver, cfg.MigrationsTable)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Driver, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := mInstance.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed (Driver: %s): %w", cfg.Driver, err)
	}

	logger.Infof("Metadata store migrations completed successfully.")
	return nil
}
