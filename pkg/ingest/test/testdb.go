// Package test provides shared test fixtures: an in-memory SQLite metadata
// store with the full schema applied.
package test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	sqlite_driver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	sqlrepo "github.com/pagecliff/ingest/pkg/ingest/infrastructure/repository/sql"
)

// NewSQLiteDB opens a fresh in-memory SQLite database with the metadata
// schema migrated. The single-connection pool keeps every query on the same
// in-memory database.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A uniquely named shared in-memory database isolates tests from each
	// other while keeping every pooled connection on the same data.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite_driver.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	cfg := config.DatabaseConfig{
		Driver:          "sqlite",
		MigrationsTable: "ingest_schema_migrations",
	}
	if err := sqlrepo.Migrate(context.Background(), db, cfg); err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}
	return db
}

// NewSQLiteRepository returns a repository backed by a fresh in-memory
// SQLite database.
func NewSQLiteRepository(t *testing.T) repository.IngestRepository {
	t.Helper()
	return sqlrepo.NewSQLIngestRepository(NewSQLiteDB(t))
}
