package sql

import (
	"context"
	"fmt"
	"sort"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
)

// purgeRule describes how one telemetry table is swept: which timestamp
// column defines age and which rows are closed enough to be eligible.
type purgeRule struct {
	ageColumn string
	// eligible restricts purging to closed rows; empty means every aged row
	// is eligible.
	eligible     string
	eligibleArgs []interface{}
}

// purgeRules covers the sweepable telemetry tables. Checkpoints, quarantine
// and provenance are deliberately absent: they are durable state, not
// telemetry.
var purgeRules = map[string]purgeRule{
	"ingest_batch_metrics": {
		ageColumn:    "started_at",
		eligible:     "status <> ?",
		eligibleArgs: []interface{}{string(model.BatchRunning)},
	},
	"ingest_dead_letters": {
		ageColumn:    "created_at",
		eligible:     "status IN ?",
		eligibleArgs: []interface{}{[]string{string(model.DeadLetterResolved), string(model.DeadLetterAbandoned)}},
	},
	"ingest_breaker_audit": {
		ageColumn: "created_at",
	},
	"ingest_self_heal_audit": {
		ageColumn: "created_at",
	},
}

// --- TelemetryPurger implementation ---

func (r *SQLIngestRepository) PurgeableTables() []string {
	tables := make([]string, 0, len(purgeRules))
	for name := range purgeRules {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}

func purgeRuleFor(tableName string) (purgeRule, error) {
	rule, ok := purgeRules[tableName]
	if !ok {
		return purgeRule{}, fmt.Errorf("table '%s' is not purgeable", tableName)
	}
	return rule, nil
}

func (r *SQLIngestRepository) CountExpired(ctx context.Context, tableName string, cutoff time.Time) (int64, error) {
	const op = "SQLIngestRepository.CountExpired"
	rule, err := purgeRuleFor(tableName)
	if err != nil {
		return 0, exception.NewPipelineError(op, "invalid purge target", err, false, false)
	}

	tx := r.db.WithContext(ctx).Table(tableName).
		Where(fmt.Sprintf("%s < ?", rule.ageColumn), cutoff)
	if rule.eligible != "" {
		tx = tx.Where(rule.eligible, rule.eligibleArgs...)
	}

	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return 0, exception.NewPipelineError(op, fmt.Sprintf("failed to count expired rows in '%s'", tableName), err, false, true)
	}
	return count, nil
}

func (r *SQLIngestRepository) FetchExpired(ctx context.Context, tableName string, cutoff time.Time) ([]map[string]interface{}, error) {
	const op = "SQLIngestRepository.FetchExpired"
	rule, err := purgeRuleFor(tableName)
	if err != nil {
		return nil, exception.NewPipelineError(op, "invalid purge target", err, false, false)
	}

	tx := r.db.WithContext(ctx).Table(tableName).
		Where(fmt.Sprintf("%s < ?", rule.ageColumn), cutoff).
		Order(rule.ageColumn)
	if rule.eligible != "" {
		tx = tx.Where(rule.eligible, rule.eligibleArgs...)
	}

	var rows []map[string]interface{}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, exception.NewPipelineError(op, fmt.Sprintf("failed to fetch expired rows from '%s'", tableName), err, false, true)
	}
	return rows, nil
}

func (r *SQLIngestRepository) DeleteExpired(ctx context.Context, tableName string, cutoff time.Time) (int64, error) {
	const op = "SQLIngestRepository.DeleteExpired"
	rule, err := purgeRuleFor(tableName)
	if err != nil {
		return 0, exception.NewPipelineError(op, "invalid purge target", err, false, false)
	}

	tx := r.db.WithContext(ctx).Table(tableName).
		Where(fmt.Sprintf("%s < ?", rule.ageColumn), cutoff)
	if rule.eligible != "" {
		tx = tx.Where(rule.eligible, rule.eligibleArgs...)
	}

	result := tx.Delete(nil)
	if result.Error != nil {
		return 0, exception.NewPipelineError(op, fmt.Sprintf("failed to delete expired rows from '%s'", tableName), result.Error, false, true)
	}
	return result.RowsAffected, nil
}
