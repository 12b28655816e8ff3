package sql

import (
	"context"
	"fmt"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
)

// --- AuditRepository implementation ---

func (r *SQLIngestRepository) AppendBreakerAudit(ctx context.Context, audit *model.BreakerAudit) error {
	const op = "SQLIngestRepository.AppendBreakerAudit"
	entity := fromDomainBreakerAudit(audit)

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to append breaker audit for job '%s'", audit.JobName), err, false, true)
	}
	return nil
}

func (r *SQLIngestRepository) ListBreakerAudit(ctx context.Context, jobName string, limit int) ([]*model.BreakerAudit, error) {
	const op = "SQLIngestRepository.ListBreakerAudit"
	var entities []BreakerAuditEntity

	tx := r.db.WithContext(ctx).Order("created_at desc")
	if jobName != "" {
		tx = tx.Where("job_name = ?", jobName)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, "failed to list breaker audit rows", err, false, true)
	}

	rows := make([]*model.BreakerAudit, 0, len(entities))
	for i := range entities {
		rows = append(rows, toDomainBreakerAudit(&entities[i]))
	}
	return rows, nil
}

func (r *SQLIngestRepository) AppendSelfHealAudit(ctx context.Context, audit *model.SelfHealAudit) error {
	const op = "SQLIngestRepository.AppendSelfHealAudit"
	entity := fromDomainSelfHealAudit(audit)

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to append self-heal audit for batch '%s'", audit.BatchID), err, false, true)
	}
	return nil
}

func (r *SQLIngestRepository) ListSelfHealAudit(ctx context.Context, limit int) ([]*model.SelfHealAudit, error) {
	const op = "SQLIngestRepository.ListSelfHealAudit"
	var entities []SelfHealAuditEntity

	tx := r.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, "failed to list self-heal audit rows", err, false, true)
	}

	rows := make([]*model.SelfHealAudit, 0, len(entities))
	for i := range entities {
		rows = append(rows, toDomainSelfHealAudit(&entities[i]))
	}
	return rows, nil
}

// CountSelfHeals counts lease-clearing interventions recorded for one batch.
// The give-up rows do not count against the budget.
func (r *SQLIngestRepository) CountSelfHeals(ctx context.Context, batchID string) (int, error) {
	const op = "SQLIngestRepository.CountSelfHeals"

	var count int64
	err := r.db.WithContext(ctx).Model(&SelfHealAuditEntity{}).
		Where("batch_id = ? AND action = ?", batchID, string(model.SelfHealLeaseCleared)).
		Count(&count).Error
	if err != nil {
		return 0, exception.NewPipelineError(op, fmt.Sprintf("failed to count self-heals for batch '%s'", batchID), err, false, true)
	}
	return int(count), nil
}

func (r *SQLIngestRepository) AppendPurgeProof(ctx context.Context, proof *model.PurgeProof) error {
	const op = "SQLIngestRepository.AppendPurgeProof"
	entity := fromDomainPurgeProof(proof)

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("failed to append purge proof for table '%s'", proof.TableName), err, false, true)
	}
	return nil
}

func (r *SQLIngestRepository) ListPurgeProofs(ctx context.Context, tableName string, limit int) ([]*model.PurgeProof, error) {
	const op = "SQLIngestRepository.ListPurgeProofs"
	var entities []PurgeProofEntity

	tx := r.db.WithContext(ctx).Order("created_at desc")
	if tableName != "" {
		tx = tx.Where("table_name = ?", tableName)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entities).Error; err != nil {
		return nil, exception.NewPipelineError(op, "failed to list purge proofs", err, false, true)
	}

	rows := make([]*model.PurgeProof, 0, len(entities))
	for i := range entities {
		rows = append(rows, toDomainPurgeProof(&entities[i]))
	}
	return rows, nil
}
