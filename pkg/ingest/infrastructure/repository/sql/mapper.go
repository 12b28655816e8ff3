package sql

import (
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// --- Mapper functions ---

func fromDomainCheckpoint(c *model.Checkpoint) *CheckpointEntity {
	if c == nil {
		return nil
	}
	return &CheckpointEntity{
		JobName:          c.JobName,
		JobKind:          c.JobKind,
		Cursor:           c.Cursor,
		Processed:        c.Counters.Processed,
		Updated:          c.Counters.Updated,
		Errors:           c.Counters.Errors,
		IsRunning:        c.IsRunning,
		ControlSignal:    string(c.ControlSignal),
		PausedAt:         c.PausedAt,
		PauseRequestedBy: c.PauseRequestedBy,

		BreakerState:             string(c.Breaker.State),
		BreakerFailureCount:      c.Breaker.FailureCount,
		BreakerSuccessCount:      c.Breaker.SuccessCount,
		BreakerBackoffMultiplier: c.Breaker.BackoffMultiplier,
		BreakerLastFailureAt:     c.Breaker.LastFailureAt,
		BreakerOpenedAt:          c.Breaker.OpenedAt,

		LastHeartbeatAt: c.LastHeartbeatAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		Version:         c.Version,
	}
}

func toDomainCheckpoint(entity *CheckpointEntity) *model.Checkpoint {
	if entity == nil {
		return nil
	}
	breaker := model.BreakerSnapshot{
		State:             model.BreakerState(entity.BreakerState),
		FailureCount:      entity.BreakerFailureCount,
		SuccessCount:      entity.BreakerSuccessCount,
		BackoffMultiplier: entity.BreakerBackoffMultiplier,
		LastFailureAt:     entity.BreakerLastFailureAt,
		OpenedAt:          entity.BreakerOpenedAt,
	}
	return &model.Checkpoint{
		JobName: entity.JobName,
		JobKind: entity.JobKind,
		Cursor:  entity.Cursor,
		Counters: model.ProgressCounters{
			Processed: entity.Processed,
			Updated:   entity.Updated,
			Errors:    entity.Errors,
		},
		IsRunning:        entity.IsRunning,
		ControlSignal:    model.ControlSignal(entity.ControlSignal),
		PausedAt:         entity.PausedAt,
		PauseRequestedBy: entity.PauseRequestedBy,
		// Restored snapshots are normalized so rows written before a column
		// existed cannot poison the state machine.
		Breaker:         breaker.Normalize(),
		LastHeartbeatAt: entity.LastHeartbeatAt,
		CreatedAt:       entity.CreatedAt,
		UpdatedAt:       entity.UpdatedAt,
		Version:         entity.Version,
	}
}

func fromDomainBatchMetric(m *model.BatchMetric) *BatchMetricEntity {
	if m == nil {
		return nil
	}
	return &BatchMetricEntity{
		ID:               m.ID,
		PipelineKind:     m.PipelineKind,
		JobName:          m.JobName,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
		LastHeartbeatAt:  m.LastHeartbeatAt,
		RecordsInBatch:   m.RecordsInBatch,
		RecordsProcessed: m.RecordsProcessed,
		Status:           string(m.Status),
		SelfHealCount:    m.SelfHealCount,
		ErrorMessage:     m.ErrorMessage,
		Version:          m.Version,
	}
}

func toDomainBatchMetric(entity *BatchMetricEntity) *model.BatchMetric {
	if entity == nil {
		return nil
	}
	return &model.BatchMetric{
		ID:               entity.ID,
		PipelineKind:     entity.PipelineKind,
		JobName:          entity.JobName,
		StartedAt:        entity.StartedAt,
		CompletedAt:      entity.CompletedAt,
		LastHeartbeatAt:  entity.LastHeartbeatAt,
		RecordsInBatch:   entity.RecordsInBatch,
		RecordsProcessed: entity.RecordsProcessed,
		Status:           model.BatchStatus(entity.Status),
		SelfHealCount:    entity.SelfHealCount,
		ErrorMessage:     entity.ErrorMessage,
		Version:          entity.Version,
	}
}

func fromDomainDeadLetter(e *model.DeadLetterEntry) *DeadLetterEntity {
	if e == nil {
		return nil
	}
	return &DeadLetterEntity{
		ID:             e.ID,
		JobKind:        e.JobKind,
		JobName:        e.JobName,
		BatchID:        e.BatchID,
		EntityType:     e.EntityType,
		EntityRef:      e.EntityRef,
		ErrorType:      e.ErrorType,
		ErrorMessage:   e.ErrorMessage,
		ErrorTrace:     e.ErrorTrace,
		Request:        e.Request,
		Response:       e.Response,
		Status:         string(e.Status),
		RetryCount:     e.RetryCount,
		MaxRetries:     e.MaxRetries,
		NextRetryAt:    e.NextRetryAt,
		ResolvedBy:     e.ResolvedBy,
		ResolutionNote: e.ResolutionNote,
		ResolvedAt:     e.ResolvedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		Version:        e.Version,
	}
}

func toDomainDeadLetter(entity *DeadLetterEntity) *model.DeadLetterEntry {
	if entity == nil {
		return nil
	}
	return &model.DeadLetterEntry{
		ID:             entity.ID,
		JobKind:        entity.JobKind,
		JobName:        entity.JobName,
		BatchID:        entity.BatchID,
		EntityType:     entity.EntityType,
		EntityRef:      entity.EntityRef,
		ErrorType:      entity.ErrorType,
		ErrorMessage:   entity.ErrorMessage,
		ErrorTrace:     entity.ErrorTrace,
		Request:        entity.Request,
		Response:       entity.Response,
		Status:         model.DeadLetterStatus(entity.Status),
		RetryCount:     entity.RetryCount,
		MaxRetries:     entity.MaxRetries,
		NextRetryAt:    entity.NextRetryAt,
		ResolvedBy:     entity.ResolvedBy,
		ResolutionNote: entity.ResolutionNote,
		ResolvedAt:     entity.ResolvedAt,
		CreatedAt:      entity.CreatedAt,
		UpdatedAt:      entity.UpdatedAt,
		Version:        entity.Version,
	}
}

func fromDomainQuarantine(q *model.QuarantineEntry) *QuarantineEntity {
	if q == nil {
		return nil
	}
	return &QuarantineEntity{
		ID:               q.ID,
		EntityType:       q.EntityType,
		EntityRef:        q.EntityRef,
		SourceName:       q.SourceName,
		Reason:           string(q.Reason),
		Payload:          q.Payload,
		Competing:        q.Competing,
		Candidates:       q.Candidates,
		Confidence:       q.Confidence,
		Status:           string(q.Status),
		ResolutionAction: string(q.ResolutionAction),
		ResolutionNotes:  q.ResolutionNotes,
		ResolvedBy:       q.ResolvedBy,
		ResolvedAt:       q.ResolvedAt,
		CreatedAt:        q.CreatedAt,
		UpdatedAt:        q.UpdatedAt,
		Version:          q.Version,
	}
}

func toDomainQuarantine(entity *QuarantineEntity) *model.QuarantineEntry {
	if entity == nil {
		return nil
	}
	return &model.QuarantineEntry{
		ID:               entity.ID,
		EntityType:       entity.EntityType,
		EntityRef:        entity.EntityRef,
		SourceName:       entity.SourceName,
		Reason:           model.QuarantineReason(entity.Reason),
		Payload:          entity.Payload,
		Competing:        entity.Competing,
		Candidates:       entity.Candidates,
		Confidence:       entity.Confidence,
		Status:           model.QuarantineStatus(entity.Status),
		ResolutionAction: model.ResolutionAction(entity.ResolutionAction),
		ResolutionNotes:  entity.ResolutionNotes,
		ResolvedBy:       entity.ResolvedBy,
		ResolvedAt:       entity.ResolvedAt,
		CreatedAt:        entity.CreatedAt,
		UpdatedAt:        entity.UpdatedAt,
		Version:          entity.Version,
	}
}

func fromDomainProvenance(p *model.FieldProvenance) *ProvenanceEntity {
	if p == nil {
		return nil
	}
	return &ProvenanceEntity{
		EntityType:  p.EntityType,
		EntityID:    p.EntityID,
		FieldName:   p.FieldName,
		SourceName:  p.SourceName,
		SourceRef:   p.SourceRef,
		Confidence:  p.Confidence,
		TrustWeight: p.TrustWeight,
		License:     p.License,
		Locked:      p.Locked,
		LockedBy:    p.LockedBy,
		LockReason:  p.LockReason,
		FetchedAt:   p.FetchedAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toDomainProvenance(entity *ProvenanceEntity) *model.FieldProvenance {
	if entity == nil {
		return nil
	}
	return &model.FieldProvenance{
		EntityType:  entity.EntityType,
		EntityID:    entity.EntityID,
		FieldName:   entity.FieldName,
		SourceName:  entity.SourceName,
		SourceRef:   entity.SourceRef,
		Confidence:  entity.Confidence,
		TrustWeight: entity.TrustWeight,
		License:     entity.License,
		Locked:      entity.Locked,
		LockedBy:    entity.LockedBy,
		LockReason:  entity.LockReason,
		FetchedAt:   entity.FetchedAt,
		CreatedAt:   entity.CreatedAt,
		UpdatedAt:   entity.UpdatedAt,
	}
}

func fromDomainBreakerAudit(a *model.BreakerAudit) *BreakerAuditEntity {
	if a == nil {
		return nil
	}
	return &BreakerAuditEntity{
		ID:           a.ID,
		JobName:      a.JobName,
		FromState:    string(a.FromState),
		ToState:      string(a.ToState),
		FailureCount: a.FailureCount,
		RetryAfterMS: a.RetryAfter.Milliseconds(),
		Reason:       a.Reason,
		CreatedAt:    a.CreatedAt,
	}
}

func toDomainBreakerAudit(entity *BreakerAuditEntity) *model.BreakerAudit {
	if entity == nil {
		return nil
	}
	return &model.BreakerAudit{
		ID:           entity.ID,
		JobName:      entity.JobName,
		FromState:    model.BreakerState(entity.FromState),
		ToState:      model.BreakerState(entity.ToState),
		FailureCount: entity.FailureCount,
		RetryAfter:   time.Duration(entity.RetryAfterMS) * time.Millisecond,
		Reason:       entity.Reason,
		CreatedAt:    entity.CreatedAt,
	}
}

func fromDomainSelfHealAudit(a *model.SelfHealAudit) *SelfHealAuditEntity {
	if a == nil {
		return nil
	}
	return &SelfHealAuditEntity{
		ID:             a.ID,
		BatchID:        a.BatchID,
		PipelineKind:   a.PipelineKind,
		JobName:        a.JobName,
		Action:         string(a.Action),
		HeartbeatAgeMS: a.HeartbeatAge.Milliseconds(),
		ThresholdMS:    a.Threshold.Milliseconds(),
		Detail:         a.Detail,
		CreatedAt:      a.CreatedAt,
	}
}

func toDomainSelfHealAudit(entity *SelfHealAuditEntity) *model.SelfHealAudit {
	if entity == nil {
		return nil
	}
	return &model.SelfHealAudit{
		ID:           entity.ID,
		BatchID:      entity.BatchID,
		PipelineKind: entity.PipelineKind,
		JobName:      entity.JobName,
		Action:       model.SelfHealAction(entity.Action),
		HeartbeatAge: time.Duration(entity.HeartbeatAgeMS) * time.Millisecond,
		Threshold:    time.Duration(entity.ThresholdMS) * time.Millisecond,
		Detail:       entity.Detail,
		CreatedAt:    entity.CreatedAt,
	}
}

func fromDomainPurgeProof(p *model.PurgeProof) *PurgeProofEntity {
	if p == nil {
		return nil
	}
	return &PurgeProofEntity{
		ID:            p.ID,
		PurgedTable:   p.TableName,
		RecordsPurged: p.RecordsPurged,
		CutoffTime:    p.CutoffTime,
		Operator:      p.Operator,
		ArchivePath:   p.ArchivePath,
		CreatedAt:     p.CreatedAt,
	}
}

func toDomainPurgeProof(entity *PurgeProofEntity) *model.PurgeProof {
	if entity == nil {
		return nil
	}
	return &model.PurgeProof{
		ID:            entity.ID,
		TableName:     entity.PurgedTable,
		RecordsPurged: entity.RecordsPurged,
		CutoffTime:    entity.CutoffTime,
		Operator:      entity.Operator,
		ArchivePath:   entity.ArchivePath,
		CreatedAt:     entity.CreatedAt,
	}
}
