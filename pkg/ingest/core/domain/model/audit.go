package model

import (
	"time"

	"github.com/google/uuid"
)

// BreakerAudit is one append-only row per circuit breaker transition,
// recorded for operational visibility. Audit writes are best-effort: a
// failed append is logged but never blocks the guarded call path.
type BreakerAudit struct {
	ID           string
	JobName      string
	FromState    BreakerState
	ToState      BreakerState
	FailureCount int
	// RetryAfter is the computed wait until the next trial call, zero unless
	// the transition opened the circuit.
	RetryAfter time.Duration
	Reason     string
	CreatedAt  time.Time
}

// NewBreakerAudit records one breaker transition.
func NewBreakerAudit(jobName string, from, to BreakerState, failureCount int, retryAfter time.Duration, reason string) *BreakerAudit {
	return &BreakerAudit{
		ID:           uuid.New().String(),
		JobName:      jobName,
		FromState:    from,
		ToState:      to,
		FailureCount: failureCount,
		RetryAfter:   retryAfter,
		Reason:       reason,
		CreatedAt:    time.Now(),
	}
}

// SelfHealAction classifies a self-heal audit row.
type SelfHealAction string

const (
	// SelfHealLeaseCleared marks a stale lease cleared so the job can resume.
	SelfHealLeaseCleared SelfHealAction = "lease_cleared"
	// SelfHealGaveUp marks a batch left hard-failed after exhausting attempts.
	SelfHealGaveUp SelfHealAction = "gave_up"
	// SelfHealOrphanFinalized marks a crashed batch closed out while a live
	// successor holds the job's lease; the lease itself was left untouched.
	SelfHealOrphanFinalized SelfHealAction = "orphan_finalized"
)

// SelfHealAudit is one append-only row per self-heal intervention.
type SelfHealAudit struct {
	ID           string
	BatchID      string
	PipelineKind string
	JobName      string
	Action       SelfHealAction
	// HeartbeatAge is how silent the batch had gone when the sweep flagged it.
	HeartbeatAge time.Duration
	// Threshold is the adaptive threshold in effect for the pipeline kind.
	Threshold time.Duration
	Detail    string
	CreatedAt time.Time
}

// NewSelfHealAudit records one self-heal intervention.
func NewSelfHealAudit(batchID, pipelineKind, jobName string, action SelfHealAction, heartbeatAge, threshold time.Duration, detail string) *SelfHealAudit {
	return &SelfHealAudit{
		ID:           uuid.New().String(),
		BatchID:      batchID,
		PipelineKind: pipelineKind,
		JobName:      jobName,
		Action:       action,
		HeartbeatAge: heartbeatAge,
		Threshold:    threshold,
		Detail:       detail,
		CreatedAt:    time.Now(),
	}
}
