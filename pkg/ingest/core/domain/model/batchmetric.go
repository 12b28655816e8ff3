package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the lifecycle status of one batch execution instance.
type BatchStatus string

const (
	// BatchRunning marks a batch currently processing and heartbeating.
	BatchRunning BatchStatus = "running"
	// BatchCompleted marks a batch that finished normally.
	BatchCompleted BatchStatus = "completed"
	// BatchStalled marks a batch whose heartbeat went silent past its threshold.
	BatchStalled BatchStatus = "stalled"
	// BatchSelfHealed marks a stalled batch whose lease was cleared by the
	// self-healer; the next scheduled invocation resumes from the cursor.
	BatchSelfHealed BatchStatus = "self_healed"
	// BatchFailed marks a batch abandoned after exhausting self-heal attempts
	// or aborted by an unrecoverable error.
	BatchFailed BatchStatus = "failed"
)

// ParseBatchStatus validates a batch status string.
func ParseBatchStatus(s string) (BatchStatus, error) {
	switch BatchStatus(s) {
	case BatchRunning, BatchCompleted, BatchStalled, BatchSelfHealed, BatchFailed:
		return BatchStatus(s), nil
	}
	return "", fmt.Errorf("unknown batch status: %q", s)
}

// BatchMetric is one row per execution instance (batch) of a pipeline kind.
// It is created when the batch starts, advanced by heartbeats, and closed by
// completion or by the self-healer.
type BatchMetric struct {
	ID               string
	PipelineKind     string
	JobName          string
	StartedAt        time.Time
	CompletedAt      *time.Time
	LastHeartbeatAt  time.Time
	RecordsInBatch   int64
	RecordsProcessed int64
	Status           BatchStatus
	// SelfHealCount bounds wasted work on an unrecoverable batch: past
	// MaxSelfHealAttempts the detector stops intervening.
	SelfHealCount int
	ErrorMessage  string
	Version       int
}

// NewBatchMetric opens a metric row for a starting batch.
func NewBatchMetric(pipelineKind, jobName string) *BatchMetric {
	now := time.Now()
	return &BatchMetric{
		ID:              uuid.New().String(),
		PipelineKind:    pipelineKind,
		JobName:         jobName,
		StartedAt:       now,
		LastHeartbeatAt: now,
		Status:          BatchRunning,
	}
}

// HeartbeatAge returns how long ago the batch last heartbeat.
func (m *BatchMetric) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(m.LastHeartbeatAt)
}

// Duration returns the batch's wall-clock duration, up to `now` for a batch
// still running.
func (m *BatchMetric) Duration(now time.Time) time.Duration {
	if m.CompletedAt != nil {
		return m.CompletedAt.Sub(m.StartedAt)
	}
	return now.Sub(m.StartedAt)
}

// Complete closes the metric row as successfully finished.
func (m *BatchMetric) Complete(now time.Time) {
	m.Status = BatchCompleted
	t := now
	m.CompletedAt = &t
	m.LastHeartbeatAt = now
}

// Fail closes the metric row as failed with the given reason.
func (m *BatchMetric) Fail(now time.Time, reason string) {
	m.Status = BatchFailed
	t := now
	m.CompletedAt = &t
	m.ErrorMessage = reason
}
