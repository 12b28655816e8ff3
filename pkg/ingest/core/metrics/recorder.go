package metrics

import (
	"context"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// MetricRecorder is an abstract interface for recording operational metrics
// of the ingestion engine. It decouples the engine components from the
// metrics backend.
type MetricRecorder interface {
	// RecordBatchStart records the start of a batch execution.
	RecordBatchStart(ctx context.Context, metric *model.BatchMetric)

	// RecordBatchEnd records the terminal status and duration of a batch
	// execution.
	RecordBatchEnd(ctx context.Context, metric *model.BatchMetric)

	// RecordRecordsProcessed adds to the per-job processed record counter.
	RecordRecordsProcessed(ctx context.Context, jobName string, count int)

	// RecordBreakerTransition records one circuit-breaker state transition.
	RecordBreakerTransition(ctx context.Context, jobName string, from, to model.BreakerState)

	// RecordCallRejected counts a call rejected by an open breaker or a
	// rate-limit timeout.
	RecordCallRejected(ctx context.Context, jobName string, reason string)

	// RecordDeadLetter counts a unit of work routed to the dead letter queue.
	RecordDeadLetter(ctx context.Context, jobName string, errorType string)

	// RecordQuarantine counts a record routed to quarantine.
	RecordQuarantine(ctx context.Context, entityType string, reason model.QuarantineReason)

	// RecordSelfHeal counts a self-heal intervention.
	RecordSelfHeal(ctx context.Context, jobName string, action model.SelfHealAction)

	// RecordPurge records the outcome of one retention sweep of one table.
	RecordPurge(ctx context.Context, tableName string, purged int64)

	// RecordDuration records the execution time of a named operation.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
