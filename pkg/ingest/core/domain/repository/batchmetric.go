package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// ErrBatchMetricNotFound is returned when a batch metric row is not found.
var ErrBatchMetricNotFound = errors.New("batch metric not found")

// BatchMetricRepository persists one row per batch execution instance.
type BatchMetricRepository interface {
	// SaveBatchMetric inserts the metric row for a starting batch.
	SaveBatchMetric(ctx context.Context, metric *model.BatchMetric) error

	// UpdateBatchMetric persists metric mutations with optimistic locking.
	UpdateBatchMetric(ctx context.Context, metric *model.BatchMetric) error

	// HeartbeatBatch advances last_heartbeat_at and records_processed for a
	// running batch. Best-effort, like checkpoint heartbeats.
	HeartbeatBatch(ctx context.Context, batchID string, processed int64) error

	// FindBatchMetric returns a metric row by batch id, or ErrBatchMetricNotFound.
	FindBatchMetric(ctx context.Context, batchID string) (*model.BatchMetric, error)

	// ListRunningBatches returns batches in status running for a pipeline
	// kind, or for all kinds when kind is empty.
	ListRunningBatches(ctx context.Context, kind string) ([]*model.BatchMetric, error)

	// ListBatchesByStatus returns the most recent batches with the given status.
	ListBatchesByStatus(ctx context.Context, status model.BatchStatus, limit int) ([]*model.BatchMetric, error)

	// CompletedBatchDurations returns durations of the most recent completed
	// batches of a pipeline kind, newest first. The stall detector derives its
	// adaptive p95 threshold from these.
	CompletedBatchDurations(ctx context.Context, kind string, limit int) ([]time.Duration, error)
}
