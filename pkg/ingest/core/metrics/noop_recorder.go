package metrics

import (
	"context"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordBatchStart(ctx context.Context, metric *model.BatchMetric) {}
func (r *NoOpMetricRecorder) RecordBatchEnd(ctx context.Context, metric *model.BatchMetric)   {}
func (r *NoOpMetricRecorder) RecordRecordsProcessed(ctx context.Context, jobName string, count int) {
}
func (r *NoOpMetricRecorder) RecordBreakerTransition(ctx context.Context, jobName string, from, to model.BreakerState) {
}
func (r *NoOpMetricRecorder) RecordCallRejected(ctx context.Context, jobName string, reason string) {
}
func (r *NoOpMetricRecorder) RecordDeadLetter(ctx context.Context, jobName string, errorType string) {
}
func (r *NoOpMetricRecorder) RecordQuarantine(ctx context.Context, entityType string, reason model.QuarantineReason) {
}
func (r *NoOpMetricRecorder) RecordSelfHeal(ctx context.Context, jobName string, action model.SelfHealAction) {
}
func (r *NoOpMetricRecorder) RecordPurge(ctx context.Context, tableName string, purged int64) {}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)
