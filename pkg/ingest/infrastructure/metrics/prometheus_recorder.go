package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	logger "github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	batchDurationSeconds *prometheus.HistogramVec
	batchStatusCounter   *prometheus.CounterVec
	recordsProcessed     *prometheus.CounterVec

	breakerTransitions *prometheus.CounterVec
	callsRejected      *prometheus.CounterVec

	deadLetters     *prometheus.CounterVec
	quarantined     *prometheus.CounterVec
	selfHeals       *prometheus.CounterVec
	retentionPurged *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		batchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_batch_duration_seconds",
			Help:    "Duration of batch executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline_kind", "job_name", "status"}),
		batchStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_batch_status_total",
			Help: "Total number of batch executions by terminal status.",
		}, []string{"pipeline_kind", "job_name", "status"}),
		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_records_processed_total",
			Help: "Total records processed by job.",
		}, []string{"job_name"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_breaker_transitions_total",
			Help: "Total circuit breaker state transitions by job.",
		}, []string{"job_name", "from", "to"}),
		callsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_calls_rejected_total",
			Help: "Total calls rejected by an open breaker or a rate limit timeout.",
		}, []string{"job_name", "reason"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_dead_letters_total",
			Help: "Total units of work routed to the dead letter queue.",
		}, []string{"job_name", "error_type"}),
		quarantined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_quarantined_total",
			Help: "Total records routed to quarantine by reason.",
		}, []string{"entity_type", "reason"}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_self_heals_total",
			Help: "Total self-heal interventions by action.",
		}, []string{"job_name", "action"}),
		retentionPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_retention_purged_rows_total",
			Help: "Total telemetry rows purged by retention sweeps.",
		}, []string{"table"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_operation_duration_seconds",
			Help:    "Duration of named internal operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(r.batchDurationSeconds)
	registry.MustRegister(r.batchStatusCounter)
	registry.MustRegister(r.recordsProcessed)
	registry.MustRegister(r.breakerTransitions)
	registry.MustRegister(r.callsRejected)
	registry.MustRegister(r.deadLetters)
	registry.MustRegister(r.quarantined)
	registry.MustRegister(r.selfHeals)
	registry.MustRegister(r.retentionPurged)
	registry.MustRegister(r.operationDuration)

	return r
}

// GetRegistry returns the Prometheus registry for the exposition handler.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordBatchStart records the start of a batch execution.
func (r *PrometheusRecorder) RecordBatchStart(ctx context.Context, metric *model.BatchMetric) {
	logger.Debugf("Metrics: Batch '%s' started for job '%s'.", metric.ID, metric.JobName)
}

// RecordBatchEnd records the terminal status and duration of a batch execution.
func (r *PrometheusRecorder) RecordBatchEnd(ctx context.Context, metric *model.BatchMetric) {
	r.batchStatusCounter.WithLabelValues(metric.PipelineKind, metric.JobName, string(metric.Status)).Inc()
	if metric.CompletedAt == nil {
		return
	}
	duration := metric.CompletedAt.Sub(metric.StartedAt).Seconds()
	r.batchDurationSeconds.WithLabelValues(metric.PipelineKind, metric.JobName, string(metric.Status)).Observe(duration)
	logger.Debugf("Metrics: Batch '%s' ended with status '%s'. Duration: %.3fs", metric.ID, metric.Status, duration)
}

// RecordRecordsProcessed adds to the per-job processed record counter.
func (r *PrometheusRecorder) RecordRecordsProcessed(ctx context.Context, jobName string, count int) {
	if count <= 0 {
		return
	}
	r.recordsProcessed.WithLabelValues(jobName).Add(float64(count))
}

// RecordBreakerTransition records one circuit-breaker state transition.
func (r *PrometheusRecorder) RecordBreakerTransition(ctx context.Context, jobName string, from, to model.BreakerState) {
	r.breakerTransitions.WithLabelValues(jobName, string(from), string(to)).Inc()
}

// RecordCallRejected counts a rejected call.
func (r *PrometheusRecorder) RecordCallRejected(ctx context.Context, jobName string, reason string) {
	r.callsRejected.WithLabelValues(jobName, reason).Inc()
}

// RecordDeadLetter counts a unit of work routed to the dead letter queue.
func (r *PrometheusRecorder) RecordDeadLetter(ctx context.Context, jobName string, errorType string) {
	r.deadLetters.WithLabelValues(jobName, errorType).Inc()
}

// RecordQuarantine counts a record routed to quarantine.
func (r *PrometheusRecorder) RecordQuarantine(ctx context.Context, entityType string, reason model.QuarantineReason) {
	r.quarantined.WithLabelValues(entityType, string(reason)).Inc()
}

// RecordSelfHeal counts a self-heal intervention.
func (r *PrometheusRecorder) RecordSelfHeal(ctx context.Context, jobName string, action model.SelfHealAction) {
	r.selfHeals.WithLabelValues(jobName, string(action)).Inc()
}

// RecordPurge records the outcome of one retention sweep of one table.
func (r *PrometheusRecorder) RecordPurge(ctx context.Context, tableName string, purged int64) {
	if purged <= 0 {
		return
	}
	r.retentionPurged.WithLabelValues(tableName).Add(float64(purged))
}

// RecordDuration records the execution time of a named operation.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDuration.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
