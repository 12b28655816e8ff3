// Package job runs the scheduled ingestion jobs: lease acquisition, the
// page-by-page pull loop with checkpointed cursors, breaker and rate-limit
// gates around every upstream call, and routing of per-record failures to
// the dead letter queue.
package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	breaker "github.com/pagecliff/ingest/pkg/ingest/engine/breaker"
	dlq "github.com/pagecliff/ingest/pkg/ingest/engine/dlq"
	merge "github.com/pagecliff/ingest/pkg/ingest/engine/merge"
	ratelimit "github.com/pagecliff/ingest/pkg/ingest/engine/ratelimit"
	source "github.com/pagecliff/ingest/pkg/ingest/engine/source"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// Runner executes one invocation of one configured job at a time.
type Runner struct {
	cfg      *config.Config
	repo     repository.IngestRepository
	adapters *source.AdapterRegistry
	breakers *breaker.Registry
	limiters *ratelimit.Registry
	gate     *merge.Gate
	queue    *dlq.Queue
	clock    clockwork.Clock
	recorder metrics.MetricRecorder
}

// NewRunner creates a Runner.
func NewRunner(
	cfg *config.Config,
	repo repository.IngestRepository,
	adapters *source.AdapterRegistry,
	breakers *breaker.Registry,
	limiters *ratelimit.Registry,
	gate *merge.Gate,
	queue *dlq.Queue,
	clock clockwork.Clock,
	recorder metrics.MetricRecorder,
) *Runner {
	return &Runner{
		cfg:      cfg,
		repo:     repo,
		adapters: adapters,
		breakers: breakers,
		limiters: limiters,
		gate:     gate,
		queue:    queue,
		clock:    clock,
		recorder: recorder,
	}
}

// Run executes one invocation of the job. A second invocation while the
// lease is held (for example a cron tick firing during a long pull) returns
// nil after logging: overlapping runs are skipped, not errors.
func (r *Runner) Run(ctx context.Context, jobCfg config.JobConfig) error {
	const op = "job.Runner.Run"

	checkpoint, err := r.repo.Acquire(ctx, jobCfg.Name, jobCfg.Kind, r.cfg.StaleLeaseTimeout())
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyRunning) {
			logger.Infof("Job '%s' is already running; skipping this invocation.", jobCfg.Name)
			return nil
		}
		return err
	}

	if checkpoint.PauseRequested() {
		logger.Infof("Job '%s' is paused (by '%s'); releasing lease without running.", jobCfg.Name, checkpoint.PauseRequestedBy)
		return r.repo.Release(ctx, jobCfg.Name)
	}
	if checkpoint.StopRequested() {
		// A stop signal consumed at the next start reverts to run.
		if err := r.repo.SetControl(ctx, jobCfg.Name, model.ControlRun, "runner"); err != nil {
			logger.Warnf("Failed to reset stop signal for job '%s': %v", jobCfg.Name, err)
		}
	}

	adapter, err := r.adapters.Resolve(jobCfg.Source)
	if err != nil {
		releaseErr := r.repo.Release(ctx, jobCfg.Name)
		if releaseErr != nil {
			logger.Errorf("Failed to release lease for job '%s': %v", jobCfg.Name, releaseErr)
		}
		return exception.NewPipelineError(op, fmt.Sprintf("job '%s' has no usable source", jobCfg.Name), err, false, false)
	}

	brk, err := r.breakers.ForJob(ctx, jobCfg.Name, jobCfg.Kind)
	if err != nil {
		releaseErr := r.repo.Release(ctx, jobCfg.Name)
		if releaseErr != nil {
			logger.Errorf("Failed to release lease for job '%s': %v", jobCfg.Name, releaseErr)
		}
		return err
	}
	limiter := r.limiters.ForSource(jobCfg.Source)

	metric := model.NewBatchMetric(jobCfg.Kind, jobCfg.Name)
	if err := r.repo.SaveBatchMetric(ctx, metric); err != nil {
		logger.Warnf("Failed to save batch metric for job '%s': %v", jobCfg.Name, err)
	}
	r.recorder.RecordBatchStart(ctx, metric)
	logger.Infof("Job '%s' started batch %s (cursor: %v).", jobCfg.Name, metric.ID, checkpoint.Cursor)

	runErr := r.pullLoop(ctx, jobCfg, adapter, brk, limiter, checkpoint, metric)

	now := r.clock.Now()
	if runErr != nil {
		metric.Fail(now, exception.ExtractErrorMessage(runErr))
	} else {
		metric.Complete(now)
	}
	if err := r.repo.UpdateBatchMetric(ctx, metric); err != nil {
		logger.Warnf("Failed to finalize batch metric %s: %v", metric.ID, err)
	}
	r.recorder.RecordBatchEnd(ctx, metric)

	if err := r.repo.Release(ctx, jobCfg.Name); err != nil && !errors.Is(err, repository.ErrCheckpointNotFound) {
		logger.Errorf("Failed to release lease for job '%s': %v", jobCfg.Name, err)
	}

	if runErr != nil {
		logger.Errorf("Job '%s' batch %s failed: %v", jobCfg.Name, metric.ID, runErr)
	} else {
		logger.Infof("Job '%s' batch %s completed: %d processed, %d updated, %d errors.",
			jobCfg.Name, metric.ID, checkpoint.Counters.Processed, checkpoint.Counters.Updated, checkpoint.Counters.Errors)
	}
	return runErr
}

// pullLoop pulls pages until the source is exhausted, a control signal
// interrupts or the breaker refuses to admit further calls.
func (r *Runner) pullLoop(
	ctx context.Context,
	jobCfg config.JobConfig,
	adapter source.Adapter,
	brk *breaker.Breaker,
	limiter *ratelimit.Limiter,
	checkpoint *model.Checkpoint,
	metric *model.BatchMetric,
) error {
	const op = "job.Runner.pullLoop"
	cursor := checkpoint.Cursor
	counters := checkpoint.Counters
	pageSize := r.cfg.Ingest.Runner.PageSize

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		signal, err := r.controlSignal(ctx, jobCfg.Name)
		if err != nil {
			logger.Warnf("%s: failed to read control signal for job '%s': %v", op, jobCfg.Name, err)
		} else if signal == model.ControlPause {
			logger.Infof("Job '%s' pausing at page boundary.", jobCfg.Name)
			return nil
		} else if signal == model.ControlStop {
			logger.Infof("Job '%s' stopping on operator signal.", jobCfg.Name)
			return nil
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		var page *source.Page
		err = brk.Execute(ctx, func(callCtx context.Context) error {
			var fetchErr error
			page, fetchErr = adapter.FetchPage(callCtx, cursor, pageSize)
			return fetchErr
		})
		if err != nil {
			if breaker.IsOpen(err) {
				// The circuit opened; the run ends cleanly and resumes from
				// the checkpointed cursor after the recovery timeout.
				logger.Warnf("Job '%s' halting: %v", jobCfg.Name, err)
				return nil
			}
			return exception.NewPipelineError(op, fmt.Sprintf("page fetch failed for job '%s'", jobCfg.Name), err, false, true)
		}

		for i := range page.Records {
			rec := &page.Records[i]
			outcome, recErr := r.gate.Apply(ctx, jobCfg.Source, rec)
			counters.Processed++
			if recErr != nil {
				counters.Errors++
				r.queue.Capture(ctx, dlq.Failure{
					JobKind:    jobCfg.Kind,
					JobName:    jobCfg.Name,
					BatchID:    metric.ID,
					EntityType: rec.EntityType,
					EntityRef:  rec.EntityRef,
					Err:        recErr,
					Request:    rec.Raw,
				})
				continue
			}
			if outcome.Changed {
				counters.Updated++
			}
		}
		metric.RecordsInBatch += int64(len(page.Records))
		metric.RecordsProcessed = counters.Processed
		r.recorder.RecordRecordsProcessed(ctx, jobCfg.Name, len(page.Records))

		// The cursor advances only after the page is fully processed, so a
		// crash mid-page re-pulls that page and upserts stay idempotent.
		cursor = page.NextCursor
		if err := r.repo.Heartbeat(ctx, jobCfg.Name, cursor, counters); err != nil {
			logger.Warnf("%s: checkpoint heartbeat failed for job '%s': %v", op, jobCfg.Name, err)
		}
		if err := r.repo.HeartbeatBatch(ctx, metric.ID, counters.Processed); err != nil {
			logger.Warnf("%s: batch heartbeat failed for batch '%s': %v", op, metric.ID, err)
		}
		checkpoint.Cursor = cursor
		checkpoint.Counters = counters

		if !page.HasMore {
			return nil
		}
	}
}

func (r *Runner) controlSignal(ctx context.Context, jobName string) (model.ControlSignal, error) {
	checkpoint, err := r.repo.Find(ctx, jobName)
	if err != nil {
		return model.ControlRun, err
	}
	return checkpoint.ControlSignal, nil
}
