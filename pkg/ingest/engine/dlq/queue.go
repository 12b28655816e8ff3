// Package dlq implements the dead letter queue: capture of individually
// failed units of work, the scheduled retry sweep with exponential backoff
// and the explicit operator resolutions.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// Replayer re-executes the unit of work captured in a dead letter entry.
// The job engine registers the concrete implementation.
type Replayer interface {
	Replay(ctx context.Context, entry *model.DeadLetterEntry) error
}

// Failure describes one failed unit of work at capture time.
type Failure struct {
	JobKind    string
	JobName    string
	BatchID    string
	EntityType string
	EntityRef  string
	Err        error
	// Request and Response are sanitized snapshots of the failing exchange.
	// Callers must strip credentials before handing them over.
	Request  model.SnapshotMap
	Response model.SnapshotMap
}

// Queue is the dead letter queue service.
type Queue struct {
	repo     repository.IngestRepository
	cfg      *config.Config
	clock    clockwork.Clock
	recorder metrics.MetricRecorder

	replayer Replayer
}

// NewQueue creates a Queue. The replayer is attached later by the job
// engine via SetReplayer.
func NewQueue(repo repository.IngestRepository, cfg *config.Config, clock clockwork.Clock, recorder metrics.MetricRecorder) *Queue {
	return &Queue{
		repo:     repo,
		cfg:      cfg,
		clock:    clock,
		recorder: recorder,
	}
}

// SetReplayer attaches the replay implementation. Until one is attached,
// claimed entries are rescheduled instead of replayed.
func (q *Queue) SetReplayer(r Replayer) {
	q.replayer = r
}

// Capture persists one failed unit of work as a pending dead letter entry
// with its first retry already scheduled. Capture must never fail the batch:
// on persistence errors it logs and drops the entry.
func (q *Queue) Capture(ctx context.Context, f Failure) *model.DeadLetterEntry {
	now := q.clock.Now()
	entry := model.NewDeadLetterEntry(f.JobKind, f.JobName, f.BatchID, f.EntityType, f.EntityRef, q.cfg.Ingest.DLQ.MaxRetries)
	entry.ErrorType = errorTypeName(f.Err)
	entry.ErrorMessage = exception.ExtractErrorMessage(f.Err)
	entry.ErrorTrace = errorTrace(f.Err)
	entry.Request = f.Request
	entry.Response = f.Response
	entry.ScheduleRetry(now.Add(q.retryDelay(0)))

	if err := q.repo.SaveDeadLetter(ctx, entry); err != nil {
		logger.Errorf("Failed to capture dead letter for %s '%s': %v", f.EntityType, f.EntityRef, err)
		return nil
	}
	q.recorder.RecordDeadLetter(ctx, f.JobName, entry.ErrorType)
	logger.Infof("Captured dead letter %s for %s '%s' (job '%s'): %s", entry.ID, f.EntityType, f.EntityRef, f.JobName, entry.ErrorMessage)
	return entry
}

// Sweep claims due pending entries and replays each one. Failed replays are
// rescheduled with exponential backoff until retries are exhausted, then
// abandoned. The sweep aggregates per-entry errors and keeps going.
func (q *Queue) Sweep(ctx context.Context) error {
	now := q.clock.Now()
	claimed, err := q.repo.ClaimDueDeadLetters(ctx, now, q.cfg.Ingest.DLQ.ClaimBatchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}
	logger.Infof("DLQ sweep claimed %d due entries.", len(claimed))

	var merr *multierror.Error
	for _, entry := range claimed {
		if err := q.retryOne(ctx, entry); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("entry %s: %w", entry.ID, err))
		}
	}
	return merr.ErrorOrNil()
}

// retryOne replays one claimed entry and persists the outcome.
func (q *Queue) retryOne(ctx context.Context, entry *model.DeadLetterEntry) error {
	now := q.clock.Now()

	var replayErr error
	if q.replayer == nil {
		replayErr = fmt.Errorf("no replayer registered")
	} else {
		replayErr = q.replayer.Replay(ctx, entry)
	}

	if replayErr == nil {
		entry.Resolve(now, "dlq-scheduler", "replayed successfully")
		logger.Infof("Dead letter %s resolved by scheduled replay.", entry.ID)
		return q.repo.UpdateDeadLetter(ctx, entry)
	}

	entry.RetryCount++
	entry.ErrorMessage = exception.ExtractErrorMessage(replayErr)
	if entry.RetriesExhausted() {
		entry.Abandon(now, "dlq-scheduler", fmt.Sprintf("retries exhausted after %d attempts", entry.RetryCount))
		logger.Warnf("Dead letter %s abandoned after %d attempts: %v", entry.ID, entry.RetryCount, replayErr)
	} else {
		entry.ScheduleRetry(now.Add(q.retryDelay(entry.RetryCount)))
		logger.Infof("Dead letter %s retry %d/%d failed, next attempt at %s: %v",
			entry.ID, entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.Format(time.RFC3339), replayErr)
	}
	return q.repo.UpdateDeadLetter(ctx, entry)
}

// Replay re-executes one entry immediately on operator request, regardless
// of its schedule. Terminal entries are rejected.
func (q *Queue) Replay(ctx context.Context, id, actor string) error {
	entry, err := q.repo.FindDeadLetter(ctx, id)
	if err != nil {
		return err
	}
	if entry.Terminal() {
		return fmt.Errorf("dead letter %s is already %s", id, entry.Status)
	}
	if q.replayer == nil {
		return fmt.Errorf("no replayer registered")
	}

	now := q.clock.Now()
	if replayErr := q.replayer.Replay(ctx, entry); replayErr != nil {
		entry.RetryCount++
		entry.ErrorMessage = exception.ExtractErrorMessage(replayErr)
		if entry.RetriesExhausted() {
			entry.Abandon(now, actor, fmt.Sprintf("manual replay failed, retries exhausted: %v", replayErr))
		} else {
			entry.Status = model.DeadLetterPending
			entry.ScheduleRetry(now.Add(q.retryDelay(entry.RetryCount)))
		}
		if err := q.repo.UpdateDeadLetter(ctx, entry); err != nil {
			return err
		}
		return fmt.Errorf("replay of dead letter %s failed: %w", id, replayErr)
	}

	entry.Resolve(now, actor, "replayed manually")
	return q.repo.UpdateDeadLetter(ctx, entry)
}

// Resolve marks an entry resolved without replaying it.
func (q *Queue) Resolve(ctx context.Context, id, actor, note string) error {
	entry, err := q.repo.FindDeadLetter(ctx, id)
	if err != nil {
		return err
	}
	if entry.Terminal() {
		return fmt.Errorf("dead letter %s is already %s", id, entry.Status)
	}
	entry.Resolve(q.clock.Now(), actor, note)
	return q.repo.UpdateDeadLetter(ctx, entry)
}

// Abandon marks an entry abandoned.
func (q *Queue) Abandon(ctx context.Context, id, actor, note string) error {
	entry, err := q.repo.FindDeadLetter(ctx, id)
	if err != nil {
		return err
	}
	if entry.Terminal() {
		return fmt.Errorf("dead letter %s is already %s", id, entry.Status)
	}
	entry.Abandon(q.clock.Now(), actor, note)
	return q.repo.UpdateDeadLetter(ctx, entry)
}

// retryDelay derives the backoff before attempt retryCount+1 from the
// configured exponential schedule.
func (q *Queue) retryDelay(retryCount int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(q.cfg.Ingest.DLQ.InitialBackoffSeconds) * time.Second
	bo.MaxInterval = time.Duration(q.cfg.Ingest.DLQ.MaxBackoffSeconds) * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	bo.Reset()

	delay := bo.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

func errorTypeName(err error) string {
	if err == nil {
		return ""
	}
	var perr *exception.PipelineError
	if errors.As(err, &perr) {
		return perr.Module
	}
	return fmt.Sprintf("%T", err)
}

func errorTrace(err error) string {
	var perr *exception.PipelineError
	if errors.As(err, &perr) {
		return perr.StackTrace
	}
	return ""
}
