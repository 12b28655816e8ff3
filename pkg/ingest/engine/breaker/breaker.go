// Package breaker guards external calls with per-job circuit breakers. The
// state machine itself lives on the persistable snapshot in the domain model;
// this package adds the runtime shell: locking, the rolling error-rate
// window, persistence of snapshots into the job's checkpoint and the audit
// trail of transitions.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// OpenError is returned when the circuit rejects a call without performing
// any I/O.
type OpenError struct {
	JobName    string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for job '%s', retry after %s", e.JobName, e.RetryAfter)
}

// IsOpen reports whether err is a circuit rejection.
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

// Breaker is the runtime circuit breaker of one job. All methods are safe
// for concurrent use; the snapshot is persisted after every state change so
// a restart resumes with the same backoff.
type Breaker struct {
	jobName  string
	settings model.BreakerSettings
	clock    clockwork.Clock
	repo     repository.CheckpointRepository
	audits   repository.AuditRepository
	recorder metrics.MetricRecorder

	mu       sync.Mutex
	snapshot model.BreakerSnapshot
	// window is a fixed ring of the most recent call outcomes, used only by
	// the error-rate mode. It is runtime state: a restart starts it empty.
	window    []model.CallOutcome
	windowPos int
	windowLen int
}

// New creates a Breaker resuming from a restored snapshot.
func New(
	jobName string,
	settings model.BreakerSettings,
	restored model.BreakerSnapshot,
	clock clockwork.Clock,
	repo repository.CheckpointRepository,
	audits repository.AuditRepository,
	recorder metrics.MetricRecorder,
) *Breaker {
	b := &Breaker{
		jobName:  jobName,
		settings: settings,
		clock:    clock,
		repo:     repo,
		audits:   audits,
		recorder: recorder,
		snapshot: restored.Normalize(),
	}
	if settings.ErrorRateThreshold > 0 && settings.ErrorRateWindow > 0 {
		b.window = make([]model.CallOutcome, settings.ErrorRateWindow)
	}
	return b
}

// Allow decides whether a guarded call may proceed. A rejection returns an
// OpenError carrying the remaining wait; no I/O has happened in that case.
func (b *Breaker) Allow(ctx context.Context) error {
	b.mu.Lock()
	now := b.clock.Now()
	prev := b.snapshot
	next, admitted := b.snapshot.Admit(now, b.settings)
	b.snapshot = next
	b.mu.Unlock()

	if prev.State != next.State {
		b.onTransition(ctx, prev, next, "reopen deadline passed, admitting trial call")
	}
	if !admitted {
		retryAfter := time.Duration(0)
		if next.State == model.BreakerOpen {
			retryAfter = next.ReopenDeadline(b.settings).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		b.recorder.RecordCallRejected(ctx, b.jobName, "breaker_open")
		return &OpenError{JobName: b.jobName, RetryAfter: retryAfter}
	}
	return nil
}

// Record folds the outcome of one admitted call into the breaker. Errors
// classified as data problems rather than upstream outages do not count as
// failures; see countsAsFailure.
func (b *Breaker) Record(ctx context.Context, callErr error) {
	outcome := model.OutcomeSuccess
	if callErr != nil && b.countsAsFailure(callErr) {
		outcome = model.OutcomeFailure
	}

	b.mu.Lock()
	now := b.clock.Now()
	prev := b.snapshot
	next := b.snapshot.Record(outcome, now, b.settings)

	reason := ""
	if next.State == model.BreakerClosed {
		b.pushOutcome(outcome)
		if rate, full := b.errorRate(); full && b.settings.ErrorRateThreshold > 0 && rate >= b.settings.ErrorRateThreshold {
			next = next.Trip(now, b.settings)
			reason = fmt.Sprintf("error rate %.2f over last %d calls exceeded threshold %.2f", rate, b.settings.ErrorRateWindow, b.settings.ErrorRateThreshold)
		}
	}
	b.snapshot = next
	b.mu.Unlock()

	if prev.State != next.State {
		if reason == "" {
			reason = transitionReason(prev, next, callErr, b.settings)
		}
		b.onTransition(ctx, prev, next, reason)
	} else if prev != next {
		b.persist(ctx, next)
	}
}

// Execute runs fn under the breaker: it asks for admission, invokes fn only
// when admitted and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(ctx, err)
	return err
}

// Snapshot returns the current breaker snapshot.
func (b *Breaker) Snapshot() model.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

// countsAsFailure decides whether callErr moves the breaker. A pipeline
// error flagged non-retryable is a data problem: tripping on it would block
// healthy upstream calls over a bad record. Configuration can override that
// per error type via the runner's retryable error list. Anything else,
// including plain errors of unknown origin, counts.
func (b *Breaker) countsAsFailure(callErr error) bool {
	var pipelineErr *exception.PipelineError
	if !errors.As(callErr, &pipelineErr) || pipelineErr.IsRetryable() {
		return true
	}
	for _, name := range b.settings.RetryableErrors {
		if exception.IsErrorOfType(callErr, name) {
			return true
		}
	}
	return false
}

// pushOutcome appends one outcome to the rolling window. Caller holds b.mu.
func (b *Breaker) pushOutcome(outcome model.CallOutcome) {
	if len(b.window) == 0 {
		return
	}
	b.window[b.windowPos] = outcome
	b.windowPos = (b.windowPos + 1) % len(b.window)
	if b.windowLen < len(b.window) {
		b.windowLen++
	}
}

// errorRate returns the error rate over the window and whether the window
// has filled. Caller holds b.mu.
func (b *Breaker) errorRate() (float64, bool) {
	if len(b.window) == 0 || b.windowLen < len(b.window) {
		return 0, false
	}
	failures := 0
	for _, o := range b.window {
		if o == model.OutcomeFailure {
			failures++
		}
	}
	return float64(failures) / float64(len(b.window)), true
}

// onTransition persists the snapshot, appends the audit row and records the
// metric for one state change. Audit failures are logged, never propagated.
func (b *Breaker) onTransition(ctx context.Context, prev, next model.BreakerSnapshot, reason string) {
	logger.Infof("Breaker for job '%s': %s -> %s (%s)", b.jobName, prev.State, next.State, reason)
	b.recorder.RecordBreakerTransition(ctx, b.jobName, prev.State, next.State)
	b.persist(ctx, next)

	retryAfter := time.Duration(0)
	if next.State == model.BreakerOpen {
		retryAfter = next.ReopenDeadline(b.settings).Sub(b.clock.Now())
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	audit := model.NewBreakerAudit(b.jobName, prev.State, next.State, next.FailureCount, retryAfter, reason)
	if err := b.audits.AppendBreakerAudit(ctx, audit); err != nil {
		logger.Warnf("Failed to append breaker audit for job '%s': %v", b.jobName, err)
	}
}

func (b *Breaker) persist(ctx context.Context, snapshot model.BreakerSnapshot) {
	if err := b.repo.SaveBreaker(ctx, b.jobName, snapshot); err != nil {
		// A missing checkpoint row only happens before the job's first
		// acquire; the snapshot is persisted with the next state change.
		logger.Warnf("Failed to persist breaker snapshot for job '%s': %v", b.jobName, err)
	}
}

func transitionReason(prev, next model.BreakerSnapshot, callErr error, settings model.BreakerSettings) string {
	switch {
	case next.State == model.BreakerOpen && prev.State == model.BreakerClosed:
		return fmt.Sprintf("%d consecutive failures reached threshold %d", next.FailureCount, settings.FailureThreshold)
	case next.State == model.BreakerOpen && prev.State == model.BreakerHalfOpen:
		return fmt.Sprintf("trial call failed: %v", callErr)
	case next.State == model.BreakerClosed:
		return "trial call succeeded"
	}
	return "state change"
}
