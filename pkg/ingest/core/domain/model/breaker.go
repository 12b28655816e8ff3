package model

import (
	"fmt"
	"time"
)

// BreakerState is the state of a per-job circuit breaker.
type BreakerState string

const (
	// BreakerClosed passes calls through and counts consecutive failures.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects calls without any I/O until the reopen deadline.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen admits exactly one trial call.
	BreakerHalfOpen BreakerState = "half_open"
)

// CallOutcome is the observed result of one guarded external call.
type CallOutcome int

const (
	// OutcomeSuccess marks a guarded call that completed normally.
	OutcomeSuccess CallOutcome = iota
	// OutcomeFailure marks a guarded call that failed.
	OutcomeFailure
)

// BreakerSettings are the tunables of the breaker state machine. They are
// configured per job kind: lenient for best-effort matching jobs, strict for
// quota-critical sync jobs.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is the base wait before an open circuit admits a trial call.
	RecoveryTimeout time.Duration
	// MaxBackoffMultiplier caps the power-of-two backoff multiplier.
	MaxBackoffMultiplier int
	// ErrorRateThreshold, when > 0, additionally opens the circuit once the
	// rolling error rate over ErrorRateWindow outcomes exceeds it, even below
	// the consecutive-failure count.
	ErrorRateThreshold float64
	// ErrorRateWindow is the fixed number of most recent outcomes considered
	// by the error-rate mode. The window is bounded; outcomes older than the
	// window never contribute.
	ErrorRateWindow int
	// RetryableErrors lists pipeline error type names that count as breaker
	// failures even when the error itself is flagged non-retryable. Errors
	// outside the list that carry a non-retryable pipeline error are data
	// problems, not upstream outages, and do not move the breaker.
	RetryableErrors []string
}

// DefaultBreakerSettings returns the settings used when a job kind has no
// explicit breaker configuration.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold:     5,
		RecoveryTimeout:      60 * time.Second,
		MaxBackoffMultiplier: 16,
		ErrorRateWindow:      20,
	}
}

// Validate checks settings invariants.
func (s BreakerSettings) Validate() error {
	if s.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive, got %d", s.FailureThreshold)
	}
	if s.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker recovery timeout must be positive, got %s", s.RecoveryTimeout)
	}
	if s.MaxBackoffMultiplier < 1 {
		return fmt.Errorf("breaker max backoff multiplier must be >= 1, got %d", s.MaxBackoffMultiplier)
	}
	if s.ErrorRateThreshold < 0 || s.ErrorRateThreshold > 1 {
		return fmt.Errorf("breaker error rate threshold must be within [0,1], got %f", s.ErrorRateThreshold)
	}
	return nil
}

// BreakerSnapshot is the persistable state of a per-job circuit breaker. It
// is embedded in the job's checkpoint row, persisted after every call and
// restored before the first call on process start, so restarts do not reset
// backoff.
//
// Transitions are modeled as pure functions on the snapshot (Admit, Record)
// so the job's own call path and the self-healer never race on shared
// mutable breaker state.
type BreakerSnapshot struct {
	State             BreakerState `json:"state"`
	FailureCount      int          `json:"failure_count"`
	SuccessCount      int          `json:"success_count"`
	BackoffMultiplier int          `json:"backoff_multiplier"`
	LastFailureAt     *time.Time   `json:"last_failure_at,omitempty"`
	OpenedAt          *time.Time   `json:"opened_at,omitempty"`
}

// NewBreakerSnapshot returns the snapshot of a fresh closed breaker.
func NewBreakerSnapshot() BreakerSnapshot {
	return BreakerSnapshot{
		State:             BreakerClosed,
		BackoffMultiplier: 1,
	}
}

// Normalize repairs a snapshot restored from storage: an unknown state or a
// zero multiplier (rows written before the column existed) degrade to a
// fresh closed breaker rather than poisoning the state machine.
//
// A restored HALF_OPEN snapshot degrades to OPEN: the process that admitted
// the trial died mid-call, and since Admit rejects everything while a trial
// is in flight, passing the state through would reject every call forever.
// Reverting to OPEN lets the reopen deadline admit a fresh trial.
func (b BreakerSnapshot) Normalize() BreakerSnapshot {
	switch b.State {
	case BreakerClosed, BreakerOpen:
	case BreakerHalfOpen:
		if b.OpenedAt == nil {
			return NewBreakerSnapshot()
		}
		b.State = BreakerOpen
	default:
		return NewBreakerSnapshot()
	}
	if b.BackoffMultiplier < 1 {
		b.BackoffMultiplier = 1
	}
	return b
}

// ReopenDeadline returns the time at which an open circuit admits its next
// trial call: opened_at + recovery_timeout x backoff_multiplier.
func (b BreakerSnapshot) ReopenDeadline(settings BreakerSettings) time.Time {
	if b.OpenedAt == nil {
		return time.Time{}
	}
	return b.OpenedAt.Add(settings.RecoveryTimeout * time.Duration(b.BackoffMultiplier))
}

// Admit decides whether a call may proceed at `now` and returns the snapshot
// after the admission decision. When an open circuit's reopen deadline has
// passed, the returned snapshot is HALF_OPEN and the call is admitted as the
// single trial.
func (b BreakerSnapshot) Admit(now time.Time, settings BreakerSettings) (BreakerSnapshot, bool) {
	switch b.State {
	case BreakerClosed:
		return b, true
	case BreakerOpen:
		if b.OpenedAt != nil && !now.Before(b.ReopenDeadline(settings)) {
			next := b
			next.State = BreakerHalfOpen
			return next, true
		}
		return b, false
	case BreakerHalfOpen:
		// The single trial is already in flight; concurrent callers are rejected.
		return b, false
	}
	return b, false
}

// Record folds one call outcome into the snapshot at `now` and returns the
// next snapshot.
//
// CLOSED: failures increment the consecutive counter; reaching the threshold
// opens the circuit and stamps opened_at. A success resets the counter.
// HALF_OPEN: success closes the circuit and resets counter and multiplier;
// failure reopens it with the multiplier doubled, capped at the configured
// maximum.
func (b BreakerSnapshot) Record(outcome CallOutcome, now time.Time, settings BreakerSettings) BreakerSnapshot {
	next := b
	switch b.State {
	case BreakerClosed:
		if outcome == OutcomeSuccess {
			next.FailureCount = 0
			next.SuccessCount++
			return next
		}
		next.FailureCount++
		t := now
		next.LastFailureAt = &t
		if next.FailureCount >= settings.FailureThreshold {
			next = next.open(now, settings)
		}
		return next

	case BreakerHalfOpen:
		if outcome == OutcomeSuccess {
			next.State = BreakerClosed
			next.FailureCount = 0
			next.SuccessCount++
			next.BackoffMultiplier = 1
			next.OpenedAt = nil
			return next
		}
		t := now
		next.LastFailureAt = &t
		next.BackoffMultiplier = capMultiplier(next.BackoffMultiplier*2, settings.MaxBackoffMultiplier)
		opened := now
		next.State = BreakerOpen
		next.OpenedAt = &opened
		return next

	case BreakerOpen:
		// Outcomes never reach an open breaker; keep the snapshot unchanged.
		return next
	}
	return next
}

// Trip forces the circuit open at `now` regardless of counters. Used by the
// error-rate mode once the rolling error rate exceeds its threshold.
func (b BreakerSnapshot) Trip(now time.Time, settings BreakerSettings) BreakerSnapshot {
	if b.State == BreakerOpen {
		return b
	}
	return b.open(now, settings)
}

func (b BreakerSnapshot) open(now time.Time, settings BreakerSettings) BreakerSnapshot {
	next := b
	next.State = BreakerOpen
	opened := now
	next.OpenedAt = &opened
	if next.BackoffMultiplier < 1 {
		next.BackoffMultiplier = 1
	}
	next.BackoffMultiplier = capMultiplier(next.BackoffMultiplier, settings.MaxBackoffMultiplier)
	return next
}

func capMultiplier(m, max int) int {
	if max >= 1 && m > max {
		return max
	}
	if m < 1 {
		return 1
	}
	return m
}
