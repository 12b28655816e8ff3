// Package model defines the domain model of the ingestion engine: job
// checkpoints, circuit breaker state, batch metrics, dead letter entries,
// quarantine entries, field provenance, and retention bookkeeping.
package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/pagecliff/ingest/pkg/ingest/support/util/serialization"
)

// ControlSignal is the admin-set control state of a job.
type ControlSignal string

const (
	// ControlRun lets the job execute normally.
	ControlRun ControlSignal = "run"
	// ControlPause asks the job to stop cleanly at its next checkpoint
	// boundary, preserving the cursor.
	ControlPause ControlSignal = "pause"
	// ControlStop clears the lease immediately so a scheduler may restart the
	// job on its next invocation, still resuming from the persisted cursor.
	ControlStop ControlSignal = "stop"
)

// ParseControlSignal validates a control signal string.
func ParseControlSignal(s string) (ControlSignal, error) {
	switch ControlSignal(s) {
	case ControlRun, ControlPause, ControlStop:
		return ControlSignal(s), nil
	}
	return "", fmt.Errorf("unknown control signal: %q", s)
}

// CursorState is the opaque resumable position of a job as persisted at the
// storage boundary. Business logic decodes it into a typed per-job structure
// via serialization.DecodeCursorState immediately after load.
type CursorState map[string]interface{}

// Value implements the driver.Valuer interface, converting the CursorState to a JSON string.
func (cs CursorState) Value() (driver.Value, error) {
	data, err := serialization.MarshalCursor(cs)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface, converting a stored JSON value into a CursorState.
func (cs *CursorState) Scan(value interface{}) error {
	if value == nil {
		*cs = CursorState{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for CursorState: %T", value)
	}
	return serialization.UnmarshalCursor(data, (*map[string]interface{})(cs))
}

// ProgressCounters holds the cheap per-job progress counters carried with a
// heartbeat. They are cumulative across resumptions.
type ProgressCounters struct {
	Processed int64 `json:"processed"`
	Updated   int64 `json:"updated"`
	Errors    int64 `json:"errors"`
}

// Checkpoint is the resumable state of one named job. Exactly one row exists
// per job name; it is created on the job's first acquire and afterwards only
// mutated, never deleted.
//
// The IsRunning flag is the job's lease: at most one process may hold
// IsRunning=true for a given job name at any instant, and acquiring it is an
// atomic compare-and-set at the repository layer.
type Checkpoint struct {
	JobName  string
	JobKind  string
	Cursor   CursorState
	Counters ProgressCounters

	IsRunning        bool
	ControlSignal    ControlSignal
	PausedAt         *time.Time
	PauseRequestedBy string

	// Breaker is the embedded circuit-breaker snapshot, persisted after every
	// batch so restarts do not reset backoff.
	Breaker BreakerSnapshot

	LastHeartbeatAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int
}

// NewCheckpoint creates a Checkpoint with defaults for a job's first run.
func NewCheckpoint(jobName, jobKind string) *Checkpoint {
	now := time.Now()
	return &Checkpoint{
		JobName:         jobName,
		JobKind:         jobKind,
		Cursor:          CursorState{},
		ControlSignal:   ControlRun,
		Breaker:         NewBreakerSnapshot(),
		LastHeartbeatAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// LeaseStale reports whether a held lease should be considered abandoned:
// the flag is set but no heartbeat has arrived within staleAfter.
// A zero staleAfter disables staleness (the lease only clears explicitly).
func (c *Checkpoint) LeaseStale(now time.Time, staleAfter time.Duration) bool {
	if !c.IsRunning || staleAfter <= 0 {
		return false
	}
	return now.Sub(c.LastHeartbeatAt) > staleAfter
}

// PauseRequested reports whether the job should stop at its next natural
// checkpoint boundary.
func (c *Checkpoint) PauseRequested() bool {
	return c.ControlSignal == ControlPause
}

// StopRequested reports whether the job should abort its current invocation.
func (c *Checkpoint) StopRequested() bool {
	return c.ControlSignal == ControlStop
}

// ResetForResume clears pause metadata and restores the run signal. Used by
// the self-healer and by admin resume.
func (c *Checkpoint) ResetForResume() {
	c.ControlSignal = ControlRun
	c.PausedAt = nil
	c.PauseRequestedBy = ""
}
