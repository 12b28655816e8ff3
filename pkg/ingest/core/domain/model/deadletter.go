package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeadLetterStatus is the lifecycle status of a dead letter entry.
// Resolution is always explicit: pending -> retrying -> {resolved | abandoned}.
type DeadLetterStatus string

const (
	// DeadLetterPending marks an entry waiting for its next retry slot.
	DeadLetterPending DeadLetterStatus = "pending"
	// DeadLetterRetrying marks an entry claimed by the retry scheduler.
	DeadLetterRetrying DeadLetterStatus = "retrying"
	// DeadLetterResolved marks an entry whose unit of work eventually succeeded
	// or was fixed by an operator. Terminal.
	DeadLetterResolved DeadLetterStatus = "resolved"
	// DeadLetterAbandoned marks an entry that exhausted its retries. Terminal.
	DeadLetterAbandoned DeadLetterStatus = "abandoned"
)

// ParseDeadLetterStatus validates a dead letter status string.
func ParseDeadLetterStatus(s string) (DeadLetterStatus, error) {
	switch DeadLetterStatus(s) {
	case DeadLetterPending, DeadLetterRetrying, DeadLetterResolved, DeadLetterAbandoned:
		return DeadLetterStatus(s), nil
	}
	return "", fmt.Errorf("unknown dead letter status: %q", s)
}

// SnapshotMap holds a sanitized request or response snapshot captured with a
// failed unit of work, enough context for diagnosis without replaying it.
type SnapshotMap map[string]interface{}

// Value implements the driver.Valuer interface, converting the SnapshotMap to a JSON string.
func (sm SnapshotMap) Value() (driver.Value, error) {
	if sm == nil {
		return "{}", nil
	}
	data, err := json.Marshal(sm)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface.
func (sm *SnapshotMap) Scan(value interface{}) error {
	if value == nil {
		*sm = SnapshotMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for SnapshotMap: %T", value)
	}
	if len(data) == 0 {
		*sm = SnapshotMap{}
		return nil
	}
	return json.Unmarshal(data, sm)
}

// DeadLetterEntry is one row per failed unit of work. Capturing failures at
// this granularity means a single bad record never aborts its batch.
type DeadLetterEntry struct {
	ID        string
	JobKind   string
	JobName   string
	BatchID   string
	// EntityType and EntityRef identify the unit of work (e.g. "listing", source id).
	EntityType string
	EntityRef  string

	ErrorType    string
	ErrorMessage string
	ErrorTrace   string
	Request      SnapshotMap
	Response     SnapshotMap

	Status      DeadLetterStatus
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	ResolvedBy     string
	ResolutionNote string
	ResolvedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// NewDeadLetterEntry captures a failed unit of work.
func NewDeadLetterEntry(jobKind, jobName, batchID, entityType, entityRef string, maxRetries int) *DeadLetterEntry {
	now := time.Now()
	return &DeadLetterEntry{
		ID:         uuid.New().String(),
		JobKind:    jobKind,
		JobName:    jobName,
		BatchID:    batchID,
		EntityType: entityType,
		EntityRef:  entityRef,
		Status:     DeadLetterPending,
		MaxRetries: maxRetries,
		Request:    SnapshotMap{},
		Response:   SnapshotMap{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Terminal reports whether the entry has reached a terminal status.
func (e *DeadLetterEntry) Terminal() bool {
	return e.Status == DeadLetterResolved || e.Status == DeadLetterAbandoned
}

// RetriesExhausted reports whether the entry has used up its retry budget.
// An exhausted entry is never retried again; it must be classified abandoned.
func (e *DeadLetterEntry) RetriesExhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// Due reports whether the entry is eligible for a retry attempt at `now`.
func (e *DeadLetterEntry) Due(now time.Time) bool {
	if e.Status != DeadLetterPending || e.RetriesExhausted() {
		return false
	}
	return e.NextRetryAt == nil || !now.Before(*e.NextRetryAt)
}

// ScheduleRetry books the next attempt at `at`. Retry accounting is the
// caller's: the count advances when an attempt runs, not when it is booked.
func (e *DeadLetterEntry) ScheduleRetry(at time.Time) {
	e.Status = DeadLetterPending
	t := at
	e.NextRetryAt = &t
}

// Resolve marks the entry terminally resolved, recording who and why.
func (e *DeadLetterEntry) Resolve(now time.Time, actor, note string) {
	e.Status = DeadLetterResolved
	e.ResolvedBy = actor
	e.ResolutionNote = note
	t := now
	e.ResolvedAt = &t
}

// Abandon marks the entry terminally abandoned, recording who and why.
func (e *DeadLetterEntry) Abandon(now time.Time, actor, note string) {
	e.Status = DeadLetterAbandoned
	e.ResolvedBy = actor
	e.ResolutionNote = note
	t := now
	e.ResolvedAt = &t
	e.NextRetryAt = nil
}
