package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// ErrCheckpointNotFound is returned when no checkpoint row exists for a job name.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrAlreadyRunning is returned by Acquire when another process holds the
// job's lease and the lease is not stale.
var ErrAlreadyRunning = errors.New("job is already running")

// CheckpointRepository manages the one-row-per-job resumable state, including
// the is_running lease. At most one process holds is_running=true for a job
// name at any instant; this is enforced here with
// atomic compare-and-set updates, never with in-process locks, so it holds
// across multiple running instances.
type CheckpointRepository interface {
	// Acquire takes the job's lease. If no row exists for jobName one is
	// created with defaults first. The flag flip is a CAS: it succeeds only if
	// is_running is currently false or the held lease is stale (no heartbeat
	// within staleAfter). On contention it returns ErrAlreadyRunning.
	// On success it returns the current checkpoint for resumption.
	Acquire(ctx context.Context, jobName, jobKind string, staleAfter time.Duration) (*model.Checkpoint, error)

	// Heartbeat is a best-effort progress update: it advances the cursor,
	// counters and heartbeat timestamp. Losing one heartbeat only delays stall
	// detection by a sweep interval; it never corrupts state.
	Heartbeat(ctx context.Context, jobName string, cursor model.CursorState, counters model.ProgressCounters) error

	// Release clears is_running. The cursor persisted by the last heartbeat
	// survives for the next invocation.
	Release(ctx context.Context, jobName string) error

	// ClearLeaseIfHeld atomically clears is_running only if it is still true,
	// additionally clearing any pause marker and resetting the control signal
	// to run. It reports whether the lease was actually cleared, so a healer
	// racing a freshly resumed job never yanks a live lease.
	ClearLeaseIfHeld(ctx context.Context, jobName string) (bool, error)

	// SetControl sets the admin control signal for a job. Pause stamps the
	// paused-at metadata; stop clears the lease immediately.
	SetControl(ctx context.Context, jobName string, signal model.ControlSignal, actor string) error

	// SaveBreaker persists the embedded circuit-breaker snapshot.
	SaveBreaker(ctx context.Context, jobName string, snapshot model.BreakerSnapshot) error

	// Find returns the checkpoint for a job name, or ErrCheckpointNotFound.
	Find(ctx context.Context, jobName string) (*model.Checkpoint, error)

	// List returns all checkpoints, ordered by job name.
	List(ctx context.Context) ([]*model.Checkpoint, error)
}
