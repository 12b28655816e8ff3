package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// ErrDeadLetterNotFound is returned when a dead letter entry is not found.
var ErrDeadLetterNotFound = errors.New("dead letter entry not found")

// DeadLetterRepository persists individually failed units of work.
type DeadLetterRepository interface {
	// SaveDeadLetter inserts a new entry.
	SaveDeadLetter(ctx context.Context, entry *model.DeadLetterEntry) error

	// UpdateDeadLetter persists entry mutations with optimistic locking.
	UpdateDeadLetter(ctx context.Context, entry *model.DeadLetterEntry) error

	// FindDeadLetter returns an entry by id, or ErrDeadLetterNotFound.
	FindDeadLetter(ctx context.Context, id string) (*model.DeadLetterEntry, error)

	// ClaimDueDeadLetters atomically moves up to limit pending entries whose
	// next_retry_at has passed into status retrying and returns them. Entries
	// claimed by one scheduler instance are invisible to another.
	ClaimDueDeadLetters(ctx context.Context, now time.Time, limit int) ([]*model.DeadLetterEntry, error)

	// ListDeadLettersByStatus returns the most recent entries with the given status.
	ListDeadLettersByStatus(ctx context.Context, status model.DeadLetterStatus, limit int) ([]*model.DeadLetterEntry, error)

	// CountDeadLettersByStatus returns entry counts grouped by status.
	CountDeadLettersByStatus(ctx context.Context) (map[model.DeadLetterStatus]int64, error)
}
