package repository

import (
	"context"
	"errors"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// ErrQuarantineNotFound is returned when a quarantine entry is not found.
var ErrQuarantineNotFound = errors.New("quarantine entry not found")

// QuarantineRepository persists records routed to review. Entries are never
// deleted by the engine; they leave only through explicit resolution.
type QuarantineRepository interface {
	// SaveQuarantine inserts a new entry.
	SaveQuarantine(ctx context.Context, entry *model.QuarantineEntry) error

	// UpdateQuarantine persists entry mutations with optimistic locking.
	UpdateQuarantine(ctx context.Context, entry *model.QuarantineEntry) error

	// FindQuarantine returns an entry by id, or ErrQuarantineNotFound.
	FindQuarantine(ctx context.Context, id string) (*model.QuarantineEntry, error)

	// ListQuarantineByStatus returns the most recent entries with the given status.
	ListQuarantineByStatus(ctx context.Context, status model.QuarantineStatus, limit int) ([]*model.QuarantineEntry, error)

	// CountQuarantineByReason returns pending entry counts grouped by reason.
	CountQuarantineByReason(ctx context.Context) (map[model.QuarantineReason]int64, error)
}
