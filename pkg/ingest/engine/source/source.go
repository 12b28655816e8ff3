// Package source defines the adapter contract of external data sources and
// the normalized records they produce. One adapter exists per upstream
// (pricing feed, bibliographic API, community wiki dump); the job runner is
// oblivious to what it pulls.
package source

import (
	"context"
	"fmt"
	"sync"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
)

// Record is one normalized unit of work produced by a source adapter.
type Record struct {
	// EntityType names the downstream entity kind (e.g., "card", "printing").
	EntityType string
	// EntityRef identifies the entity within the source.
	EntityRef string
	// Fields holds the normalized field values to merge.
	Fields map[string]interface{}
	// Confidence is the adapter's match confidence in [0,1]. Adapters that
	// resolve entities exactly report 1.
	Confidence float64
	// Candidates carries scored near-matches when the adapter had to resolve
	// the entity fuzzily.
	Candidates model.CandidateMatches
	// SourceRef points back at the upstream object (URL, API id).
	SourceRef string
	// License is the upstream license the fields were obtained under.
	License string
	// Raw is a sanitized snapshot of the upstream exchange, carried into the
	// dead letter queue on failure. Adapters must strip credentials.
	Raw model.SnapshotMap
}

// Page is one fetched page of records plus the cursor to request the next.
type Page struct {
	Records []Record
	// NextCursor resumes the pull after this page. It must be valid even if
	// processing stops mid-run; the runner checkpoints it after the page is
	// fully processed.
	NextCursor model.CursorState
	// HasMore reports whether another page follows.
	HasMore bool
}

// Adapter pulls pages from one external source.
type Adapter interface {
	// Name returns the unique source name used for rate limiting and
	// provenance attribution.
	Name() string

	// FetchPage fetches one page at the given cursor. An empty cursor means
	// the start of a full pull.
	FetchPage(ctx context.Context, cursor model.CursorState, pageSize int) (*Page, error)

	// FetchByRef re-fetches a single entity, used by dead letter replay.
	FetchByRef(ctx context.Context, entityType, entityRef string) (*Record, error)
}

// Upserter applies one normalized record to the downstream entity store.
// Implementations are supplied by the embedding application.
type Upserter interface {
	// Resolve maps a source-scoped (entityType, entityRef) pair to the
	// downstream entity id, or "" when no entity has been merged for the
	// ref yet. The merge gate keys field provenance on this id.
	Resolve(ctx context.Context, entityType, entityRef string) (entityID string, err error)

	// Upsert merges the record's fields into the downstream entity and
	// returns the downstream entity id plus whether anything changed.
	Upsert(ctx context.Context, record *Record) (entityID string, changed bool, err error)
}

// AdapterRegistry holds the source adapters of one process, keyed by name.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewAdapterRegistry creates an empty AdapterRegistry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Registering a duplicate name is a programming
// error and panics during startup wiring.
func (r *AdapterRegistry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Name()]; exists {
		panic(fmt.Sprintf("source adapter '%s' registered twice", a.Name()))
	}
	r.adapters[a.Name()] = a
}

// Resolve returns the adapter with the given name.
func (r *AdapterRegistry) Resolve(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("no source adapter registered for '%s'", name)
	}
	return a, nil
}

// Names returns the registered adapter names.
func (r *AdapterRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
