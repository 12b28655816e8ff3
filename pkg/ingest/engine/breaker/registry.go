package breaker

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
)

// Registry hands out the per-job Breaker instances of one process. Breakers
// are created lazily on first use, resuming from the snapshot persisted in
// the job's checkpoint.
type Registry struct {
	cfg      *config.Config
	repo     repository.IngestRepository
	recorder metrics.MetricRecorder
	clock    clockwork.Clock

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a Registry.
func NewRegistry(cfg *config.Config, repo repository.IngestRepository, recorder metrics.MetricRecorder, clock clockwork.Clock) *Registry {
	return &Registry{
		cfg:      cfg,
		repo:     repo,
		recorder: recorder,
		clock:    clock,
		breakers: make(map[string]*Breaker),
	}
}

// ForJob returns the breaker of a job, creating it on first use from the
// job kind's configured settings and the persisted snapshot.
func (r *Registry) ForJob(ctx context.Context, jobName, jobKind string) (*Breaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[jobName]; ok {
		return b, nil
	}

	settings := r.cfg.BreakerSettingsFor(jobKind)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	restored := model.NewBreakerSnapshot()
	checkpoint, err := r.repo.Find(ctx, jobName)
	switch {
	case err == nil:
		restored = checkpoint.Breaker
	case errors.Is(err, repository.ErrCheckpointNotFound):
		// First run of the job; start closed.
	default:
		return nil, err
	}

	b := New(jobName, settings, restored, r.clock, r.repo, r.repo, r.recorder)
	r.breakers[jobName] = b
	return b, nil
}
