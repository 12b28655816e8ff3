package healer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// Stats computes and caches the adaptive stall threshold per pipeline kind.
// The threshold is the p95 of recent completed batch durations, never below
// the configured floor; with too little history only the floor applies.
type Stats struct {
	repo  repository.BatchMetricRepository
	cfg   *config.Config
	clock clockwork.Clock

	mu              sync.RWMutex
	p95ByKind       map[string]time.Duration
	refreshedByKind map[string]time.Time
}

// NewStats creates a Stats cache.
func NewStats(repo repository.BatchMetricRepository, cfg *config.Config, clock clockwork.Clock) *Stats {
	return &Stats{
		repo:            repo,
		cfg:             cfg,
		clock:           clock,
		p95ByKind:       make(map[string]time.Duration),
		refreshedByKind: make(map[string]time.Time),
	}
}

// Threshold returns the stall threshold of a pipeline kind, refreshing the
// cached statistics when they have gone stale.
func (s *Stats) Threshold(ctx context.Context, kind string) time.Duration {
	floor := time.Duration(s.cfg.Ingest.Healer.FloorSeconds) * time.Second

	s.maybeRefresh(ctx, kind)

	s.mu.RLock()
	p95, ok := s.p95ByKind[kind]
	s.mu.RUnlock()
	if !ok || p95 < floor {
		return floor
	}
	return p95
}

func (s *Stats) maybeRefresh(ctx context.Context, kind string) {
	refreshEvery := time.Duration(s.cfg.Ingest.Healer.StatsRefreshMinutes) * time.Minute
	if refreshEvery <= 0 {
		refreshEvery = 15 * time.Minute
	}

	s.mu.RLock()
	last, seen := s.refreshedByKind[kind]
	s.mu.RUnlock()
	if seen && s.clock.Now().Sub(last) < refreshEvery {
		return
	}

	durations, err := s.repo.CompletedBatchDurations(ctx, kind, s.cfg.Ingest.Healer.P95HistoryLimit)
	if err != nil {
		logger.Warnf("Failed to refresh stall statistics for kind '%s': %v", kind, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshedByKind[kind] = s.clock.Now()
	if len(durations) < s.cfg.Ingest.Healer.P95MinSamples {
		// Not enough history; the floor applies until more batches complete.
		delete(s.p95ByKind, kind)
		return
	}
	s.p95ByKind[kind] = percentile95(durations)
	logger.Debugf("Stall threshold for kind '%s' refreshed: p95=%s over %d batches.", kind, s.p95ByKind[kind], len(durations))
}

// percentile95 returns the 95th percentile of the given durations.
func percentile95(durations []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}
