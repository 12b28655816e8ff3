package job_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	breaker "github.com/pagecliff/ingest/pkg/ingest/engine/breaker"
	dlq "github.com/pagecliff/ingest/pkg/ingest/engine/dlq"
	job "github.com/pagecliff/ingest/pkg/ingest/engine/job"
	merge "github.com/pagecliff/ingest/pkg/ingest/engine/merge"
	ratelimit "github.com/pagecliff/ingest/pkg/ingest/engine/ratelimit"
	source "github.com/pagecliff/ingest/pkg/ingest/engine/source"
	ingesttest "github.com/pagecliff/ingest/pkg/ingest/test"
)

// pagedAdapter serves a fixed set of records in pages keyed by an offset
// cursor, the way real source adapters page through full pulls.
type pagedAdapter struct {
	name     string
	records  []source.Record
	fetches  int
	fetchErr error
}

func (a *pagedAdapter) Name() string { return a.name }

func (a *pagedAdapter) FetchPage(ctx context.Context, cursor model.CursorState, pageSize int) (*source.Page, error) {
	a.fetches++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	offset := 0
	if v, ok := cursor["offset"]; ok {
		switch n := v.(type) {
		case float64:
			offset = int(n)
		case int:
			offset = n
		}
	}
	end := offset + pageSize
	if end > len(a.records) {
		end = len(a.records)
	}
	return &source.Page{
		Records:    a.records[offset:end],
		NextCursor: model.CursorState{"offset": float64(end)},
		HasMore:    end < len(a.records),
	}, nil
}

func (a *pagedAdapter) FetchByRef(ctx context.Context, entityType, entityRef string) (*source.Record, error) {
	for i := range a.records {
		if a.records[i].EntityType == entityType && a.records[i].EntityRef == entityRef {
			return &a.records[i], nil
		}
	}
	return nil, fmt.Errorf("no %s with ref '%s'", entityType, entityRef)
}

// flakyUpserter fails every upsert whose entity ref is listed, so single bad
// records can be steered into the dead letter queue.
type flakyUpserter struct {
	failRefs map[string]bool
	upserts  []string
}

func (u *flakyUpserter) Resolve(ctx context.Context, entityType, entityRef string) (string, error) {
	for _, ref := range u.upserts {
		if ref == entityRef {
			return ref, nil
		}
	}
	return "", nil
}

func (u *flakyUpserter) Upsert(ctx context.Context, record *source.Record) (string, bool, error) {
	if u.failRefs[record.EntityRef] {
		return "", false, errors.New("downstream store rejected the record")
	}
	u.upserts = append(u.upserts, record.EntityRef)
	return record.EntityRef, true, nil
}

func listingRecords(n int) []source.Record {
	records := make([]source.Record, 0, n)
	for i := 0; i < n; i++ {
		ref := fmt.Sprintf("neo-%03d", i+1)
		records = append(records, source.Record{
			EntityType: "printing",
			EntityRef:  ref,
			Fields:     map[string]interface{}{"price_usd": float64(i) + 0.5},
			Confidence: 1,
			SourceRef:  "pricebook://" + ref,
		})
	}
	return records
}

type runnerFixture struct {
	cfg      *config.Config
	repo     repository.IngestRepository
	adapter  *pagedAdapter
	upserter *flakyUpserter
	queue    *dlq.Queue
	registry *job.Registry
	jobCfg   config.JobConfig
}

func newRunnerFixture(t *testing.T, records []source.Record) *runnerFixture {
	t.Helper()
	repo := ingesttest.NewSQLiteRepository(t)
	clock := clockwork.NewRealClock()
	recorder := metrics.NewNoOpMetricRecorder()

	cfg := config.NewConfig()
	cfg.Ingest.Runner.PageSize = 2
	cfg.Ingest.Limiters.Defaults.RequestsPerSecond = 1000
	cfg.Ingest.Limiters.Defaults.Burst = 1000
	cfg.Ingest.Merge.SourceTrust = map[string]float64{"pricebook": 0.7}
	jobCfg := config.JobConfig{
		Name:   "pricebook-full-pull",
		Kind:   "pricing",
		Source: "pricebook",
	}
	cfg.Ingest.Jobs = []config.JobConfig{jobCfg}

	adapter := &pagedAdapter{name: "pricebook", records: records}
	adapters := source.NewAdapterRegistry()
	adapters.Register(adapter)

	upserter := &flakyUpserter{failRefs: map[string]bool{}}
	recorderSvc := merge.NewRecorder(repo, cfg, clock)
	gate := merge.NewGate(upserter, recorderSvc, repo, cfg, clock, recorder)
	queue := dlq.NewQueue(repo, cfg, clock, recorder)
	breakers := breaker.NewRegistry(cfg, repo, recorder, clock)
	limiters := ratelimit.NewRegistry(cfg, recorder)

	runner := job.NewRunner(cfg, repo, adapters, breakers, limiters, gate, queue, clock, recorder)
	registry := job.NewRegistry(cfg, runner, queue)

	return &runnerFixture{
		cfg:      cfg,
		repo:     repo,
		adapter:  adapter,
		upserter: upserter,
		queue:    queue,
		registry: registry,
		jobCfg:   jobCfg,
	}
}

func TestRunner_FullPullCheckpointsAndCompletes(t *testing.T) {
	f := newRunnerFixture(t, listingRecords(5))
	ctx := context.Background()

	assert.NoError(t, f.registry.Run(ctx, "pricebook-full-pull"))

	// Five records over page size two means three fetches.
	assert.Equal(t, 3, f.adapter.fetches)
	assert.Len(t, f.upserter.upserts, 5)

	cp, err := f.repo.Find(ctx, "pricebook-full-pull")
	assert.NoError(t, err)
	assert.False(t, cp.IsRunning, "the lease is released on completion")
	assert.Equal(t, float64(5), cp.Cursor["offset"])
	assert.Equal(t, int64(5), cp.Counters.Processed)
	assert.Equal(t, int64(5), cp.Counters.Updated)
	assert.Zero(t, cp.Counters.Errors)

	batches, err := f.repo.ListBatchesByStatus(ctx, model.BatchCompleted, 10)
	assert.NoError(t, err)
	if assert.Len(t, batches, 1) {
		assert.Equal(t, int64(5), batches[0].RecordsProcessed)
	}
}

func TestRunner_OverlappingInvocationIsSkippedNotFailed(t *testing.T) {
	f := newRunnerFixture(t, listingRecords(2))
	ctx := context.Background()

	// Hold the lease as if another process were mid-pull.
	_, err := f.repo.Acquire(ctx, "pricebook-full-pull", "pricing", time.Hour)
	assert.NoError(t, err)

	assert.NoError(t, f.registry.Run(ctx, "pricebook-full-pull"))
	assert.Zero(t, f.adapter.fetches)
}

func TestRunner_PausedJobReleasesWithoutRunning(t *testing.T) {
	f := newRunnerFixture(t, listingRecords(2))
	ctx := context.Background()

	_, err := f.repo.Acquire(ctx, "pricebook-full-pull", "pricing", time.Hour)
	assert.NoError(t, err)
	assert.NoError(t, f.repo.SetControl(ctx, "pricebook-full-pull", model.ControlPause, "ops-alice"))
	assert.NoError(t, f.repo.Release(ctx, "pricebook-full-pull"))

	assert.NoError(t, f.registry.Run(ctx, "pricebook-full-pull"))
	assert.Zero(t, f.adapter.fetches)

	cp, err := f.repo.Find(ctx, "pricebook-full-pull")
	assert.NoError(t, err)
	assert.False(t, cp.IsRunning)
	assert.Equal(t, model.ControlPause, cp.ControlSignal)
}

func TestRunner_StopSignalResetsToRunAtNextStart(t *testing.T) {
	f := newRunnerFixture(t, listingRecords(2))
	ctx := context.Background()

	_, err := f.repo.Acquire(ctx, "pricebook-full-pull", "pricing", time.Hour)
	assert.NoError(t, err)
	assert.NoError(t, f.repo.SetControl(ctx, "pricebook-full-pull", model.ControlStop, "ops-bob"))

	assert.NoError(t, f.registry.Run(ctx, "pricebook-full-pull"))

	cp, err := f.repo.Find(ctx, "pricebook-full-pull")
	assert.NoError(t, err)
	assert.Equal(t, model.ControlRun, cp.ControlSignal)
	assert.Len(t, f.upserter.upserts, 2)
}

func TestRunner_BadRecordGoesToDLQWithoutAbortingBatch(t *testing.T) {
	f := newRunnerFixture(t, listingRecords(4))
	f.upserter.failRefs["neo-002"] = true
	ctx := context.Background()

	assert.NoError(t, f.registry.Run(ctx, "pricebook-full-pull"))

	// The other three records still merged.
	assert.Len(t, f.upserter.upserts, 3)

	cp, err := f.repo.Find(ctx, "pricebook-full-pull")
	assert.NoError(t, err)
	assert.Equal(t, int64(4), cp.Counters.Processed)
	assert.Equal(t, int64(1), cp.Counters.Errors)

	pending, err := f.repo.ListDeadLettersByStatus(ctx, model.DeadLetterPending, 10)
	assert.NoError(t, err)
	if assert.Len(t, pending, 1) {
		assert.Equal(t, "neo-002", pending[0].EntityRef)
		assert.Equal(t, "pricebook-full-pull", pending[0].JobName)
	}

	batches, err := f.repo.ListBatchesByStatus(ctx, model.BatchCompleted, 10)
	assert.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestRunner_OpenBreakerHaltsRunCleanly(t *testing.T) {
	f := newRunnerFixture(t, listingRecords(4))
	f.adapter.fetchErr = errors.New("upstream returned 503")
	f.cfg.Ingest.Breakers.Defaults.FailureThreshold = 1
	ctx := context.Background()

	// The first fetch fails and opens the threshold-1 breaker; that run
	// surfaces the fetch error and the cursor stays at the start.
	assert.Error(t, f.registry.Run(ctx, "pricebook-full-pull"))
	assert.Equal(t, 1, f.adapter.fetches)

	cp, err := f.repo.Find(ctx, "pricebook-full-pull")
	assert.NoError(t, err)
	assert.False(t, cp.IsRunning)
	assert.Equal(t, model.BreakerOpen, cp.Breaker.State)
	assert.Empty(t, cp.Cursor)

	// While the circuit is open the next invocation halts cleanly before
	// any upstream call.
	assert.NoError(t, f.registry.Run(ctx, "pricebook-full-pull"))
	assert.Equal(t, 1, f.adapter.fetches)
}

func TestRegistry_ReplayRefetchesAndMerges(t *testing.T) {
	f := newRunnerFixture(t, listingRecords(3))
	ctx := context.Background()

	entry := f.queue.Capture(ctx, dlq.Failure{
		JobKind:    "pricing",
		JobName:    "pricebook-full-pull",
		BatchID:    "batch-1",
		EntityType: "printing",
		EntityRef:  "neo-002",
		Err:        errors.New("downstream store rejected the record"),
	})
	assert.NotNil(t, entry)

	assert.NoError(t, f.registry.Replay(ctx, entry))
	assert.Equal(t, []string{"neo-002"}, f.upserter.upserts)
}

func TestRegistry_ReplayUnknownEntityFails(t *testing.T) {
	f := newRunnerFixture(t, listingRecords(1))
	ctx := context.Background()

	entry := f.queue.Capture(ctx, dlq.Failure{
		JobKind:    "pricing",
		JobName:    "pricebook-full-pull",
		BatchID:    "batch-1",
		EntityType: "printing",
		EntityRef:  "gone-999",
		Err:        errors.New("boom"),
	})
	assert.NotNil(t, entry)

	assert.Error(t, f.registry.Replay(ctx, entry))
}
