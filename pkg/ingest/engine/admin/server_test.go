package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	dlq "github.com/pagecliff/ingest/pkg/ingest/engine/dlq"
	merge "github.com/pagecliff/ingest/pkg/ingest/engine/merge"
	source "github.com/pagecliff/ingest/pkg/ingest/engine/source"
	prommetrics "github.com/pagecliff/ingest/pkg/ingest/infrastructure/metrics"
	ingesttest "github.com/pagecliff/ingest/pkg/ingest/test"
)

type nullUpserter struct{}

func (nullUpserter) Resolve(ctx context.Context, entityType, entityRef string) (string, error) {
	return "", nil
}

func (nullUpserter) Upsert(ctx context.Context, record *source.Record) (string, bool, error) {
	return record.EntityRef, true, nil
}

func newTestServer(t *testing.T) (http.Handler, repository.IngestRepository) {
	t.Helper()
	repo := ingesttest.NewSQLiteRepository(t)
	cfg := config.NewConfig()
	clock := clockwork.NewRealClock()
	recorder := prommetrics.NewPrometheusRecorder()

	queue := dlq.NewQueue(repo, cfg, clock, recorder)
	prov := merge.NewRecorder(repo, cfg, clock)
	gate := merge.NewGate(nullUpserter{}, prov, repo, cfg, clock, recorder)

	srv := NewServer(cfg, repo, queue, gate, prov, recorder)
	return srv.routes(), repo
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestJobControlEndpoints(t *testing.T) {
	handler, repo := newTestServer(t)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, "pricebook-full-pull", "pricing", time.Hour)
	assert.NoError(t, err)
	assert.NoError(t, repo.Release(ctx, "pricebook-full-pull"))

	// Pause with an explicit actor.
	body, _ := json.Marshal(map[string]string{"actor": "ops-alice"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/jobs/pricebook-full-pull/pause", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)

	cp, err := repo.Find(ctx, "pricebook-full-pull")
	assert.NoError(t, err)
	assert.Equal(t, model.ControlPause, cp.ControlSignal)
	assert.Equal(t, "ops-alice", cp.PauseRequestedBy)

	// Resume tolerates an empty body.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/jobs/pricebook-full-pull/resume", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	cp, err = repo.Find(ctx, "pricebook-full-pull")
	assert.NoError(t, err)
	assert.Equal(t, model.ControlRun, cp.ControlSignal)
}

func TestJobControl_UnknownJobIs404(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/jobs/no-such-job/pause", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	handler, repo := newTestServer(t)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, "pricebook-full-pull", "pricing", time.Hour)
	assert.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/jobs/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var listed []map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestDeadLetterResolveEndpoint(t *testing.T) {
	handler, repo := newTestServer(t)
	ctx := context.Background()

	entry := model.NewDeadLetterEntry("pricing", "pricebook-full-pull", "batch-1", "printing", "neo-001", 5)
	assert.NoError(t, repo.SaveDeadLetter(ctx, entry))

	body, _ := json.Marshal(map[string]string{"actor": "ops-alice", "note": "fixed upstream"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/dead-letters/"+entry.ID+"/resolve", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)

	found, err := repo.FindDeadLetter(ctx, entry.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.DeadLetterResolved, found.Status)
	assert.Equal(t, "ops-alice", found.ResolvedBy)
}

func TestQuarantineListDefaultsToPending(t *testing.T) {
	handler, repo := newTestServer(t)
	ctx := context.Background()

	entry := model.NewQuarantineEntry("printing", "neo-001", "pricebook", model.QuarantineLowConfidence, model.SnapshotMap{"price_usd": 4.2})
	assert.NoError(t, repo.SaveQuarantine(ctx, entry))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/quarantine/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var listed []map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestProvenanceLockEndpoint(t *testing.T) {
	handler, repo := newTestServer(t)
	ctx := context.Background()

	prov := &model.FieldProvenance{
		EntityType: "printing",
		EntityID:   "neo-001",
		FieldName:  "price_usd",
		SourceName: "pricebook",
	}
	assert.NoError(t, repo.UpsertProvenance(ctx, prov))

	body, _ := json.Marshal(map[string]string{
		"entity_type": "printing",
		"entity_id":   "neo-001",
		"field_name":  "price_usd",
		"actor":       "ops-alice",
		"reason":      "verified against publisher data",
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/provenance/lock", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)

	locked, err := repo.FindProvenance(ctx, prov.Key())
	assert.NoError(t, err)
	assert.True(t, locked.Locked)
	assert.Equal(t, "ops-alice", locked.LockedBy)
}
