// Package admin exposes the operational HTTP surface: job control
// (pause/resume/stop), checkpoint and breaker inspection, dead letter and
// quarantine review, provenance locks, purge-proof history and the
// Prometheus scrape endpoint.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	"github.com/pagecliff/ingest/pkg/ingest/engine/dlq"
	"github.com/pagecliff/ingest/pkg/ingest/engine/merge"
	prommetrics "github.com/pagecliff/ingest/pkg/ingest/infrastructure/metrics"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// Server is the admin HTTP server.
type Server struct {
	cfg      *config.Config
	repo     repository.IngestRepository
	queue    *dlq.Queue
	gate     *merge.Gate
	prov     *merge.Recorder
	recorder *prommetrics.PrometheusRecorder

	srv *http.Server
}

// NewServer creates the admin server. It does not listen until Start.
func NewServer(
	cfg *config.Config,
	repo repository.IngestRepository,
	queue *dlq.Queue,
	gate *merge.Gate,
	prov *merge.Recorder,
	recorder *prommetrics.PrometheusRecorder,
) *Server {
	return &Server{
		cfg:      cfg,
		repo:     repo,
		queue:    queue,
		gate:     gate,
		prov:     prov,
		recorder: recorder,
	}
}

// routes builds the admin router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(s.recorder.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/admin", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListCheckpoints)
			r.Get("/{jobName}", s.handleGetCheckpoint)
			r.Post("/{jobName}/pause", s.handleControl(controlPause))
			r.Post("/{jobName}/resume", s.handleControl(controlResume))
			r.Post("/{jobName}/stop", s.handleControl(controlStop))
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", s.handleListBatches)
			r.Get("/{batchID}", s.handleGetBatch)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", s.handleListDeadLetters)
			r.Get("/stats", s.handleDeadLetterStats)
			r.Get("/{id}", s.handleGetDeadLetter)
			r.Post("/{id}/replay", s.handleReplayDeadLetter)
			r.Post("/{id}/resolve", s.handleResolveDeadLetter)
			r.Post("/{id}/abandon", s.handleAbandonDeadLetter)
		})

		r.Route("/quarantine", func(r chi.Router) {
			r.Get("/", s.handleListQuarantine)
			r.Get("/stats", s.handleQuarantineStats)
			r.Get("/{id}", s.handleGetQuarantine)
			r.Post("/{id}/resolve", s.handleResolveQuarantine)
		})

		r.Route("/provenance", func(r chi.Router) {
			r.Get("/{entityType}/{entityID}", s.handleListProvenance)
			r.Post("/lock", s.handleLockProvenance)
			r.Post("/unlock", s.handleUnlockProvenance)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/breakers", s.handleBreakerAudit)
			r.Get("/self-heals", s.handleSelfHealAudit)
			r.Get("/purge-proofs", s.handlePurgeProofs)
		})
	})

	return r
}

// Start begins serving on the configured address. It returns once the
// listener is bound; serving continues on a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Ingest.Admin.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Admin server failed: %v", err)
		}
	}()
	logger.Infof("Admin server listening on %s.", addr)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	logger.Infof("Admin server shutting down.")
	return s.srv.Shutdown(ctx)
}
