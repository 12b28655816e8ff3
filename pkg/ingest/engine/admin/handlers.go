package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

type controlAction string

const (
	controlPause  controlAction = "pause"
	controlResume controlAction = "resume"
	controlStop   controlAction = "stop"
)

// actorRequest carries the operator identity and an optional note, shared by
// the review endpoints.
type actorRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

// resolveQuarantineRequest selects a review outcome for a quarantine entry.
type resolveQuarantineRequest struct {
	Action string `json:"action"`
	Actor  string `json:"actor"`
	Notes  string `json:"notes"`
}

// provenanceLockRequest addresses one provenance field for locking.
type provenanceLockRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	FieldName  string `json:"field_name"`
	Actor      string `json:"actor"`
	Reason     string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warnf("Failed to encode admin response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// notFoundStatus maps repository sentinel errors to HTTP status codes.
func notFoundStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrCheckpointNotFound),
		errors.Is(err, repository.ErrBatchMetricNotFound),
		errors.Is(err, repository.ErrDeadLetterNotFound),
		errors.Is(err, repository.ErrQuarantineNotFound),
		errors.Is(err, repository.ErrProvenanceNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

func limitParam(r *http.Request, fallback int) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := s.repo.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, checkpoints)
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.repo.Find(r.Context(), chi.URLParam(r, "jobName"))
	if err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// handleControl sets the control signal of one job. Pause asks the runner to
// stop at its next page boundary; resume clears the pause; stop clears the
// lease immediately.
func (s *Server) handleControl(action controlAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actorRequest
		if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Actor == "" {
			req.Actor = "admin"
		}

		signal := model.ControlRun
		switch action {
		case controlPause:
			signal = model.ControlPause
		case controlStop:
			signal = model.ControlStop
		}

		jobName := chi.URLParam(r, "jobName")
		if err := s.repo.SetControl(r.Context(), jobName, signal, req.Actor); err != nil {
			writeError(w, notFoundStatus(err), err)
			return
		}
		logger.Infof("Admin: job '%s' set to %s by '%s'.", jobName, signal, req.Actor)
		writeJSON(w, http.StatusOK, map[string]string{"job_name": jobName, "control_signal": string(signal)})
	}
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50)
	statusParam := r.URL.Query().Get("status")
	if statusParam == "" {
		batches, err := s.repo.ListRunningBatches(r.Context(), r.URL.Query().Get("kind"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, batches)
		return
	}

	status, err := model.ParseBatchStatus(statusParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	batches, err := s.repo.ListBatchesByStatus(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.repo.FindBatchMetric(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	if statusParam == "" {
		statusParam = string(model.DeadLetterPending)
	}
	status, err := model.ParseDeadLetterStatus(statusParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.repo.ListDeadLettersByStatus(r.Context(), status, limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDeadLetterStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.repo.CountDeadLettersByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	entry, err := s.repo.FindDeadLetter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.queue.Replay(r.Context(), id, req.Actor); err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "result": "replayed"})
}

func (s *Server) handleResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.queue.Resolve(r.Context(), id, req.Actor, req.Note); err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "result": "resolved"})
}

func (s *Server) handleAbandonDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.queue.Abandon(r.Context(), id, req.Actor, req.Note); err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "result": "abandoned"})
}

func (s *Server) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	if statusParam == "" {
		statusParam = string(model.QuarantinePending)
	}
	status, err := model.ParseQuarantineStatus(statusParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.repo.ListQuarantineByStatus(r.Context(), status, limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleQuarantineStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.repo.CountQuarantineByReason(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleGetQuarantine(w http.ResponseWriter, r *http.Request) {
	entry, err := s.repo.FindQuarantine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleResolveQuarantine(w http.ResponseWriter, r *http.Request) {
	var req resolveQuarantineRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	action, err := model.ParseResolutionAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.gate.ResolveQuarantine(r.Context(), id, action, req.Actor, req.Notes); err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "action": string(action)})
}

func (s *Server) handleListProvenance(w http.ResponseWriter, r *http.Request) {
	records, err := s.repo.ListProvenanceByEntity(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleLockProvenance(w http.ResponseWriter, r *http.Request) {
	var req provenanceLockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := model.ProvenanceKey{EntityType: req.EntityType, EntityID: req.EntityID, FieldName: req.FieldName}
	if err := s.prov.Lock(r.Context(), key, req.Actor, req.Reason); err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "locked": true})
}

func (s *Server) handleUnlockProvenance(w http.ResponseWriter, r *http.Request) {
	var req provenanceLockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := model.ProvenanceKey{EntityType: req.EntityType, EntityID: req.EntityID, FieldName: req.FieldName}
	if err := s.prov.Unlock(r.Context(), key); err != nil {
		writeError(w, notFoundStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "locked": false})
}

func (s *Server) handleBreakerAudit(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListBreakerAudit(r.Context(), r.URL.Query().Get("job"), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSelfHealAudit(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListSelfHealAudit(r.Context(), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePurgeProofs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListPurgeProofs(r.Context(), r.URL.Query().Get("table"), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
