package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/feegate-io/feegate/internal/agent"
	"github.com/feegate-io/feegate/internal/audit"
	"github.com/feegate-io/feegate/internal/knowledge"
	"github.com/feegate-io/feegate/internal/scenario"
	"github.com/feegate-io/feegate/internal/validator"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q agent.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	outcome, err := s.runner.Run(r.Context(), &q)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req agent.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	outcome, err := s.runner.Resume(r.Context(), &req)
	if err != nil {
		var stale *scenario.ErrStaleVersion
		if errors.As(err, &stale) {
			writeError(w, http.StatusConflict, "stale_clarifier", stale.Error())
			return
		}
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// writePipelineError maps pipeline failures onto HTTP statuses. Refusals and
// clarifications are not errors and never reach this path.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var (
		verr   *agent.ValidationError
		fetch  *knowledge.FetchError
		citErr *validator.CitationError
		schema *knowledge.SchemaError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_request", verr.Error())
	case errors.As(err, &fetch):
		writeError(w, http.StatusBadGateway, "source_unavailable", fetch.Error())
	case errors.As(err, &schema):
		writeError(w, http.StatusBadGateway, "source_malformed", schema.Error())
	case errors.As(err, &citErr):
		// The gate tripping means generation produced an unverifiable claim.
		// Nothing uncited leaves the service; the caller gets a retryable error.
		writeError(w, http.StatusBadGateway, "validation_failed", "generated explanation failed the citation gate")
	default:
		log.Error().Err(err).Msg("query_pipeline_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req audit.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	result, err := s.ledger.RecordAndExecute(r.Context(), &req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, audit.ErrMissingApprovalToken), errors.Is(err, audit.ErrApprovalRejected):
		writeError(w, http.StatusForbidden, "approval_required", err.Error())
	case errors.Is(err, audit.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "unknown_action", err.Error())
	case errors.Is(err, audit.ErrReconciliationRequired):
		writeError(w, http.StatusConflict, "reconciliation_required", err.Error())
	case result != nil:
		// Executed and failed: the attempt is recorded, surface both.
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   "action_failed",
			"message": err.Error(),
			"result":  result,
		})
	default:
		log.Error().Err(err).Str("action", req.Action).Msg("action_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var from, to time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return
		}
		to = t
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.ledger.List(r.Context(), q.Get("actor"), q.Get("action"), from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.ledger.VerifyEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entry_id": id,
		"valid":    ok,
	})
}
