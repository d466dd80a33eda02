package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-attendance/internal/audit"
)

// validOutcomes are the accepted values of the outcome filter.
var validOutcomes = map[string]bool{
	audit.OutcomeMatched:      true,
	audit.OutcomeNoMatch:      true,
	audit.OutcomeServiceError: true,
}

// handleListAudit returns paginated journal records with optional filters.
//
// Query parameters:
//   - outcome: matched, no_match or service_error
//   - subject_id: records for one subject
//   - device_id: records from one kiosk
//   - since: RFC 3339 timestamp, records at or after it
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "audit journal not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Outcome:   q.Get("outcome"),
		SubjectID: q.Get("subject_id"),
		DeviceID:  q.Get("device_id"),
	}

	if filter.Outcome != "" && !validOutcomes[filter.Outcome] {
		writeBadRequest(w, "outcome must be matched, no_match or service_error")
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit records", "error", err)
		writeInternalError(w, "failed to list audit records")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetAudit returns one journal record.
func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "audit journal not configured")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := s.auditRepo.Get(r.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		writeNotFound(w, "audit record not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get audit record", "id", id, "error", err)
		writeInternalError(w, "failed to get audit record")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
