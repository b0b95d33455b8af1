package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/portfolio-tracker/internal/auth"
	"github.com/portfolio-tracker/internal/types"
)

// handleRefreshHistory handles POST /api/history/{ticker}/refresh
// Query: period (max, Ny or empty), async=true queues the refresh.
// Refreshing ALL is an admin operation.
func (s *Server) handleRefreshHistory(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["ticker"]))
	if ticker == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Ticker required", nil)
		return
	}
	period := strings.TrimSpace(r.URL.Query().Get("period"))

	async := false
	if v := r.URL.Query().Get("async"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "async must be a boolean", nil)
			return
		}
		async = b
	}

	id, _ := auth.FromContext(r.Context())
	all := ticker == types.AllInstruments
	if all && !id.IsAdmin() {
		respondError(w, http.StatusForbidden, ErrCodeForbidden, "Refreshing all instruments requires admin rights", nil)
		return
	}

	if async {
		if s.services.Jobs == nil {
			respondError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Job queue is not configured", nil)
			return
		}
		job, created, err := s.services.Jobs.Enqueue(r.Context(), ticker, period, id.ID)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"job":     job,
			"created": created,
		})
		return
	}

	if all {
		summary, err := s.services.History.RefreshAll(r.Context(), period)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, summary)
		return
	}

	res, err := s.services.History.Refresh(r.Context(), ticker, period)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleGetRefreshJob handles GET /api/history/jobs/{id}
func (s *Server) handleGetRefreshJob(w http.ResponseWriter, r *http.Request) {
	if s.services.Jobs == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Job queue is not configured", nil)
		return
	}
	jobID := mux.Vars(r)["id"]

	job, err := s.services.Jobs.Get(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Job not found", map[string]interface{}{"id": jobID})
		return
	}
	respondJSON(w, http.StatusOK, job)
}
