package api

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-tracker/internal/auth"
	"github.com/portfolio-tracker/internal/models"
)

const defaultMaxImportRecords = 5000

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// handleImport handles POST /api/imports
// Body: {"provider": "revolut", "records": [...]}. Records belong to the caller.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string                `json:"provider"`
		Records  []models.ImportRecord `json:"records"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Provider required", nil)
		return
	}
	limit := s.config.MaxImportRecords
	if limit <= 0 {
		limit = defaultMaxImportRecords
	}
	if len(req.Records) > limit {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Too many records", map[string]interface{}{
			"max": limit,
		})
		return
	}

	id, _ := auth.FromContext(r.Context())
	result, err := s.services.Imports.ImportBatch(r.Context(), id.ID, provider, req.Records)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetFxRate handles GET /api/fx/{currency}?date=YYYY-MM-DD
// The date defaults to today (UTC).
func (s *Server) handleGetFxRate(w http.ResponseWriter, r *http.Request) {
	ccy := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["currency"]))
	if !currencyCode.MatchString(ccy) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Currency must be a 3-letter code", nil)
		return
	}

	date := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid date format, expected YYYY-MM-DD", nil)
			return
		}
		date = d
	}

	q, err := s.services.Fx.Resolve(r.Context(), ccy, date)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !q.Found {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "No rate on or before the requested date", map[string]interface{}{
			"currency": ccy,
			"date":     date.Format("2006-01-02"),
		})
		return
	}
	respondJSON(w, http.StatusOK, q)
}
