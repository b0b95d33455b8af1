package api

import (
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/portfolio-tracker/internal/auth"
	"github.com/portfolio-tracker/internal/service"
)

const defaultMaxBatchTickers = 100

// handleGetQuote handles GET /api/quotes/{ticker}
// Query: fresh=true bypasses the freshness window, currency and type are hints.
func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	ticker := strings.TrimSpace(mux.Vars(r)["ticker"])
	if ticker == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Ticker required", nil)
		return
	}

	q := r.URL.Query()
	fresh := false
	if v := q.Get("fresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "fresh must be a boolean", nil)
			return
		}
		fresh = b
	}

	res, err := s.services.Quotes.Resolve(r.Context(), service.QuoteRequest{
		Ticker:        ticker,
		ForceFresh:    fresh,
		CurrencyHint:  q.Get("currency"),
		AssetTypeHint: q.Get("type"),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// handleBatchQuotes handles POST /api/quotes/batch
func (s *Server) handleBatchQuotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tickers []service.BatchQuoteRequest `json:"tickers"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	limit := s.config.MaxBatchTickers
	if limit <= 0 {
		limit = defaultMaxBatchTickers
	}
	if len(req.Tickers) == 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "At least one ticker required", nil)
		return
	}
	if len(req.Tickers) > limit {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Too many tickers", map[string]interface{}{
			"max": limit,
		})
		return
	}

	results := s.services.Quotes.ResolveBatch(r.Context(), req.Tickers)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}

// handleImportTicker handles POST /api/quotes/{ticker}/import
// The body is optional and may carry currency and assetType hints.
func (s *Server) handleImportTicker(w http.ResponseWriter, r *http.Request) {
	ticker := strings.TrimSpace(mux.Vars(r)["ticker"])
	if ticker == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Ticker required", nil)
		return
	}

	var body struct {
		Currency  string `json:"currency"`
		AssetType string `json:"assetType"`
	}
	if err := parseJSONBody(r, &body); err != nil && !stderrors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	id, _ := auth.FromContext(r.Context())
	res, added, err := s.services.Quotes.ImportTicker(r.Context(), id.ID, service.QuoteRequest{
		Ticker:        ticker,
		CurrencyHint:  body.Currency,
		AssetTypeHint: body.AssetType,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]interface{}{
		"quote": res,
		"added": added,
	})
}
