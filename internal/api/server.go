// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-tracker/internal/job"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/service"
)

// Service interfaces for dependency injection and testing

// QuoteService resolves live prices
type QuoteService interface {
	Resolve(ctx context.Context, req service.QuoteRequest) (*service.QuoteResult, error)
	ResolveBatch(ctx context.Context, reqs []service.BatchQuoteRequest) []service.BatchQuoteItem
	ImportTicker(ctx context.Context, userID string, req service.QuoteRequest) (*service.QuoteResult, bool, error)
}

// HistoryService refreshes stored price series
type HistoryService interface {
	Refresh(ctx context.Context, ticker, period string) (*service.RefreshResult, error)
	RefreshAll(ctx context.Context, period string) (*service.RefreshSummary, error)
}

// ImportService ingests normalized broker records
type ImportService interface {
	ImportBatch(ctx context.Context, userID, provider string, records []models.ImportRecord) (*models.ImportResult, error)
}

// FxService looks up conversion rates
type FxService interface {
	Resolve(ctx context.Context, currency string, date time.Time) (service.FxQuote, error)
}

// JobQueue accepts asynchronous refreshes
type JobQueue interface {
	Enqueue(ctx context.Context, ticker, period, requestedBy string) (*job.RefreshJob, bool, error)
	Get(ctx context.Context, id string) (*job.RefreshJob, error)
}

// IdentityResolver maps an Authorization header to the caller
type IdentityResolver interface {
	Resolve(header string) (models.Identity, error)
}

// Pinger is a dependency checked by /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles what the handlers call. Jobs may be nil, which disables
// async refreshes.
type Services struct {
	Quotes     QuoteService
	History    HistoryService
	Imports    ImportService
	Fx         FxService
	Jobs       JobQueue
	Identities IdentityResolver
	Health     map[string]Pinger
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerMinute int // per caller
	Burst             int
	MaxImportRecords  int
	MaxBatchTickers   int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
		logger:   logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerMinute, s.config.Burst)

	// order matters: the request logger must exist before anything logs
	s.router.Use(RequestContextMiddleware(s.logger))
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(s.services.Identities))
	api.Use(RateLimitMiddleware(rateLimiter))
	s.setupRoutes(api)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(api *mux.Router) {
	// Quote endpoints; batch is registered before the {ticker} pattern
	api.HandleFunc("/quotes/batch", s.handleBatchQuotes).Methods("POST")
	api.HandleFunc("/quotes/{ticker}", s.handleGetQuote).Methods("GET")
	api.HandleFunc("/quotes/{ticker}/import", s.handleImportTicker).Methods("POST")

	// History endpoints
	api.HandleFunc("/history/jobs/{id}", s.handleGetRefreshJob).Methods("GET")
	api.HandleFunc("/history/{ticker}/refresh", s.handleRefreshHistory).Methods("POST")

	// Transaction import
	api.HandleFunc("/imports", s.handleImport).Methods("POST")

	// FX
	api.HandleFunc("/fx/{currency}", s.handleGetFxRate).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	checks := make(map[string]string, len(s.services.Health))
	for name, p := range s.services.Health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "portfolio-tracker",
		"checks":  checks,
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
