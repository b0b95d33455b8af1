// Package app assembles the engine from configuration. The server, the
// worker and the command-line tools share this wiring so that every process
// talks to providers through the same budget and circuit breakers.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/portfolio-tracker/internal/adapter"
	"github.com/portfolio-tracker/internal/api"
	"github.com/portfolio-tracker/internal/auth"
	"github.com/portfolio-tracker/internal/circuitbreaker"
	"github.com/portfolio-tracker/internal/config"
	"github.com/portfolio-tracker/internal/job"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/market"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/ratelimit"
	"github.com/portfolio-tracker/internal/service"
	"github.com/portfolio-tracker/internal/storage"
)

// App holds the connections and services of one process
type App struct {
	Config *config.Config
	Logger *logging.Logger

	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB // nil unless the mirror is enabled

	BudgetConfig *ratelimit.BudgetConfig
	Budget       *ratelimit.ProviderBudget
	Metrics      *ratelimit.MetricsCollector
	Breakers     *circuitbreaker.CircuitBreakerManager
	Tables       *market.SymbolTables

	QuoteCache *storage.QuoteCache
	Quotes     *service.QuoteResolver
	History    *service.HistoryUpdater
	Imports    *service.Importer
	Fx         *service.FxResolver
	Jobs       *job.RefreshQueue
	Identities *auth.Resolver

	guards    map[string]*adapter.Guard
	providers map[string]adapter.QuoteProvider
}

// New connects to the stores and builds every service. Postgres and Redis
// are required; ClickHouse is only dialed when enabled.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    logger,
		guards:    make(map[string]*adapter.Guard),
		providers: make(map[string]adapter.QuoteProvider),
	}

	if err := a.connect(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect() error {
	var err error

	a.Postgres, err = storage.NewPostgresDB(&a.Config.Database.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	a.Redis, err = storage.NewRedisCache(&a.Config.Database.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if a.Config.Database.ClickHouse.Enabled {
		a.ClickHouse, err = storage.NewClickHouseDB(&a.Config.Database.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
	}

	a.Logger.WithFields(map[string]interface{}{
		"clickhouse": a.ClickHouse != nil,
	}).Info("Database connections established")
	return nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	var err error

	a.Tables, err = market.LoadTables(cfg.Market.SymbolMapFile)
	if err != nil {
		return fmt.Errorf("symbol tables: %w", err)
	}

	a.BudgetConfig = ratelimit.LoadFromEnv()
	if err := a.BudgetConfig.Validate(); err != nil {
		return fmt.Errorf("provider budget: %w", err)
	}
	a.Budget, err = ratelimit.NewProviderBudget(&ratelimit.ProviderBudgetConfig{
		Redis:          a.Redis.Client(),
		TotalBudget:    a.BudgetConfig.TotalPerWindow,
		ReservedBudget: a.BudgetConfig.Reserved,
		WindowSize:     a.BudgetConfig.Window(),
	})
	if err != nil {
		return fmt.Errorf("provider budget: %w", err)
	}
	a.Metrics, err = ratelimit.NewMetricsCollector(a.Budget, a.Redis.Client())
	if err != nil {
		return fmt.Errorf("budget metrics: %w", err)
	}
	a.Breakers = circuitbreaker.NewCircuitBreakerManager(adapter.BreakerConfig)

	scrapeHTTP, err := adapter.NewHTTPClient(adapter.HTTPClientConfig{Timeout: cfg.Market.ScrapeTimeout})
	if err != nil {
		return err
	}
	seriesHTTP, err := adapter.NewHTTPClient(adapter.HTTPClientConfig{Timeout: cfg.Market.ProviderTimeout})
	if err != nil {
		return err
	}
	cryptoHTTP, err := adapter.NewHTTPClient(adapter.HTTPClientConfig{Timeout: cfg.Market.CryptoTimeout})
	if err != nil {
		return err
	}
	fxHTTP, err := adapter.NewHTTPClient(adapter.HTTPClientConfig{Timeout: cfg.Market.ProviderTimeout, RequestsPerSecond: 1})
	if err != nil {
		return err
	}

	google := adapter.NewGoogleFinanceScraper(scrapeHTTP, "")
	yahoo := adapter.NewYahooFinance(seriesHTTP, "", "")
	coingecko := adapter.NewCoinGecko(cryptoHTTP, "")
	cnb := adapter.NewCNBClient(fxHTTP, "")

	providers := service.ResolverProviders{
		Scrape: a.guarded(google),
		Series: a.guarded(yahoo),
		Crypto: a.guarded(coingecko),
	}
	series := adapter.NewGuardedSeries(yahoo, a.guard(yahoo.Name()))
	fxTable := &guardedTable{inner: cnb, guard: a.guard(cnb.Name())}

	instruments := storage.NewInstrumentRepository(a.Postgres)
	liveQuotes := storage.NewLiveQuoteRepository(a.Postgres)
	history := storage.NewPriceHistoryRepository(a.Postgres)
	rates := storage.NewFxRateRepository(a.Postgres)
	transactions := storage.NewTransactionRepository(a.Postgres)
	watchlist := storage.NewWatchlistRepository(a.Postgres)

	a.QuoteCache = storage.NewQuoteCache(storage.NewCacheService(a.Redis, cfg.Cache.QuoteTTL), liveQuotes)

	caps, err := storage.DetectCapabilities(ctx, a.Postgres)
	if err != nil {
		a.Logger.WithError(err).Warn("Schema capability check failed, using plain dedupe")
	}
	a.Logger.WithField("fingerprint_dedupe", caps.FingerprintDedupe).Info("Schema capabilities detected")

	a.Fx = service.NewFxResolver(rates, fxTable, cfg.Market.BaseCurrency, cfg.Cache.FxMemoTTL)
	a.Imports = service.NewImporter(transactions, instruments, a.Fx, caps.FingerprintDedupe)
	a.Quotes = service.NewQuoteResolver(instruments, a.QuoteCache, history, watchlist, providers, a.Tables, cfg.Cache.FreshnessWindow)

	pacer, err := ratelimit.NewBatchPacer(&ratelimit.BatchPacerConfig{
		Budget:         a.Budget,
		PauseThreshold: a.BudgetConfig.PauseThreshold,
		BaseDelay:      cfg.Market.RefreshPacing,
		MaxDelay:       maxDelay(cfg.Market.RefreshPacing),
	})
	if err != nil {
		return fmt.Errorf("batch pacer: %w", err)
	}

	var mirror service.PriceMirror
	if a.ClickHouse != nil {
		mirror = storage.NewPriceMirror(a.ClickHouse)
	}
	a.History = service.NewHistoryUpdater(instruments, history, a.QuoteCache, liveQuotes, series, mirror, pacer, a.Tables)

	a.Jobs = job.NewRefreshQueue(a.Redis.Client())
	a.Identities = auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.DefaultUserID)

	a.Logger.WithFields(map[string]interface{}{
		"base_currency": cfg.Market.BaseCurrency,
		"budget":        a.BudgetConfig.String(),
		"single_user":   cfg.Auth.JWTSecret == "",
	}).Info("Services initialized")
	return nil
}

func maxDelay(base time.Duration) time.Duration {
	if d := 32 * base; d > ratelimit.DefaultMaxDelay {
		return d
	}
	return ratelimit.DefaultMaxDelay
}

// guard returns the shared guard of provider name, creating it on first use
func (a *App) guard(name string) *adapter.Guard {
	if g, ok := a.guards[name]; ok {
		return g
	}
	g := adapter.NewGuard(name, ratelimit.NewMeteredBudget(a.Budget, a.Metrics), a.Breakers.GetOrCreate(name))
	a.guards[name] = g
	return g
}

func (a *App) guarded(p adapter.QuoteProvider) adapter.QuoteProvider {
	gp := adapter.NewGuardedProvider(p, a.guard(p.Name()))
	a.providers[p.Name()] = gp
	return gp
}

// Provider returns the guarded quote provider called name
func (a *App) Provider(name string) (adapter.QuoteProvider, bool) {
	p, ok := a.providers[name]
	return p, ok
}

// ProviderNames lists the quote providers Provider accepts
func (a *App) ProviderNames() []string {
	names := make([]string, 0, len(a.providers))
	for n := range a.providers {
		names = append(names, n)
	}
	return names
}

// ProviderHealth reports the tracked health of every guarded provider
func (a *App) ProviderHealth() map[string]*adapter.ProviderHealth {
	out := make(map[string]*adapter.ProviderHealth, len(a.guards))
	for name, g := range a.guards {
		out[name] = g.Health()
	}
	return out
}

// Services returns what the HTTP handlers call
func (a *App) Services() api.Services {
	return api.Services{
		Quotes:     a.Quotes,
		History:    a.History,
		Imports:    a.Imports,
		Fx:         a.Fx,
		Jobs:       a.Jobs,
		Identities: a.Identities,
		Health:     a.HealthChecks(),
	}
}

// HealthChecks returns the stores probed by the health endpoint
func (a *App) HealthChecks() map[string]api.Pinger {
	checks := map[string]api.Pinger{
		"postgres": a.Postgres,
		"redis":    a.Redis,
	}
	if a.ClickHouse != nil {
		checks["clickhouse"] = a.ClickHouse
	}
	return checks
}

// Close releases every connection that was opened
func (a *App) Close() {
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			a.Logger.WithError(err).Warn("Error closing ClickHouse")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("Error closing Redis")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}

// guardedTable puts the central-bank download behind its provider guard
type guardedTable struct {
	inner service.FxTableFetcher
	guard *adapter.Guard
}

func (t *guardedTable) FetchDaily(ctx context.Context, date time.Time) ([]models.FxRate, error) {
	var rates []models.FxRate
	err := t.guard.Do(ctx, func() error {
		var err error
		rates, err = t.inner.FetchDaily(ctx, date)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rates, nil
}
