package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/portfolio-tracker/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	return &config.PostgresConfig{
		Host:           host,
		Port:           "5432",
		Database:       "portfolio_test",
		User:           "portfolio",
		Password:       "portfolio_dev_password",
		MaxConnections: 4,
	}
}

// migrationsDir locates migrations/postgres relative to this source file
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations", "postgres")
}

// setupTestDB connects to the test database, applies migrations and empties
// every table. The test is skipped when Postgres is unreachable.
func setupTestDB(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(PostgresURL(cfg), migrationsDir()); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	ctx := testContext(t)
	_, err = db.Pool().Exec(ctx,
		`TRUNCATE instruments, live_quotes, price_history, fx_rates, transactions, watchlist RESTART IDENTITY`)
	if err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	return db
}
