package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/portfolio-tracker/internal/config"
	"github.com/portfolio-tracker/internal/models"
)

// ClickHouseDB wraps the connection to the optional price-history mirror
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     4,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec executes a query without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// PriceMirror copies refreshed series into ClickHouse for analytical reads
type PriceMirror struct {
	db *ClickHouseDB
}

// NewPriceMirror creates a mirror writer
func NewPriceMirror(db *ClickHouseDB) *PriceMirror {
	return &PriceMirror{db: db}
}

// MirrorPoints appends points under each id in one batch. ReplacingMergeTree
// collapses repeated (instrument_id, date) rows on merge.
func (m *PriceMirror) MirrorPoints(ctx context.Context, ids []string, points []models.PricePoint) error {
	targets := uniqueUpper(ids)
	if len(targets) == 0 || len(points) == 0 {
		return nil
	}

	batch, err := m.db.Conn().PrepareBatch(ctx, "INSERT INTO price_history (instrument_id, date, price, source)")
	if err != nil {
		return fmt.Errorf("failed to prepare mirror batch: %w", err)
	}
	for _, id := range targets {
		for _, p := range points {
			if err := batch.Append(id, p.Date, p.Price, string(p.Source)); err != nil {
				_ = batch.Abort()
				return fmt.Errorf("failed to append mirror row: %w", err)
			}
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send mirror batch: %w", err)
	}
	return nil
}
