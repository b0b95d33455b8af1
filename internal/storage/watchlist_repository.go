package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/portfolio-tracker/internal/models"
)

// WatchlistRepository handles the tickers each user follows
type WatchlistRepository struct {
	db *PostgresDB
}

// NewWatchlistRepository creates a new watchlist repository
func NewWatchlistRepository(db *PostgresDB) *WatchlistRepository {
	return &WatchlistRepository{db: db}
}

// Add puts ticker on the user's watchlist. Adding twice is a no-op.
func (r *WatchlistRepository) Add(ctx context.Context, userID, ticker string) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		INSERT INTO watchlist (user_id, ticker, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, ticker) DO NOTHING
	`, userID, strings.ToUpper(ticker), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to add to watchlist: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns the user's watchlist, oldest first
func (r *WatchlistRepository) List(ctx context.Context, userID string) ([]models.WatchlistEntry, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT user_id, ticker, added_at FROM watchlist WHERE user_id = $1 ORDER BY added_at, ticker`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.WatchlistEntry])
	if err != nil {
		return nil, fmt.Errorf("failed to scan watchlist: %w", err)
	}
	return entries, nil
}
