package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

// PriceHistoryRepository handles daily closes keyed by (instrument id, date)
type PriceHistoryRepository struct {
	db *PostgresDB
}

// NewPriceHistoryRepository creates a new price history repository
func NewPriceHistoryRepository(db *PostgresDB) *PriceHistoryRepository {
	return &PriceHistoryRepository{db: db}
}

const upsertPriceQuery = `
	INSERT INTO price_history (id, date, price, source)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id, date) DO UPDATE SET
		price = EXCLUDED.price,
		source = EXCLUDED.source
`

// Stats returns the point count and last stored date of id
func (r *PriceHistoryRepository) Stats(ctx context.Context, id string) (models.SeriesStats, error) {
	var stats models.SeriesStats
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*), MAX(date) FROM price_history WHERE id = $1`,
		strings.ToUpper(id),
	).Scan(&stats.Count, &stats.LastDate)
	if err != nil {
		return stats, fmt.Errorf("failed to read series stats: %w", err)
	}
	return stats, nil
}

// Series returns the whole stored series of id in ascending date order
func (r *PriceHistoryRepository) Series(ctx context.Context, id string) ([]models.PricePoint, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT id, date, price, source FROM price_history WHERE id = $1 ORDER BY date ASC`,
		strings.ToUpper(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PricePoint, error) {
		var p models.PricePoint
		err := row.Scan(&p.InstrumentID, &p.Date, &p.Price, &p.Source)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan series: %w", err)
	}
	return points, nil
}

// Range returns the points of id between from and to inclusive, ascending
func (r *PriceHistoryRepository) Range(ctx context.Context, id string, from, to time.Time) ([]models.PricePoint, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT id, date, price, source FROM price_history
		 WHERE id = $1 AND date BETWEEN $2 AND $3 ORDER BY date ASC`,
		strings.ToUpper(id), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query series range: %w", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PricePoint, error) {
		var p models.PricePoint
		err := row.Scan(&p.InstrumentID, &p.Date, &p.Price, &p.Source)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan series range: %w", err)
	}
	return points, nil
}

// UpsertSeries writes every (date, price) pair under each of ids inside one
// transaction, so a partially written range is never visible. Duplicate ids
// are written once.
func (r *PriceHistoryRepository) UpsertSeries(ctx context.Context, ids []string, points []models.PricePoint, source types.QuoteSource) (int, error) {
	targets := uniqueUpper(ids)
	if len(targets) == 0 || len(points) == 0 {
		return 0, nil
	}

	written := 0
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, id := range targets {
			for _, p := range points {
				batch.Queue(upsertPriceQuery, id, p.Date, p.Price, source)
			}
		}
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to upsert price point: %w", err)
			}
			written++
		}
		return br.Close()
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// AddPoint upserts a single point under each of ids
func (r *PriceHistoryRepository) AddPoint(ctx context.Context, ids []string, date time.Time, price float64, source types.QuoteSource) error {
	point := models.PricePoint{Date: date, Price: price}
	_, err := r.UpsertSeries(ctx, ids, []models.PricePoint{point}, source)
	return err
}

func uniqueUpper(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
