package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

// InstrumentRepository handles the instrument reference table
type InstrumentRepository struct {
	db *PostgresDB
}

// NewInstrumentRepository creates a new instrument repository
func NewInstrumentRepository(db *PostgresDB) *InstrumentRepository {
	return &InstrumentRepository{db: db}
}

const instrumentColumns = `id, alias_of, company_name, isin, currency, asset_class, price_source, status, last_verified, created_at, updated_at`

func scanInstrument(row pgx.Row) (*models.Instrument, error) {
	var inst models.Instrument
	err := row.Scan(
		&inst.ID,
		&inst.AliasOf,
		&inst.CompanyName,
		&inst.ISIN,
		&inst.Currency,
		&inst.AssetClass,
		&inst.PriceSource,
		&inst.Status,
		&inst.LastVerified,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// Get returns the instrument with id, or nil when it does not exist
func (r *InstrumentRepository) Get(ctx context.Context, id string) (*models.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE id = $1`

	inst, err := scanInstrument(r.db.Pool().QueryRow(ctx, query, strings.ToUpper(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}
	return inst, nil
}

// ListActive returns the ids of every active instrument, ordered by id
func (r *InstrumentRepository) ListActive(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT id FROM instruments WHERE status = $1 ORDER BY id`, types.InstrumentActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan instruments: %w", err)
	}
	return ids, nil
}

// List returns instruments with the given status, or all when status is empty
func (r *InstrumentRepository) List(ctx context.Context, status types.InstrumentStatus) ([]*models.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE ($1 = '' OR status = $1) ORDER BY id`
	rows, err := r.db.Pool().Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	defer rows.Close()

	var out []*models.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UpsertMetadata records what an import learned about an instrument.
// New rows start as needs_review; existing non-empty fields are never blanked.
// created reports whether a new row was inserted.
func (r *InstrumentRepository) UpsertMetadata(ctx context.Context, meta models.InstrumentMetadata, class types.AssetClass) (created bool, err error) {
	query := `
		INSERT INTO instruments (id, company_name, isin, currency, asset_class, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			company_name = COALESCE(NULLIF(instruments.company_name, ''), EXCLUDED.company_name),
			isin = COALESCE(NULLIF(instruments.isin, ''), EXCLUDED.isin),
			currency = COALESCE(NULLIF(instruments.currency, ''), EXCLUDED.currency),
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)
	`

	err = r.db.Pool().QueryRow(ctx, query,
		strings.ToUpper(meta.ID),
		strings.TrimSpace(meta.CompanyName),
		strings.ToUpper(strings.TrimSpace(meta.ISIN)),
		strings.ToUpper(strings.TrimSpace(meta.Currency)),
		class,
		types.InstrumentNeedsReview,
		time.Now().UTC(),
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert instrument %s: %w", meta.ID, err)
	}
	return created, nil
}

// Save inserts or fully replaces an instrument row (manual curation)
func (r *InstrumentRepository) Save(ctx context.Context, inst *models.Instrument) error {
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	if inst.PriceSource == "" {
		inst.PriceSource = types.PriceSourceAuto
	}
	if inst.Status == "" {
		inst.Status = types.InstrumentActive
	}
	if inst.AssetClass == "" {
		inst.AssetClass = types.AssetEquity
	}

	query := `
		INSERT INTO instruments (` + instrumentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			alias_of = EXCLUDED.alias_of,
			company_name = EXCLUDED.company_name,
			isin = EXCLUDED.isin,
			currency = EXCLUDED.currency,
			asset_class = EXCLUDED.asset_class,
			price_source = EXCLUDED.price_source,
			status = EXCLUDED.status,
			last_verified = EXCLUDED.last_verified,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Pool().Exec(ctx, query,
		strings.ToUpper(inst.ID),
		inst.AliasOf,
		inst.CompanyName,
		inst.ISIN,
		inst.Currency,
		inst.AssetClass,
		inst.PriceSource,
		inst.Status,
		inst.LastVerified,
		inst.CreatedAt,
		inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save instrument: %w", err)
	}
	return nil
}

// MarkVerified stamps the time a fetched name last matched the recorded one
func (r *InstrumentRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE instruments SET last_verified = $2 WHERE id = $1`, strings.ToUpper(id), at)
	if err != nil {
		return fmt.Errorf("failed to mark instrument verified: %w", err)
	}
	return nil
}
