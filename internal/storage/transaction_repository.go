package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/portfolio-tracker/internal/models"
)

// ErrDuplicateTransaction is returned when a ledger row with the same
// fingerprint already exists for the user
var ErrDuplicateTransaction = errors.New("duplicate transaction")

// TransactionRepository handles the append-only transaction ledger
type TransactionRepository struct {
	db *PostgresDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *PostgresDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Insert appends tx to the ledger keyed by its fingerprint. The unique
// (user_id, fingerprint) index decides duplicates, so concurrent imports
// cannot both insert the same row; both the ON CONFLICT path and a raced
// unique violation return ErrDuplicateTransaction.
func (r *TransactionRepository) Insert(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (user_id, date, id, trans_type, amount, price, currency, amount_cur,
			ex_rate, amount_base, platform, product_type, fees, notes, external_id, fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (user_id, fingerprint) DO NOTHING
		RETURNING trans_id
	`
	tx.CreatedAt = time.Now().UTC()

	err := r.db.Pool().QueryRow(ctx, query,
		tx.UserID,
		tx.Date,
		tx.InstrumentID,
		tx.Type,
		tx.Quantity,
		tx.Price,
		tx.Currency,
		tx.AmountCur,
		tx.ExRate,
		tx.AmountBase,
		tx.Platform,
		tx.ProductType,
		tx.Fees,
		tx.Notes,
		nullIfEmpty(tx.ExternalID),
		tx.Fingerprint,
		tx.CreatedAt,
	).Scan(&tx.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || IsUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// InsertPlain appends tx without a fingerprint, for schemas that lack the column
func (r *TransactionRepository) InsertPlain(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (user_id, date, id, trans_type, amount, price, currency, amount_cur,
			ex_rate, amount_base, platform, product_type, fees, notes, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING trans_id
	`
	tx.CreatedAt = time.Now().UTC()

	err := r.db.Pool().QueryRow(ctx, query,
		tx.UserID,
		tx.Date,
		tx.InstrumentID,
		tx.Type,
		tx.Quantity,
		tx.Price,
		tx.Currency,
		tx.AmountCur,
		tx.ExRate,
		tx.AmountBase,
		tx.Platform,
		tx.ProductType,
		tx.Fees,
		tx.Notes,
		nullIfEmpty(tx.ExternalID),
		tx.CreatedAt,
	).Scan(&tx.ID)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ExistsSimilar reports whether the ledger already holds a row with the same
// content as tx: date, id, type, platform, currency, quantity and price
// rounded to 6 decimals, and a matching amount in either currency.
func (r *TransactionRepository) ExistsSimilar(ctx context.Context, tx *models.Transaction) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_id = $1
				AND date = $2
				AND id = $3
				AND trans_type = $4
				AND platform = $5
				AND currency = $6
				AND ROUND(amount::numeric, 6) = ROUND($7::numeric, 6)
				AND ROUND(COALESCE(price, 0)::numeric, 6) = ROUND($8::numeric, 6)
				AND (ROUND(amount_cur::numeric, 2) = ROUND($9::numeric, 2)
					OR ROUND(amount_base::numeric, 2) = ROUND($10::numeric, 2))
		)
	`
	price := 0.0
	if tx.Price != nil {
		price = *tx.Price
	}

	var exists bool
	err := r.db.Pool().QueryRow(ctx, query,
		tx.UserID,
		tx.Date,
		tx.InstrumentID,
		tx.Type,
		tx.Platform,
		tx.Currency,
		tx.Quantity,
		price,
		tx.AmountCur,
		tx.AmountBase,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check similar transaction: %w", err)
	}
	return exists, nil
}

// ListByUser returns a user's ledger between from and to, oldest first
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]*models.Transaction, error) {
	if limit <= 0 || limit > math.MaxInt32 {
		limit = 1000
	}
	query := `
		SELECT trans_id, user_id, date, id, trans_type, amount, price, currency, amount_cur, ex_rate,
			amount_base, platform, product_type, fees, notes, COALESCE(external_id, ''), created_at
		FROM transactions
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC, trans_id ASC
		LIMIT $4
	`
	rows, err := r.db.Pool().Query(ctx, query, userID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Date,
			&t.InstrumentID,
			&t.Type,
			&t.Quantity,
			&t.Price,
			&t.Currency,
			&t.AmountCur,
			&t.ExRate,
			&t.AmountBase,
			&t.Platform,
			&t.ProductType,
			&t.Fees,
			&t.Notes,
			&t.ExternalID,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
