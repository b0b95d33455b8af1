package storage

import (
	"context"
	"fmt"
)

// Capabilities are schema features detected once at startup
type Capabilities struct {
	// FingerprintDedupe is true when transactions.fingerprint exists and is
	// covered by a unique index together with user_id.
	FingerprintDedupe bool
}

// DetectCapabilities inspects the catalog instead of probing with writes
func DetectCapabilities(ctx context.Context, db *PostgresDB) (Capabilities, error) {
	var caps Capabilities

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_schema = current_schema()
				AND table_name = 'transactions'
				AND column_name = 'fingerprint'
		) AND EXISTS (
			SELECT 1
			FROM pg_indexes
			WHERE schemaname = current_schema()
				AND tablename = 'transactions'
				AND indexdef ILIKE '%UNIQUE%'
				AND indexdef ILIKE '%fingerprint%'
		)
	`
	if err := db.Pool().QueryRow(ctx, query).Scan(&caps.FingerprintDedupe); err != nil {
		return caps, fmt.Errorf("failed to detect schema capabilities: %w", err)
	}
	return caps, nil
}
