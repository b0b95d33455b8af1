package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/portfolio-tracker/internal/logging"
)

const clickHouseMigrationsTable = "schema_migrations_mirror"

type sqlMigration struct {
	name       string
	statements []string
}

// RunClickHouseMigrations applies the .sql files of migrationsPath that are
// not yet recorded in the mirror's migration table, in name order. A file is
// recorded only after all of its statements succeeded.
func RunClickHouseMigrations(ctx context.Context, db *ClickHouseDB, migrationsPath string) error {
	logger := logging.FromContext(ctx)

	migrations, err := loadSQLMigrations(os.DirFS(migrationsPath))
	if err != nil {
		return err
	}
	if len(migrations) == 0 {
		logger.Info("no clickhouse migration files found")
		return nil
	}

	if err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+clickHouseMigrationsTable+` (
		name String,
		applied_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = ReplacingMergeTree ORDER BY name`); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	pending := pendingMigrations(migrations, applied)
	logger.WithFields(map[string]interface{}{
		"total":   len(migrations),
		"pending": len(pending),
	}).Info("clickhouse migrations")

	for _, m := range pending {
		fileLogger := logger.WithField("file", m.name)
		for i, stmt := range m.statements {
			if err := db.Exec(ctx, stmt); err != nil {
				fileLogger.WithError(err).WithField("statement", truncate(stmt, 80)).Error("migration statement failed")
				return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, m.name, err)
			}
		}
		if err := db.Exec(ctx, `INSERT INTO `+clickHouseMigrationsTable+` (name) VALUES (?)`, m.name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
		fileLogger.WithField("statements", len(m.statements)).Info("applied clickhouse migration")
	}
	return nil
}

func (db *ClickHouseDB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.conn.Query(ctx, `SELECT name FROM `+clickHouseMigrationsTable+` FINAL`)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan applied migration: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// loadSQLMigrations reads the top-level .sql files of fsys sorted by name
func loadSQLMigrations(fsys fs.FS) ([]sqlMigration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]sqlMigration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		out = append(out, sqlMigration{name: name, statements: splitSQLStatements(string(content))})
	}
	return out, nil
}

func pendingMigrations(all []sqlMigration, applied map[string]bool) []sqlMigration {
	var pending []sqlMigration
	for _, m := range all {
		if !applied[m.name] {
			pending = append(pending, m)
		}
	}
	return pending
}

// splitSQLStatements splits on lines ending in ";". Comment-only lines are
// dropped and the trailing semicolon is removed.
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
