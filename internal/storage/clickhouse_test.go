package storage

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/config"
)

func TestNewClickHouseDB(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "portfolio",
		User:     "default",
	}

	db, err := NewClickHouseDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	if err := db.Ping(testContext(t)); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestSplitSQLStatements(t *testing.T) {
	content := `-- header comment
CREATE TABLE a
(
    x Int32
)
ENGINE = Memory;

-- second
CREATE TABLE b (y String) ENGINE = Memory;
SELECT 1`

	stmts := splitSQLStatements(content)
	assert.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE TABLE b (y String) ENGINE = Memory", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}

func TestLoadSQLMigrations_SortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql":        {Data: []byte("CREATE TABLE b (x Int8) ENGINE = Memory;")},
		"001_a.sql":        {Data: []byte("-- a\nCREATE TABLE a (x Int8) ENGINE = Memory;\nSELECT 1;")},
		"README.md":        {Data: []byte("not sql")},
		"nested/003_c.sql": {Data: []byte("SELECT 3;")},
	}

	migrations, err := loadSQLMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001_a.sql", migrations[0].name)
	assert.Len(t, migrations[0].statements, 2)
	assert.Equal(t, "002_b.sql", migrations[1].name)
}

func TestPendingMigrations(t *testing.T) {
	all := []sqlMigration{{name: "001_a.sql"}, {name: "002_b.sql"}, {name: "003_c.sql"}}

	pending := pendingMigrations(all, map[string]bool{"001_a.sql": true, "003_c.sql": true})
	require.Len(t, pending, 1)
	assert.Equal(t, "002_b.sql", pending[0].name)

	assert.Len(t, pendingMigrations(all, nil), 3)
	assert.Empty(t, pendingMigrations(all, map[string]bool{"001_a.sql": true, "002_b.sql": true, "003_c.sql": true}))
}
