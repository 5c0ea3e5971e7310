package db

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, Migrate(database))
	return database
}

func TestMigrate_CreatesAllTables(t *testing.T) {
	database := openMemory(t)

	tables := []string{
		"schema_version",
		"tracked_wallets",
		"markets",
		"market_snapshots",
		"trades",
		"price_points",
		"book_quotes",
		"signal_runs",
		"signals",
	}

	for _, table := range tables {
		var count int
		err := database.QueryRow(
			`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		require.NoError(t, err, table)
		assert.Equal(t, 1, count, "table %s not found", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	database := openMemory(t)
	require.NoError(t, Migrate(database))

	var versions int
	require.NoError(t, database.QueryRow(`SELECT count(*) FROM schema_version`).Scan(&versions))
	assert.Equal(t, 1, versions)
}

func TestMigrate_TradeDedupe(t *testing.T) {
	database := openMemory(t)

	insert := `INSERT OR IGNORE INTO trades (wallet, side, outcome, price, size, traded_at, slug, market_id)
		VALUES ('0xa', 'BUY', 'Yes', 0.4, 100, 1767225600, 'fed-cut', 'c1')`
	for i := 0; i < 2; i++ {
		_, err := database.Exec(insert)
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, database.QueryRow(`SELECT count(*) FROM trades`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrate_SignalsCascadeWithRun(t *testing.T) {
	database := openMemory(t)

	_, err := database.Exec(`INSERT INTO signal_runs (id, trades, markets, books, started_at)
		VALUES ('run-1', 3, 2, 1, datetime('now'))`)
	require.NoError(t, err)
	_, err = database.Exec(`INSERT INTO signals (run_id, strategy, market_id, slug, question, score, grade, direction, reason)
		VALUES ('run-1', 'conviction', 'm1', 'fed-cut', 'Fed cut?', 42.5, 'MODERATE', 'BULLISH', 'test')`)
	require.NoError(t, err)

	var score float64
	var grade string
	require.NoError(t, database.QueryRow(`SELECT score, grade FROM signals WHERE run_id = 'run-1'`).Scan(&score, &grade))
	assert.InDelta(t, 42.5, score, 1e-9)
	assert.Equal(t, "MODERATE", grade)

	_, err = database.Exec(`DELETE FROM signal_runs WHERE id = 'run-1'`)
	require.NoError(t, err)
	var remaining int
	require.NoError(t, database.QueryRow(`SELECT count(*) FROM signals`).Scan(&remaining))
	assert.Equal(t, 0, remaining)

	_, err = database.Exec(`INSERT INTO signals (run_id, strategy, market_id, slug, question, score, grade, direction, reason)
		VALUES ('missing', 'conviction', 'm1', 's', 'q', 1, 'LOW', '', '')`)
	assert.Error(t, err, "foreign keys are enforced")
}
