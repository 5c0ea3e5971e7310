package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// timeLayout matches SQLite's datetime() output so stored times compare as
// text.
const timeLayout = "2006-01-02 15:04:05"

// Store persists trades, market snapshots, price history, outcome books and
// signal runs.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

// Prune deletes everything recorded before cutoff and returns the number of
// rows removed. Markets themselves are kept.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := formatTime(cutoff)
	stmts := []struct {
		table string
		query string
		arg   any
	}{
		{"trades", `DELETE FROM trades WHERE traded_at < ?`, cutoff.Unix()},
		{"market_snapshots", `DELETE FROM market_snapshots WHERE snapshot_at < ?`, ts},
		{"price_points", `DELETE FROM price_points WHERE observed_at < ?`, cutoff.Unix()},
		{"book_quotes", `DELETE FROM book_quotes WHERE captured_at < ?`, ts},
		{"signal_runs", `DELETE FROM signal_runs WHERE started_at < ?`, ts},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning prune: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, st := range stmts {
		res, err := tx.ExecContext(ctx, st.query, st.arg)
		if err != nil {
			return 0, fmt.Errorf("pruning %s: %w", st.table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total, nil
}
