package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"polysignal/internal/strategy"
)

// Run describes one evaluation pass over collected data.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Trades     int
	Markets    int
	Books      int
}

// StoredSignal is a signal together with the run that produced it.
type StoredSignal struct {
	strategy.Signal
	RunID     string
	CreatedAt time.Time
}

// SaveRun records a run and its signals atomically.
func (s *Store) SaveRun(ctx context.Context, run Run, signals []strategy.Signal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning run insert: %w", err)
	}
	defer tx.Rollback()

	finished := run.FinishedAt
	if finished.IsZero() {
		finished = run.StartedAt
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO signal_runs (id, trades, markets, books, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Trades, run.Markets, run.Books, formatTime(run.StartedAt), formatTime(finished),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals (run_id, strategy, market_id, slug, question, score, grade, direction, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing signal insert: %w", err)
	}
	defer stmt.Close()

	created := formatTime(finished)
	for _, sig := range signals {
		_, err := stmt.ExecContext(ctx,
			run.ID, sig.Strategy, sig.MarketID, sig.Slug, sig.Question,
			sig.Score, sig.Grade, sig.Direction, sig.Reason, created,
		)
		if err != nil {
			return fmt.Errorf("inserting signal for %s: %w", sig.MarketID, err)
		}
	}
	return tx.Commit()
}

// LatestSignals returns the signals of the most recent run that produced any
// for the strategy, best score first. A limit of zero returns all of them.
func (s *Store) LatestSignals(ctx context.Context, strategyName string, limit int) ([]StoredSignal, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, strategy, market_id, slug, question, score, grade, direction, reason, created_at
		FROM signals
		WHERE strategy = ? AND run_id = (
			SELECT run_id FROM signals WHERE strategy = ?
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		ORDER BY score DESC, id
		LIMIT ?`,
		strategyName, strategyName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// SignalsBetween returns every signal created in [from, to], oldest first.
func (s *Store) SignalsBetween(ctx context.Context, from, to time.Time) ([]StoredSignal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, strategy, market_id, slug, question, score, grade, direction, reason, created_at
		FROM signals
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at, id`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("querying signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

func scanSignals(rows *sql.Rows) ([]StoredSignal, error) {
	var out []StoredSignal
	for rows.Next() {
		var sig StoredSignal
		var created string
		if err := rows.Scan(
			&sig.RunID, &sig.Strategy, &sig.MarketID, &sig.Slug, &sig.Question,
			&sig.Score, &sig.Grade, &sig.Direction, &sig.Reason, &created,
		); err != nil {
			return nil, fmt.Errorf("scanning signal: %w", err)
		}
		t, err := parseTime(created)
		if err != nil {
			return nil, fmt.Errorf("parsing signal time %q: %w", created, err)
		}
		sig.CreatedAt = t
		out = append(out, sig)
	}
	return out, rows.Err()
}
