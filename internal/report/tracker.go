package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Tracker computes signal statistics from the database.
type Tracker struct {
	db *sql.DB
}

func NewTracker(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// Report summarizes the signals produced since a cutoff.
type Report struct {
	Since         time.Time
	Runs          int
	TotalSignals  int
	StrategyStats map[string]StrategyStats
}

// StrategyStats describes one strategy's output. A directional signal counts
// as evaluated once a later snapshot of its market exists, and as a hit when
// the YES price has since moved the way the signal pointed.
type StrategyStats struct {
	SignalCount int
	Markets     int
	AvgScore    float64
	MaxScore    float64
	Evaluated   int
	Hits        int
	HitRate     float64
	AvgMove     float64
}

// Generate computes the report over signals created at or after since.
func (t *Tracker) Generate(ctx context.Context, since time.Time) (*Report, error) {
	r := &Report{
		Since:         since.UTC(),
		StrategyStats: make(map[string]StrategyStats),
	}
	ts := since.UTC().Format(timeLayout)

	if err := t.computeOverall(ctx, r, ts); err != nil {
		return nil, fmt.Errorf("computing overall stats: %w", err)
	}
	if err := t.computeStrategyStats(ctx, r, ts); err != nil {
		return nil, fmt.Errorf("computing strategy stats: %w", err)
	}
	if err := t.computeFollowThrough(ctx, r, ts); err != nil {
		return nil, fmt.Errorf("computing follow-through: %w", err)
	}
	return r, nil
}

func (t *Tracker) computeOverall(ctx context.Context, r *Report, since string) error {
	row := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signal_runs WHERE started_at >= ?`, since)
	if err := row.Scan(&r.Runs); err != nil {
		return err
	}
	row = t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals WHERE created_at >= ?`, since)
	return row.Scan(&r.TotalSignals)
}

func (t *Tracker) computeStrategyStats(ctx context.Context, r *Report, since string) error {
	rows, err := t.db.QueryContext(ctx, `
		SELECT strategy, COUNT(*), COUNT(DISTINCT market_id),
		       COALESCE(AVG(score), 0), COALESCE(MAX(score), 0)
		FROM signals WHERE created_at >= ?
		GROUP BY strategy`, since)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var stats StrategyStats
		if err := rows.Scan(&name, &stats.SignalCount, &stats.Markets, &stats.AvgScore, &stats.MaxScore); err != nil {
			return err
		}
		r.StrategyStats[name] = stats
	}
	return rows.Err()
}

// computeFollowThrough compares the YES price at signal time with the latest
// price recorded afterwards.
func (t *Tracker) computeFollowThrough(ctx context.Context, r *Report, since string) error {
	rows, err := t.db.QueryContext(ctx, `
		SELECT s.strategy, s.direction,
		       (SELECT ms.yes_price FROM market_snapshots ms
		        WHERE ms.market_id = s.market_id AND ms.snapshot_at <= s.created_at
		        ORDER BY ms.snapshot_at DESC, ms.id DESC LIMIT 1),
		       (SELECT ms.yes_price FROM market_snapshots ms
		        WHERE ms.market_id = s.market_id AND ms.snapshot_at > s.created_at
		        ORDER BY ms.snapshot_at DESC, ms.id DESC LIMIT 1)
		FROM signals s
		WHERE s.created_at >= ? AND s.direction IN ('BULLISH', 'BEARISH', 'YES', 'NO')`, since)
	if err != nil {
		return err
	}
	defer rows.Close()

	moves := make(map[string]float64)
	for rows.Next() {
		var name, direction string
		var before, after sql.NullFloat64
		if err := rows.Scan(&name, &direction, &before, &after); err != nil {
			return err
		}
		if !before.Valid || !after.Valid {
			continue
		}
		move := after.Float64 - before.Float64
		if direction == "BEARISH" || direction == "NO" {
			move = -move
		}
		stats := r.StrategyStats[name]
		stats.Evaluated++
		if move > 0 {
			stats.Hits++
		}
		moves[name] += move
		r.StrategyStats[name] = stats
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for name, stats := range r.StrategyStats {
		if stats.Evaluated > 0 {
			stats.HitRate = float64(stats.Hits) / float64(stats.Evaluated)
			stats.AvgMove = moves[name] / float64(stats.Evaluated)
			r.StrategyStats[name] = stats
		}
	}
	return nil
}
