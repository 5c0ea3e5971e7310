package store

import (
	"context"
	"fmt"
	"time"

	"polysignal/internal/market"
)

// SaveTrades inserts trades, skipping ones already stored. It returns the
// number of new rows.
func (s *Store) SaveTrades(ctx context.Context, trades []market.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning trade insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO trades (wallet, side, outcome, price, size, traded_at, slug, market_id, title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing trade insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range trades {
		if t.Wallet == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx,
			t.Wallet, string(t.Side), t.Outcome, t.Price, t.Size, t.Timestamp, t.Slug, t.MarketID, t.Title)
		if err != nil {
			return 0, fmt.Errorf("inserting trade: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing trades: %w", err)
	}
	return inserted, nil
}

// Trades returns trades executed in [from, to], oldest first. Direction is
// re-derived from the stored side and outcome.
func (s *Store) Trades(ctx context.Context, from, to time.Time) ([]market.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet, side, outcome, price, size, traded_at, slug, market_id, title
		FROM trades
		WHERE traded_at >= ? AND traded_at <= ?
		ORDER BY traded_at, wallet, id`,
		from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var trades []market.Trade
	for rows.Next() {
		var t market.Trade
		var side string
		if err := rows.Scan(&t.Wallet, &side, &t.Outcome, &t.Price, &t.Size, &t.Timestamp, &t.Slug, &t.MarketID, &t.Title); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.Side = market.ParseSide(side)
		t.Polarity = market.OutcomePolarity(t.Outcome)
		t.Direction = market.ClassifyDirection(t.Side, t.Polarity)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
