package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"polysignal/internal/market"
)

// SaveSnapshots upserts each market row and appends a snapshot taken at at.
// Snapshots without an ID are skipped.
func (s *Store) SaveSnapshots(ctx context.Context, snaps []market.Snapshot, at time.Time) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning snapshot insert: %w", err)
	}
	defer tx.Rollback()

	ts := formatTime(at)
	saved := 0
	for _, m := range snaps {
		if m.ID == "" {
			continue
		}
		tokens, err := json.Marshal(m.TokenIDs)
		if err != nil {
			return 0, fmt.Errorf("encoding token ids: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO markets (id, slug, source, question, url, end_date, token_ids, is_closed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				slug = excluded.slug,
				question = excluded.question,
				end_date = excluded.end_date,
				token_ids = excluded.token_ids,
				is_closed = excluded.is_closed,
				last_updated_at = datetime('now')`,
			m.ID, m.Slug, m.Source, m.Question, m.URL, m.EndDate, string(tokens), boolToInt(m.Closed),
		)
		if err != nil {
			return 0, fmt.Errorf("upserting market %s: %w", m.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO market_snapshots (market_id, yes_price, no_price, best_bid, best_ask, volume, volume_24h, liquidity, snapshot_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.YesPrice, m.NoPrice, m.BestBid, m.BestAsk, m.Volume, m.Volume24h, m.Liquidity, ts,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting snapshot %s: %w", m.ID, err)
		}
		saved++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing snapshots: %w", err)
	}
	return saved, nil
}

// SnapshotsAt returns the latest snapshot of every market taken at or before
// at, keyed by slug.
func (s *Store) SnapshotsAt(ctx context.Context, at time.Time) (map[string]*market.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.slug, m.source, m.question, m.url, m.end_date, m.token_ids, m.is_closed,
		       s.yes_price, s.no_price, s.best_bid, s.best_ask, s.volume, s.volume_24h, s.liquidity
		FROM market_snapshots s
		JOIN markets m ON m.id = s.market_id
		WHERE s.id = (
			SELECT s2.id FROM market_snapshots s2
			WHERE s2.market_id = s.market_id AND s2.snapshot_at <= ?
			ORDER BY s2.snapshot_at DESC, s2.id DESC
			LIMIT 1
		)`,
		formatTime(at),
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*market.Snapshot)
	for rows.Next() {
		var (
			m      market.Snapshot
			tokens sql.NullString
			closed int
		)
		if err := rows.Scan(
			&m.ID, &m.Slug, &m.Source, &m.Question, &m.URL, &m.EndDate, &tokens, &closed,
			&m.YesPrice, &m.NoPrice, &m.BestBid, &m.BestAsk, &m.Volume, &m.Volume24h, &m.Liquidity,
		); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		m.Closed = closed == 1
		m.Active = !m.Closed
		if tokens.Valid && tokens.String != "" {
			_ = json.Unmarshal([]byte(tokens.String), &m.TokenIDs)
		}
		key := m.Slug
		if key == "" {
			key = m.ID
		}
		out[key] = &m
	}
	return out, rows.Err()
}

// SnapshotTimes lists the distinct snapshot times in [from, to].
func (s *Store) SnapshotTimes(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT snapshot_at FROM market_snapshots
		WHERE snapshot_at >= ? AND snapshot_at <= ?
		ORDER BY snapshot_at`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning snapshot time: %w", err)
		}
		t, err := parseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing snapshot time %q: %w", raw, err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// SavePricePoints stores price history keyed by market id. Repeated points
// overwrite the earlier observation.
func (s *Store) SavePricePoints(ctx context.Context, history map[string][]market.PricePoint) (int, error) {
	if len(history) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning price insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_points (market_id, observed_at, price) VALUES (?, ?, ?)
		ON CONFLICT(market_id, observed_at) DO UPDATE SET price = excluded.price`)
	if err != nil {
		return 0, fmt.Errorf("preparing price insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for id, points := range history {
		for _, p := range points {
			if _, err := stmt.ExecContext(ctx, id, p.Time.Unix(), p.Price); err != nil {
				return 0, fmt.Errorf("inserting price point for %s: %w", id, err)
			}
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing price points: %w", err)
	}
	return n, nil
}

// MarketIDsBySlug maps each known slug to its stored market id. When a slug
// was seen under more than one id the most recently updated wins.
func (s *Store) MarketIDsBySlug(ctx context.Context, slugs []string) (map[string]string, error) {
	ids := make(map[string]string, len(slugs))
	if len(slugs) == 0 {
		return ids, nil
	}
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT id FROM markets WHERE slug = ?
		ORDER BY last_updated_at DESC, id LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("preparing market lookup: %w", err)
	}
	defer stmt.Close()

	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		if _, ok := ids[slug]; ok {
			continue
		}
		var id string
		err := stmt.QueryRowContext(ctx, slug).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			continue
		case err != nil:
			return nil, fmt.Errorf("looking up market %s: %w", slug, err)
		}
		ids[slug] = id
	}
	return ids, nil
}

// PriceHistory returns observations in [from, to] per market id, oldest first.
func (s *Store) PriceHistory(ctx context.Context, from, to time.Time) (map[string][]market.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, observed_at, price FROM price_points
		WHERE observed_at >= ? AND observed_at <= ?
		ORDER BY market_id, observed_at`,
		from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying price history: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]market.PricePoint)
	for rows.Next() {
		var id string
		var ts int64
		var price float64
		if err := rows.Scan(&id, &ts, &price); err != nil {
			return nil, fmt.Errorf("scanning price point: %w", err)
		}
		out[id] = append(out[id], market.PricePoint{Time: time.Unix(ts, 0).UTC(), Price: price})
	}
	return out, rows.Err()
}

// SaveBooks records the top of book of every outcome, captured at at.
func (s *Store) SaveBooks(ctx context.Context, books []market.OutcomeBook, at time.Time) (int, error) {
	if len(books) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning book insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO book_quotes (book_id, slug, title, position, outcome, bid, ask, mid, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing book insert: %w", err)
	}
	defer stmt.Close()

	ts := formatTime(at)
	saved := 0
	for _, b := range books {
		n := b.Len()
		if n == 0 || b.MarketID == "" {
			continue
		}
		for i := 0; i < n; i++ {
			_, err := stmt.ExecContext(ctx, b.MarketID, b.Slug, b.Title, i, b.Outcomes[i], b.Bids[i], b.Asks[i], b.Mids[i], ts)
			if err != nil {
				return 0, fmt.Errorf("inserting quote for %s: %w", b.MarketID, err)
			}
		}
		saved++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing books: %w", err)
	}
	return saved, nil
}

// BooksAt rebuilds the latest capture of every book taken at or before at,
// ordered by book id.
func (s *Store) BooksAt(ctx context.Context, at time.Time) ([]market.OutcomeBook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.book_id, q.slug, q.title, q.outcome, q.bid, q.ask, q.mid
		FROM book_quotes q
		WHERE q.captured_at = (
			SELECT MAX(q2.captured_at) FROM book_quotes q2
			WHERE q2.book_id = q.book_id AND q2.captured_at <= ?
		)
		ORDER BY q.book_id, q.position, q.id`,
		formatTime(at),
	)
	if err != nil {
		return nil, fmt.Errorf("querying books: %w", err)
	}
	defer rows.Close()

	var books []market.OutcomeBook
	for rows.Next() {
		var id, slug, title, outcome string
		var bid, ask, mid float64
		if err := rows.Scan(&id, &slug, &title, &outcome, &bid, &ask, &mid); err != nil {
			return nil, fmt.Errorf("scanning quote: %w", err)
		}
		if len(books) == 0 || books[len(books)-1].MarketID != id {
			books = append(books, market.OutcomeBook{MarketID: id, Slug: slug, Title: title})
		}
		b := &books[len(books)-1]
		b.Outcomes = append(b.Outcomes, outcome)
		b.Bids = append(b.Bids, bid)
		b.Asks = append(b.Asks, ask)
		b.Mids = append(b.Mids, mid)
	}
	return books, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
