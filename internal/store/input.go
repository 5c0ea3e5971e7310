package store

import (
	"context"
	"time"

	"polysignal/internal/strategy"
)

// Input assembles the engines' view of the world as of at: trades and price
// history from the preceding lookback, plus the latest snapshots and books.
func (s *Store) Input(ctx context.Context, at time.Time, lookback time.Duration) (strategy.Input, error) {
	from := at.Add(-lookback)
	in := strategy.Input{Now: at}

	wallets, err := s.TrackedWallets(ctx)
	if err != nil {
		return in, err
	}
	addrs := make([]string, 0, len(wallets))
	for _, w := range wallets {
		addrs = append(addrs, w.Address)
	}
	in.Tracked = strategy.NewWalletSet(addrs...)

	if in.Trades, err = s.Trades(ctx, from, at); err != nil {
		return in, err
	}
	if in.Snapshots, err = s.SnapshotsAt(ctx, at); err != nil {
		return in, err
	}
	if in.History, err = s.PriceHistory(ctx, from, at); err != nil {
		return in, err
	}
	if in.Books, err = s.BooksAt(ctx, at); err != nil {
		return in, err
	}
	return in, nil
}
