package collector

import (
	"context"
	"log/slog"
	"time"

	"polysignal/internal/market"
	"polysignal/internal/strategy"
)

// Consume stores live-feed trades made by tracked wallets, flushing every
// interval and once more when ctx ends. Each trade's price is also stored as
// a YES price point of the market it traded. The tracked set is reloaded on
// each flush so wallet edits apply without a restart.
func (c *Collector) Consume(ctx context.Context, in <-chan market.Trade, interval time.Duration) {
	tracked := c.loadTracked(ctx, strategy.NewWalletSet())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []market.Trade
	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		n, err := c.store.SaveTrades(ctx, pending)
		if err != nil {
			slog.Error("storing stream trades failed", "pending", len(pending), "error", err)
			return
		}
		c.recorder.AddCollected("trades", n)

		points, err := c.streamPricePoints(ctx, pending)
		if err != nil {
			slog.Warn("resolving stream price points failed", "error", err)
		} else if saved, err := c.store.SavePricePoints(ctx, points); err != nil {
			slog.Warn("storing stream price points failed", "error", err)
		} else {
			c.recorder.AddCollected("price_points", saved)
		}

		slog.Debug("stream trades stored", "received", len(pending), "new", n)
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return
		case t, ok := <-in:
			if !ok {
				flush(context.Background())
				return
			}
			if !tracked.Has(t.Wallet) {
				continue
			}
			c.recorder.IncStreamTrades()
			if len(pending) >= c.maxPending {
				dropped := len(pending) - c.maxPending + 1
				slog.Warn("stream buffer full, dropping oldest trades", "dropped", dropped)
				pending = append(pending[:0], pending[dropped:]...)
			}
			pending = append(pending, t)
		case <-ticker.C:
			flush(ctx)
			tracked = c.loadTracked(ctx, tracked)
		}
	}
}

// streamPricePoints turns trades into YES price points keyed by the stored
// market id the pullback engine reads history under. Trades on markets not
// yet stored are skipped.
func (c *Collector) streamPricePoints(ctx context.Context, trades []market.Trade) (map[string][]market.PricePoint, error) {
	slugs := make([]string, 0, len(trades))
	for _, t := range trades {
		slugs = append(slugs, t.Slug)
	}
	ids, err := c.store.MarketIDsBySlug(ctx, slugs)
	if err != nil {
		return nil, err
	}

	points := make(map[string][]market.PricePoint)
	for _, t := range trades {
		id, ok := ids[t.Slug]
		if !ok {
			continue
		}
		price, ok := t.YesPrice()
		if !ok {
			continue
		}
		points[id] = append(points[id], market.PricePoint{Time: t.Time(), Price: price})
	}
	return points, nil
}

// loadTracked falls back to prev when the store cannot be read.
func (c *Collector) loadTracked(ctx context.Context, prev strategy.WalletSet) strategy.WalletSet {
	wallets, err := c.store.TrackedWallets(ctx)
	if err != nil {
		slog.Warn("loading tracked wallets failed", "error", err)
		return prev
	}
	addrs := make([]string, 0, len(wallets))
	for _, w := range wallets {
		addrs = append(addrs, w.Address)
	}
	return strategy.NewWalletSet(addrs...)
}
