package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"polysignal/internal/market"
	"polysignal/internal/store"
	"polysignal/internal/strategy"
)

// Source is the Polymarket side of collection.
type Source interface {
	TrackedTrades(ctx context.Context, wallets []string) ([]market.Trade, int)
	Snapshots(ctx context.Context, slugs []string) map[string]*market.Snapshot
	ActiveMarkets(ctx context.Context) ([]market.Snapshot, error)
	EventBooks(ctx context.Context) ([]market.OutcomeBook, error)
	Histories(ctx context.Context, snaps []market.Snapshot) map[string][]market.PricePoint
}

// ManifoldSource supplies Manifold binary markets and multiple-choice books.
type ManifoldSource interface {
	Binary(limit int64) ([]market.Snapshot, error)
	MultipleChoice(limit int64) ([]market.OutcomeBook, error)
}

// Recorder receives collection counts.
type Recorder interface {
	AddCollected(kind string, n int)
	AddFailedWallets(n int)
	IncStreamTrades()
}

type noopRecorder struct{}

func (noopRecorder) AddCollected(string, int) {}
func (noopRecorder) AddFailedWallets(int)     {}
func (noopRecorder) IncStreamTrades()         {}

// Stats summarizes one collection pass.
type Stats struct {
	Wallets       int
	Trades        int
	NewTrades     int
	FailedWallets int
	Snapshots     int
	PricePoints   int
	Books         int
}

// Collector fetches trades, market snapshots, price history and outcome
// books and stores them for the engines.
type Collector struct {
	source        Source
	manifold      ManifoldSource
	manifoldLimit int64
	store         *store.Store
	cache         *market.Cache
	pullback      *strategy.Pullback
	recorder      Recorder
	now           func() time.Time
	maxPending    int
}

// defaultMaxPending bounds the stream buffer while the store is unavailable.
const defaultMaxPending = 10000

func NewCollector(source Source, st *store.Store, cache *market.Cache) *Collector {
	return &Collector{
		source:   source,
		store:    st,
		cache:    cache,
		recorder:   noopRecorder{},
		now:        time.Now,
		maxPending: defaultMaxPending,
	}
}

// WithManifold adds Manifold markets to every pass.
func (c *Collector) WithManifold(m ManifoldSource, limit int64) *Collector {
	c.manifold = m
	c.manifoldLimit = limit
	return c
}

// WithPullback restricts price-history fetches to the pullback engine's
// candidates. Without it no history is fetched.
func (c *Collector) WithPullback(p *strategy.Pullback) *Collector {
	c.pullback = p
	return c
}

func (c *Collector) SetRecorder(r Recorder) {
	if r != nil {
		c.recorder = r
	}
}

// Collect runs one pass. Upstream failures are logged and skipped; only
// store failures abort the pass.
func (c *Collector) Collect(ctx context.Context) (Stats, error) {
	var stats Stats
	now := c.now().UTC()

	tracked, err := c.store.TrackedWallets(ctx)
	if err != nil {
		return stats, fmt.Errorf("loading tracked wallets: %w", err)
	}
	addrs := make([]string, 0, len(tracked))
	for _, w := range tracked {
		addrs = append(addrs, w.Address)
	}
	stats.Wallets = len(addrs)

	var trades []market.Trade
	if len(addrs) > 0 {
		trades, stats.FailedWallets = c.source.TrackedTrades(ctx, addrs)
	}
	stats.Trades = len(trades)
	if stats.NewTrades, err = c.store.SaveTrades(ctx, trades); err != nil {
		return stats, fmt.Errorf("storing trades: %w", err)
	}

	snaps := c.tradedMarkets(ctx, trades)
	active, err := c.source.ActiveMarkets(ctx)
	if err != nil {
		slog.Warn("active market scan failed", "error", err)
	}
	snaps = append(snaps, active...)
	if c.manifold != nil {
		binary, err := c.manifold.Binary(c.manifoldLimit)
		if err != nil {
			slog.Warn("manifold binary scan failed", "error", err)
		}
		snaps = append(snaps, binary...)
	}
	snaps = dedupeSnapshots(snaps)
	if stats.Snapshots, err = c.store.SaveSnapshots(ctx, snaps, now); err != nil {
		return stats, fmt.Errorf("storing snapshots: %w", err)
	}

	if c.pullback != nil {
		candidates := c.pullback.Candidates(snaps, now)
		history := c.source.Histories(ctx, candidates)
		if stats.PricePoints, err = c.store.SavePricePoints(ctx, history); err != nil {
			return stats, fmt.Errorf("storing price history: %w", err)
		}
	}

	books, err := c.source.EventBooks(ctx)
	if err != nil {
		slog.Warn("event book scan failed", "error", err)
	}
	if c.manifold != nil {
		mc, err := c.manifold.MultipleChoice(c.manifoldLimit)
		if err != nil {
			slog.Warn("manifold multiple-choice scan failed", "error", err)
		}
		books = append(books, mc...)
	}
	if stats.Books, err = c.store.SaveBooks(ctx, books, now); err != nil {
		return stats, fmt.Errorf("storing books: %w", err)
	}

	c.recorder.AddCollected("trades", stats.NewTrades)
	c.recorder.AddCollected("snapshots", stats.Snapshots)
	c.recorder.AddCollected("price_points", stats.PricePoints)
	c.recorder.AddCollected("books", stats.Books)
	c.recorder.AddFailedWallets(stats.FailedWallets)

	slog.Info("collection complete",
		"wallets", stats.Wallets,
		"trades", stats.Trades,
		"new_trades", stats.NewTrades,
		"failed_wallets", stats.FailedWallets,
		"snapshots", stats.Snapshots,
		"price_points", stats.PricePoints,
		"books", stats.Books,
	)
	return stats, nil
}

// tradedMarkets resolves the markets the tracked wallets traded, going to
// the API only for slugs the cache does not hold.
func (c *Collector) tradedMarkets(ctx context.Context, trades []market.Trade) []market.Snapshot {
	seen := make(map[string]bool)
	var slugs []string
	for _, t := range trades {
		if t.Slug != "" && !seen[t.Slug] {
			seen[t.Slug] = true
			slugs = append(slugs, t.Slug)
		}
	}
	if len(slugs) == 0 {
		return nil
	}

	hit, miss := c.cache.Missing(slugs)
	if len(miss) > 0 {
		fetched := c.source.Snapshots(ctx, miss)
		for _, slug := range miss {
			s := fetched[slug]
			c.cache.Set(slug, s)
			hit[slug] = s
		}
		slog.Debug("market snapshots fetched", "requested", len(miss), "found", len(fetched))
	}

	out := make([]market.Snapshot, 0, len(hit))
	for _, s := range hit {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func dedupeSnapshots(snaps []market.Snapshot) []market.Snapshot {
	byID := make(map[string]market.Snapshot, len(snaps))
	for _, s := range snaps {
		if s.ID == "" {
			continue
		}
		if _, ok := byID[s.ID]; !ok {
			byID[s.ID] = s
		}
	}
	out := make([]market.Snapshot, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
