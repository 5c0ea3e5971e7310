package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"polysignal/internal/config"
)

// ErrNotFound is returned when an upstream answers 404.
var ErrNotFound = errors.New("not found")

// Observer receives one callback per upstream request.
type Observer interface {
	ObserveRequest(host, outcome string, elapsed time.Duration)
}

// Polymarket fetches trades, markets, events and price history from the
// public Polymarket APIs.
type Polymarket struct {
	gammaURL string
	dataURL  string
	clobURL  string

	client         *http.Client
	guard          *hostGuard
	maxConcurrency int
	tradeLimit     int
	marketLimit    int
	observer       Observer
}

func NewPolymarket(cfg config.PolymarketConfig) *Polymarket {
	return &Polymarket{
		gammaURL:       cfg.GammaURL,
		dataURL:        cfg.DataURL,
		clobURL:        cfg.ClobURL,
		client:         &http.Client{Timeout: cfg.Timeout.Duration},
		guard:          newHostGuard(cfg.RequestsPerSecond, cfg.MaxConcurrency),
		maxConcurrency: cfg.MaxConcurrency,
		tradeLimit:     cfg.TradeLimit,
		marketLimit:    cfg.MarketLimit,
	}
}

// SetObserver installs a request observer, typically the metrics registry.
func (p *Polymarket) SetObserver(o Observer) { p.observer = o }

func (p *Polymarket) getJSON(ctx context.Context, rawURL string, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}

	start := time.Now()
	err = p.guard.Do(ctx, u.Host, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u.Path)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s: %w", u.Path, err)
		}
		return nil
	})

	if p.observer != nil {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrNotFound):
			outcome = "not_found"
		case err != nil:
			outcome = "error"
		}
		p.observer.ObserveRequest(u.Host, outcome, time.Since(start))
	}
	return err
}

// UserTrades returns the most recent trades of one wallet.
func (p *Polymarket) UserTrades(ctx context.Context, wallet string) ([]Trade, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("limit", strconv.Itoa(p.tradeLimit))

	var items []json.RawMessage
	if err := p.getJSON(ctx, p.dataURL+"/trades?"+q.Encode(), &items); err != nil {
		return nil, fmt.Errorf("fetching trades for %s: %w", wallet, err)
	}
	return NormalizeTrades(decodeTrades(items, wallet)), nil
}

// decodeTrades decodes each record on its own so one malformed trade does
// not cost the rest of the wallet's batch.
func decodeTrades(items []json.RawMessage, wallet string) []RawTrade {
	raw := make([]RawTrade, 0, len(items))
	for i, item := range items {
		var rt RawTrade
		if err := json.Unmarshal(item, &rt); err != nil {
			slog.Warn("skipping malformed trade", "wallet", wallet, "index", i, "error", err)
			continue
		}
		raw = append(raw, rt)
	}
	return raw
}

// TrackedTrades fetches every wallet with bounded concurrency. A failed
// wallet is logged and skipped; the count of failures is returned.
func (p *Polymarket) TrackedTrades(ctx context.Context, wallets []string) ([]Trade, int) {
	type result struct {
		trades []Trade
		err    error
	}

	results := make(chan result, len(wallets))
	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup

	for _, w := range wallets {
		wg.Add(1)
		go func(wallet string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			trades, err := p.UserTrades(ctx, wallet)
			if err != nil {
				slog.Warn("failed to fetch wallet trades", "wallet", wallet, "error", err)
			}
			results <- result{trades: trades, err: err}
		}(w)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var all []Trade
	failed := 0
	for r := range results {
		if r.err != nil {
			failed++
			continue
		}
		all = append(all, r.trades...)
	}
	sortTrades(all)

	slog.Info("fetched tracked trades", "wallets", len(wallets), "trades", len(all), "failed", failed)
	return all, failed
}

// MarketBySlug returns nil without error when the market does not exist.
func (p *Polymarket) MarketBySlug(ctx context.Context, slug string) (*Snapshot, error) {
	var raw RawMarket
	err := p.getJSON(ctx, p.gammaURL+"/markets/slug/"+url.PathEscape(slug), &raw)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching market %s: %w", slug, err)
	}
	s := NormalizeSnapshot(raw)
	return &s, nil
}

// Snapshots resolves many slugs concurrently. Missing or failed markets are
// absent from the result.
func (p *Polymarket) Snapshots(ctx context.Context, slugs []string) map[string]*Snapshot {
	out := make(map[string]*Snapshot, len(slugs))
	var mu sync.Mutex
	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup

	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		wg.Add(1)
		go func(slug string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			s, err := p.MarketBySlug(ctx, slug)
			if err != nil {
				slog.Warn("failed to fetch market", "slug", slug, "error", err)
				return
			}
			if s == nil {
				return
			}
			mu.Lock()
			out[slug] = s
			mu.Unlock()
		}(slug)
	}
	wg.Wait()
	return out
}

// ActiveMarkets lists open markets by 24h volume.
func (p *Polymarket) ActiveMarkets(ctx context.Context) ([]Snapshot, error) {
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(p.marketLimit))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")

	var raw []RawMarket
	if err := p.getJSON(ctx, p.gammaURL+"/markets?"+q.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("listing markets: %w", err)
	}

	snaps := make([]Snapshot, 0, len(raw))
	for _, r := range raw {
		snaps = append(snaps, NormalizeSnapshot(r))
	}
	slog.Info("scanned polymarket markets", "count", len(snaps))
	return snaps, nil
}

// EventBooks lists open multi-outcome events as outcome books.
func (p *Polymarket) EventBooks(ctx context.Context) ([]OutcomeBook, error) {
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(p.marketLimit))

	var raw []RawEvent
	if err := p.getJSON(ctx, p.gammaURL+"/events?"+q.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	books := make([]OutcomeBook, 0, len(raw))
	for _, e := range raw {
		if e.Closed || len(e.Markets) < 2 {
			continue
		}
		if b := BookFromEvent(e); b.Len() >= 2 {
			books = append(books, b)
		}
	}
	slog.Info("scanned polymarket events", "events", len(raw), "books", len(books))
	return books, nil
}

type priceHistoryResponse struct {
	History []struct {
		T Number `json:"t"`
		P Number `json:"p"`
	} `json:"history"`
}

// PriceHistory returns the price series of one CLOB token.
func (p *Polymarket) PriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]PricePoint, error) {
	q := url.Values{}
	q.Set("market", tokenID)
	q.Set("interval", interval)
	q.Set("fidelity", strconv.Itoa(fidelity))

	var resp priceHistoryResponse
	if err := p.getJSON(ctx, p.clobURL+"/prices-history?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetching price history for %s: %w", tokenID, err)
	}

	points := make([]PricePoint, 0, len(resp.History))
	for _, h := range resp.History {
		ts := normalizeUnix(int64(h.T.Float()))
		if ts <= 0 {
			continue
		}
		points = append(points, PricePoint{Time: time.Unix(ts, 0).UTC(), Price: h.P.Float()})
	}
	return points, nil
}

// Histories fetches the YES-token history of each snapshot, keyed by
// snapshot ID. Snapshots without a token are skipped.
func (p *Polymarket) Histories(ctx context.Context, snaps []Snapshot) map[string][]PricePoint {
	out := make(map[string][]PricePoint, len(snaps))
	var mu sync.Mutex
	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup

	for _, s := range snaps {
		if len(s.TokenIDs) == 0 || s.ID == "" {
			continue
		}
		wg.Add(1)
		go func(id, token string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pts, err := p.PriceHistory(ctx, token, "1d", 60)
			if err != nil {
				slog.Warn("failed to fetch price history", "market", id, "error", err)
				return
			}
			mu.Lock()
			out[id] = pts
			mu.Unlock()
		}(s.ID, s.TokenIDs[0])
	}
	wg.Wait()
	return out
}
