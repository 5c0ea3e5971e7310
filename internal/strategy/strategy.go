package strategy

import (
	"context"
	"sort"
	"strings"
	"time"

	"polysignal/internal/market"
)

// Signal is the strategy-agnostic record persisted and served over HTTP.
type Signal struct {
	Strategy  string
	MarketID  string
	Slug      string
	Question  string
	Score     float64
	Grade     string // tier for conviction, best strategy for arbitrage
	Direction string // BULLISH/BEARISH, YES/NO, or empty
	Reason    string
}

// Strategy is implemented by every scoring engine.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, in Input) ([]Signal, error)
	Enabled() bool
}

// Input is one self-contained snapshot of the world. Engines read it and keep
// nothing between calls.
type Input struct {
	Now       time.Time
	Trades    []market.Trade
	Tracked   WalletSet
	Snapshots map[string]*market.Snapshot // keyed by slug
	History   map[string][]market.PricePoint
	Books     []market.OutcomeBook
}

// SnapshotList returns the snapshots ordered by slug.
func (in Input) SnapshotList() []market.Snapshot {
	slugs := make([]string, 0, len(in.Snapshots))
	for slug, s := range in.Snapshots {
		if s != nil {
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	out := make([]market.Snapshot, 0, len(slugs))
	for _, slug := range slugs {
		out = append(out, *in.Snapshots[slug])
	}
	return out
}

// WalletSet is a case-insensitive set of wallet addresses.
type WalletSet map[string]struct{}

func NewWalletSet(addrs ...string) WalletSet {
	s := make(WalletSet, len(addrs))
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			s[a] = struct{}{}
		}
	}
	return s
}

func (s WalletSet) Has(addr string) bool {
	_, ok := s[strings.ToLower(addr)]
	return ok
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
