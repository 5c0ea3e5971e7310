package strategy

import (
	"sort"

	"polysignal/internal/market"
)

// MarketAggregate collects the directional activity of tracked wallets on one
// market. It is rebuilt from scratch on every scoring call.
type MarketAggregate struct {
	Slug          string
	MarketID      string
	Title         string
	BullishUsers  map[string]struct{}
	BearishUsers  map[string]struct{}
	BullishVolume float64
	BearishVolume float64
	BullishTrades []market.Trade
	BearishTrades []market.Trade
	LastActivity  int64
}

func newMarketAggregate(t market.Trade) *MarketAggregate {
	return &MarketAggregate{
		Slug:         t.Slug,
		MarketID:     t.MarketID,
		Title:        t.Title,
		BullishUsers: make(map[string]struct{}),
		BearishUsers: make(map[string]struct{}),
	}
}

func (a *MarketAggregate) add(t market.Trade) {
	switch t.Direction {
	case market.Bullish:
		a.BullishUsers[t.Wallet] = struct{}{}
		a.BullishVolume += t.Volume()
		a.BullishTrades = append(a.BullishTrades, t)
	case market.Bearish:
		a.BearishUsers[t.Wallet] = struct{}{}
		a.BearishVolume += t.Volume()
		a.BearishTrades = append(a.BearishTrades, t)
	}
	if t.Timestamp > a.LastActivity {
		a.LastActivity = t.Timestamp
	}
	if a.MarketID == "" {
		a.MarketID = t.MarketID
	}
	if a.Title == "" {
		a.Title = t.Title
	}
}

// Trades returns every directional trade on the market in time order.
func (a *MarketAggregate) Trades() []market.Trade {
	out := make([]market.Trade, 0, len(a.BullishTrades)+len(a.BearishTrades))
	out = append(out, a.BullishTrades...)
	out = append(out, a.BearishTrades...)
	sortByTime(out)
	return out
}

// Dominant reports the side with more volume; ties go to bullish.
func (a *MarketAggregate) Dominant() market.Direction {
	if a.BearishVolume > a.BullishVolume {
		return market.Bearish
	}
	return market.Bullish
}

// DominantTrades returns the trades, users and volume of the dominant side.
func (a *MarketAggregate) DominantTrades() ([]market.Trade, map[string]struct{}, float64) {
	if a.Dominant() == market.Bearish {
		return a.BearishTrades, a.BearishUsers, a.BearishVolume
	}
	return a.BullishTrades, a.BullishUsers, a.BullishVolume
}

// Aggregate groups tracked, directional trades by market slug. Trades from
// other wallets and trades without a direction are dropped.
func Aggregate(trades []market.Trade, tracked WalletSet) map[string]*MarketAggregate {
	aggs := make(map[string]*MarketAggregate)
	for _, t := range trades {
		if t.Direction == market.DirectionNone || !tracked.Has(t.Wallet) {
			continue
		}
		a, ok := aggs[t.Slug]
		if !ok {
			a = newMarketAggregate(t)
			aggs[t.Slug] = a
		}
		a.add(t)
	}
	for _, a := range aggs {
		sortByTime(a.BullishTrades)
		sortByTime(a.BearishTrades)
	}
	return aggs
}

func sortByTime(trades []market.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp < trades[j].Timestamp
	})
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
