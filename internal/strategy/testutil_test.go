package strategy

import (
	"time"

	"polysignal/internal/config"
	"polysignal/internal/market"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mkTrade(wallet, side, outcome string, price, size float64, at time.Time, slug string) market.Trade {
	return market.NormalizeTrade(market.RawTrade{
		ProxyWallet: wallet,
		Side:        side,
		Outcome:     outcome,
		Price:       market.Number(price),
		Size:        market.Number(size),
		Timestamp:   market.Number(at.Unix()),
		Slug:        slug,
		ConditionID: "cond-" + slug,
	})
}

func bullish(wallet string, volume float64, at time.Time, slug string) market.Trade {
	return mkTrade(wallet, "BUY", "Yes", 0.5, volume*2, at, slug)
}

func bearish(wallet string, volume float64, at time.Time, slug string) market.Trade {
	return mkTrade(wallet, "BUY", "No", 0.5, volume*2, at, slug)
}

func snapshotExpiring(slug string, in time.Duration) *market.Snapshot {
	return &market.Snapshot{
		ID:       "cond-" + slug,
		Slug:     slug,
		Question: "Will " + slug + " happen?",
		EndDate:  testNow.Add(in).Format(time.RFC3339),
		Active:   true,
	}
}

func testConviction() *Conviction {
	c, err := NewConviction(config.DefaultConfig().Strategy.Conviction)
	if err != nil {
		panic(err)
	}
	return c
}

func testPullbackConfig() config.PullbackConfig {
	return config.DefaultConfig().Strategy.Pullback
}
