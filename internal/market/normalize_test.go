package market

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDirection(t *testing.T) {
	tests := []struct {
		side    string
		outcome string
		want    Direction
	}{
		{"BUY", "Yes", Bullish},
		{"buy", "YES", Bullish},
		{"SELL", "No", Bullish},
		{"BUY", "No", Bearish},
		{"SELL", "Yes", Bearish},
		{"BUY", "Trump", DirectionNone},
		{"", "Yes", DirectionNone},
		{"HOLD", "No", DirectionNone},
	}
	for _, tt := range tests {
		got := ClassifyDirection(ParseSide(tt.side), OutcomePolarity(tt.outcome))
		assert.Equal(t, tt.want, got, "%s %s", tt.side, tt.outcome)
	}
}

func TestNormalizeTrade_Fields(t *testing.T) {
	var raw RawTrade
	err := json.Unmarshal([]byte(`{
		"proxyWallet": "0xABCdef",
		"side": "BUY",
		"outcome": "Yes",
		"price": "0.62",
		"size": 1000,
		"timestamp": 1735689600,
		"slug": "will-it-rain",
		"conditionId": "0xc0nd"
	}`), &raw)
	require.NoError(t, err)

	tr := NormalizeTrade(raw)
	assert.Equal(t, "0xabcdef", tr.Wallet)
	assert.Equal(t, SideBuy, tr.Side)
	assert.Equal(t, Bullish, tr.Direction)
	assert.InDelta(t, 0.62, tr.Price, 1e-12)
	assert.InDelta(t, 620.0, tr.Volume(), 1e-9)
	assert.Equal(t, int64(1735689600), tr.Timestamp)
	assert.Equal(t, "will-it-rain", tr.Slug)
	assert.Equal(t, "0xc0nd", tr.MarketID)
}

func TestNormalizeTrade_MalformedNumericsBecomeZero(t *testing.T) {
	var raws []RawTrade
	err := json.Unmarshal([]byte(`[
		{"proxyWallet": "0x1", "side": "BUY", "outcome": "Yes", "price": "abc", "size": null, "timestamp": "x"},
		{"proxyWallet": "0x2", "side": "SELL", "outcome": "No"}
	]`), &raws)
	require.NoError(t, err)

	trades := NormalizeTrades(raws)
	require.Len(t, trades, 2)
	assert.Zero(t, trades[0].Volume())
	assert.Zero(t, trades[0].Timestamp)
	assert.Equal(t, Bullish, trades[1].Direction)
	assert.Zero(t, trades[1].Volume())
}

func TestNormalizeTrade_MillisecondTimestamp(t *testing.T) {
	tr := NormalizeTrade(RawTrade{Timestamp: Number(1735689600123)})
	assert.Equal(t, int64(1735689600), tr.Timestamp)
}

func TestNormalizeSnapshot_GammaEncodedLists(t *testing.T) {
	var raw RawMarket
	err := json.Unmarshal([]byte(`{
		"id": "512",
		"question": "Will X happen?",
		"slug": "will-x-happen",
		"endDate": "2026-01-01T00:00:00Z",
		"outcomes": "[\"Yes\", \"No\"]",
		"outcomePrices": "[\"0.83\", \"0.17\"]",
		"clobTokenIds": "[\"111\", \"222\"]",
		"active": true,
		"closed": false,
		"bestBid": 0.82,
		"bestAsk": "0.84",
		"volume": "12345.6"
	}`), &raw)
	require.NoError(t, err)

	snap := NormalizeSnapshot(raw)
	assert.Equal(t, "512", snap.ID)
	assert.InDelta(t, 0.83, snap.YesPrice, 1e-12)
	assert.InDelta(t, 0.17, snap.NoPrice, 1e-9)
	assert.Equal(t, []string{"Yes", "No"}, snap.Outcomes)
	assert.Equal(t, []string{"111", "222"}, snap.TokenIDs)
	assert.InDelta(t, 0.84, snap.BestAsk, 1e-12)
	assert.InDelta(t, 12345.6, snap.Volume, 1e-9)

	end, ok := snap.EndTime()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestNormalizeSnapshot_PricePriority(t *testing.T) {
	snap := NormalizeSnapshot(RawMarket{LastTradePrice: 0.75, BestBid: 0.70, BestAsk: 0.90})
	assert.InDelta(t, 0.75, snap.YesPrice, 1e-12)
	assert.InDelta(t, 0.25, snap.NoPrice, 1e-12)

	snap = NormalizeSnapshot(RawMarket{BestBid: 0.70, BestAsk: 0.80, OutcomePrices: StringList{"0.5", "0.5"}})
	assert.InDelta(t, 0.75, snap.YesPrice, 1e-12)

	snap = NormalizeSnapshot(RawMarket{OutcomePrices: StringList{"0.4", "0.6"}})
	assert.InDelta(t, 0.4, snap.YesPrice, 1e-12)
}

func TestParseISOTime(t *testing.T) {
	for _, s := range []string{
		"2026-03-01T12:00:00Z",
		"2026-03-01T12:00:00.123456Z",
		"2026-03-01T12:00:00+02:00",
		"2026-03-01T12:00:00",
		"2026-03-01",
	} {
		_, ok := ParseISOTime(s)
		assert.True(t, ok, s)
	}
	for _, s := range []string{"", "soon", "03/01/2026"} {
		_, ok := ParseISOTime(s)
		assert.False(t, ok, s)
	}
}

func TestSnapshot_NilEndTime(t *testing.T) {
	var s *Snapshot
	_, ok := s.EndTime()
	assert.False(t, ok)
	_, ok = s.HoursToExpiry(time.Now())
	assert.False(t, ok)
}

func TestBookFromEvent(t *testing.T) {
	ev := RawEvent{
		ID:    "ev1",
		Slug:  "fed-decision",
		Title: "Fed decision",
		Markets: []RawMarket{
			{GroupItemTitle: "Cut", BestBid: 0.30, BestAsk: 0.32},
			{GroupItemTitle: "Hold", BestBid: 0.60, BestAsk: 0.62},
			{GroupItemTitle: "Hike", BestBid: 0.01, BestAsk: 0.03, Closed: true},
			{Question: "Other?", LastTradePrice: 0.05},
		},
	}
	book := BookFromEvent(ev)
	require.Equal(t, 3, book.Len())
	assert.Equal(t, []string{"Cut", "Hold", "Other?"}, book.Outcomes)
	assert.InDelta(t, 0.31, book.Mids[0], 1e-12)
	assert.InDelta(t, 0.05, book.Mids[2], 1e-12)
}

func TestOutcomeBook_LenMismatch(t *testing.T) {
	b := OutcomeBook{Outcomes: []string{"a", "b"}, Mids: []float64{0.5}, Bids: []float64{0.4, 0.4}, Asks: []float64{0.6, 0.6}}
	assert.Zero(t, b.Len())
}
