package strategy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polysignal/internal/config"
	"polysignal/internal/market"
)

func findSignal(t *testing.T, scored []MarketSignal, slug string) MarketSignal {
	t.Helper()
	for _, s := range scored {
		if s.Slug == slug {
			return s
		}
	}
	t.Fatalf("no signal for %s", slug)
	return MarketSignal{}
}

func TestNewConviction_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig().Strategy.Conviction
	cfg.MinScore = -1
	_, err := NewConviction(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestConviction_WhaleBeatsSmallBet(t *testing.T) {
	c := testConviction()
	tracked := NewWalletSet("0xwhale", "0xsmall")
	trades := []market.Trade{
		bullish("0xwhale", 50000, testNow.Add(-time.Hour), "whale-market"),
		bullish("0xsmall", 1000, testNow.Add(-time.Hour), "small-market"),
	}
	snaps := map[string]*market.Snapshot{
		"whale-market": snapshotExpiring("whale-market", 12*time.Hour),
		"small-market": snapshotExpiring("small-market", 180*24*time.Hour),
	}

	scored := c.Score(trades, tracked, snaps, testNow)
	require.Len(t, scored, 2)

	whale := findSignal(t, scored, "whale-market")
	small := findSignal(t, scored, "small-market")
	assert.Greater(t, whale.Score, 2*small.Score)
	assert.Equal(t, "whale-market", scored[0].Slug)
	assert.True(t, whale.HasExpiry)
	assert.InDelta(t, 12, whale.HoursToExpiry, 1e-9)
}

func TestConviction_SplitVersusUnanimous(t *testing.T) {
	c := testConviction()

	var split []market.Trade
	var splitWallets []string
	for i := 0; i < 6; i++ {
		w := fmt.Sprintf("0xsplit%d", i)
		splitWallets = append(splitWallets, w)
		at := testNow.Add(-time.Duration(i) * 10 * time.Minute)
		if i%2 == 0 {
			split = append(split, bullish(w, 5000, at, "split"))
		} else {
			split = append(split, bearish(w, 5000, at, "split"))
		}
	}

	var unanimous []market.Trade
	var unanimousWallets []string
	for i := 0; i < 3; i++ {
		w := fmt.Sprintf("0xagree%d", i)
		unanimousWallets = append(unanimousWallets, w)
		unanimous = append(unanimous, bullish(w, 10000, testNow.Add(-time.Duration(i)*10*time.Minute), "unanimous"))
	}

	splitScored := c.Score(split, NewWalletSet(splitWallets...), nil, testNow)
	require.Len(t, splitScored, 1)
	assert.Less(t, splitScored[0].Score, 20.0)
	assert.Contains(t, []Tier{TierMinimal, TierLow}, splitScored[0].Tier)
	assert.Equal(t, 0.0, splitScored[0].Directionality)

	unScored := c.Score(unanimous, NewWalletSet(unanimousWallets...), nil, testNow)
	require.Len(t, unScored, 1)
	assert.GreaterOrEqual(t, unScored[0].Score, 3*splitScored[0].Score)
	assert.Greater(t, unScored[0].Score, 20.0)
	assert.Len(t, unScored[0].ConsensusUsers, 3)
}

func TestConviction_ExtremeTier(t *testing.T) {
	c := testConviction()
	var wallets []string
	var trades []market.Trade
	for i := 0; i < 5; i++ {
		w := fmt.Sprintf("0xwhale%d", i)
		wallets = append(wallets, w)
		trades = append(trades, bullish(w, 20000, testNow.Add(-time.Duration(i)*5*time.Minute), "hot"))
	}
	snaps := map[string]*market.Snapshot{"hot": snapshotExpiring("hot", 12*time.Hour)}

	scored := c.Score(trades, NewWalletSet(wallets...), snaps, testNow)
	require.Len(t, scored, 1)
	assert.Greater(t, scored[0].Score, 100.0)
	assert.Equal(t, TierExtreme, scored[0].Tier)
	assert.InDelta(t, 1.5, scored[0].Momentum, 1e-9)
	assert.Equal(t, market.Bullish, scored[0].Direction)
}

func TestConviction_MixedDirection(t *testing.T) {
	c := testConviction()
	trades := []market.Trade{
		bullish("0xa", 6000, testNow.Add(-2*time.Hour), "mixed"),
		bearish("0xb", 4000, testNow.Add(-time.Hour), "mixed"),
	}
	scored := c.Score(trades, NewWalletSet("0xa", "0xb"), nil, testNow)
	require.Len(t, scored, 1)

	s := scored[0]
	assert.InDelta(t, 0.1, s.Directionality, 1e-9)
	assert.Equal(t, 1, s.BullishUsers)
	assert.Equal(t, 1, s.BearishUsers)
	assert.InDelta(t, 6000, s.BullishVolume, 1e-9)
	assert.InDelta(t, 4000, s.BearishVolume, 1e-9)
	assert.Equal(t, []string{"0xa"}, s.ConsensusUsers)
}

func TestConviction_DistantExpiryIsModerate(t *testing.T) {
	c := testConviction()
	var wallets []string
	var trades []market.Trade
	for i := 0; i < 3; i++ {
		w := fmt.Sprintf("0xslow%d", i)
		wallets = append(wallets, w)
		trades = append(trades, bullish(w, 10000, testNow.Add(-time.Duration(i)*3*time.Hour), "distant"))
	}
	snaps := map[string]*market.Snapshot{"distant": snapshotExpiring("distant", 180*24*time.Hour)}

	scored := c.Score(trades, NewWalletSet(wallets...), snaps, testNow)
	require.Len(t, scored, 1)
	assert.Greater(t, scored[0].Score, 20.0)
	assert.Less(t, scored[0].Score, 80.0)
	assert.InDelta(t, 1.0, scored[0].Momentum, 1e-9)
}

func TestConviction_RankingAcrossMarkets(t *testing.T) {
	c := testConviction()
	tracked := NewWalletSet("0x1", "0x2", "0x3", "0x4", "0x5")

	trades := []market.Trade{
		// high: three wallets agree near expiry
		bullish("0x1", 20000, testNow.Add(-30*time.Minute), "high"),
		bullish("0x2", 20000, testNow.Add(-20*time.Minute), "high"),
		bullish("0x3", 20000, testNow.Add(-10*time.Minute), "high"),
		// moderate: one wallet, no snapshot
		bearish("0x4", 5000, testNow.Add(-5*time.Hour), "moderate"),
		// mixed: opposing wallets
		bullish("0x4", 3000, testNow.Add(-4*time.Hour), "mixed"),
		bearish("0x5", 2500, testNow.Add(-3*time.Hour), "mixed"),
	}
	snaps := map[string]*market.Snapshot{"high": snapshotExpiring("high", 6*time.Hour)}

	scored := c.Score(trades, tracked, snaps, testNow)
	require.Len(t, scored, 3)
	assert.Equal(t, []string{"high", "moderate", "mixed"},
		[]string{scored[0].Slug, scored[1].Slug, scored[2].Slug})
	assert.Equal(t, market.Bearish, scored[1].Direction)
	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].Score, scored[i].Score)
	}
}

func TestConviction_TiesBrokenByRecency(t *testing.T) {
	c := testConviction()
	trades := []market.Trade{
		bullish("0xa", 1000, testNow.Add(-2*time.Hour), "older"),
		bullish("0xb", 1000, testNow.Add(-time.Hour), "newer"),
	}
	scored := c.Score(trades, NewWalletSet("0xa", "0xb"), nil, testNow)
	require.Len(t, scored, 2)
	assert.Equal(t, scored[0].Score, scored[1].Score)
	assert.Equal(t, "newer", scored[0].Slug)
}

func TestConviction_Deterministic(t *testing.T) {
	c := testConviction()
	tracked := NewWalletSet("0x1", "0x2", "0x3")
	trades := []market.Trade{
		bullish("0x1", 1200, testNow.Add(-3*time.Hour), "a"),
		bearish("0x2", 800, testNow.Add(-2*time.Hour), "a"),
		bullish("0x3", 400, testNow.Add(-time.Hour), "b"),
		bullish("0x1", 900, testNow.Add(-50*time.Minute), "b"),
		bearish("0x2", 300, testNow.Add(-10*time.Minute), "c"),
	}
	snaps := map[string]*market.Snapshot{"a": snapshotExpiring("a", 48*time.Hour)}

	first := c.Score(trades, tracked, snaps, testNow)
	second := c.Score(trades, tracked, snaps, testNow)
	assert.Equal(t, first, second)
}

func TestConviction_WalletCaseInsensitive(t *testing.T) {
	c := testConviction()
	trades := []market.Trade{bullish("0xABCdef", 1000, testNow, "m")}

	scored := c.Score(trades, NewWalletSet("0XABCDEF"), nil, testNow)
	require.Len(t, scored, 1)
	assert.Equal(t, []string{"0xabcdef"}, scored[0].ConsensusUsers)
}

func TestConviction_DegenerateInput(t *testing.T) {
	c := testConviction()
	assert.Empty(t, c.Score(nil, NewWalletSet("0xa"), nil, testNow))
	assert.Empty(t, c.Score([]market.Trade{bullish("0xa", 10, testNow, "m")}, NewWalletSet(), nil, testNow))

	// untracked and undirected trades leave no participation
	trades := []market.Trade{
		bullish("0xother", 1000, testNow, "m"),
		mkTrade("0xa", "BUY", "Trump", 0.4, 100, testNow, "m"),
	}
	assert.Empty(t, c.Score(trades, NewWalletSet("0xa"), nil, testNow))
}

func TestConviction_MalformedRecords(t *testing.T) {
	c := testConviction()
	raw := []market.RawTrade{
		{ProxyWallet: "0xa", Side: "BUY", Outcome: "Yes"},
		{ProxyWallet: "0xa", Side: "BUY", Outcome: "Yes", Price: 0.6, Size: 500, Timestamp: market.Number(testNow.Unix()), Slug: "ok"},
	}
	trades := market.NormalizeTrades(raw)

	var scored []MarketSignal
	require.NotPanics(t, func() {
		scored = c.Score(trades, NewWalletSet("0xa"), map[string]*market.Snapshot{"ok": {Slug: "ok", EndDate: "garbage"}}, testNow)
	})
	require.Len(t, scored, 2)
	ok := findSignal(t, scored, "ok")
	assert.Greater(t, ok.Score, 0.0)
	assert.Equal(t, 1.0, ok.Urgency)
	assert.False(t, ok.HasExpiry)

	empty := findSignal(t, scored, "")
	assert.Equal(t, 0.0, empty.Score)
}

func TestConviction_Evaluate(t *testing.T) {
	cfg := config.DefaultConfig().Strategy.Conviction
	cfg.MinScore = 1
	c, err := NewConviction(cfg)
	require.NoError(t, err)

	in := Input{
		Now:     testNow,
		Tracked: NewWalletSet("0xa", "0xb", "0xc"),
		Trades: []market.Trade{
			bullish("0xa", 8000, testNow.Add(-time.Hour), "strong"),
			bullish("0xb", 8000, testNow.Add(-30*time.Minute), "strong"),
			bullish("0xc", 1000, testNow.Add(-time.Hour), "tiny"),
			bearish("0xa", 100, testNow.Add(-time.Hour), "split"),
			bullish("0xb", 100, testNow.Add(-time.Hour), "split"),
		},
		Snapshots: map[string]*market.Snapshot{"strong": snapshotExpiring("strong", 24*time.Hour)},
	}

	signals, err := c.Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "strong", signals[0].Slug)
	assert.Equal(t, "conviction", signals[0].Strategy)
	assert.Equal(t, "BULLISH", signals[0].Direction)
	assert.Equal(t, "cond-strong", signals[0].MarketID)
	assert.Equal(t, "tiny", signals[1].Slug)
}

func TestConviction_EvaluateSkipsZeroScores(t *testing.T) {
	c := testConviction()
	raw := []market.RawTrade{
		{ProxyWallet: "0xa", Side: "BUY", Outcome: "Yes", Price: 0.5, Size: 100, Timestamp: market.Number(testNow.Unix())},
	}
	in := Input{
		Now:     testNow,
		Tracked: NewWalletSet("0xa", "0xb"),
		Trades: append(market.NormalizeTrades(raw),
			bullish("0xa", 500, testNow.Add(-time.Hour), "one-sided"),
			bearish("0xa", 100, testNow.Add(-time.Hour), "split"),
			bullish("0xb", 100, testNow.Add(-time.Hour), "split"),
		),
	}

	signals, err := c.Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "one-sided", signals[0].Slug)
}
