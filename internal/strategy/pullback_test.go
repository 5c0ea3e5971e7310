package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polysignal/internal/config"
	"polysignal/internal/market"
)

func newTestPullback(t *testing.T, mutate func(*config.PullbackConfig)) *Pullback {
	t.Helper()
	cfg := testPullbackConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewPullback(cfg)
	require.NoError(t, err)
	return p
}

func pullbackSnapshot(slug string, yes float64, expiresIn time.Duration) market.Snapshot {
	s := *snapshotExpiring(slug, expiresIn)
	s.YesPrice = yes
	s.NoPrice = 1 - yes
	return s
}

// rally climbs from 0.60 to a 0.92 peak three hours ago.
func rally() []market.PricePoint {
	return []market.PricePoint{
		{Time: testNow.Add(-12 * time.Hour), Price: 0.60},
		{Time: testNow.Add(-6 * time.Hour), Price: 0.75},
		{Time: testNow.Add(-3 * time.Hour), Price: 0.92},
		{Time: testNow.Add(-1 * time.Hour), Price: 0.85},
	}
}

func TestNewPullback_RejectsInvalidConfig(t *testing.T) {
	cfg := testPullbackConfig()
	cfg.MinPullback = -0.1
	_, err := NewPullback(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)

	cfg = testPullbackConfig()
	cfg.OptimalPullback = 0.5
	_, err = NewPullback(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestPullback_YesSideRetracement(t *testing.T) {
	p := newTestPullback(t, nil)
	snap := pullbackSnapshot("rally", 0.80, 48*time.Hour)

	opps := p.Scan([]market.Snapshot{snap}, map[string][]market.PricePoint{snap.ID: rally()}, testNow)
	require.Len(t, opps, 1)

	o := opps[0]
	assert.True(t, o.TrackingYes)
	assert.Equal(t, "YES", o.Side())
	assert.InDelta(t, 0.80, o.TrackedProb, 1e-9)
	assert.InDelta(t, 0.92, o.PeakProb, 1e-9)
	assert.Equal(t, testNow.Add(-3*time.Hour), o.PeakTime)
	assert.InDelta(t, (0.92-0.80)/0.92, o.PullbackPct, 1e-9)
	assert.InDelta(t, 0.32, o.MoveOverWindow, 1e-9)
	assert.InDelta(t, 48, o.HoursToExpiry, 1e-9)
	assert.InDelta(t, 4562.5, o.AnnualizedReturn, 1e-6)
	assert.InDelta(t, 16, o.Charm, 1e-9)
	assert.False(t, o.UsedHeuristic)
	assert.False(t, o.Extended)
	assert.GreaterOrEqual(t, o.PeakProb, o.TrackedProb)
	assert.Greater(t, o.MomentumStrength, 0.0)
	assert.LessOrEqual(t, o.MomentumStrength, 1.0)
	assert.Greater(t, o.RecentVolatility, 0.0)
	assert.Greater(t, o.Score, 0.0)
	assert.LessOrEqual(t, o.Score, 100.0)
}

func TestPullback_NoSideRetracement(t *testing.T) {
	p := newTestPullback(t, nil)
	snap := pullbackSnapshot("fade", 0.15, 30*time.Hour)
	hist := []market.PricePoint{
		{Time: testNow.Add(-10 * time.Hour), Price: 0.40},
		{Time: testNow.Add(-4 * time.Hour), Price: 0.05},
		{Time: testNow.Add(-1 * time.Hour), Price: 0.10},
	}

	opps := p.Scan([]market.Snapshot{snap}, map[string][]market.PricePoint{snap.Slug: hist}, testNow)
	require.Len(t, opps, 1)

	o := opps[0]
	assert.False(t, o.TrackingYes)
	assert.Equal(t, "NO", o.Side())
	assert.InDelta(t, 0.85, o.TrackedProb, 1e-9)
	assert.InDelta(t, 0.95, o.PeakProb, 1e-9)
	assert.InDelta(t, 0.10/0.95, o.PullbackPct, 1e-9)
}

func TestPullback_Filters(t *testing.T) {
	p := newTestPullback(t, func(c *config.PullbackConfig) {
		c.ExcludedTerms = []string{" Bitcoin "}
	})

	closed := pullbackSnapshot("closed", 0.80, 48*time.Hour)
	closed.Closed = true
	noExpiry := pullbackSnapshot("no-expiry", 0.80, 48*time.Hour)
	noExpiry.EndDate = ""

	cases := map[string]market.Snapshot{
		"closed":        closed,
		"no expiry":     noExpiry,
		"expired":       pullbackSnapshot("expired", 0.80, -time.Hour),
		"too far":       pullbackSnapshot("too-far", 0.80, 500*time.Hour),
		"not extreme":   pullbackSnapshot("coin-flip", 0.60, 48*time.Hour),
		"excluded term": pullbackSnapshot("will-bitcoin-hit-100k", 0.80, 48*time.Hour),
		"certain":       pullbackSnapshot("certain", 1.0, 48*time.Hour),
		"zero":          pullbackSnapshot("zero", 0, 48*time.Hour),
	}
	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			hist := map[string][]market.PricePoint{snap.ID: rally()}
			assert.Empty(t, p.Scan([]market.Snapshot{snap}, hist, testNow))
		})
	}
}

func TestPullback_Candidates(t *testing.T) {
	p := newTestPullback(t, nil)
	snaps := []market.Snapshot{
		pullbackSnapshot("near-yes", 0.85, 48*time.Hour),
		pullbackSnapshot("near-no", 0.10, 24*time.Hour),
		pullbackSnapshot("extended", 0.90, 200*time.Hour),
		pullbackSnapshot("too-far", 0.90, 500*time.Hour),
		pullbackSnapshot("coin-flip", 0.55, 24*time.Hour),
	}

	got := p.Candidates(snaps, testNow)
	require.Len(t, got, 3)
	assert.Equal(t, "near-yes", got[0].Slug)
	assert.Equal(t, "near-no", got[1].Slug)
	assert.Equal(t, "extended", got[2].Slug)
}

func TestPullback_ExcludedTermMatchesQuestion(t *testing.T) {
	p := newTestPullback(t, func(c *config.PullbackConfig) {
		c.ExcludedTerms = []string{"ethereum"}
	})
	snap := pullbackSnapshot("price-target", 0.80, 48*time.Hour)
	snap.Question = "Will Ethereum close above $5k?"

	assert.Empty(t, p.Scan([]market.Snapshot{snap}, map[string][]market.PricePoint{snap.ID: rally()}, testNow))
}

func TestPullback_ShallowPullbackExcluded(t *testing.T) {
	p := newTestPullback(t, nil)
	snap := pullbackSnapshot("steady", 0.90, 48*time.Hour)
	hist := []market.PricePoint{
		{Time: testNow.Add(-5 * time.Hour), Price: 0.80},
		{Time: testNow.Add(-2 * time.Hour), Price: 0.92},
	}
	assert.Empty(t, p.Scan([]market.Snapshot{snap}, map[string][]market.PricePoint{snap.ID: hist}, testNow))
}

func TestPullback_NewHighExcluded(t *testing.T) {
	p := newTestPullback(t, nil)
	snap := pullbackSnapshot("breakout", 0.95, 48*time.Hour)
	hist := []market.PricePoint{
		{Time: testNow.Add(-5 * time.Hour), Price: 0.80},
		{Time: testNow.Add(-2 * time.Hour), Price: 0.90},
	}
	assert.Empty(t, p.Scan([]market.Snapshot{snap}, map[string][]market.PricePoint{snap.ID: hist}, testNow))
}

func TestPullback_ExtendedHorizonNeedsExtremeMove(t *testing.T) {
	p := newTestPullback(t, nil)

	strong := pullbackSnapshot("strong", 0.80, 200*time.Hour)
	weak := pullbackSnapshot("weak", 0.80, 200*time.Hour)
	history := map[string][]market.PricePoint{
		strong.ID: rally(),
		weak.ID: {
			{Time: testNow.Add(-8 * time.Hour), Price: 0.75},
			{Time: testNow.Add(-3 * time.Hour), Price: 0.92},
		},
	}

	opps := p.Scan([]market.Snapshot{strong, weak}, history, testNow)
	require.Len(t, opps, 1)
	assert.Equal(t, "strong", opps[0].Slug)
	assert.True(t, opps[0].Extended)
}

func TestPullback_HeuristicWithoutHistory(t *testing.T) {
	snap := pullbackSnapshot("quiet", 0.80, 24*time.Hour)

	strict := newTestPullback(t, nil)
	assert.Empty(t, strict.Scan([]market.Snapshot{snap}, nil, testNow))

	loose := newTestPullback(t, func(c *config.PullbackConfig) { c.MinPullback = 0.05 })
	opps := loose.Scan([]market.Snapshot{snap}, nil, testNow)
	require.Len(t, opps, 1)

	o := opps[0]
	assert.True(t, o.UsedHeuristic)
	assert.InDelta(t, 0.85, o.PeakProb, 1e-9)
	assert.InDelta(t, 0.05/0.85, o.PullbackPct, 1e-9)
	assert.InDelta(t, 0.3, o.MomentumStrength, 1e-9)
	assert.Equal(t, testNow.Add(-2*time.Hour), o.PeakTime)
}

func TestPullback_StaleHistoryFallsBackToHeuristic(t *testing.T) {
	p := newTestPullback(t, func(c *config.PullbackConfig) { c.MinPullback = 0.05 })
	snap := pullbackSnapshot("stale", 0.80, 24*time.Hour)
	hist := []market.PricePoint{
		{Time: testNow.Add(-72 * time.Hour), Price: 0.50},
		{Time: testNow.Add(-48 * time.Hour), Price: 0.99},
	}
	opps := p.Scan([]market.Snapshot{snap}, map[string][]market.PricePoint{snap.ID: hist}, testNow)
	require.Len(t, opps, 1)
	assert.True(t, opps[0].UsedHeuristic)
}

func TestPullback_HeuristicBelowThreshold(t *testing.T) {
	p := newTestPullback(t, func(c *config.PullbackConfig) {
		c.MinPullback = 0.01
		c.MinProbability = 0.70
	})
	snap := pullbackSnapshot("lukewarm", 0.72, 24*time.Hour)
	assert.Empty(t, p.Scan([]market.Snapshot{snap}, nil, testNow))
}

func TestPullback_SortedByScore(t *testing.T) {
	p := newTestPullback(t, nil)
	near := pullbackSnapshot("near", 0.80, 6*time.Hour)
	far := pullbackSnapshot("far", 0.80, 60*time.Hour)
	history := map[string][]market.PricePoint{near.ID: rally(), far.ID: rally()}

	opps := p.Scan([]market.Snapshot{far, near}, history, testNow)
	require.Len(t, opps, 2)
	assert.Equal(t, "near", opps[0].Slug)
	assert.Greater(t, opps[0].Score, opps[1].Score)
}

func TestPullbackQuality(t *testing.T) {
	p := newTestPullback(t, nil)
	tests := []struct {
		pct  float64
		want float64
	}{
		{0.05, 0},
		{0.10, 0},
		{0.15, 0.5},
		{0.20, 1},
		{0.275, 0.75},
		{0.35, 0.5},
		{0.40, 0.25},
		{0.45, 0},
		{0.80, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, p.pullbackQuality(tt.pct), 1e-9, "pct=%v", tt.pct)
	}
}

func TestMoveScore(t *testing.T) {
	p := newTestPullback(t, nil)
	tests := []struct {
		move float64
		want float64
	}{
		{-0.1, 0},
		{0, 0},
		{0.075, 0.25},
		{0.15, 0.5},
		{0.225, 0.75},
		{0.30, 1},
		{0.60, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, p.moveScore(tt.move), 1e-9, "move=%v", tt.move)
	}
}

func TestExtremityScore(t *testing.T) {
	assert.Equal(t, 1.0, extremityScore(0.97))
	assert.Equal(t, 0.8, extremityScore(0.91))
	assert.Equal(t, 0.6, extremityScore(0.86))
	assert.Equal(t, 0.4, extremityScore(0.80))
	assert.Equal(t, 0.2, extremityScore(0.76))
}

func TestAnnualizedReturn(t *testing.T) {
	assert.InDelta(t, (0.1/0.9)*36.5*100, AnnualizedReturn(0.9, 240), 1e-9)
	assert.Equal(t, 0.0, AnnualizedReturn(0.99, 240))
	assert.Equal(t, 0.0, AnnualizedReturn(0.995, 240))
	assert.Equal(t, 0.0, AnnualizedReturn(0.9, 0))
	assert.Equal(t, 0.0, AnnualizedReturn(0.9, -5))
}

func TestSweetSpot(t *testing.T) {
	p := newTestPullback(t, nil)
	assert.True(t, p.inSweetSpot(0.96, 8))
	assert.True(t, p.inSweetSpot(0.97, 7))
	assert.False(t, p.inSweetSpot(0.99, 8))
	assert.False(t, p.inSweetSpot(0.90, 8))
	assert.False(t, p.inSweetSpot(0.96, 3))
	assert.False(t, p.inSweetSpot(0.96, 12))
}

func TestRankByCharm(t *testing.T) {
	opps := []Opportunity{
		{MarketID: "a", Charm: 9, Score: 50},
		{MarketID: "b", Charm: 2, Score: 80, InSweetSpot: true},
		{MarketID: "c", Charm: 9, Score: 70},
		{MarketID: "d", Charm: 4, Score: 10, InSweetSpot: true},
	}
	ranked := RankByCharm(opps)

	var ids []string
	for _, o := range ranked {
		ids = append(ids, o.MarketID)
	}
	assert.Equal(t, []string{"d", "b", "c", "a"}, ids)
	assert.Equal(t, "a", opps[0].MarketID, "input left untouched")
}

func TestPullback_Evaluate(t *testing.T) {
	p := newTestPullback(t, nil)
	snap := pullbackSnapshot("rally", 0.80, 48*time.Hour)
	in := Input{
		Now:       testNow,
		Snapshots: map[string]*market.Snapshot{snap.Slug: &snap},
		History:   map[string][]market.PricePoint{snap.ID: rally()},
	}

	signals, err := p.Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "pullback", signals[0].Strategy)
	assert.Equal(t, "YES", signals[0].Direction)
	assert.Equal(t, "SETUP", signals[0].Grade)
	assert.Equal(t, snap.ID, signals[0].MarketID)
	assert.Contains(t, signals[0].Reason, "peak 0.92")
}
