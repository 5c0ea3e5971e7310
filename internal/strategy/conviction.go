package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"polysignal/internal/config"
	"polysignal/internal/market"
)

// MarketSignal is one scored market with the components behind its score.
type MarketSignal struct {
	Slug      string
	MarketID  string
	Title     string
	Direction market.Direction
	Score     float64
	Tier      Tier

	Directionality float64
	Urgency        float64
	VolumeRatio    float64
	Momentum       float64
	BaseActivity   float64

	ConsensusUsers []string
	BullishUsers   int
	BearishUsers   int
	BullishVolume  float64
	BearishVolume  float64
	TotalTrades    int
	LastActivity   int64
	AvgTradeTime   int64 // volume-weighted, unix seconds
	HoursToExpiry  float64
	HasExpiry      bool
}

// BaseActivity scales the multipliers by engagement on the dominant side so
// that equal multipliers over different stakes do not tie.
func BaseActivity(users int, volume float64) float64 {
	if users <= 0 || volume <= 0 {
		return 0
	}
	return 10 * math.Sqrt(float64(users)) * math.Log1p(volume/1000)
}

// Conviction ranks markets by how strongly tracked wallets agree on them.
type Conviction struct {
	cfg      config.ConvictionConfig
	momentum MomentumParams
}

func NewConviction(cfg config.ConvictionConfig) (*Conviction, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params := DefaultMomentumParams()
	params.Window = cfg.MomentumWindow.Duration
	return &Conviction{cfg: cfg, momentum: params}, nil
}

func (c *Conviction) Name() string  { return "conviction" }
func (c *Conviction) Enabled() bool { return c.cfg.Enabled }

// Score aggregates the trade set and returns every market with tracked
// participation, best first. Snapshots may be nil or miss markets.
func (c *Conviction) Score(trades []market.Trade, tracked WalletSet, snapshots map[string]*market.Snapshot, now time.Time) []MarketSignal {
	if len(trades) == 0 || len(tracked) == 0 {
		return nil
	}

	profiles := BuildProfiles(trades, tracked)
	aggs := Aggregate(trades, tracked)

	scored := make([]MarketSignal, 0, len(aggs))
	for slug, agg := range aggs {
		if len(agg.BullishUsers)+len(agg.BearishUsers) == 0 {
			continue
		}
		scored = append(scored, c.scoreMarket(agg, profiles, snapshots[slug], now))
	}

	SortMarketSignals(scored)
	return scored
}

func (c *Conviction) scoreMarket(agg *MarketAggregate, profiles map[string]UserVolumeProfile, snap *market.Snapshot, now time.Time) MarketSignal {
	domTrades, domUsers, domVolume := agg.DominantTrades()

	ms := MarketSignal{
		Slug:           agg.Slug,
		MarketID:       agg.MarketID,
		Title:          agg.Title,
		Direction:      agg.Dominant(),
		Directionality: AggregateDirectionality(agg),
		Urgency:        SnapshotUrgency(snap, now, c.cfg.UrgencyTau.Duration),
		VolumeRatio:    VolumeRatio(agg.Trades(), profiles),
		Momentum:       MomentumCluster(TradePoints(domTrades), c.momentum),
		BaseActivity:   BaseActivity(len(domUsers), domVolume),
		ConsensusUsers: sortedKeys(domUsers),
		BullishUsers:   len(agg.BullishUsers),
		BearishUsers:   len(agg.BearishUsers),
		BullishVolume:  agg.BullishVolume,
		BearishVolume:  agg.BearishVolume,
		TotalTrades:    len(agg.BullishTrades) + len(agg.BearishTrades),
		LastActivity:   agg.LastActivity,
		AvgTradeTime:   weightedTradeTime(domTrades),
	}
	if snap != nil && ms.Title == "" {
		ms.Title = snap.Question
	}
	if h, ok := snap.HoursToExpiry(now); ok {
		ms.HoursToExpiry, ms.HasExpiry = h, true
	}

	ms.Score = ms.Directionality * ms.Urgency * ms.VolumeRatio * ms.Momentum * ms.BaseActivity
	ms.Tier = ClassifyConviction(ms.Score)

	slog.Debug("conviction market scored",
		"slug", ms.Slug,
		"score", ms.Score,
		"tier", ms.Tier,
		"directionality", ms.Directionality,
		"urgency", ms.Urgency,
		"volume_ratio", ms.VolumeRatio,
		"momentum", ms.Momentum,
	)
	return ms
}

// SortMarketSignals orders by score, then most recent activity, then slug.
func SortMarketSignals(s []MarketSignal) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		if s[i].LastActivity != s[j].LastActivity {
			return s[i].LastActivity > s[j].LastActivity
		}
		return s[i].Slug < s[j].Slug
	})
}

func weightedTradeTime(trades []market.Trade) int64 {
	var weighted, total float64
	for _, t := range trades {
		v := t.Volume()
		weighted += float64(t.Timestamp) * v
		total += v
	}
	if total == 0 {
		return 0
	}
	return int64(weighted / total)
}

func (c *Conviction) Evaluate(_ context.Context, in Input) ([]Signal, error) {
	scored := c.Score(in.Trades, in.Tracked, in.Snapshots, in.Now)

	var signals []Signal
	for _, ms := range scored {
		if ms.Slug == "" || ms.Score <= 0 || ms.Score < c.cfg.MinScore {
			continue
		}
		signals = append(signals, Signal{
			Strategy:  c.Name(),
			MarketID:  ms.MarketID,
			Slug:      ms.Slug,
			Question:  ms.Title,
			Score:     ms.Score,
			Grade:     string(ms.Tier),
			Direction: ms.Direction.String(),
			Reason: fmt.Sprintf("%d wallets %s, dir %.2f urg %.2f vol %.2f mom %.2f",
				len(ms.ConsensusUsers), ms.Direction, ms.Directionality, ms.Urgency, ms.VolumeRatio, ms.Momentum),
		})
	}

	slog.Info("conviction evaluation complete", "markets_scored", len(scored), "signals", len(signals))
	return signals, nil
}
