package strategy

import (
	"math"
	"sort"
	"time"

	"polysignal/internal/market"
)

// MomentumPoint is a timestamped price, taken from a trade or a price history.
type MomentumPoint struct {
	Time  time.Time
	Price float64
}

// MomentumParams tunes the cluster model. The conviction scorer uses the
// defaults; the pullback scanner widens the window for hourly price data.
type MomentumParams struct {
	Window          time.Duration
	ClusterWeight   float64
	VolatilityScale float64
	VolatilityCap   float64
	Max             float64
}

func DefaultMomentumParams() MomentumParams {
	return MomentumParams{
		Window:          time.Hour,
		ClusterWeight:   0.5,
		VolatilityScale: 0.5,
		VolatilityCap:   0.2,
		Max:             1.5,
	}
}

// MomentumCluster rewards bursts of activity and price movement. Fewer than
// two points are neutral. Otherwise it adds the fraction of consecutive gaps
// within the window (weighted) and the capped price range to 1.
func MomentumCluster(points []MomentumPoint, p MomentumParams) float64 {
	if len(points) < 2 {
		return 1
	}
	sorted := make([]MomentumPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	clustered := 0
	lo, hi := sorted[0].Price, sorted[0].Price
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Time.Sub(sorted[i-1].Time) <= p.Window {
			clustered++
		}
		lo = math.Min(lo, sorted[i].Price)
		hi = math.Max(hi, sorted[i].Price)
	}

	fraction := float64(clustered) / float64(len(sorted)-1)
	bonus := p.ClusterWeight * fraction
	volatility := math.Min(p.VolatilityCap, (hi-lo)*p.VolatilityScale)
	return clamp(1+bonus+volatility, 1, p.Max)
}

// TradePoints converts trades to momentum points.
func TradePoints(trades []market.Trade) []MomentumPoint {
	pts := make([]MomentumPoint, 0, len(trades))
	for _, t := range trades {
		if t.Timestamp == 0 {
			continue
		}
		pts = append(pts, MomentumPoint{Time: t.Time(), Price: t.Price})
	}
	return pts
}

// PricePoints converts a price history to momentum points.
func PricePoints(history []market.PricePoint) []MomentumPoint {
	pts := make([]MomentumPoint, 0, len(history))
	for _, h := range history {
		pts = append(pts, MomentumPoint{Time: h.Time, Price: h.Price})
	}
	return pts
}
