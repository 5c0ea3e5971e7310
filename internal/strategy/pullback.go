package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"polysignal/internal/config"
	"polysignal/internal/market"
)

const (
	pullbackExpiryWeight    = 0.35
	pullbackMomentumWeight  = 0.30
	pullbackQualityWeight   = 0.25
	pullbackExtremityWeight = 0.10

	// Past the upper pullback bound quality falls to zero over this span.
	reversalSpan = 0.10

	sweetSpotMinDistance = 0.02
	sweetSpotMaxDistance = 0.05
)

// Opportunity is a near-expiry market that retraced from a recent peak.
type Opportunity struct {
	MarketID         string
	Slug             string
	Question         string
	URL              string
	CurrentProb      float64
	TrackedProb      float64
	TrackingYes      bool
	HoursToExpiry    float64
	PeakProb         float64
	PeakTime         time.Time
	PullbackPct      float64
	MomentumStrength float64
	MoveOverWindow   float64
	RecentVolatility float64
	Cluster          float64
	Score            float64
	AnnualizedReturn float64
	Charm            float64 // percentage points of move per day to expiry
	InSweetSpot      bool
	UsedHeuristic    bool
	Extended         bool
}

// Side returns YES or NO for the tracked leg.
func (o Opportunity) Side() string {
	if o.TrackingYes {
		return "YES"
	}
	return "NO"
}

type momentumReading struct {
	peak       float64
	peakTime   time.Time
	pullback   float64
	strength   float64
	move       float64
	volatility float64
	cluster    float64
	heuristic  bool
}

// Pullback scans near-expiry, extreme-probability markets for retracements.
type Pullback struct {
	cfg      config.PullbackConfig
	cluster  MomentumParams
	excluded []string
}

func NewPullback(cfg config.PullbackConfig) (*Pullback, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params := DefaultMomentumParams()
	params.Window = cfg.ClusterWindow.Duration

	excluded := make([]string, 0, len(cfg.ExcludedTerms))
	for _, term := range cfg.ExcludedTerms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			excluded = append(excluded, term)
		}
	}
	return &Pullback{cfg: cfg, cluster: params, excluded: excluded}, nil
}

func (p *Pullback) Name() string  { return "pullback" }
func (p *Pullback) Enabled() bool { return p.cfg.Enabled }

// Scan returns qualifying opportunities, best first. History is keyed by
// market id, with the slug as a fallback key.
func (p *Pullback) Scan(snapshots []market.Snapshot, history map[string][]market.PricePoint, now time.Time) []Opportunity {
	var opps []Opportunity
	for i := range snapshots {
		s := &snapshots[i]
		hours, extended, ok := p.prefilter(s, now)
		if !ok {
			continue
		}

		current := s.YesPrice
		trackingYes := current >= 0.5
		tracked := current
		if !trackingYes {
			tracked = 1 - current
		}

		hist, ok := history[s.ID]
		if !ok {
			hist = history[s.Slug]
		}
		m, ok := p.analyze(tracked, hist, now, trackingYes)
		if !ok {
			continue
		}
		if extended && m.move < p.cfg.ExtremeMove {
			continue
		}
		if m.pullback <= 0 || m.pullback < p.cfg.MinPullback {
			continue
		}

		days := hours / 24
		opp := Opportunity{
			MarketID:         s.ID,
			Slug:             s.Slug,
			Question:         s.Question,
			URL:              s.URL,
			CurrentProb:      current,
			TrackedProb:      tracked,
			TrackingYes:      trackingYes,
			HoursToExpiry:    hours,
			PeakProb:         m.peak,
			PeakTime:         m.peakTime,
			PullbackPct:      m.pullback,
			MomentumStrength: m.strength,
			MoveOverWindow:   m.move,
			RecentVolatility: m.volatility,
			Cluster:          m.cluster,
			AnnualizedReturn: AnnualizedReturn(tracked, hours),
			Charm:            m.move * 100 / days,
			UsedHeuristic:    m.heuristic,
			Extended:         extended,
		}
		opp.InSweetSpot = p.inSweetSpot(tracked, days)
		opp.Score = p.compositeScore(hours, m, tracked)
		opps = append(opps, opp)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].Score != opps[j].Score {
			return opps[i].Score > opps[j].Score
		}
		if opps[i].HoursToExpiry != opps[j].HoursToExpiry {
			return opps[i].HoursToExpiry < opps[j].HoursToExpiry
		}
		return opps[i].MarketID < opps[j].MarketID
	})
	return opps
}

// Candidates returns the snapshots that pass the expiry, extremity and
// exclusion filters, i.e. the markets whose price history is worth fetching.
func (p *Pullback) Candidates(snapshots []market.Snapshot, now time.Time) []market.Snapshot {
	var out []market.Snapshot
	for i := range snapshots {
		if _, _, ok := p.prefilter(&snapshots[i], now); ok {
			out = append(out, snapshots[i])
		}
	}
	return out
}

func (p *Pullback) prefilter(s *market.Snapshot, now time.Time) (hours float64, extended bool, ok bool) {
	if s.Closed || p.isExcluded(s) {
		return 0, false, false
	}
	hours, ok = s.HoursToExpiry(now)
	if !ok || hours <= 0 {
		return 0, false, false
	}
	extended = hours > p.cfg.MaxHours
	if extended && (p.cfg.ExtendedMaxHours == 0 || hours > p.cfg.ExtendedMaxHours) {
		return 0, false, false
	}
	current := s.YesPrice
	if current <= 0 || current >= 1 {
		return 0, false, false
	}
	if current < p.cfg.MinProbability && current > 1-p.cfg.MinProbability {
		return 0, false, false
	}
	return hours, extended, true
}

func (p *Pullback) isExcluded(s *market.Snapshot) bool {
	if len(p.excluded) == 0 {
		return false
	}
	slug := strings.ToLower(s.Slug)
	question := strings.ToLower(s.Question)
	for _, term := range p.excluded {
		if strings.Contains(slug, term) || strings.Contains(question, term) {
			return true
		}
	}
	return false
}

func (p *Pullback) analyze(current float64, history []market.PricePoint, now time.Time, trackingYes bool) (momentumReading, bool) {
	cutoff := now.Add(-time.Duration(p.cfg.LookbackHours * float64(time.Hour)))

	recent := make([]market.PricePoint, 0, len(history))
	for _, pt := range history {
		if pt.Time.IsZero() || pt.Time.Before(cutoff) {
			continue
		}
		price := pt.Price
		if !trackingYes {
			price = 1 - price
		}
		recent = append(recent, market.PricePoint{Time: pt.Time, Price: price})
	}
	if len(recent) < 2 {
		return p.heuristic(current, now)
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Time.Before(recent[j].Time) })

	peakIdx := 0
	for i, pt := range recent {
		if pt.Price > recent[peakIdx].Price {
			peakIdx = i
		}
	}
	peak := recent[peakIdx]

	m := momentumReading{
		peak:     peak.Price,
		peakTime: peak.Time,
		move:     peak.Price - recent[0].Price,
	}
	if peak.Price > 0 {
		m.pullback = (peak.Price - current) / peak.Price
	}

	hoursSincePeak := math.Max(0, now.Sub(peak.Time).Hours())
	recency := math.Exp(-hoursSincePeak / p.cfg.RecencyDecayHours)
	m.cluster = MomentumCluster(PricePoints(recent), p.cluster)
	m.strength = math.Min(1, p.moveScore(m.move)*recency*m.cluster)
	m.volatility = stddev(recent)
	return m, true
}

// heuristic estimates a peak just above the current price when history is
// missing. Below 0.75 no estimate is made.
func (p *Pullback) heuristic(current float64, now time.Time) (momentumReading, bool) {
	var peak float64
	switch {
	case current >= 0.90:
		peak = math.Min(0.95, current+0.02)
	case current >= 0.80:
		peak = math.Min(0.90, current+0.05)
	case current >= 0.75:
		peak = math.Min(0.85, current+0.08)
	default:
		return momentumReading{}, false
	}
	return momentumReading{
		peak:       peak,
		peakTime:   now.Add(-2 * time.Hour),
		pullback:   (peak - current) / peak,
		strength:   0.3,
		move:       0.20,
		volatility: 0.05,
		cluster:    1,
		heuristic:  true,
	}, true
}

// moveScore is linear to 0.5 at the strong threshold, then linear to 1 at
// the extreme threshold, and saturates.
func (p *Pullback) moveScore(move float64) float64 {
	strong, extreme := p.cfg.StrongMove, p.cfg.ExtremeMove
	switch {
	case move >= extreme:
		return 1
	case move >= strong:
		return 0.5 + (move-strong)/(extreme-strong)*0.5
	case move <= 0:
		return 0
	default:
		return move / strong * 0.5
	}
}

func (p *Pullback) compositeScore(hours float64, m momentumReading, prob float64) float64 {
	horizon := p.cfg.MaxHours
	expiry := clamp(1-math.Exp(-3*(horizon-hours)/horizon), 0, 1)

	return 100 * (pullbackExpiryWeight*expiry +
		pullbackMomentumWeight*m.strength +
		pullbackQualityWeight*p.pullbackQuality(m.pullback) +
		pullbackExtremityWeight*extremityScore(prob))
}

// pullbackQuality peaks at the optimal fraction. It falls to zero at the
// minimum, to one half at the maximum, and to zero quickly beyond it.
func (p *Pullback) pullbackQuality(pct float64) float64 {
	lo, opt, hi := p.cfg.MinPullback, p.cfg.OptimalPullback, p.cfg.MaxPullback
	switch {
	case pct < lo:
		return 0
	case pct <= opt:
		return clamp(1-(opt-pct)/(opt-lo), 0, 1)
	case pct <= hi:
		return clamp(1-0.5*(pct-opt)/(hi-opt), 0, 1)
	default:
		return math.Max(0, 0.5-0.5*(pct-hi)/reversalSpan)
	}
}

func extremityScore(prob float64) float64 {
	switch {
	case prob >= 0.95:
		return 1.0
	case prob >= 0.90:
		return 0.8
	case prob >= 0.85:
		return 0.6
	case prob >= 0.80:
		return 0.4
	default:
		return 0.2
	}
}

func (p *Pullback) inSweetSpot(prob, days float64) bool {
	distance := 1 - prob
	return distance >= sweetSpotMinDistance && distance <= sweetSpotMaxDistance &&
		days >= p.cfg.SweetSpotMinDays && days <= p.cfg.SweetSpotMaxDays
}

// AnnualizedReturn assumes resolution to the tracked side. It is zero when
// the price leaves no room or the market has expired.
func AnnualizedReturn(prob, hoursToExpiry float64) float64 {
	if prob >= 0.99 || prob <= 0 || hoursToExpiry <= 0 {
		return 0
	}
	profit := (1 - prob) / prob
	days := hoursToExpiry / 24
	return profit * (365 / days) * 100
}

// RankByCharm is the auxiliary ordering: sweet-spot markets first, then by
// charm, then by score.
func RankByCharm(opps []Opportunity) []Opportunity {
	out := make([]Opportunity, len(opps))
	copy(out, opps)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InSweetSpot != out[j].InSweetSpot {
			return out[i].InSweetSpot
		}
		if out[i].Charm != out[j].Charm {
			return out[i].Charm > out[j].Charm
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].MarketID < out[j].MarketID
	})
	return out
}

func stddev(points []market.PricePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var mean float64
	for _, pt := range points {
		mean += pt.Price
	}
	mean /= float64(len(points))
	var variance float64
	for _, pt := range points {
		d := pt.Price - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(points)))
}

func (p *Pullback) Evaluate(_ context.Context, in Input) ([]Signal, error) {
	opps := p.Scan(in.SnapshotList(), in.History, in.Now)

	signals := make([]Signal, 0, len(opps))
	for _, o := range opps {
		grade := "SETUP"
		if o.InSweetSpot {
			grade = "SWEET_SPOT"
		}
		signals = append(signals, Signal{
			Strategy:  p.Name(),
			MarketID:  o.MarketID,
			Slug:      o.Slug,
			Question:  o.Question,
			Score:     o.Score,
			Grade:     grade,
			Direction: o.Side(),
			Reason: fmt.Sprintf("%s at %.2f, peak %.2f, pullback %.1f%%, %.1fh left, ann %.0f%%",
				o.Side(), o.TrackedProb, o.PeakProb, o.PullbackPct*100, o.HoursToExpiry, o.AnnualizedReturn),
		})
	}

	slog.Info("pullback evaluation complete", "markets_evaluated", len(in.Snapshots), "signals", len(signals))
	return signals, nil
}
