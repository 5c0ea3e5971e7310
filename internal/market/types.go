package market

import (
	"sort"
	"time"
)

// Side is the taker side of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Polarity classifies an outcome label as the YES or NO leg of a binary contract.
type Polarity int

const (
	PolarityNone Polarity = iota
	PolarityYes
	PolarityNo
)

// Direction is the view a trade expresses on the YES outcome.
type Direction int

const (
	DirectionNone Direction = iota
	Bullish
	Bearish
)

func (d Direction) String() string {
	switch d {
	case Bullish:
		return "BULLISH"
	case Bearish:
		return "BEARISH"
	default:
		return "NONE"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Trade is one executed fill attributed to a wallet. Direction is fixed at
// normalization time.
type Trade struct {
	Wallet    string // lower-cased
	Side      Side
	Outcome   string
	Polarity  Polarity
	Direction Direction
	Price     float64
	Size      float64
	Timestamp int64 // unix seconds
	Slug      string
	MarketID  string
	Title     string
}

// Volume is the dollar value of the fill.
func (t Trade) Volume() float64 {
	return t.Price * t.Size
}

// YesPrice is the fill price expressed on the YES leg. It is false for
// outcomes that are neither YES nor NO and for prices outside (0, 1).
func (t Trade) YesPrice() (float64, bool) {
	if t.Price <= 0 || t.Price >= 1 {
		return 0, false
	}
	switch t.Polarity {
	case PolarityYes:
		return t.Price, true
	case PolarityNo:
		return 1 - t.Price, true
	default:
		return 0, false
	}
}

func (t Trade) Time() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// sortTrades orders by time, then wallet, so merged fetches are stable.
func sortTrades(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].Timestamp != trades[j].Timestamp {
			return trades[i].Timestamp < trades[j].Timestamp
		}
		return trades[i].Wallet < trades[j].Wallet
	})
}

// Snapshot is the market metadata the engines consume. EndDate is kept as the
// raw ISO-8601 string; a malformed value degrades urgency to neutral.
type Snapshot struct {
	ID            string
	Slug          string
	Question      string
	Source        string // "polymarket" or "manifold"
	URL           string
	YesPrice      float64
	NoPrice       float64
	EndDate       string
	Active        bool
	Closed        bool
	Volume        float64
	Volume24h     float64
	Liquidity     float64
	BestBid       float64
	BestAsk       float64
	Outcomes      []string
	OutcomePrices []float64
	TokenIDs      []string
}

// EndTime parses EndDate. The second return is false when the date is absent
// or unparseable.
func (s *Snapshot) EndTime() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	return ParseISOTime(s.EndDate)
}

// HoursToExpiry is negative for markets already past their end date.
func (s *Snapshot) HoursToExpiry(now time.Time) (float64, bool) {
	end, ok := s.EndTime()
	if !ok {
		return 0, false
	}
	return end.Sub(now).Hours(), true
}

// PricePoint is one observation of the YES price.
type PricePoint struct {
	Time  time.Time
	Price float64
}

// OutcomeBook holds the top of book for every mutually exclusive outcome of
// one market. The slices are parallel.
type OutcomeBook struct {
	MarketID string
	Slug     string
	Title    string
	Outcomes []string
	Mids     []float64
	Bids     []float64
	Asks     []float64
}

// Len returns the outcome count, or 0 when the parallel slices disagree.
func (b OutcomeBook) Len() int {
	n := len(b.Outcomes)
	if len(b.Mids) != n || len(b.Bids) != n || len(b.Asks) != n {
		return 0
	}
	return n
}
