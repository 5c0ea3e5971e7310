package market

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Number decodes a JSON number, a numeric string, or null. Anything that does
// not parse becomes zero rather than failing the enclosing record.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number(parseFloatSafe(string(bytes.Trim(data, `"`))))
	return nil
}

func (n Number) Float() float64 { return float64(n) }

// StringList decodes either a JSON array of strings or a string containing a
// JSON-encoded array, which is how Gamma ships outcomes and token ids.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			*l = nil
			return nil
		}
		data = []byte(inner)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*l = nil
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			s = strings.Trim(string(r), `"`)
		}
		out = append(out, s)
	}
	*l = out
	return nil
}

// RawTrade is a trade record as returned by the Polymarket data API and the
// live activity feed.
type RawTrade struct {
	ProxyWallet     string `json:"proxyWallet"`
	Side            string `json:"side"`
	Outcome         string `json:"outcome"`
	Price           Number `json:"price"`
	Size            Number `json:"size"`
	Timestamp       Number `json:"timestamp"`
	Slug            string `json:"slug"`
	ConditionID     string `json:"conditionId"`
	Title           string `json:"title"`
	EventSlug       string `json:"eventSlug"`
	TransactionHash string `json:"transactionHash"`
}

// RawMarket is a Gamma market record.
type RawMarket struct {
	ID             string     `json:"id"`
	Question       string     `json:"question"`
	Slug           string     `json:"slug"`
	ConditionID    string     `json:"conditionId"`
	EndDate        string     `json:"endDate"`
	EndDateISO     string     `json:"endDateIso"`
	Outcomes       StringList `json:"outcomes"`
	OutcomePrices  StringList `json:"outcomePrices"`
	ClobTokenIDs   StringList `json:"clobTokenIds"`
	Active         bool       `json:"active"`
	Closed         bool       `json:"closed"`
	BestBid        Number     `json:"bestBid"`
	BestAsk        Number     `json:"bestAsk"`
	LastTradePrice Number     `json:"lastTradePrice"`
	Volume         Number     `json:"volume"`
	Volume24hr     Number     `json:"volume24hr"`
	Liquidity      Number     `json:"liquidity"`
	GroupItemTitle string     `json:"groupItemTitle"`
}

// RawEvent is a Gamma event grouping the markets of one multi-outcome question.
type RawEvent struct {
	ID       string      `json:"id"`
	Slug     string      `json:"slug"`
	Title    string      `json:"title"`
	NegRisk  bool        `json:"negRisk"`
	Closed   bool        `json:"closed"`
	Markets  []RawMarket `json:"markets"`
	Volume   Number      `json:"volume"`
	EndDate  string      `json:"endDate"`
	Category string      `json:"category"`
}

// ParseSide upper-cases s; anything other than BUY or SELL yields "".
func ParseSide(s string) Side {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy
	case SideSell:
		return SideSell
	default:
		return ""
	}
}

// OutcomePolarity maps an outcome label onto the YES or NO leg by substring.
func OutcomePolarity(label string) Polarity {
	up := strings.ToUpper(label)
	switch {
	case strings.Contains(up, "YES"):
		return PolarityYes
	case strings.Contains(up, "NO"):
		return PolarityNo
	default:
		return PolarityNone
	}
}

// ClassifyDirection: buying YES or selling NO is bullish, the mirror is
// bearish, and everything else carries no direction.
func ClassifyDirection(side Side, p Polarity) Direction {
	switch {
	case side == SideBuy && p == PolarityYes, side == SideSell && p == PolarityNo:
		return Bullish
	case side == SideBuy && p == PolarityNo, side == SideSell && p == PolarityYes:
		return Bearish
	default:
		return DirectionNone
	}
}

// NormalizeTrade never fails: missing numerics become zero and unknown sides
// or outcomes produce DirectionNone.
func NormalizeTrade(r RawTrade) Trade {
	side := ParseSide(r.Side)
	polarity := OutcomePolarity(r.Outcome)
	slug := r.Slug
	if slug == "" {
		slug = r.EventSlug
	}
	return Trade{
		Wallet:    strings.ToLower(strings.TrimSpace(r.ProxyWallet)),
		Side:      side,
		Outcome:   r.Outcome,
		Polarity:  polarity,
		Direction: ClassifyDirection(side, polarity),
		Price:     nonNegative(r.Price.Float()),
		Size:      nonNegative(r.Size.Float()),
		Timestamp: normalizeUnix(int64(r.Timestamp.Float())),
		Slug:      slug,
		MarketID:  r.ConditionID,
		Title:     r.Title,
	}
}

func NormalizeTrades(raw []RawTrade) []Trade {
	trades := make([]Trade, 0, len(raw))
	for _, r := range raw {
		trades = append(trades, NormalizeTrade(r))
	}
	return trades
}

// NormalizeSnapshot converts a Gamma market. The YES price is the last trade,
// then the book midpoint, then outcomePrices.
func NormalizeSnapshot(r RawMarket) Snapshot {
	prices := make([]float64, 0, len(r.OutcomePrices))
	for _, p := range r.OutcomePrices {
		prices = append(prices, parseFloatSafe(p))
	}

	yes := 0.0
	switch {
	case r.LastTradePrice > 0:
		yes = r.LastTradePrice.Float()
	case r.BestBid > 0 && r.BestAsk > 0:
		yes = (r.BestBid.Float() + r.BestAsk.Float()) / 2
	case len(prices) > 0:
		yes = prices[0]
	}
	no := 1 - yes

	end := r.EndDate
	if end == "" {
		end = r.EndDateISO
	}

	id := r.ID
	if id == "" {
		id = r.ConditionID
	}

	return Snapshot{
		ID:            id,
		Slug:          r.Slug,
		Question:      r.Question,
		Source:        "polymarket",
		URL:           "https://polymarket.com/event/" + r.Slug,
		YesPrice:      yes,
		NoPrice:       no,
		EndDate:       end,
		Active:        r.Active,
		Closed:        r.Closed,
		Volume:        r.Volume.Float(),
		Volume24h:     r.Volume24hr.Float(),
		Liquidity:     r.Liquidity.Float(),
		BestBid:       r.BestBid.Float(),
		BestAsk:       r.BestAsk.Float(),
		Outcomes:      []string(r.Outcomes),
		OutcomePrices: prices,
		TokenIDs:      []string(r.ClobTokenIDs),
	}
}

// BookFromEvent builds an outcome book from a multi-outcome event, one YES leg
// per child market. Closed children are skipped.
func BookFromEvent(e RawEvent) OutcomeBook {
	book := OutcomeBook{MarketID: e.ID, Slug: e.Slug, Title: e.Title}
	for _, m := range e.Markets {
		if m.Closed {
			continue
		}
		label := m.GroupItemTitle
		if label == "" {
			label = m.Question
		}
		bid, ask := m.BestBid.Float(), m.BestAsk.Float()
		mid := m.LastTradePrice.Float()
		if bid > 0 && ask > 0 {
			mid = (bid + ask) / 2
		} else if mid == 0 && len(m.OutcomePrices) > 0 {
			mid = parseFloatSafe(m.OutcomePrices[0])
		}
		book.Outcomes = append(book.Outcomes, label)
		book.Mids = append(book.Mids, mid)
		book.Bids = append(book.Bids, bid)
		book.Asks = append(book.Asks, ask)
	}
	return book
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseISOTime accepts the ISO-8601 shapes the upstream APIs emit. Values
// without a zone are read as UTC.
func ParseISOTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseFloatSafe(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

// normalizeUnix folds millisecond timestamps into seconds.
func normalizeUnix(ts int64) int64 {
	if ts > 1e12 {
		return ts / 1000
	}
	if ts < 0 {
		return 0
	}
	return ts
}
