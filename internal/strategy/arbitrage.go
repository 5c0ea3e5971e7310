package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"polysignal/internal/config"
	"polysignal/internal/market"
)

const (
	StrategyBuyAll  = "BUY_ALL"
	StrategySellAll = "SELL_ALL"

	profitEpsilon = 1e-9
)

// OutcomeStrategy is one execution plan over an outcome book.
type OutcomeStrategy struct {
	Name         string
	Description  string
	Profit       float64 // per unit of payout
	IsProfitable bool
}

// ArbitrageAnalysis summarizes one outcome book.
type ArbitrageAnalysis struct {
	MarketID      string
	Slug          string
	Title         string
	NumOutcomes   int
	MidSum        float64
	BidSum        float64
	AskSum        float64
	Strategies    []OutcomeStrategy
	Best          *OutcomeStrategy
	MaxProfit     float64
	HasArbitrage  bool
	NonExclusive  bool
	OutcomeLabels []string
}

// Analyze enumerates BUY_ALL, SELL_ALL and the per-outcome strategies.
// Books with fewer than two outcomes, or with arrays of unequal length,
// produce no strategies.
func Analyze(book market.OutcomeBook) ArbitrageAnalysis {
	a := ArbitrageAnalysis{
		MarketID:      book.MarketID,
		Slug:          book.Slug,
		Title:         book.Title,
		OutcomeLabels: book.Outcomes,
	}
	n := book.Len()
	a.NumOutcomes = n
	if n <= 1 {
		return a
	}

	for i := 0; i < n; i++ {
		a.MidSum += book.Mids[i]
		a.BidSum += book.Bids[i]
		a.AskSum += book.Asks[i]
	}
	a.NonExclusive = DetectNonExclusiveOutcomes(book.Outcomes)

	a.Strategies = append(a.Strategies,
		newOutcomeStrategy(StrategyBuyAll,
			fmt.Sprintf("buy every outcome at ask for %.4f, collect 1", a.AskSum),
			1-a.AskSum),
		newOutcomeStrategy(StrategySellAll,
			fmt.Sprintf("sell every outcome at bid for %.4f, owe 1", a.BidSum),
			a.BidSum-1),
	)

	switch {
	case n == 2:
		for i := 0; i < 2; i++ {
			j := 1 - i
			a.Strategies = append(a.Strategies, newOutcomeStrategy(
				fmt.Sprintf("SYNTH_%d", i),
				fmt.Sprintf("sell %s at %.4f vs synthetic %.4f from %s ask",
					book.Outcomes[i], book.Bids[i], 1-book.Asks[j], book.Outcomes[j]),
				book.Bids[i]-(1-book.Asks[j]),
			))
		}
	default:
		for i := 0; i < n; i++ {
			complement := a.AskSum - book.Asks[i]
			a.Strategies = append(a.Strategies, newOutcomeStrategy(
				fmt.Sprintf("CROSS_%d", i),
				fmt.Sprintf("sell %s at %.4f, buy the other %d at %.4f",
					book.Outcomes[i], book.Bids[i], n-1, complement),
				book.Bids[i]-complement,
			))
		}
	}

	for i := range a.Strategies {
		s := &a.Strategies[i]
		if !s.IsProfitable {
			continue
		}
		a.HasArbitrage = true
		if a.Best == nil || s.Profit > a.Best.Profit {
			a.Best = s
		}
	}
	if a.Best != nil {
		a.MaxProfit = a.Best.Profit
	}
	return a
}

func newOutcomeStrategy(name, desc string, profit float64) OutcomeStrategy {
	return OutcomeStrategy{
		Name:         name,
		Description:  desc,
		Profit:       profit,
		IsProfitable: profit > profitEpsilon,
	}
}

var (
	floorLabel   = regexp.MustCompile(`(?i)(>=?|≥|\bover\b|\babove\b|\bat least\b|\bmore than\b|\bor (higher|more)\b|\+\s*$)`)
	ceilingLabel = regexp.MustCompile(`(?i)(<=?|≤|\bunder\b|\bbelow\b|\bat most\b|\bless than\b|\bor (lower|fewer|less)\b)`)
)

// DetectNonExclusiveOutcomes reports whether two or more labels are open
// ranges in the same direction ("Over 100" and "Over 200"), in which case
// several outcomes can resolve YES at once. A single "Under" and "Over"
// around bucket labels is an ordinary exclusive split.
func DetectNonExclusiveOutcomes(labels []string) bool {
	floors, ceilings := 0, 0
	for _, l := range labels {
		if floorLabel.MatchString(l) {
			floors++
		}
		if ceilingLabel.MatchString(l) {
			ceilings++
		}
	}
	return floors >= 2 || ceilings >= 2
}

// Arbitrage scans outcome books for BUY_ALL, SELL_ALL and cross-outcome
// mispricings.
type Arbitrage struct {
	cfg config.ArbitrageConfig
}

func NewArbitrage(cfg config.ArbitrageConfig) (*Arbitrage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Arbitrage{cfg: cfg}, nil
}

func (a *Arbitrage) Name() string  { return "arbitrage" }
func (a *Arbitrage) Enabled() bool { return a.cfg.Enabled }

// Scan analyzes each book and returns those with a best strategy above the
// configured minimum profit, most profitable first.
func (a *Arbitrage) Scan(books []market.OutcomeBook) []ArbitrageAnalysis {
	var found []ArbitrageAnalysis
	for i, book := range books {
		if a.cfg.MaxBooks > 0 && i >= a.cfg.MaxBooks {
			break
		}
		res := Analyze(book)
		if !res.HasArbitrage || res.MaxProfit < a.cfg.MinProfit {
			continue
		}
		if res.NonExclusive {
			slog.Warn("outcomes are not mutually exclusive",
				"market", res.MarketID,
				"slug", res.Slug,
				"outcomes", res.OutcomeLabels,
			)
		}
		found = append(found, res)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].MaxProfit != found[j].MaxProfit {
			return found[i].MaxProfit > found[j].MaxProfit
		}
		return found[i].MarketID < found[j].MarketID
	})
	return found
}

func (a *Arbitrage) Evaluate(_ context.Context, in Input) ([]Signal, error) {
	found := a.Scan(in.Books)

	signals := make([]Signal, 0, len(found))
	for _, res := range found {
		grade := "EXCLUSIVE"
		if res.NonExclusive {
			grade = "NON_EXCLUSIVE"
		}
		signals = append(signals, Signal{
			Strategy:  a.Name(),
			MarketID:  res.MarketID,
			Slug:      res.Slug,
			Question:  res.Title,
			Score:     res.MaxProfit * 100,
			Grade:     grade,
			Direction: res.Best.Name,
			Reason: fmt.Sprintf("%d outcomes, bids %.4f asks %.4f, %s",
				res.NumOutcomes, res.BidSum, res.AskSum, res.Best.Description),
		})
	}

	slog.Info("arbitrage evaluation complete", "books_evaluated", len(in.Books), "signals", len(signals))
	return signals, nil
}
