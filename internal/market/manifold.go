package market

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonnyspicer/mango"
)

const manifoldSource = "manifold"

// Manifold adapts Manifold Markets into snapshots and outcome books. It has
// no order book, so answer probabilities stand in for bid, ask and mid.
type Manifold struct {
	client *mango.Client
}

func NewManifold(client *mango.Client) *Manifold {
	return &Manifold{client: client}
}

// Binary fetches open binary markets sorted by liquidity.
func (m *Manifold) Binary(limit int64) ([]Snapshot, error) {
	markets, err := m.client.SearchMarkets(mango.SearchMarketsRequest{
		Filter:       "open",
		ContractType: "BINARY",
		Sort:         "liquidity",
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("searching binary markets: %w", err)
	}
	if markets == nil {
		return nil, nil
	}

	result := make([]Snapshot, 0, len(*markets))
	for _, fm := range *markets {
		result = append(result, manifoldSnapshot(fm))
	}
	slog.Info("scanned manifold binary markets", "count", len(result))
	return result, nil
}

// MultipleChoice fetches open multiple-choice markets and returns one book per
// market with at least two unresolved answers.
func (m *Manifold) MultipleChoice(limit int64) ([]OutcomeBook, error) {
	markets, err := m.client.SearchMarkets(mango.SearchMarketsRequest{
		Filter:       "open",
		ContractType: "MULTIPLE_CHOICE",
		Sort:         "liquidity",
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("searching multi-choice markets: %w", err)
	}
	if markets == nil {
		return nil, nil
	}

	full := make([]mango.FullMarket, len(*markets))
	copy(full, *markets)

	// Search results omit answer probabilities and resolutions.
	m.enrichWithProbs(full)
	m.enrichWithAnswers(full)

	books := make([]OutcomeBook, 0, len(full))
	for _, fm := range full {
		if b := manifoldBook(fm); b.Len() >= 2 {
			books = append(books, b)
		}
	}
	slog.Info("scanned manifold multi-choice markets", "markets", len(full), "books", len(books))
	return books, nil
}

// enrichWithProbs fills answer probabilities 100 markets at a time.
func (m *Manifold) enrichWithProbs(markets []mango.FullMarket) {
	for i := 0; i < len(markets); i += 100 {
		end := i + 100
		if end > len(markets) {
			end = len(markets)
		}
		batch := markets[i:end]

		ids := make([]string, len(batch))
		for j, fm := range batch {
			ids[j] = fm.Id
		}

		probs, err := m.client.GetMarketProbs(ids)
		if err != nil {
			slog.Warn("failed to get batch probabilities", "error", err)
			continue
		}
		if probs == nil {
			continue
		}

		for j := range batch {
			mp, ok := (*probs)[batch[j].Id]
			if !ok {
				continue
			}
			for k := range batch[j].Answers {
				if p, found := mp.AnswerProbs[batch[j].Answers[k].Id]; found {
					batch[j].Answers[k].Probability = p
				}
			}
			if mp.Prob > 0 {
				batch[j].Probability = mp.Prob
			}
		}
	}
}

// enrichWithAnswers refetches markets whose answers are missing text or
// resolution, at most ten at a time.
func (m *Manifold) enrichWithAnswers(markets []mango.FullMarket) {
	type fetchResult struct {
		idx     int
		answers []mango.Answer
	}

	var candidates []int
	for i := range markets {
		if len(markets[i].Answers) < 2 {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return
	}

	results := make(chan fetchResult, len(candidates))
	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, idx := range candidates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fm, err := m.client.GetMarketByID(markets[i].Id)
			if err != nil {
				slog.Warn("failed to fetch market answers", "market", markets[i].Id, "error", err)
				return
			}
			if fm == nil {
				return
			}
			results <- fetchResult{idx: i, answers: fm.Answers}
		}(idx)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		markets[r.idx].Answers = r.answers
	}
}

func manifoldSnapshot(fm mango.FullMarket) Snapshot {
	var end string
	if fm.CloseTime > 0 {
		end = time.UnixMilli(fm.CloseTime).UTC().Format(time.RFC3339)
	}
	return Snapshot{
		ID:        fm.Id,
		Slug:      manifoldSource + "-" + fm.Id,
		Question:  fm.Question,
		Source:    manifoldSource,
		URL:       fm.Url,
		YesPrice:  fm.Probability,
		NoPrice:   1 - fm.Probability,
		EndDate:   end,
		Active:    !fm.IsResolved,
		Closed:    fm.IsResolved,
		Volume:    fm.Volume,
		Volume24h: fm.Volume24Hours,
		Liquidity: fm.TotalLiquidity,
		Outcomes:  []string{"Yes", "No"},
	}
}

// manifoldBook keeps unresolved answers with a probability strictly inside
// (0.001, 0.999), ordered by answer ID.
func manifoldBook(fm mango.FullMarket) OutcomeBook {
	answers := make([]mango.Answer, 0, len(fm.Answers))
	for _, a := range fm.Answers {
		if a.Resolution != "" {
			continue
		}
		if a.Probability <= 0.001 || a.Probability >= 0.999 {
			continue
		}
		answers = append(answers, a)
	}
	sort.SliceStable(answers, func(i, j int) bool { return answers[i].Id < answers[j].Id })

	book := OutcomeBook{
		MarketID: fm.Id,
		Slug:     manifoldSource + "-" + fm.Id,
		Title:    fm.Question,
	}
	for _, a := range answers {
		label := a.Text
		if label == "" {
			label = a.Id
		}
		book.Outcomes = append(book.Outcomes, label)
		book.Mids = append(book.Mids, a.Probability)
		book.Bids = append(book.Bids, a.Probability)
		book.Asks = append(book.Asks, a.Probability)
	}
	return book
}
