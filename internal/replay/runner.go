package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"polysignal/internal/scheduler"
	"polysignal/internal/store"
	"polysignal/internal/strategy"
)

// Runner replays stored snapshots through the strategies, rebuilding each
// engine input as it stood at every snapshot time.
type Runner struct {
	store      *store.Store
	strategies []strategy.Strategy
	lookback   time.Duration
}

func NewRunner(st *store.Store, strategies []strategy.Strategy, lookback time.Duration) *Runner {
	return &Runner{store: st, strategies: strategies, lookback: lookback}
}

// Result aggregates a replay.
type Result struct {
	From     time.Time                  `json:"from"`
	To       time.Time                  `json:"to"`
	Steps    int                        `json:"steps"`
	Signals  int                        `json:"signals"`
	Strategy map[string]*StrategyResult `json:"strategies"`
}

// StrategyResult is one strategy's output across the replay.
type StrategyResult struct {
	Signals int             `json:"signals"`
	Markets int             `json:"markets"`
	Best    strategy.Signal `json:"best"`
	BestAt  time.Time       `json:"best_at"`
	markets map[string]struct{}
}

// Run executes the replay over the given date range (YYYY-MM-DD, inclusive
// of the whole "to" day). Empty bounds default to the last 30 days.
func (r *Runner) Run(ctx context.Context, fromStr, toStr string, now time.Time) (*Result, error) {
	from, to, err := parseDateRange(fromStr, toStr, now)
	if err != nil {
		return nil, err
	}

	slog.Info("replay starting", "from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"))

	times, err := r.store.SnapshotTimes(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot times: %w", err)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("no market snapshots found in range %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	res := &Result{From: from, To: to, Strategy: make(map[string]*StrategyResult)}
	for _, ts := range times {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in, err := r.store.Input(ctx, ts, r.lookback)
		if err != nil {
			slog.Warn("failed to load input at timestamp", "timestamp", ts, "error", err)
			continue
		}
		res.Steps++

		for _, sig := range scheduler.EvaluateAll(ctx, r.strategies, in, nil) {
			res.add(sig, ts)
		}
	}

	for _, sr := range res.Strategy {
		sr.Markets = len(sr.markets)
	}

	names := make([]string, 0, len(res.Strategy))
	for name := range res.Strategy {
		names = append(names, name)
	}
	sort.Strings(names)

	slog.Info("=== REPLAY RESULTS ===",
		"period", fmt.Sprintf("%s to %s", from.Format("2006-01-02"), to.Format("2006-01-02")),
		"steps", res.Steps,
		"signals", res.Signals,
	)
	for _, name := range names {
		sr := res.Strategy[name]
		slog.Info("replay strategy",
			"strategy", name,
			"signals", sr.Signals,
			"markets", sr.Markets,
			"best_market", sr.Best.Slug,
			"best_score", sr.Best.Score,
		)
	}
	return res, nil
}

func (res *Result) add(sig strategy.Signal, at time.Time) {
	sr, ok := res.Strategy[sig.Strategy]
	if !ok {
		sr = &StrategyResult{markets: make(map[string]struct{})}
		res.Strategy[sig.Strategy] = sr
	}
	res.Signals++
	sr.Signals++
	sr.markets[sig.MarketID] = struct{}{}
	if sr.Signals == 1 || sig.Score > sr.Best.Score {
		sr.Best = sig
		sr.BestAt = at
	}
}

func parseDateRange(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC()
	if toStr != "" {
		d, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing to date: %w", err)
		}
		to = d.Add(24*time.Hour - time.Second)
	}

	from := to.AddDate(0, 0, -30)
	if fromStr != "" {
		d, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing from date: %w", err)
		}
		from = d
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from date %s is after to date %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	return from, to, nil
}
