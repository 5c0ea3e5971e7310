package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"polysignal/internal/collector"
	"polysignal/internal/config"
	"polysignal/internal/report"
	"polysignal/internal/store"
	"polysignal/internal/strategy"
)

// Observer receives per-evaluation measurements.
type Observer interface {
	ObserveEvaluation(strategy string, signals int, topScore float64, elapsed time.Duration, err error)
	MarkRun(at time.Time)
}

type noopObserver struct{}

func (noopObserver) ObserveEvaluation(string, int, float64, time.Duration, error) {}
func (noopObserver) MarkRun(time.Time)                                            {}

// Scheduler drives collection, evaluation, reporting and retention.
type Scheduler struct {
	collector  *collector.Collector
	store      *store.Store
	strategies []strategy.Strategy
	tracker    *report.Tracker
	observer   Observer
	cfg        config.ScheduleConfig
	lookback   time.Duration
	retention  int
	now        func() time.Time
}

func New(
	coll *collector.Collector,
	st *store.Store,
	strategies []strategy.Strategy,
	tracker *report.Tracker,
	cfg *config.Config,
) *Scheduler {
	return &Scheduler{
		collector:  coll,
		store:      st,
		strategies: strategies,
		tracker:    tracker,
		observer:   noopObserver{},
		cfg:        cfg.Schedule,
		lookback:   cfg.General.Lookback.Duration,
		retention:  cfg.General.RetentionDays,
		now:        time.Now,
	}
}

func (s *Scheduler) SetObserver(o Observer) {
	if o != nil {
		s.observer = o
	}
}

// Run starts all periodic loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler starting",
		"scan_interval", s.cfg.ScanInterval.Duration,
		"collect_interval", s.cfg.CollectInterval.Duration,
		"report_interval", s.cfg.ReportInterval.Duration,
	)

	s.runCollection(ctx)
	s.runEvaluation(ctx)

	scanTicker := time.NewTicker(s.cfg.ScanInterval.Duration)
	collectTicker := time.NewTicker(s.cfg.CollectInterval.Duration)
	reportTicker := time.NewTicker(s.cfg.ReportInterval.Duration)
	defer scanTicker.Stop()
	defer collectTicker.Stop()
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler shutting down")
			return ctx.Err()
		case <-collectTicker.C:
			s.runCollection(ctx)
		case <-scanTicker.C:
			s.runEvaluation(ctx)
		case <-reportTicker.C:
			s.runReport(ctx)
			s.runRetention(ctx)
		}
	}
}

func (s *Scheduler) runCollection(ctx context.Context) {
	if _, err := s.collector.Collect(ctx); err != nil {
		slog.Error("collection failed", "error", err)
	}
}

func (s *Scheduler) runEvaluation(ctx context.Context) {
	if _, _, err := s.Evaluate(ctx); err != nil {
		slog.Error("evaluation failed", "error", err)
	}
}

// Evaluate runs every enabled strategy over the stored data and records the
// result as one run. A failing strategy is logged and skipped.
func (s *Scheduler) Evaluate(ctx context.Context) (store.Run, []strategy.Signal, error) {
	started := s.now().UTC()
	run := store.Run{ID: uuid.NewString(), StartedAt: started}

	in, err := s.store.Input(ctx, started, s.lookback)
	if err != nil {
		return run, nil, fmt.Errorf("loading input: %w", err)
	}
	run.Trades = len(in.Trades)
	run.Markets = len(in.Snapshots)
	run.Books = len(in.Books)

	signals := EvaluateAll(ctx, s.strategies, in, s.observer)

	run.FinishedAt = s.now().UTC()
	if err := s.store.SaveRun(ctx, run, signals); err != nil {
		return run, signals, fmt.Errorf("saving run: %w", err)
	}
	s.observer.MarkRun(run.FinishedAt)

	slog.Info("evaluation run complete",
		"run_id", run.ID,
		"trades", run.Trades,
		"markets", run.Markets,
		"books", run.Books,
		"signals", len(signals),
	)
	return run, signals, nil
}

// EvaluateAll runs the enabled strategies in order and concatenates their
// signals.
func EvaluateAll(ctx context.Context, strategies []strategy.Strategy, in strategy.Input, obs Observer) []strategy.Signal {
	if obs == nil {
		obs = noopObserver{}
	}
	var all []strategy.Signal
	for _, strat := range strategies {
		if !strat.Enabled() {
			continue
		}
		start := time.Now()
		signals, err := strat.Evaluate(ctx, in)
		elapsed := time.Since(start)
		if err != nil {
			obs.ObserveEvaluation(strat.Name(), 0, 0, elapsed, err)
			slog.Error("strategy evaluation failed", "strategy", strat.Name(), "error", err)
			continue
		}

		top := 0.0
		for _, sig := range signals {
			if sig.Score > top {
				top = sig.Score
			}
		}
		obs.ObserveEvaluation(strat.Name(), len(signals), top, elapsed, nil)
		slog.Info("strategy evaluated", "strategy", strat.Name(), "signals", len(signals))
		all = append(all, signals...)
	}
	return all
}

func (s *Scheduler) runReport(ctx context.Context) {
	r, err := s.tracker.Generate(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		slog.Error("signal report failed", "error", err)
		return
	}
	report.LogReport(r)
}

func (s *Scheduler) runRetention(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	cutoff := s.now().AddDate(0, 0, -s.retention)
	n, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		slog.Error("retention prune failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("pruned old records", "rows", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}
