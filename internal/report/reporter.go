package report

import (
	"log/slog"
	"sort"
)

// LogReport logs the report as structured JSON, one line per strategy.
func LogReport(r *Report) {
	slog.Info("=== SIGNAL REPORT ===",
		"since", r.Since,
		"runs", r.Runs,
		"signals", r.TotalSignals,
	)

	names := make([]string, 0, len(r.StrategyStats))
	for name := range r.StrategyStats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		stats := r.StrategyStats[name]
		slog.Info("strategy signals",
			"strategy", name,
			"signals", stats.SignalCount,
			"markets", stats.Markets,
			"avg_score", stats.AvgScore,
			"max_score", stats.MaxScore,
			"evaluated", stats.Evaluated,
			"hit_rate", stats.HitRate,
			"avg_move", stats.AvgMove,
		)
	}
}
