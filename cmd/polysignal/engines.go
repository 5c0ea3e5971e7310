package main

import (
	"github.com/spf13/cobra"

	"polysignal/internal/strategy"
)

type engineFlags struct {
	offline bool
	limit   int
}

func (f *engineFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.offline, "offline", false, "skip collection and score what is already stored")
	cmd.Flags().IntVar(&f.limit, "limit", 20, "maximum results to print (0 for all)")
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func newConvictionCmd(configPath *string) *cobra.Command {
	var f engineFlags
	cmd := &cobra.Command{
		Use:   "conviction",
		Short: "Rank markets by tracked-wallet conviction",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			in, err := a.input(cmd.Context(), f.offline)
			if err != nil {
				return err
			}
			ranked := a.conviction.Score(in.Trades, in.Tracked, in.Snapshots, in.Now)
			return printJSON(cmd, truncate(ranked, f.limit))
		},
	}
	f.bind(cmd)
	return cmd
}

func newPullbackCmd(configPath *string) *cobra.Command {
	var f engineFlags
	var byCharm bool
	cmd := &cobra.Command{
		Use:   "pullback",
		Short: "Rank near-expiry markets by pullback setup quality",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			in, err := a.input(cmd.Context(), f.offline)
			if err != nil {
				return err
			}
			opps := a.pullback.Scan(in.SnapshotList(), in.History, in.Now)
			if byCharm {
				opps = strategy.RankByCharm(opps)
			}
			return printJSON(cmd, truncate(opps, f.limit))
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&byCharm, "by-charm", false, "rank by charm, sweet-spot markets first")
	return cmd
}

func newArbitrageCmd(configPath *string) *cobra.Command {
	var f engineFlags
	cmd := &cobra.Command{
		Use:   "arbitrage",
		Short: "Find mispriced multi-outcome books",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			in, err := a.input(cmd.Context(), f.offline)
			if err != nil {
				return err
			}
			return printJSON(cmd, truncate(a.arbitrage.Scan(in.Books), f.limit))
		},
	}
	f.bind(cmd)
	return cmd
}
