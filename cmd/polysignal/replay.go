package main

import (
	"time"

	"github.com/spf13/cobra"

	"polysignal/internal/replay"
	"polysignal/internal/report"
)

func newReplayCmd(configPath *string) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run the strategies over stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			runner := replay.NewRunner(a.store, a.strategies(), a.cfg.General.Lookback.Duration)
			res, err := runner.Run(cmd.Context(), from, to, time.Now())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD)")
	return cmd
}

func newReportCmd(configPath *string) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize stored signals and how their markets moved since",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := report.NewTracker(a.db).Generate(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			return printJSON(cmd, r)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "report window")
	return cmd
}
