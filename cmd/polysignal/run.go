package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"polysignal/internal/api"
	"polysignal/internal/market"
	"polysignal/internal/report"
	"polysignal/internal/scheduler"
)

const streamFlushInterval = 30 * time.Second

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Collect, evaluate and serve signals until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			slog.Info("polysignal starting", "wallets", a.wallets.Len(), "db", a.cfg.General.DBPath)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				select {
				case sig := <-sigCh:
					slog.Info("received signal, shutting down", "signal", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			coll := a.collector(a.polymarket())

			if a.cfg.Polymarket.Stream {
				trades := make(chan market.Trade, 256)
				stream := market.NewStream(a.cfg.Polymarket.WSURL, trades)
				stream.Start(ctx)
				defer stream.Stop()
				consumed := make(chan struct{})
				go func() {
					defer close(consumed)
					coll.Consume(ctx, trades, streamFlushInterval)
				}()
				// the final flush must land before the database closes
				defer func() {
					cancel()
					<-consumed
				}()
			}

			if a.cfg.API.Enabled {
				names := make([]string, 0, 3)
				for _, s := range a.strategies() {
					names = append(names, s.Name())
				}
				srv := api.NewServer(a.cfg.API.ListenAddr, a.store, names, a.metrics.Handler())
				go func() {
					if err := srv.Start(); err != nil {
						slog.Error("http server failed", "error", err)
						cancel()
					}
				}()
				defer func() {
					shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
					defer done()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						slog.Warn("http shutdown failed", "error", err)
					}
				}()
			}

			sched := scheduler.New(coll, a.store, a.strategies(), report.NewTracker(a.db), a.cfg)
			sched.SetObserver(a.metrics)

			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			slog.Info("polysignal stopped")
			return nil
		},
	}
}
