package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonnyspicer/mango"
	"github.com/spf13/cobra"

	"polysignal/internal/collector"
	"polysignal/internal/config"
	"polysignal/internal/db"
	"polysignal/internal/market"
	"polysignal/internal/metrics"
	"polysignal/internal/store"
	"polysignal/internal/strategy"
	"polysignal/internal/wallets"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "polysignal",
		Short:         "Prediction-market signal engine",
		Long:          "polysignal ranks prediction markets by tracked-wallet conviction, near-expiry pullback setups and cross-outcome arbitrage.",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $POLYSIGNAL_CONFIG or config.toml)")

	root.AddCommand(
		newRunCmd(&configPath),
		newConvictionCmd(&configPath),
		newPullbackCmd(&configPath),
		newArbitrageCmd(&configPath),
		newWalletsCmd(&configPath),
		newReplayCmd(&configPath),
		newReportCmd(&configPath),
	)
	return root
}

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg        *config.Config
	db         *sql.DB
	store      *store.Store
	wallets    *wallets.Registry
	metrics    *metrics.Registry
	conviction *strategy.Conviction
	pullback   *strategy.Pullback
	arbitrage  *strategy.Arbitrage
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	config.LoadDotEnv()

	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.General.LogLevel),
	})))

	a := &app{cfg: cfg, metrics: metrics.New()}
	if a.conviction, err = strategy.NewConviction(cfg.Strategy.Conviction); err != nil {
		return nil, err
	}
	if a.pullback, err = strategy.NewPullback(cfg.Strategy.Pullback); err != nil {
		return nil, err
	}
	if a.arbitrage, err = strategy.NewArbitrage(cfg.Strategy.Arbitrage); err != nil {
		return nil, err
	}

	a.db, err = db.Open(cfg.General.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(a.db); err != nil {
		a.db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	a.store = store.New(a.db)
	slog.Debug("database initialized", "path", cfg.General.DBPath)

	a.wallets, err = wallets.Load(cfg.General.WalletsFile)
	if err != nil {
		a.db.Close()
		return nil, err
	}
	if err := a.wallets.Sync(ctx, a.store); err != nil {
		a.db.Close()
		return nil, fmt.Errorf("syncing wallets: %w", err)
	}
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) strategies() []strategy.Strategy {
	return []strategy.Strategy{a.conviction, a.pullback, a.arbitrage}
}

func (a *app) polymarket() *market.Polymarket {
	pm := market.NewPolymarket(a.cfg.Polymarket)
	pm.SetObserver(a.metrics)
	return pm
}

func (a *app) collector(pm *market.Polymarket) *collector.Collector {
	coll := collector.NewCollector(pm, a.store, market.NewCache(10*time.Minute)).WithPullback(a.pullback)
	if a.cfg.Manifold.Enabled {
		coll.WithManifold(market.NewManifold(mango.DefaultClientInstance()), a.cfg.Manifold.Limit)
	}
	coll.SetRecorder(a.metrics)
	return coll
}

// input collects once unless offline, then reads the engines' input from the
// store.
func (a *app) input(ctx context.Context, offline bool) (strategy.Input, error) {
	if !offline {
		if _, err := a.collector(a.polymarket()).Collect(ctx); err != nil {
			return strategy.Input{}, err
		}
	}
	return a.store.Input(ctx, time.Now().UTC(), a.cfg.General.Lookback.Duration)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
