package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	General    GeneralConfig    `toml:"general"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Manifold   ManifoldConfig   `toml:"manifold"`
	Strategy   StrategyConfig   `toml:"strategy"`
	API        APIConfig        `toml:"api"`
}

type GeneralConfig struct {
	DBPath        string   `toml:"db_path"`
	LogLevel      string   `toml:"log_level"`
	WalletsFile   string   `toml:"wallets_file"`
	RetentionDays int      `toml:"retention_days"`
	Lookback      Duration `toml:"lookback"`
}

type ScheduleConfig struct {
	ScanInterval    Duration `toml:"scan_interval"`
	CollectInterval Duration `toml:"collect_interval"`
	ReportInterval  Duration `toml:"report_interval"`
}

type PolymarketConfig struct {
	GammaURL          string   `toml:"gamma_url"`
	DataURL           string   `toml:"data_url"`
	ClobURL           string   `toml:"clob_url"`
	WSURL             string   `toml:"ws_url"`
	Timeout           Duration `toml:"timeout"`
	MaxConcurrency    int      `toml:"max_concurrency"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	TradeLimit        int      `toml:"trade_limit"`
	MarketLimit       int      `toml:"market_limit"`
	Stream            bool     `toml:"stream"`
}

type ManifoldConfig struct {
	Enabled bool  `toml:"enabled"`
	Limit   int64 `toml:"limit"`
}

type StrategyConfig struct {
	Conviction ConvictionConfig `toml:"conviction"`
	Pullback   PullbackConfig   `toml:"pullback"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
}

type ConvictionConfig struct {
	Enabled        bool     `toml:"enabled"`
	MomentumWindow Duration `toml:"momentum_window"`
	UrgencyTau     Duration `toml:"urgency_tau"`
	MinScore       float64  `toml:"min_score"`
}

type PullbackConfig struct {
	Enabled           bool     `toml:"enabled"`
	MaxHours          float64  `toml:"max_hours"`
	ExtendedMaxHours  float64  `toml:"extended_max_hours"`
	MinProbability    float64  `toml:"min_probability"`
	MinPullback       float64  `toml:"min_pullback"`
	MaxPullback       float64  `toml:"max_pullback"`
	OptimalPullback   float64  `toml:"optimal_pullback"`
	LookbackHours     float64  `toml:"lookback_hours"`
	StrongMove        float64  `toml:"strong_move"`
	ExtremeMove       float64  `toml:"extreme_move"`
	RecencyDecayHours float64  `toml:"recency_decay_hours"`
	ClusterWindow     Duration `toml:"cluster_window"`
	SweetSpotMinDays  float64  `toml:"sweet_spot_min_days"`
	SweetSpotMaxDays  float64  `toml:"sweet_spot_max_days"`
	ExcludedTerms     []string `toml:"excluded_terms"`
}

type ArbitrageConfig struct {
	Enabled   bool    `toml:"enabled"`
	MinProfit float64 `toml:"min_profit"`
	MaxBooks  int     `toml:"max_books"`
}

type APIConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// Duration wraps time.Duration for TOML unmarshaling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads the TOML file at path on top of DefaultConfig, applies
// environment overrides and validates the result. A missing file is not an
// error when path came from the default location.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is used when neither a flag nor POLYSIGNAL_CONFIG names a file.
const DefaultPath = "config.toml"

// LoadDotEnv populates the process environment from a .env file when one
// exists. Variables already set win over the file.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// ResolvePath picks the config path from an explicit flag value, then the
// POLYSIGNAL_CONFIG variable, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("POLYSIGNAL_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

func (c *Config) applyEnv() {
	if v := os.Getenv("POLYSIGNAL_DB_PATH"); v != "" {
		c.General.DBPath = v
	}
	if v := os.Getenv("POLYSIGNAL_LOG_LEVEL"); v != "" {
		c.General.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("POLYSIGNAL_WALLETS_FILE"); v != "" {
		c.General.WalletsFile = v
	}
	if v := os.Getenv("POLYSIGNAL_LISTEN_ADDR"); v != "" {
		c.API.ListenAddr = v
	}
}

// Validate rejects settings the engines cannot work with.
func (c *Config) Validate() error {
	switch c.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.General.LogLevel)
	}
	if c.General.RetentionDays < 0 {
		return fmt.Errorf("%w: retention_days must not be negative", ErrInvalid)
	}
	if c.General.Lookback.Duration <= 0 {
		return fmt.Errorf("%w: lookback must be positive", ErrInvalid)
	}
	if c.Schedule.ScanInterval.Duration <= 0 || c.Schedule.CollectInterval.Duration <= 0 || c.Schedule.ReportInterval.Duration <= 0 {
		return fmt.Errorf("%w: schedule intervals must be positive", ErrInvalid)
	}
	if c.Polymarket.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: polymarket.max_concurrency must be positive", ErrInvalid)
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: polymarket.requests_per_second must be positive", ErrInvalid)
	}
	if c.Polymarket.TradeLimit <= 0 {
		return fmt.Errorf("%w: polymarket.trade_limit must be positive", ErrInvalid)
	}
	if err := c.Strategy.Conviction.Validate(); err != nil {
		return err
	}
	if err := c.Strategy.Pullback.Validate(); err != nil {
		return err
	}
	return c.Strategy.Arbitrage.Validate()
}

func (c ConvictionConfig) Validate() error {
	if c.MomentumWindow.Duration <= 0 {
		return fmt.Errorf("%w: conviction.momentum_window must be positive", ErrInvalid)
	}
	if c.UrgencyTau.Duration <= 0 {
		return fmt.Errorf("%w: conviction.urgency_tau must be positive", ErrInvalid)
	}
	if c.MinScore < 0 {
		return fmt.Errorf("%w: conviction.min_score must not be negative", ErrInvalid)
	}
	return nil
}

func (c PullbackConfig) Validate() error {
	if c.MaxHours <= 0 {
		return fmt.Errorf("%w: pullback.max_hours must be positive", ErrInvalid)
	}
	if c.ExtendedMaxHours != 0 && c.ExtendedMaxHours < c.MaxHours {
		return fmt.Errorf("%w: pullback.extended_max_hours below max_hours", ErrInvalid)
	}
	if c.MinProbability < 0.5 || c.MinProbability >= 1 {
		return fmt.Errorf("%w: pullback.min_probability must be in [0.5, 1)", ErrInvalid)
	}
	if c.MinPullback <= 0 || c.MinPullback >= 1 {
		return fmt.Errorf("%w: pullback.min_pullback must be in (0, 1)", ErrInvalid)
	}
	if c.OptimalPullback <= c.MinPullback || c.MaxPullback <= c.OptimalPullback {
		return fmt.Errorf("%w: pullback band must satisfy min < optimal < max", ErrInvalid)
	}
	if c.LookbackHours <= 0 || c.RecencyDecayHours <= 0 {
		return fmt.Errorf("%w: pullback lookback and recency decay must be positive", ErrInvalid)
	}
	if c.StrongMove <= 0 || c.ExtremeMove <= c.StrongMove {
		return fmt.Errorf("%w: pullback move thresholds must satisfy 0 < strong < extreme", ErrInvalid)
	}
	if c.ClusterWindow.Duration <= 0 {
		return fmt.Errorf("%w: pullback.cluster_window must be positive", ErrInvalid)
	}
	if c.SweetSpotMinDays < 0 || c.SweetSpotMaxDays < c.SweetSpotMinDays {
		return fmt.Errorf("%w: pullback sweet spot day band is inverted", ErrInvalid)
	}
	return nil
}

func (c ArbitrageConfig) Validate() error {
	if c.MinProfit < 0 {
		return fmt.Errorf("%w: arbitrage.min_profit must not be negative", ErrInvalid)
	}
	if c.MaxBooks < 0 {
		return fmt.Errorf("%w: arbitrage.max_books must not be negative", ErrInvalid)
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DBPath:        "./data/polysignal.db",
			LogLevel:      "info",
			WalletsFile:   "wallets.yaml",
			RetentionDays: 30,
			Lookback:      Duration{7 * 24 * time.Hour},
		},
		Schedule: ScheduleConfig{
			ScanInterval:    Duration{5 * time.Minute},
			CollectInterval: Duration{2 * time.Minute},
			ReportInterval:  Duration{1 * time.Hour},
		},
		Polymarket: PolymarketConfig{
			GammaURL:          "https://gamma-api.polymarket.com",
			DataURL:           "https://data-api.polymarket.com",
			ClobURL:           "https://clob.polymarket.com",
			WSURL:             "wss://ws-live-data.polymarket.com",
			Timeout:           Duration{10 * time.Second},
			MaxConcurrency:    10,
			RequestsPerSecond: 5,
			TradeLimit:        100,
			MarketLimit:       500,
		},
		Manifold: ManifoldConfig{
			Enabled: false,
			Limit:   200,
		},
		Strategy: StrategyConfig{
			Conviction: ConvictionConfig{
				Enabled:        true,
				MomentumWindow: Duration{time.Hour},
				UrgencyTau:     Duration{24 * 24 * time.Hour},
			},
			Pullback: PullbackConfig{
				Enabled:           true,
				MaxHours:          72,
				ExtendedMaxHours:  336,
				MinProbability:    0.75,
				MinPullback:       0.10,
				MaxPullback:       0.35,
				OptimalPullback:   0.20,
				LookbackHours:     24,
				StrongMove:        0.15,
				ExtremeMove:       0.30,
				RecencyDecayHours: 6,
				ClusterWindow:     Duration{2 * time.Hour},
				SweetSpotMinDays:  7,
				SweetSpotMaxDays:  10,
			},
			Arbitrage: ArbitrageConfig{
				Enabled:  true,
				MaxBooks: 100,
			},
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8080",
		},
	}
}
