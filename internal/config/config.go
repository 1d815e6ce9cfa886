// Package config defines all configuration for the market-making client.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADER_* environment variables, same
// pattern as the teacher's internal/config/config.go (viper + mapstructure
// + env prefix), generalized from Polymarket's wallet/CLOB fields to
// per-venue perpetuals credentials.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Env selects the logging/runtime posture (spec.md §2.1: JSON logs in
// PRODUCTION, text logs in TEST).
type Env string

const (
	EnvProduction Env = "PRODUCTION"
	EnvTest       Env = "TEST"
)

// ExecutionMode selects which concrete Venue Adapter the engine wires up.
// An unset value defaults to the Binance-style adapter (spec.md §2).
type ExecutionMode string

const (
	ExecutionModePing  ExecutionMode = "PING"
	ExecutionModeBybit ExecutionMode = "BYBIT"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Env           Env            `mapstructure:"env"`
	ExecutionMode ExecutionMode  `mapstructure:"execution_mode"`
	Symbols       []SymbolConfig `mapstructure:"symbols"`
	Venue         VenueConfig    `mapstructure:"venue"`
	Strategy      StrategyConfig `mapstructure:"strategy"`
	Bootstrap     BootstrapConfig `mapstructure:"bootstrap"`
	Risk          RiskConfig      `mapstructure:"risk"`
	Dashboard     DashboardConfig `mapstructure:"dashboard"`
	Logging       LoggingConfig   `mapstructure:"logging"`
}

// SymbolConfig is one traded instrument and its per-symbol strategy
// overrides (spec.md §6: the engine runs one Strategy Controller per
// symbol).
type SymbolConfig struct {
	Symbol               string  `mapstructure:"symbol"`
	InitSize             string  `mapstructure:"init_size"`
	RebaseDistanceLimit  string  `mapstructure:"rebase_distance_limit"`
	Rebate               string  `mapstructure:"rebate"`
	MaxMargin            string  `mapstructure:"max_margin"`
	MaxOpenOrders        int     `mapstructure:"max_open_orders"`
}

// VenueConfig holds the credentials for both supported venues; the engine
// only dials the one selected by ExecutionMode.
type VenueConfig struct {
	Key           string `mapstructure:"key"`
	Secret        string `mapstructure:"secret"`
	RESTURL       string `mapstructure:"rest_url"`
	PerpetualsURL string `mapstructure:"perpetuals_url"`
	PrivateURL    string `mapstructure:"private_url"`
}

// StrategyConfig tunes quote cadence and the rebase ladder, independent of
// per-symbol sizing (which lives in SymbolConfig).
type StrategyConfig struct {
	NeutralCallbackBps int           `mapstructure:"neutral_callback_bps"`
	StaleBookTimeout   time.Duration `mapstructure:"stale_book_timeout"`
	TradeFlowWindowMs  int64         `mapstructure:"trade_flow_window_ms"`
}

// BootstrapConfig controls the historical CSV seed (spec.md §6).
type BootstrapConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	CSVDir  string `mapstructure:"csv_dir"`
	CacheDir string `mapstructure:"cache_dir"`
}

// RiskConfig bounds exposure and triggers the kill switch independent of
// the per-symbol strategy caps in SymbolConfig. All monetary fields are
// decimal strings, parsed the same way as SymbolConfig's sizing fields.
type RiskConfig struct {
	MaxGlobalExposure   string        `mapstructure:"max_global_exposure"`
	MaxDailyLoss        string        `mapstructure:"max_daily_loss"`
	KillSwitchDropPct   string        `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec int           `mapstructure:"kill_switch_window_sec"`
	CooldownAfterKill   time.Duration `mapstructure:"cooldown_after_kill"`
}

// DashboardConfig controls the optional read-only observability server. A
// zero Port leaves the dashboard disabled.
type DashboardConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: TRADER_VENUE_KEY, TRADER_VENUE_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("TRADER_VENUE_KEY"); key != "" {
		cfg.Venue.Key = key
	}
	if secret := os.Getenv("TRADER_VENUE_SECRET"); secret != "" {
		cfg.Venue.Secret = secret
	}

	if cfg.Env == "" {
		cfg.Env = EnvProduction
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvProduction, EnvTest:
	default:
		return fmt.Errorf("env must be PRODUCTION or TEST, got %q", c.Env)
	}
	switch c.ExecutionMode {
	case "", ExecutionModePing, ExecutionModeBybit:
	default:
		return fmt.Errorf("execution_mode must be unset (binance), PING, or BYBIT, got %q", c.ExecutionMode)
	}
	if c.ExecutionMode != ExecutionModePing {
		if c.Venue.Key == "" {
			return fmt.Errorf("venue.key is required (set TRADER_VENUE_KEY)")
		}
		if c.Venue.Secret == "" {
			return fmt.Errorf("venue.secret is required (set TRADER_VENUE_SECRET)")
		}
		if c.Venue.RESTURL == "" {
			return fmt.Errorf("venue.rest_url is required")
		}
		if c.Venue.PerpetualsURL == "" {
			return fmt.Errorf("venue.perpetuals_url is required")
		}
	}
	if len(c.Symbols) == 0 && c.ExecutionMode != ExecutionModePing {
		return fmt.Errorf("at least one entry in symbols is required")
	}
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbols[].symbol is required")
		}
		if s.InitSize == "" {
			return fmt.Errorf("symbols[%s].init_size is required", s.Symbol)
		}
		if s.MaxOpenOrders <= 0 {
			return fmt.Errorf("symbols[%s].max_open_orders must be > 0", s.Symbol)
		}
	}
	return nil
}
