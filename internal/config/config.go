package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Funds      FundsConfig      `mapstructure:"funds"`
	Match      MatchConfig      `mapstructure:"match"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Claim      ClaimConfig      `mapstructure:"claim"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Reconciler string `mapstructure:"reconciler"`
	Scanner    string `mapstructure:"scanner"`
}

// ExchangeConfig drives the exchange-fact client used to confirm fill
// price/fee/pnl against the venue.
type ExchangeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	FactRetries int           `mapstructure:"fact_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type FundsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MatchConfig struct {
	MinStake        float64       `mapstructure:"min_stake"`
	MaxStake        float64       `mapstructure:"max_stake"`
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	MinDuration     time.Duration `mapstructure:"min_duration"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
}

type SettlementConfig struct {
	// DrawEpsilon is the ROI-percent gap below which a match is a draw.
	DrawEpsilon      float64       `mapstructure:"draw_epsilon"`
	WinnerMultiplier float64       `mapstructure:"winner_multiplier"`
	MaterialityPnl   float64       `mapstructure:"materiality_pnl"`
	MinNotional      float64       `mapstructure:"min_notional"`
	RepeatPairWindow time.Duration `mapstructure:"repeat_pair_window"`
	RepeatPairLimit  int           `mapstructure:"repeat_pair_limit"`
}

type ReconcilerConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	BatchSize int  `mapstructure:"batch_size"`
}

type ScannerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Lookback time.Duration `mapstructure:"lookback"`
	Limit    int           `mapstructure:"limit"`
}

type ClaimConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TFC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.reconciler", "@every 30s")
	v.SetDefault("cron.scanner", "@every 5m")
	v.SetDefault("exchange.base_url", "")
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.fact_retries", 5)
	v.SetDefault("exchange.retry_delay", "200ms")
	v.SetDefault("exchange.max_delay", "5s")
	v.SetDefault("funds.base_url", "")
	v.SetDefault("funds.timeout", "10s")
	v.SetDefault("match.min_stake", 10)
	v.SetDefault("match.max_stake", 100000)
	v.SetDefault("match.default_duration", "1h")
	v.SetDefault("match.min_duration", "5m")
	v.SetDefault("match.max_duration", "24h")
	v.SetDefault("settlement.draw_epsilon", 0.0001)
	v.SetDefault("settlement.winner_multiplier", 2.0)
	v.SetDefault("settlement.materiality_pnl", 0.01)
	v.SetDefault("settlement.min_notional", 1)
	v.SetDefault("settlement.repeat_pair_window", "24h")
	v.SetDefault("settlement.repeat_pair_limit", 3)
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.batch_size", 200)
	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.lookback", "24h")
	v.SetDefault("scanner.limit", 200)
	v.SetDefault("claim.timeout", "10s")
	v.SetDefault("claim.max_retries", 3)
	v.SetDefault("claim.retry_delay", "100ms")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
