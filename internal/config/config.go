package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"depegshield/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Claims    ClaimsConfig    `mapstructure:"claims"`
	Premium   PremiumConfig   `mapstructure:"premium"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN runs
// the process on in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the maintenance sweep cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	SweepBatch      int           `mapstructure:"sweep_batch"`
}

// LedgerConfig tunes collateral accounting.
type LedgerConfig struct {
	RewardShareBps int64         `mapstructure:"reward_share_bps"`
	Assets         []AssetConfig `mapstructure:"assets"`
}

// AssetConfig seeds a supported stablecoin at startup.
type AssetConfig struct {
	ID          string          `mapstructure:"id"`
	Decimals    int32           `mapstructure:"decimals"`
	MinStake    decimal.Decimal `mapstructure:"min_stake"`
	MinCoverage decimal.Decimal `mapstructure:"min_coverage"`
	MaxCoverage decimal.Decimal `mapstructure:"max_coverage"`
	YieldVenue  string          `mapstructure:"yield_venue"`
}

// OracleConfig covers price sourcing, signing, and publish throttling.
type OracleConfig struct {
	SignerKey          string                `mapstructure:"signer_key"`
	MinUpdateInterval  time.Duration         `mapstructure:"min_update_interval"`
	MaxDeviationBps    int64                 `mapstructure:"max_deviation_bps"`
	MaxFailuresPerHour int                   `mapstructure:"max_failures_per_hour"`
	StaleAfterFailures int                   `mapstructure:"stale_after_failures"`
	PerEndpointTimeout time.Duration         `mapstructure:"per_endpoint_timeout"`
	BreakerCooldown    time.Duration         `mapstructure:"breaker_cooldown"`
	BreakerThreshold   uint32                `mapstructure:"breaker_threshold"`
	HealthInterval     time.Duration         `mapstructure:"health_interval"`
	DegradedLatency    time.Duration         `mapstructure:"degraded_latency"`
	Feeds              []FeedConfig          `mapstructure:"feeds"`
	ChainEndpoints     []ChainEndpointConfig `mapstructure:"chain_endpoints"`
	HTTPEndpoints      []HTTPEndpointConfig  `mapstructure:"http_endpoints"`
}

// FeedConfig binds an asset to its price feed.
type FeedConfig struct {
	Asset     string        `mapstructure:"asset"`
	FeedID    string        `mapstructure:"feed_id"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// ChainEndpointConfig describes an on-chain feed registry endpoint.
type ChainEndpointConfig struct {
	Name            string        `mapstructure:"name"`
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// HTTPEndpointConfig describes an HTTP feed API endpoint.
type HTTPEndpointConfig struct {
	Name           string        `mapstructure:"name"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ClaimsConfig tunes claim-time price verification.
type ClaimsConfig struct {
	ExpectedSigner  string             `mapstructure:"expected_signer"`
	MaxStaleness    time.Duration      `mapstructure:"max_staleness"`
	MaxDeviationBps int64              `mapstructure:"max_deviation_bps"`
	Stablecoins     []StablecoinConfig `mapstructure:"stablecoins"`
}

// StablecoinConfig seeds per-asset claim parameters at startup.
type StablecoinConfig struct {
	Asset          string          `mapstructure:"asset"`
	FeedID         string          `mapstructure:"feed_id"`
	DepegThreshold decimal.Decimal `mapstructure:"depeg_threshold"`
	MinFee         decimal.Decimal `mapstructure:"min_fee"`
	FeeRateBps     int64           `mapstructure:"fee_rate_bps"`
}

// PremiumConfig overrides the stock rate table when tiers are given.
type PremiumConfig struct {
	Tiers []TierConfig `mapstructure:"tiers"`
}

// TierConfig is one duration range of the premium rate table.
type TierConfig struct {
	Min     time.Duration `mapstructure:"min"`
	Max     time.Duration `mapstructure:"max"`
	RateBps int64         `mapstructure:"rate_bps"`
}

// AlertingConfig defines emergency notification routing.
type AlertingConfig struct {
	Enabled           bool           `mapstructure:"enabled"`
	EmergencyContacts []string       `mapstructure:"emergency_contacts"`
	Telegram          TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEPEGSHIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "depegshield")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x64707368))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.sweep_batch", 100)

	v.SetDefault("ledger.reward_share_bps", int64(8000))

	v.SetDefault("oracle.min_update_interval", "5s")
	v.SetDefault("oracle.max_deviation_bps", int64(1000))
	v.SetDefault("oracle.max_failures_per_hour", 10)
	v.SetDefault("oracle.stale_after_failures", 3)
	v.SetDefault("oracle.per_endpoint_timeout", "10s")
	v.SetDefault("oracle.breaker_cooldown", "30s")
	v.SetDefault("oracle.breaker_threshold", 5)
	v.SetDefault("oracle.health_interval", "1m")
	v.SetDefault("oracle.degraded_latency", "1s")

	v.SetDefault("claims.max_staleness", "1h")
	v.SetDefault("claims.max_deviation_bps", int64(3000))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

func stringToDecimalHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(decimal.Decimal{}) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		default:
			return data, nil
		}
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Ledger.RewardShareBps < 0 || c.Ledger.RewardShareBps > 10000 {
		return fmt.Errorf("ledger.reward_share_bps must be within [0, 10000]")
	}
	if c.Oracle.MinUpdateInterval <= 0 {
		return fmt.Errorf("oracle.min_update_interval must be greater than zero")
	}
	if c.Oracle.MaxDeviationBps <= 0 {
		return fmt.Errorf("oracle.max_deviation_bps must be greater than zero")
	}
	for _, f := range c.Oracle.Feeds {
		if f.Asset == "" || f.FeedID == "" {
			return fmt.Errorf("oracle.feeds entries need asset and feed_id")
		}
		if f.Heartbeat <= 0 {
			return fmt.Errorf("oracle.feeds[%s].heartbeat must be greater than zero", f.Asset)
		}
	}
	for _, s := range c.Claims.Stablecoins {
		if !s.DepegThreshold.IsPositive() {
			return fmt.Errorf("claims.stablecoins[%s].depeg_threshold must be positive", s.Asset)
		}
		if s.FeeRateBps < 0 || s.FeeRateBps > 10000 {
			return fmt.Errorf("claims.stablecoins[%s].fee_rate_bps must be within [0, 10000]", s.Asset)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
