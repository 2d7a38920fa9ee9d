package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fare-hunter/internal/logging"
	"fare-hunter/internal/rules"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Amadeus   AmadeusConfig   `mapstructure:"amadeus"`
	Search    SearchConfig    `mapstructure:"search"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Debug     DebugConfig     `mapstructure:"debug"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs recurring sweep cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AmadeusConfig covers flight-offers API access.
type AmadeusConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SearchConfig describes the fare search grid.
type SearchConfig struct {
	Origins           []string `mapstructure:"origins"`
	Destinations      []string `mapstructure:"destinations"`
	Months            []string `mapstructure:"months"`
	StaysNights       []int    `mapstructure:"stays_nights"`
	DowBias           []string `mapstructure:"dow_bias"`
	MaxStops          int      `mapstructure:"max_stops"`
	AirlinesWhitelist []string `mapstructure:"airlines_whitelist"`
}

// RulesConfig defines deal detection parameters. Nil pointer fields mean
// "not configured"; zero is a valid configured value.
type RulesConfig struct {
	PriceTargets       map[string]float64 `mapstructure:"price_targets"`
	DefaultPriceTarget *float64           `mapstructure:"default_price_target"`
	AlertMode          string             `mapstructure:"alert_mode"`
	SoftMarginPct      *float64           `mapstructure:"soft_margin_pct"`
}

// AlertingConfig defines alert dispatch and suppression.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	DedupWindow time.Duration  `mapstructure:"dedup_window"`
	USDEURRate  float64        `mapstructure:"usd_eur_rate"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BotToken string   `mapstructure:"bot_token"`
	ChatIDs  []string `mapstructure:"chat_ids"`
	APIBase  string   `mapstructure:"api_base"`
}

// DebugConfig toggles the per-run summary message.
type DebugConfig struct {
	SendRunSummary bool `mapstructure:"send_run_summary"`
	TopN           int  `mapstructure:"top_n"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FAREHUNTER")
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

	// viper lower-cases map keys; route keys are upper-case IATA codes.
	cfg.Rules.PriceTargets = normalizeRouteKeys(cfg.Rules.PriceTargets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func normalizeRouteKeys(targets map[string]float64) map[string]float64 {
	if len(targets) == 0 {
		return targets
	}
	normalized := make(map[string]float64, len(targets))
	for route, target := range targets {
		normalized[strings.ToUpper(route)] = target
	}
	return normalized
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
	v.SetDefault("app.name", "farehunter")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66617265))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("amadeus.base_url", "https://test.api.amadeus.com")
	v.SetDefault("amadeus.request_timeout", "40s")
	v.SetDefault("amadeus.auth_timeout", "20s")
	v.SetDefault("amadeus.user_agent", "farehunter/1.0")

	v.SetDefault("search.stays_nights", []int{7})
	v.SetDefault("search.max_stops", 1)

	v.SetDefault("rules.alert_mode", rules.ModeSmart)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.dedup_window", "72h")
	v.SetDefault("alerting.usd_eur_rate", 0.92)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("debug.send_run_summary", false)
	v.SetDefault("debug.top_n", 3)

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
		)
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
	if c.Alerting.DedupWindow <= 0 {
		return fmt.Errorf("alerting.dedup_window must be greater than zero")
	}
	if c.Alerting.USDEURRate <= 0 {
		return fmt.Errorf("alerting.usd_eur_rate must be greater than zero")
	}
	if c.Search.MaxStops < 0 {
		return fmt.Errorf("search.max_stops cannot be negative")
	}
	for _, month := range c.Search.Months {
		if _, err := time.Parse("2006-01-02", month); err != nil {
			return fmt.Errorf("search.months entry %q is not a YYYY-MM-01 marker", month)
		}
	}
	mode := strings.ToLower(strings.TrimSpace(c.Rules.AlertMode))
	if mode != rules.ModeSmart && mode != rules.ModeHardOnly {
		return fmt.Errorf("rules.alert_mode must be %q or %q", rules.ModeSmart, rules.ModeHardOnly)
	}
	if c.Rules.SoftMarginPct != nil && *c.Rules.SoftMarginPct < 0 {
		return fmt.Errorf("rules.soft_margin_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if len(c.Alerting.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("alerting.telegram.chat_ids 必须配置")
		}
	}
	return nil
}

// ValidateForSweep checks the extra requirements a live sweep has beyond
// offline commands like show or export.
func (c *Config) ValidateForSweep() error {
	if c.Amadeus.APIKey == "" || c.Amadeus.APISecret == "" {
		return fmt.Errorf("amadeus.api_key and amadeus.api_secret must be configured")
	}
	if len(c.Search.Origins) == 0 || len(c.Search.Destinations) == 0 {
		return fmt.Errorf("search.origins and search.destinations must not be empty")
	}
	if len(c.Search.Months) == 0 {
		return fmt.Errorf("search.months must not be empty")
	}
	for _, nights := range c.Search.StaysNights {
		if nights <= 0 {
			return fmt.Errorf("search.stays_nights entries must be positive, got %d", nights)
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
