package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"flightwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PriceSource PriceSourceConfig `mapstructure:"price_source"`
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Aggregator  AggregatorConfig  `mapstructure:"aggregator"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Status      StatusConfig      `mapstructure:"status"`
	Export      ExportConfig      `mapstructure:"export"`
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
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// PriceSourceConfig covers the external fare API.
type PriceSourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	Currency       string        `mapstructure:"currency"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryMaxWait   time.Duration `mapstructure:"retry_max_wait"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ScannerConfig governs route enumeration and scan cadence.
type ScannerConfig struct {
	Origins       []string      `mapstructure:"origins"`
	Destinations  []string      `mapstructure:"destinations"`
	DaysAhead     int           `mapstructure:"days_ahead"`
	RoundTripDays []int         `mapstructure:"round_trip_days"`
	Interval      time.Duration `mapstructure:"interval"`
	Workers       int           `mapstructure:"workers"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// AggregatorConfig governs the daily baseline job.
type AggregatorConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	CatchUpDays   int           `mapstructure:"catch_up_days"`
}

// MonitorConfig defines the anomaly decision parameters.
type MonitorConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	HistoryDays int     `mapstructure:"history_days"`
	Threshold   float64 `mapstructure:"threshold"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Currency string         `mapstructure:"currency"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel alerts are posted to.
type TelegramConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BotToken          string        `mapstructure:"bot_token"`
	ChatID            string        `mapstructure:"chat_id"`
	APIBase           string        `mapstructure:"api_base"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MessagesPerMinute int           `mapstructure:"messages_per_minute"`
}

// StatusConfig controls the optional health endpoint.
type StatusConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	HistoryDays int `mapstructure:"history_days"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("FLIGHTWATCH")
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

	cfg.normalize()
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
	v.SetDefault("app.name", "flightwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("price_source.base_url", "https://api.travelpayouts.com/aviasales/v3/prices_for_dates")
	v.SetDefault("price_source.token", "")
	v.SetDefault("price_source.currency", "rub")
	v.SetDefault("price_source.rate_limit", 60)
	v.SetDefault("price_source.rate_window", "60s")
	v.SetDefault("price_source.request_timeout", "15s")
	v.SetDefault("price_source.max_retries", 2)
	v.SetDefault("price_source.retry_max_wait", "10s")
	v.SetDefault("price_source.user_agent", "flightwatch/1.0")

	v.SetDefault("scanner.origins", []string{})
	v.SetDefault("scanner.destinations", []string{})
	v.SetDefault("scanner.days_ahead", 30)
	v.SetDefault("scanner.round_trip_days", []int{7, 14})
	v.SetDefault("scanner.interval", "60s")
	v.SetDefault("scanner.workers", 1)
	v.SetDefault("scanner.startup_delay", "0s")

	v.SetDefault("aggregator.interval", "24h")
	v.SetDefault("aggregator.retry_interval", "60s")
	v.SetDefault("aggregator.grace_period", "15m")
	v.SetDefault("aggregator.catch_up_days", 2)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.history_days", 30)
	v.SetDefault("monitor.threshold", 0.5)

	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.currency", "RUB")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.telegram.messages_per_minute", 20)

	v.SetDefault("status.listen_addr", "")

	v.SetDefault("export.history_days", 90)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalize() {
	c.Scanner.Origins = normalizeCodes(c.Scanner.Origins)
	c.Scanner.Destinations = normalizeCodes(c.Scanner.Destinations)
}

func normalizeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.PriceSource.RateLimit <= 0 {
		return fmt.Errorf("price_source.rate_limit must be greater than zero")
	}
	if c.PriceSource.RateWindow <= 0 {
		return fmt.Errorf("price_source.rate_window must be greater than zero")
	}
	if c.PriceSource.MaxRetries < 0 {
		return fmt.Errorf("price_source.max_retries cannot be negative")
	}
	if len(c.Scanner.Origins) == 0 {
		return fmt.Errorf("scanner.origins must list at least one location")
	}
	if len(c.Scanner.Destinations) == 0 {
		return fmt.Errorf("scanner.destinations must list at least one location")
	}
	if c.Scanner.DaysAhead <= 0 {
		return fmt.Errorf("scanner.days_ahead must be greater than zero")
	}
	for _, offset := range c.Scanner.RoundTripDays {
		if offset <= 0 {
			return fmt.Errorf("scanner.round_trip_days entries must be greater than zero, got %d", offset)
		}
	}
	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be greater than zero")
	}
	if c.Scanner.Workers <= 0 {
		return fmt.Errorf("scanner.workers must be greater than zero")
	}
	if c.Aggregator.Interval <= 0 || c.Aggregator.RetryInterval <= 0 {
		return fmt.Errorf("aggregator.interval and aggregator.retry_interval must be greater than zero")
	}
	if c.Aggregator.GracePeriod < 0 {
		return fmt.Errorf("aggregator.grace_period cannot be negative")
	}
	if c.Aggregator.CatchUpDays <= 0 {
		return fmt.Errorf("aggregator.catch_up_days must be greater than zero")
	}
	if c.Monitor.HistoryDays <= 0 {
		return fmt.Errorf("monitor.history_days must be greater than zero")
	}
	if c.Monitor.Threshold <= 0 || c.Monitor.Threshold >= 1 {
		return fmt.Errorf("monitor.threshold must be strictly between 0 and 1")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	if c.Export.HistoryDays <= 0 {
		return fmt.Errorf("export.history_days must be greater than zero")
	}
	return nil
}

// ResolveHistoryDays returns either the CLI override or config default.
func (c *Config) ResolveHistoryDays(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.HistoryDays
}
