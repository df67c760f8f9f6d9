package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"marketwatcher/internal/logging"
	"marketwatcher/internal/watch"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Export      ExportConfig      `mapstructure:"export"`
	Watchers    []WatcherConfig   `mapstructure:"watchers"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity and retention.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RetentionWindow time.Duration `mapstructure:"retention_window"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sweep cadence and batch concurrency.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	Concurrency     int           `mapstructure:"concurrency"`
	WaveCooldown    time.Duration `mapstructure:"wave_cooldown"`
}

// MarketplaceConfig covers the JSON search API collector.
type MarketplaceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxPages       int           `mapstructure:"max_pages"`
	PageSize       int           `mapstructure:"page_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBase      time.Duration `mapstructure:"retry_base"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
}

// BrowserConfig covers the headless-browser collector.
type BrowserConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	BaseURL     string            `mapstructure:"base_url"`
	ControlURL  string            `mapstructure:"control_url"`
	Headless    bool              `mapstructure:"headless"`
	PageTimeout time.Duration     `mapstructure:"page_timeout"`
	Selectors   map[string]string `mapstructure:"selectors"`
}

// AlertingConfig defines channel credentials and dispatch behaviour.
type AlertingConfig struct {
	ChannelTimeout time.Duration  `mapstructure:"channel_timeout"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
	Slack          SlackConfig    `mapstructure:"slack"`
	Pushover       PushoverConfig `mapstructure:"pushover"`
}

// TelegramConfig describes the Telegram bot channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// SlackConfig describes the Slack incoming-webhook channel.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// PushoverConfig describes the Pushover channel.
type PushoverConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	UserKey string `mapstructure:"user_key"`
	APIBase string `mapstructure:"api_base"`
}

// CredentialsConfig feeds the settings provider.
type CredentialsConfig struct {
	TTL    time.Duration     `mapstructure:"ttl"`
	Static map[string]string `mapstructure:"static"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// WatcherConfig is one configured marketplace search.
type WatcherConfig struct {
	ID                 string                   `mapstructure:"id"`
	Name               string                   `mapstructure:"name"`
	Enabled            bool                     `mapstructure:"enabled"`
	Marketplace        string                   `mapstructure:"marketplace"`
	Query              string                   `mapstructure:"query"`
	Location           string                   `mapstructure:"location"`
	RadiusKM           int                      `mapstructure:"radius_km"`
	MinPrice           float64                  `mapstructure:"min_price"`
	MaxPrice           float64                  `mapstructure:"max_price"`
	IncludeKeywords    []string                 `mapstructure:"include_keywords"`
	ExcludeKeywords    []string                 `mapstructure:"exclude_keywords"`
	PriceDropThreshold float64                  `mapstructure:"price_drop_threshold"`
	Channels           map[string]ChannelConfig `mapstructure:"channels"`
}

// ChannelConfig toggles one channel for a watcher.
type ChannelConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Params  map[string]string `mapstructure:"params"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETWATCHER")
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
	v.SetDefault("app.name", "marketwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "10m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d777463))
	v.SetDefault("scheduler.concurrency", 3)
	v.SetDefault("scheduler.wave_cooldown", "2s")

	v.SetDefault("marketplace.request_timeout", "15s")
	v.SetDefault("marketplace.user_agent", "marketwatcher/1.0")
	v.SetDefault("marketplace.max_pages", 5)
	v.SetDefault("marketplace.page_size", 50)
	v.SetDefault("marketplace.max_attempts", 3)
	v.SetDefault("marketplace.retry_base", "500ms")
	v.SetDefault("marketplace.rate_per_second", 2.0)
	v.SetDefault("marketplace.burst", 2)

	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.page_timeout", "45s")

	v.SetDefault("alerting.channel_timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.slack.enabled", false)
	v.SetDefault("alerting.pushover.enabled", false)
	v.SetDefault("alerting.pushover.api_base", "https://api.pushover.net")

	v.SetDefault("credentials.ttl", "5m")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention_window", "336h")
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

// Validate performs sanity checks that must fail before any watcher runs.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be at least 1")
	}
	if c.Scheduler.WaveCooldown < 0 {
		return fmt.Errorf("scheduler.wave_cooldown cannot be negative")
	}
	if c.Database.RetentionWindow <= 0 {
		return fmt.Errorf("database.retention_window must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	seen := make(map[string]struct{}, len(c.Watchers))
	for i, w := range c.Watchers {
		if strings.TrimSpace(w.ID) == "" {
			return fmt.Errorf("watchers[%d].id must not be empty", i)
		}
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("watchers[%d].id %q is not unique", i, w.ID)
		}
		seen[w.ID] = struct{}{}

		if w.Query == "" {
			return fmt.Errorf("watcher %q: query must not be empty", w.ID)
		}
		if w.PriceDropThreshold < 0 || w.PriceDropThreshold >= 1 {
			return fmt.Errorf("watcher %q: price_drop_threshold must be in [0,1)", w.ID)
		}
		if w.MinPrice < 0 || w.MaxPrice < 0 {
			return fmt.Errorf("watcher %q: price bounds cannot be negative", w.ID)
		}
		if w.MinPrice > 0 && w.MaxPrice > 0 && w.MinPrice > w.MaxPrice {
			return fmt.Errorf("watcher %q: min_price exceeds max_price", w.ID)
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	if c.Alerting.Slack.Enabled && c.Alerting.Slack.WebhookURL == "" {
		return fmt.Errorf("alerting.slack.webhook_url must be configured")
	}
	if c.Alerting.Pushover.Enabled {
		if c.Alerting.Pushover.Token == "" || c.Alerting.Pushover.UserKey == "" {
			return fmt.Errorf("alerting.pushover.token and user_key must be configured")
		}
	}

	return nil
}

// WatcherSnapshot converts the configured watchers into the immutable domain
// snapshot the pipeline runs against.
func (c *Config) WatcherSnapshot() []watch.Watcher {
	watchers := make([]watch.Watcher, 0, len(c.Watchers))
	for _, wc := range c.Watchers {
		watchers = append(watchers, wc.toWatcher())
	}
	return watchers
}

func (wc WatcherConfig) toWatcher() watch.Watcher {
	marketplace := wc.Marketplace
	if marketplace == "" {
		marketplace = "http"
	}

	channels := make(map[string]watch.ChannelConfig, len(wc.Channels))
	for name, cc := range wc.Channels {
		channels[strings.ToLower(name)] = watch.ChannelConfig{
			Enabled: cc.Enabled,
			Params:  cc.Params,
		}
	}

	return watch.Watcher{
		ID:                 wc.ID,
		Name:               wc.Name,
		Enabled:            wc.Enabled,
		Marketplace:        marketplace,
		Query:              wc.Query,
		Location:           wc.Location,
		RadiusKM:           wc.RadiusKM,
		MinPrice:           decimal.NewFromFloat(wc.MinPrice),
		MaxPrice:           decimal.NewFromFloat(wc.MaxPrice),
		IncludeKeywords:    wc.IncludeKeywords,
		ExcludeKeywords:    wc.ExcludeKeywords,
		PriceDropThreshold: decimal.NewFromFloat(wc.PriceDropThreshold),
		Channels:           channels,
	}
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
