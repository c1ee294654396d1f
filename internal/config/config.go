package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Shanghai must resolve on minimal images

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"feedsync/internal/logging"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverLibSQL   = "libsql"
)

// Source tags accepted by the scheduler.
const (
	SourceQuotes = "quotes"
	SourceNews   = "news"
)

// Gate commit modes.
const (
	CommitBeforePersist = "before_persist"
	CommitAfterPersist  = "after_persist"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Gate      GateConfig      `mapstructure:"gate"`
	Quotes    QuotesConfig    `mapstructure:"quotes"`
	News      NewsConfig      `mapstructure:"news"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Server    ServerConfig    `mapstructure:"server"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Timezone decides the trading date of quote runs and the news pubDate rendering.
	Timezone string `mapstructure:"timezone"`
}

// Location resolves the configured timezone.
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load app.timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// DatabaseConfig selects and tunes the storage backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs run cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	Sources         []string      `mapstructure:"sources"`
}

// FetchConfig tunes the resilient fetcher.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	SentinelDelay time.Duration `mapstructure:"sentinel_delay"`
	NetworkDelay  time.Duration `mapstructure:"network_delay"`
	Sentinels     []string      `mapstructure:"sentinels"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// GateConfig names the change-detection keys and when they are committed.
type GateConfig struct {
	CommitMode string `mapstructure:"commit_mode"`
	QuoteKey   string `mapstructure:"quote_key"`
	NewsKey    string `mapstructure:"news_key"`
}

// QuotesConfig points at the Sina quote list endpoint.
type QuotesConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Node     string `mapstructure:"node"`
	PageSize int    `mapstructure:"page_size"`
}

// NewsConfig points at the RSS feed and bounds retained items.
type NewsConfig struct {
	URL        string        `mapstructure:"url"`
	Retention  time.Duration `mapstructure:"retention"`
	FutureSkew time.Duration `mapstructure:"future_skew"`
}

// ProxyConfig holds defaults of the SSE query proxy.
type ProxyConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	SQLID        string `mapstructure:"sql_id"`
	Page         int    `mapstructure:"page"`
	PageSize     int    `mapstructure:"page_size"`
	Referer      string `mapstructure:"referer"`
	CookieHeader string `mapstructure:"cookie_header"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AlertingConfig routes failed-run notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FEEDSYNC")
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
	v.SetDefault("app.name", "feedsync")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Asia/Shanghai")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.max_backups", 5)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "feedsync.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.max_concurrent", 0)
	v.SetDefault("scheduler.sources", []string{SourceQuotes, SourceNews})

	v.SetDefault("fetch.timeout", "12s")
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.sentinel_delay", "300ms")
	v.SetDefault("fetch.network_delay", "400ms")
	v.SetDefault("fetch.sentinels", []string{"System Error"})
	v.SetDefault("fetch.user_agent", "Mozilla/5.0")

	v.SetDefault("gate.commit_mode", CommitBeforePersist)
	v.SetDefault("gate.quote_key", "fetchETF_MD5")
	v.SetDefault("gate.news_key", "fetchNews_MD5")

	v.SetDefault("quotes.endpoint", "https://vip.stock.finance.sina.com.cn/quotes_service/api/jsonp.php")
	v.SetDefault("quotes.node", "etf_hq_fund")
	v.SetDefault("quotes.page_size", 1800)

	v.SetDefault("news.url", "https://cn.wsj.com/zh-hans/rss")
	v.SetDefault("news.retention", "48h")
	v.SetDefault("news.future_skew", "5m")

	v.SetDefault("proxy.base_url", "https://query.sse.com.cn/commonQuery.do")
	v.SetDefault("proxy.sql_id", "COMMON_SSE_ZQPZ_ETFZL_XXPL_ETFGM_SEARCH_L")
	v.SetDefault("proxy.page", 1)
	v.SetDefault("proxy.page_size", 1000)
	v.SetDefault("proxy.referer", "https://www.sse.com.cn/market/funddata/volumn/etfvolumn/")
	v.SetDefault("proxy.cookie_header", "x-forward-cookie")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
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
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverLibSQL:
	default:
		return fmt.Errorf("database.driver must be one of postgres, sqlite, libsql (got %q)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.max_concurrent must not be negative")
	}
	for _, src := range c.Scheduler.Sources {
		if src != SourceQuotes && src != SourceNews {
			return fmt.Errorf("scheduler.sources: unknown source %q", src)
		}
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be greater than zero")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be greater than zero")
	}
	if c.Fetch.SentinelDelay < 0 || c.Fetch.NetworkDelay < 0 {
		return fmt.Errorf("fetch delays cannot be negative")
	}
	if c.Gate.CommitMode != CommitBeforePersist && c.Gate.CommitMode != CommitAfterPersist {
		return fmt.Errorf("gate.commit_mode must be %s or %s", CommitBeforePersist, CommitAfterPersist)
	}
	if c.Gate.QuoteKey == "" || c.Gate.NewsKey == "" {
		return fmt.Errorf("gate.quote_key and gate.news_key are required")
	}
	if c.News.Retention <= 0 {
		return fmt.Errorf("news.retention must be greater than zero")
	}
	if c.Proxy.PageSize <= 0 || c.Proxy.Page <= 0 {
		return fmt.Errorf("proxy.page and proxy.page_size must be greater than zero")
	}
	if _, err := c.App.Location(); err != nil {
		return err
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// HasSource reports whether the scheduler should run the given source.
func (c *Config) HasSource(source string) bool {
	for _, s := range c.Scheduler.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
