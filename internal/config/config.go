// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/procuredocs/regcrawler/internal/regulation"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig          `mapstructure:"server"`
	Source     SourceConfig          `mapstructure:"source"`
	Crawler    CrawlerConfig         `mapstructure:"crawler"`
	Storage    StorageConfig         `mapstructure:"storage"`
	DB         DBConfig              `mapstructure:"db"`
	Scheduler  SchedulerConfig       `mapstructure:"scheduler"`
	Logging    LoggingConfig         `mapstructure:"logging"`
	Categories []regulation.Category `mapstructure:"categories"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig identifies the portal the crawler ingests from.
type SourceConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	IndexURL  string `mapstructure:"index_url"`
	PageSize  int    `mapstructure:"page_size"`
	UserAgent string `mapstructure:"user_agent"`
}

// CrawlerConfig governs retry and pacing behavior of a crawl run.
type CrawlerConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms"`
	ItemDelayMs      int `mapstructure:"item_delay_ms"`
	PageDelayMs      int `mapstructure:"page_delay_ms"`
	CategoryDelayMs  int `mapstructure:"category_delay_ms"`

	// RequestsPerSecond caps the outbound request rate; zero disables the cap.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// StorageConfig sets the root directory for downloaded attachments.
type StorageConfig struct {
	AttachmentDir string `mapstructure:"attachment_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SchedulerConfig configures the periodic crawl trigger.
type SchedulerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	IntervalHours int  `mapstructure:"interval_hours"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("source.base_url", "https://www.weain.mil.cn")
	v.SetDefault("source.index_url", "https://www.weain.mil.cn/api/regulations/search")
	v.SetDefault("source.page_size", 20)
	v.SetDefault("source.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.retry_base_delay_ms", 1500)
	v.SetDefault("crawler.item_delay_ms", 2000)
	v.SetDefault("crawler.page_delay_ms", 1500)
	v.SetDefault("crawler.category_delay_ms", 3000)
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("storage.attachment_dir", "data/attachments")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_hours", 48)
	v.SetDefault("logging.development", true)
}

// DefaultCategories returns the portal's built-in category set, used when the
// config file supplies none.
func DefaultCategories() []regulation.Category {
	return []regulation.Category{
		{Name: "国家颁布法规", Path: "fgzc/gjbbfg", LMID: "1151698121890283522"},
		{Name: "军队颁布法规", Path: "fgzc/jdbbfg", LMID: "1151698324215119874"},
		{Name: "联合颁布法规", Path: "fgzc/gjhjdlhbbfg", LMID: "1151698442653876226"},
		{Name: "其他法规", Path: "fgzc/qtfg", LMID: "1151698547024936962"},
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.PageSize <= 0 {
		return fmt.Errorf("source.page_size must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.IntervalHours <= 0 {
		return fmt.Errorf("scheduler.interval_hours must be > 0 when the scheduler is enabled")
	}
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("categories entries require a name")
		}
	}
	return nil
}

// Timeout converts the configured fetch timeout into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// RetryBaseDelay is the unit delay between fetch retries; attempt n waits n
// times this value.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Crawler.RetryBaseDelayMs) * time.Millisecond
}

// ItemDelay is the pacing delay inserted after each detail page.
func (c Config) ItemDelay() time.Duration {
	return time.Duration(c.Crawler.ItemDelayMs) * time.Millisecond
}

// PageDelay is the pacing delay inserted after each list page.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Crawler.PageDelayMs) * time.Millisecond
}

// CategoryDelay is the pacing delay inserted between categories.
func (c Config) CategoryDelay() time.Duration {
	return time.Duration(c.Crawler.CategoryDelayMs) * time.Millisecond
}
