package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	AI        AIConfig        `yaml:"ai" mapstructure:"ai"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Hunter    HunterConfig    `yaml:"hunter" mapstructure:"hunter"`
	Mail      MailConfig      `yaml:"mail" mapstructure:"mail"`
	Campaign  CampaignConfig  `yaml:"campaign" mapstructure:"campaign"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Schedule  ScheduleConfig  `yaml:"schedule" mapstructure:"schedule"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AIConfig selects which LLM provider backs extraction and generation.
type AIConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina Reader settings (page fetch fallback).
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// HunterConfig holds the email directory settings.
type HunterConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MailConfig configures outbound delivery.
type MailConfig struct {
	Provider string         `yaml:"provider" mapstructure:"provider"`
	From     string         `yaml:"from" mapstructure:"from"`
	FromName string         `yaml:"from_name" mapstructure:"from_name"`
	SendGrid SendGridConfig `yaml:"sendgrid" mapstructure:"sendgrid"`
	SMTP     SMTPConfig     `yaml:"smtp" mapstructure:"smtp"`
}

// SendGridConfig holds SendGrid credentials.
type SendGridConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
}

// CampaignConfig configures the dispatcher.
type CampaignConfig struct {
	SendDelayMs   int `yaml:"send_delay_ms" mapstructure:"send_delay_ms"`
	ProgressEvery int `yaml:"progress_every" mapstructure:"progress_every"`
}

// EnrichConfig configures batch enrichment.
type EnrichConfig struct {
	DelayMs        int `yaml:"delay_ms" mapstructure:"delay_ms"`
	BatchLimit     int `yaml:"batch_limit" mapstructure:"batch_limit"`
	SearchLimit    int `yaml:"search_limit" mapstructure:"search_limit"`
	CacheTTLHours  int `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	RetryAttempts  int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// ScrapeConfig configures scraping jobs.
type ScrapeConfig struct {
	MaxResults     int `yaml:"max_results" mapstructure:"max_results"`
	CustomURLLimit int `yaml:"custom_url_limit" mapstructure:"custom_url_limit"`
	MaxTextChars   int `yaml:"max_text_chars" mapstructure:"max_text_chars"`
	CrawlTimeout   int `yaml:"crawl_timeout_secs" mapstructure:"crawl_timeout_secs"`
}

// WorkerConfig configures the background task worker.
type WorkerConfig struct {
	PollIntervalMs    int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	Concurrency       int `yaml:"concurrency" mapstructure:"concurrency"`
	VisibilityTimeout int `yaml:"visibility_timeout_secs" mapstructure:"visibility_timeout_secs"`
}

// QueueConfig configures optional RabbitMQ wakeups for the worker.
type QueueConfig struct {
	AMQPURL   string `yaml:"amqp_url" mapstructure:"amqp_url"`
	QueueName string `yaml:"queue_name" mapstructure:"queue_name"`
}

// RedisConfig configures the optional lookup cache.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// ScheduleConfig configures cron entries run by serve.
type ScheduleConfig struct {
	DueCampaigns string `yaml:"due_campaigns" mapstructure:"due_campaigns"`
	Enrichment   string `yaml:"enrichment" mapstructure:"enrichment"`
}

// NotionConfig holds the Notion lead import settings.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "prospect.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("ai.provider", "anthropic")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("hunter.rate_limit", 10)
	v.SetDefault("mail.provider", "sendgrid")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("campaign.send_delay_ms", 1000)
	v.SetDefault("campaign.progress_every", 10)
	v.SetDefault("enrich.delay_ms", 1000)
	v.SetDefault("enrich.batch_limit", 50)
	v.SetDefault("enrich.search_limit", 5)
	v.SetDefault("enrich.cache_ttl_hours", 72)
	v.SetDefault("enrich.retry_attempts", 3)
	v.SetDefault("enrich.retry_backoff_ms", 500)
	v.SetDefault("scrape.max_results", 20)
	v.SetDefault("scrape.custom_url_limit", 10)
	v.SetDefault("scrape.max_text_chars", 15000)
	v.SetDefault("scrape.crawl_timeout_secs", 300)
	v.SetDefault("worker.poll_interval_ms", 2000)
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.visibility_timeout_secs", 3600)
	v.SetDefault("queue.queue_name", "prospect.tasks")
	v.SetDefault("schedule.due_campaigns", "@every 1m")

	// Keys without a default are registered so AutomaticEnv sees them on Unmarshal.
	for _, key := range []string{
		"anthropic.key", "openai.key", "firecrawl.key", "jina.key", "hunter.key",
		"mail.from", "mail.from_name", "mail.sendgrid.key",
		"mail.smtp.host", "mail.smtp.user", "mail.smtp.password",
		"queue.amqp_url", "redis.url", "schedule.enrichment",
		"notion.token", "notion.lead_db",
	} {
		v.SetDefault(key, "")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs before it starts.
// Modes: "serve", "scrape", "enrich", "send" or "" for the common checks.
// The server does not require capability keys; those fail on first use.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	switch c.AI.Provider {
	case "anthropic", "openai", "none":
	default:
		errs = append(errs, "ai.provider must be anthropic, openai or none")
	}
	switch c.Mail.Provider {
	case "sendgrid", "smtp":
	default:
		errs = append(errs, "mail.provider must be sendgrid or smtp")
	}
	if c.Campaign.SendDelayMs < 0 || c.Enrich.DelayMs < 0 {
		errs = append(errs, "delays must be >= 0")
	}

	switch mode {
	case "":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "scrape":
		if c.Firecrawl.Key == "" {
			errs = append(errs, "firecrawl.key is required")
		}
	case "enrich":
		if c.Hunter.Key == "" {
			errs = append(errs, "hunter.key is required")
		}
	case "send":
		if c.Mail.From == "" {
			errs = append(errs, "mail.from is required")
		}
		if c.Mail.Provider == "sendgrid" && c.Mail.SendGrid.Key == "" {
			errs = append(errs, "mail.sendgrid.key is required")
		}
		if c.Mail.Provider == "smtp" && c.Mail.SMTP.Host == "" {
			errs = append(errs, "mail.smtp.host is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
