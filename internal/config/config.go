package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"marketrefresh/internal/fetcher"
	"marketrefresh/internal/financialdatasets"
	"marketrefresh/internal/freshness"
	"marketrefresh/internal/logger"
	"marketrefresh/internal/models"
	"marketrefresh/internal/news"
	"marketrefresh/internal/publish"
	"marketrefresh/internal/refresh"
	"marketrefresh/internal/store"
	"marketrefresh/internal/store/clickhouse"
)

const (
	BarsBackendSQL        = "sql"
	BarsBackendClickHouse = "clickhouse"
)

// ClientConfig tunes the paced HTTP client used for the financial data API
type ClientConfig struct {
	RequestsPerSecond     float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	RequestTimeoutSeconds float64 `mapstructure:"request_timeout_seconds" validate:"gt=0"`
	MaxRetryAttempts      int     `mapstructure:"max_retry_attempts" validate:"gte=1,lte=10"`
	BackoffBaseSeconds    float64 `mapstructure:"backoff_base_seconds" validate:"gt=0"`
	BackoffMaxSeconds     float64 `mapstructure:"backoff_max_seconds" validate:"gtefield=BackoffBaseSeconds"`
	MaxElapsedSeconds     float64 `mapstructure:"max_elapsed_seconds" validate:"gt=0"`
}

// PipelineConfig bounds batch orchestration
type PipelineConfig struct {
	MaxWorkers        int     `mapstructure:"max_workers" validate:"gte=1,lte=256"`
	BatchSize         int     `mapstructure:"batch_size" validate:"gte=1"`
	BatchDelaySeconds float64 `mapstructure:"batch_delay_seconds"`
}

type OHLCVConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	LookbackDays int  `mapstructure:"lookback_days" validate:"gte=1"`
}

type PeriodConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Period  string `mapstructure:"period" validate:"oneof=quarterly annual ttm"`
}

type NewsConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MaxPerTicker      int     `mapstructure:"max_per_ticker" validate:"gte=1"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	ResolveURLs       bool    `mapstructure:"resolve_urls"`
}

type StorageConfig struct {
	BarsBackend string `mapstructure:"bars_backend" validate:"oneof=sql clickhouse"`
}

type FreshnessConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	TTLHours float64 `mapstructure:"ttl_hours" validate:"gt=0"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job"`
}

type StatusConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type ScheduleConfig struct {
	Cron string `mapstructure:"cron" validate:"required"`
}

// Config holds all configuration for marketrefresh
type Config struct {
	FinancialDatasetsAPIKey  string `mapstructure:"financial_datasets_api_key"`
	FinancialDatasetsBaseURL string `mapstructure:"financial_datasets_base_url" validate:"url"`
	NewsBaseURL              string `mapstructure:"news_base_url" validate:"url"`

	Client       ClientConfig          `mapstructure:"client"`
	Pipeline     PipelineConfig        `mapstructure:"pipeline"`
	OHLCV        OHLCVConfig           `mapstructure:"ohlcv"`
	Fundamentals PeriodConfig          `mapstructure:"fundamentals"`
	Estimates    PeriodConfig          `mapstructure:"estimates"`
	News         NewsConfig            `mapstructure:"news"`
	Database     store.Config          `mapstructure:"database"`
	Storage      StorageConfig         `mapstructure:"storage"`
	ClickHouse   clickhouse.Config     `mapstructure:"clickhouse"`
	Freshness    FreshnessConfig       `mapstructure:"freshness"`
	Redis        freshness.RedisConfig `mapstructure:"redis"`
	Kafka        publish.Config        `mapstructure:"kafka"`
	Metrics      MetricsConfig         `mapstructure:"metrics"`
	Status       StatusConfig          `mapstructure:"status"`
	Schedule     ScheduleConfig        `mapstructure:"schedule"`
	Log          logger.Config         `mapstructure:"log"`

	// Universe lists the instruments the seed command writes
	Universe []models.Instrument `mapstructure:"universe" validate:"dive"`
}

var defaultValues = map[string]any{
	"financial_datasets_base_url":    financialdatasets.DefaultBaseURL,
	"news_base_url":                  news.DefaultBaseURL,
	"client.requests_per_second":     5.0,
	"client.request_timeout_seconds": 30.0,
	"client.max_retry_attempts":      3,
	"client.backoff_base_seconds":    1.0,
	"client.backoff_max_seconds":     10.0,
	"client.max_elapsed_seconds":     60.0,
	"pipeline.max_workers":           10,
	"pipeline.batch_size":            50,
	"pipeline.batch_delay_seconds":   1.0,
	"ohlcv.enabled":                  true,
	"ohlcv.lookback_days":            5,
	"fundamentals.enabled":           true,
	"fundamentals.period":            "quarterly",
	"estimates.enabled":              true,
	"estimates.period":               "annual",
	"news.enabled":                   true,
	"news.max_per_ticker":            5,
	"news.requests_per_second":       news.DefaultRequestsPerSecond,
	"news.resolve_urls":              true,
	"database.driver":                store.DriverSQLite,
	"database.dsn":                   "marketrefresh.db",
	"storage.bars_backend":           BarsBackendSQL,
	"clickhouse.port":                9000,
	"clickhouse.database":            "default",
	"freshness.enabled":              false,
	"freshness.ttl_hours":            12.0,
	"redis.addr":                     "localhost:6379",
	"kafka.news_topic":               publish.DefaultNewsTopic,
	"metrics.job":                    "marketrefresh",
	"status.listen_addr":             ":8090",
	"schedule.cron":                  "30 22 * * 1-5",
	"log.level":                      "info",
	"log.format":                     "console",
}

var envBindings = map[string]string{
	"financial_datasets_api_key":     "FINANCIAL_DATASETS_API_KEY",
	"financial_datasets_base_url":    "FINANCIAL_DATASETS_BASE_URL",
	"news_base_url":                  "NEWS_BASE_URL",
	"client.requests_per_second":     "FD_RATE_LIMIT_RPS",
	"client.request_timeout_seconds": "FD_TIMEOUT_SECONDS",
	"client.max_retry_attempts":      "FD_MAX_RETRIES",
	"pipeline.max_workers":           "PIPELINE_MAX_WORKERS",
	"pipeline.batch_size":            "PIPELINE_BATCH_SIZE",
	"pipeline.batch_delay_seconds":   "PIPELINE_BATCH_DELAY_SECONDS",
	"database.driver":                "DATABASE_DRIVER",
	"database.dsn":                   "DATABASE_URL",
	"clickhouse.host":                "CLICKHOUSE_HOST",
	"clickhouse.port":                "CLICKHOUSE_PORT",
	"clickhouse.database":            "CLICKHOUSE_DATABASE",
	"clickhouse.user":                "CLICKHOUSE_USER",
	"clickhouse.password":            "CLICKHOUSE_PASSWORD",
	"redis.addr":                     "REDIS_ADDR",
	"redis.password":                 "REDIS_PASSWORD",
	"redis.db":                       "REDIS_DB",
	"kafka.brokers":                  "KAFKA_BROKERS",
	"kafka.news_topic":               "KAFKA_NEWS_TOPIC",
	"metrics.pushgateway_url":        "PUSHGATEWAY_URL",
	"schedule.cron":                  "REFRESH_CRON",
	"log.level":                      "LOG_LEVEL",
	"log.format":                     "LOG_FORMAT",
}

var validate = validator.New()

// Load reads configuration from, in increasing precedence: defaults, a config
// file, a .env file in the working directory, and environment variables.
//
// path names an explicit config file. When empty, config.yaml is looked up
// in the working directory and $HOME/.marketrefresh; a missing file is not
// an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaultValues {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.marketrefresh")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := applyUniverseDefaults(cfg.Universe, v.Get("universe")); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Storage.BarsBackend == BarsBackendClickHouse && cfg.ClickHouse.Host == "" {
		return nil, fmt.Errorf("missing required configuration: CLICKHOUSE_HOST")
	}
	return cfg, nil
}

// applyUniverseDefaults fills unset instrument fields. Booleans read as
// false whether omitted or written out, so the raw entries decide whether
// active was given.
func applyUniverseDefaults(universe []models.Instrument, raw any) error {
	entries, _ := raw.([]any)
	for i := range universe {
		active := universe[i].Active
		if err := defaults.Set(&universe[i]); err != nil {
			return fmt.Errorf("failed to apply defaults to universe[%d]: %w", i, err)
		}
		if i < len(entries) && hasKey(entries[i], "active") {
			universe[i].Active = active
		}
	}
	return nil
}

func hasKey(entry any, key string) bool {
	switch m := entry.(type) {
	case map[string]any:
		for k := range m {
			if strings.EqualFold(k, key) {
				return true
			}
		}
	case map[any]any:
		for k := range m {
			if s, ok := k.(string); ok && strings.EqualFold(s, key) {
				return true
			}
		}
	}
	return false
}

// RequireAPIKey reports a missing financial data API key. Only kinds served
// by that API need it.
func (c *Config) RequireAPIKey(kinds []refresh.Kind) error {
	if c.FinancialDatasetsAPIKey != "" {
		return nil
	}
	for _, k := range kinds {
		if k != refresh.KindNews {
			return fmt.Errorf("missing required configuration: FINANCIAL_DATASETS_API_KEY")
		}
	}
	return nil
}

// FinancialDatasetsClient returns the financial data API client configuration
func (c *Config) FinancialDatasetsClient() fetcher.ClientConfig {
	return fetcher.ClientConfig{
		BaseURL:           c.FinancialDatasetsBaseURL,
		APIKey:            c.FinancialDatasetsAPIKey,
		RequestsPerSecond: c.Client.RequestsPerSecond,
		Timeout:           seconds(c.Client.RequestTimeoutSeconds),
		MaxAttempts:       c.Client.MaxRetryAttempts,
		BackoffBase:       seconds(c.Client.BackoffBaseSeconds),
		BackoffMax:        seconds(c.Client.BackoffMaxSeconds),
		MaxElapsed:        seconds(c.Client.MaxElapsedSeconds),
	}
}

// NewsScraper returns the news scraper configuration
func (c *Config) NewsScraper() news.Config {
	return news.Config{
		BaseURL:           c.NewsBaseURL,
		RequestsPerSecond: c.News.RequestsPerSecond,
		Timeout:           seconds(c.Client.RequestTimeoutSeconds),
		ResolveURLs:       c.News.ResolveURLs,
	}
}

// Orchestrator returns the batch options. A zero delay disables the pause.
func (c *Config) Orchestrator() refresh.Options {
	delay := seconds(c.Pipeline.BatchDelaySeconds)
	if delay <= 0 {
		delay = -1
	}
	return refresh.Options{
		MaxWorkers: c.Pipeline.MaxWorkers,
		BatchSize:  c.Pipeline.BatchSize,
		BatchDelay: delay,
	}
}

// Coordinator returns the per-kind refresh parameters
func (c *Config) Coordinator() refresh.CoordinatorConfig {
	return refresh.CoordinatorConfig{
		OHLCVEnabled:        c.OHLCV.Enabled,
		LookbackDays:        c.OHLCV.LookbackDays,
		FundamentalsEnabled: c.Fundamentals.Enabled,
		FundamentalsPeriod:  c.Fundamentals.Period,
		EstimatesEnabled:    c.Estimates.Enabled,
		EstimatesPeriod:     c.Estimates.Period,
		NewsEnabled:         c.News.Enabled,
		NewsMaxPerTicker:    c.News.MaxPerTicker,
	}
}

// FreshnessTTL returns how long a refreshed entity counts as fresh
func (c *Config) FreshnessTTL() time.Duration {
	return seconds(c.Freshness.TTLHours * 3600)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ParseSymbols splits a comma separated symbol list, normalizing each entry
func ParseSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if sym := models.NormalizeSymbol(part); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
