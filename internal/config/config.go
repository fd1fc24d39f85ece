package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig               `yaml:"store" mapstructure:"store"`
	Vault      VaultConfig               `yaml:"vault" mapstructure:"vault"`
	Cache      CacheConfig               `yaml:"cache" mapstructure:"cache"`
	Batch      BatchConfig               `yaml:"batch" mapstructure:"batch"`
	Strategies map[string]model.Strategy `yaml:"strategies" mapstructure:"strategies"`
	Lookup     LookupConfig              `yaml:"lookup" mapstructure:"lookup"`
	Perplexity PerplexityConfig          `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig           `yaml:"anthropic" mapstructure:"anthropic"`
	Pricing    PricingConfig             `yaml:"pricing" mapstructure:"pricing"`
	Notion     NotionConfig              `yaml:"notion" mapstructure:"notion"`
	Registry   RegistryConfig            `yaml:"registry" mapstructure:"registry"`
	Resilience ResilienceConfig          `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig              `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig          `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig                 `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// VaultConfig holds the key material used to seal cache and checkpoint
// blobs.
type VaultConfig struct {
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`
	Salt       string `yaml:"salt" mapstructure:"salt"`
	Iterations int    `yaml:"iterations" mapstructure:"iterations"`
}

// CacheConfig configures the two-tier lookup cache.
type CacheConfig struct {
	MemoryEntries int `yaml:"memory_entries" mapstructure:"memory_entries"`
	BaseTTLHours  int `yaml:"base_ttl_hours" mapstructure:"base_ttl_hours"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	WaveSize   int    `yaml:"wave_size" mapstructure:"wave_size"`
	ThrottleMs int    `yaml:"throttle_ms" mapstructure:"throttle_ms"`
	Strategy   string `yaml:"strategy" mapstructure:"strategy"`
}

// LookupConfig throttles calls to the search and enrichment providers.
type LookupConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// NotionConfig holds Notion API credentials and the queue/export databases.
type NotionConfig struct {
	Token          string  `yaml:"token" mapstructure:"token"`
	QueueDB        string  `yaml:"queue_db" mapstructure:"queue_db"`
	ExportDB       string  `yaml:"export_db" mapstructure:"export_db"`
	QueryProperty  string  `yaml:"query_property" mapstructure:"query_property"`
	StatusProperty string  `yaml:"status_property" mapstructure:"status_property"`
	PendingStatus  string  `yaml:"pending_status" mapstructure:"pending_status"`
	DoneStatus     string  `yaml:"done_status" mapstructure:"done_status"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RegistryConfig configures the duplicate registry.
type RegistryConfig struct {
	BlocklistFile string   `yaml:"blocklist_file" mapstructure:"blocklist_file"`
	Blocklist     []string `yaml:"blocklist" mapstructure:"blocklist"`
}

// ResilienceConfig configures retries and the provider circuit breaker.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures failure and credit alerting for the server.
// Credits are the strategy costs charged by the usage ledger.
type MonitoringConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureThreshold    int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CreditThreshold     float64 `yaml:"credit_threshold" mapstructure:"credit_threshold"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "prospect.db")
	v.SetDefault("vault.iterations", 100_000)
	v.SetDefault("cache.memory_entries", 100)
	v.SetDefault("cache.base_ttl_hours", 24*30)
	v.SetDefault("batch.wave_size", 3)
	v.SetDefault("batch.throttle_ms", 500)
	v.SetDefault("batch.strategy", "standard")
	v.SetDefault("lookup.rate_per_second", 2.0)
	v.SetDefault("lookup.burst", 3)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("notion.query_property", "Name")
	v.SetDefault("notion.status_property", "Status")
	v.SetDefault("notion.pending_status", "Queued")
	v.SetDefault("notion.done_status", "Done")
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10_000)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.failure_threshold", 10)
	v.SetDefault("monitoring.credit_threshold", 25.0)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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

// Validate checks the settings required by a command mode: "store" for
// commands that only touch the database, "lookup" when provider calls are
// made, "notion" when a Notion database is read or written and "serve" for
// the HTTP API.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store":
		errs = append(errs, c.validateStore()...)
	case "lookup":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateLookup()...)
	case "notion":
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
	case "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateLookup()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return []string{"store.path is required"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	return nil
}

func (c *Config) validateLookup() []string {
	var errs []string
	if c.Perplexity.Key == "" {
		errs = append(errs, "perplexity.key is required")
	}
	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if c.Batch.WaveSize < 1 || c.Batch.WaveSize > 10 {
		errs = append(errs, "batch.wave_size must be between 1 and 10")
	}
	if c.Batch.ThrottleMs < 0 {
		errs = append(errs, "batch.throttle_ms must be >= 0")
	}
	return errs
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
