package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LLM provider identifiers, mirrored as plain strings so config files and
// env vars can select a provider without importing the llm package.
const (
	LLMProviderOpenAI = "openai"
	LLMProviderLocal  = "local"
)

// Config is the fully-resolved runtime configuration for both cmd/digest-api
// and cmd/digest-worker. Every sub-struct maps to one SPEC_FULL.md component.
type Config struct {
	Server         ServerConfig         `json:"server"`
	Logging        LoggingConfig        `json:"logging"`
	Gmail          GmailConfig          `json:"gmail"`
	Store          StoreConfig          `json:"store"`
	Redis          RedisConfig          `json:"redis"`
	CostTracker    CostTrackerConfig    `json:"cost_tracker"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Payload        PayloadConfig        `json:"payload"`
	LLM            LLMConfig            `json:"llm"`
	WebExtract     WebExtractConfig     `json:"web_extract"`
	WebSearch      WebSearchConfig      `json:"web_search"`
	Mailer         MailerConfig         `json:"mailer"`
	Scheduler      SchedulerConfig      `json:"scheduler"`
	Pipeline       PipelineConfig       `json:"pipeline"`
}

type ServerConfig struct {
	Port string `json:"port"`
	Host string `json:"host"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "text" or "json"
}

// GmailConfig holds OAuth2 client credentials and the stored refresh token
// used by the Mailbox (C8) and TokenStore (C4).
type GmailConfig struct {
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	RefreshToken  string `json:"refresh_token"`
	RedirectURL   string `json:"redirect_url"`
	UserEmail     string `json:"user_email"`
	LabelAIDigest string `json:"label_ai_digest"`
	BatchSize     int    `json:"batch_size"`
}

// StoreConfig configures ProcessedStore/SenderStore/TokenStore (SQLite) and
// BlobStore (S3).
type StoreConfig struct {
	DBPath              string        `json:"db_path"`
	ProcessedRetention  time.Duration `json:"processed_retention"`
	SenderDecayHalfLife time.Duration `json:"sender_decay_half_life"`

	BlobBucket    string `json:"blob_bucket"`
	BlobRegion    string `json:"blob_region"`
	BlobEndpoint  string `json:"blob_endpoint"`
	BlobAccessKey string `json:"blob_access_key"`
	BlobSecretKey string `json:"blob_secret_key"`
	BlobForcePath bool   `json:"blob_force_path_style"`
}

// RedisConfig backs the Orchestrator's checkpoint store.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	KeyTTL   time.Duration `json:"key_ttl"`
}

type CostTrackerConfig struct {
	MaxCostPerRunUSD   float64 `json:"max_cost_per_run_usd"`
	ApproachingPct     float64 `json:"approaching_limit_pct"`
	MaxOpenAICalls     int     `json:"max_openai_calls"`
	MaxFirecrawlCalls  int     `json:"max_firecrawl_calls"`
	MaxBraveCalls      int     `json:"max_brave_calls"`
	MaxEmailsPerRun    int     `json:"max_emails_per_run"`
}

type CircuitBreakerConfig struct {
	FailureThreshold  int           `json:"failure_threshold"`
	ResetTimeout      time.Duration `json:"reset_timeout"`
	HalfOpenMaxProbes int           `json:"half_open_max_probes"`
}

// PayloadConfig configures the inline-vs-S3 offload threshold for C7.
type PayloadConfig struct {
	InlineThresholdBytes int `json:"inline_threshold_bytes"`
}

type LLMConfig struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	FastModel    string        `json:"fast_model"`
	QualityModel string        `json:"quality_model"`
	APIKey       string        `json:"api_key"`
	Endpoint     string        `json:"endpoint"`
	Timeout      time.Duration `json:"timeout"`
	Temperature  float64       `json:"temperature"`
	RateLimitRPM int           `json:"rate_limit_rpm"`
}

type WebExtractConfig struct {
	Concurrency      int `json:"concurrency"`
	MaxChars         int `json:"max_chars"`
	TimeoutSeconds   int `json:"timeout_seconds"`
}

type WebSearchConfig struct {
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

type MailerConfig struct {
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
	FromAddress  string `json:"from_address"`
	FromName     string `json:"from_name"`
	Recipient    string `json:"recipient"`
	UseSTARTTLS  bool   `json:"use_starttls"`
}

// SchedulerConfig drives the weekly cron trigger for C15.
type SchedulerConfig struct {
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
}

// PipelineConfig holds the cross-cutting orchestration knobs from spec §5.
type PipelineConfig struct {
	HardTimeout          time.Duration `json:"hard_timeout"`
	SubBatchSize         int           `json:"sub_batch_size"`
	BatchDelay           time.Duration `json:"batch_delay"`
	RetryBaseDelay       time.Duration `json:"retry_base_delay"`
	RetryBackoffFactor   float64       `json:"retry_backoff_factor"`
	RetryMaxAttempts     int           `json:"retry_max_attempts"`
	RetryJitterPct       float64       `json:"retry_jitter_pct"`
	HandlerGracePeriod   time.Duration `json:"handler_grace_period"`
	BudgetStopThreshold  float64       `json:"budget_stop_threshold"`
}

// Load reads configuration from (in ascending priority) defaults, an
// optional config file, a .env file, and the environment, then validates
// the result.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := LoadEnvFile(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	v := viper.New()
	return LoadWithViper(v)
}

// LoadWithViper lets callers (tests, cmd/ entry points with --config flags)
// supply their own Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	setupEnvBinding(v)

	if err := loadConfigFile(v); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	cfg := &Config{}
	if err := unmarshalConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.setComputedDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("gmail.redirect_url", "http://localhost:8080/oauth/callback")
	v.SetDefault("gmail.label_ai_digest", "AI-Digest")
	v.SetDefault("gmail.batch_size", 100)

	v.SetDefault("store.db_path", "./digest.db")
	v.SetDefault("store.processed_retention", "2160h") // 90 days
	v.SetDefault("store.sender_decay_half_life", "4320h")
	v.SetDefault("store.blob_force_path_style", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_ttl", "24h")

	v.SetDefault("cost_tracker.max_cost_per_run_usd", 5.0)
	v.SetDefault("cost_tracker.approaching_limit_pct", 0.8)
	v.SetDefault("cost_tracker.max_openai_calls", 500)
	v.SetDefault("cost_tracker.max_firecrawl_calls", 200)
	v.SetDefault("cost_tracker.max_brave_calls", 100)
	v.SetDefault("cost_tracker.max_emails_per_run", 500)

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "60s")
	v.SetDefault("circuit_breaker.half_open_max_probes", 3)

	v.SetDefault("payload.inline_threshold_bytes", 204800) // 200 KiB

	v.SetDefault("llm.provider", LLMProviderOpenAI)
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.rate_limit_rpm", 60)

	v.SetDefault("web_extract.concurrency", 5)
	v.SetDefault("web_extract.max_chars", 5000)
	v.SetDefault("web_extract.timeout_seconds", 15)

	v.SetDefault("web_search.timeout", "10s")

	v.SetDefault("mailer.smtp_port", 587)
	v.SetDefault("mailer.use_starttls", true)
	v.SetDefault("mailer.from_name", "AI Digest")

	v.SetDefault("scheduler.cron_expression", "0 8 * * 1") // Mondays 08:00
	v.SetDefault("scheduler.timezone", "UTC")

	v.SetDefault("pipeline.hard_timeout", "900s")
	v.SetDefault("pipeline.sub_batch_size", 50)
	v.SetDefault("pipeline.batch_delay", "5s")
	v.SetDefault("pipeline.retry_base_delay", "1s")
	v.SetDefault("pipeline.retry_backoff_factor", 2.0)
	v.SetDefault("pipeline.retry_max_attempts", 3)
	v.SetDefault("pipeline.retry_jitter_pct", 0.1)
	v.SetDefault("pipeline.handler_grace_period", "5s")
	v.SetDefault("pipeline.budget_stop_threshold", 0.8)
}

func setupEnvBinding(v *viper.Viper) {
	v.SetEnvPrefix("DIGEST")
	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                  "SERVER_PORT",
		"server.host":                  "SERVER_HOST",
		"logging.level":                "LOG_LEVEL",
		"logging.format":               "LOG_FORMAT",
		"gmail.client_id":              "GMAIL_CLIENT_ID",
		"gmail.client_secret":          "GMAIL_CLIENT_SECRET",
		"gmail.refresh_token":          "GMAIL_REFRESH_TOKEN",
		"gmail.redirect_url":           "GMAIL_REDIRECT_URL",
		"gmail.user_email":             "GMAIL_USER_EMAIL",
		"gmail.label_ai_digest":        "GMAIL_LABEL",
		"gmail.batch_size":             "GMAIL_BATCH_SIZE",
		"store.db_path":                "STORE_DB_PATH",
		"store.processed_retention":    "STORE_PROCESSED_RETENTION",
		"store.sender_decay_half_life": "STORE_SENDER_DECAY_HALF_LIFE",
		"store.blob_bucket":            "STORE_BLOB_BUCKET",
		"store.blob_region":            "STORE_BLOB_REGION",
		"store.blob_endpoint":          "STORE_BLOB_ENDPOINT",
		"store.blob_access_key":        "STORE_BLOB_ACCESS_KEY",
		"store.blob_secret_key":        "STORE_BLOB_SECRET_KEY",
		"store.blob_force_path_style":  "STORE_BLOB_FORCE_PATH_STYLE",
		"redis.addr":                   "REDIS_ADDR",
		"redis.password":               "REDIS_PASSWORD",
		"redis.db":                     "REDIS_DB",
		"redis.key_ttl":                "REDIS_KEY_TTL",
		"cost_tracker.max_cost_per_run_usd":  "COST_MAX_PER_RUN_USD",
		"cost_tracker.approaching_limit_pct": "COST_APPROACHING_LIMIT_PCT",
		"cost_tracker.max_openai_calls":      "COST_MAX_OPENAI_CALLS",
		"cost_tracker.max_firecrawl_calls":   "COST_MAX_FIRECRAWL_CALLS",
		"cost_tracker.max_brave_calls":       "COST_MAX_BRAVE_CALLS",
		"cost_tracker.max_emails_per_run":    "COST_MAX_EMAILS_PER_RUN",
		"circuit_breaker.failure_threshold":    "BREAKER_FAILURE_THRESHOLD",
		"circuit_breaker.reset_timeout":        "BREAKER_RESET_TIMEOUT",
		"circuit_breaker.half_open_max_probes": "BREAKER_HALF_OPEN_MAX_PROBES",
		"payload.inline_threshold_bytes": "PAYLOAD_INLINE_THRESHOLD_BYTES",
		"llm.provider":       "LLM_PROVIDER",
		"llm.model":          "LLM_MODEL",
		"llm.fast_model":     "LLM_FAST_MODEL",
		"llm.quality_model":  "LLM_QUALITY_MODEL",
		"llm.api_key":        "LLM_API_KEY",
		"llm.endpoint":       "LLM_ENDPOINT",
		"llm.timeout":        "LLM_TIMEOUT",
		"llm.temperature":    "LLM_TEMPERATURE",
		"llm.rate_limit_rpm": "LLM_RATE_LIMIT_RPM",
		"web_extract.concurrency":     "WEB_EXTRACT_CONCURRENCY",
		"web_extract.max_chars":       "WEB_EXTRACT_MAX_CHARS",
		"web_extract.timeout_seconds": "WEB_EXTRACT_TIMEOUT_SECONDS",
		"web_search.api_key": "WEB_SEARCH_API_KEY",
		"web_search.timeout": "WEB_SEARCH_TIMEOUT",
		"mailer.smtp_host":     "MAILER_SMTP_HOST",
		"mailer.smtp_port":     "MAILER_SMTP_PORT",
		"mailer.smtp_username": "MAILER_SMTP_USERNAME",
		"mailer.smtp_password": "MAILER_SMTP_PASSWORD",
		"mailer.from_address":  "MAILER_FROM_ADDRESS",
		"mailer.from_name":     "MAILER_FROM_NAME",
		"mailer.recipient":     "MAILER_RECIPIENT",
		"mailer.use_starttls":  "MAILER_USE_STARTTLS",
		"scheduler.cron_expression": "SCHEDULER_CRON",
		"scheduler.timezone":       "SCHEDULER_TIMEZONE",
		"pipeline.hard_timeout":         "PIPELINE_HARD_TIMEOUT",
		"pipeline.sub_batch_size":       "PIPELINE_SUB_BATCH_SIZE",
		"pipeline.batch_delay":          "PIPELINE_BATCH_DELAY",
		"pipeline.retry_base_delay":     "PIPELINE_RETRY_BASE_DELAY",
		"pipeline.retry_backoff_factor": "PIPELINE_RETRY_BACKOFF_FACTOR",
		"pipeline.retry_max_attempts":   "PIPELINE_RETRY_MAX_ATTEMPTS",
		"pipeline.retry_jitter_pct":     "PIPELINE_RETRY_JITTER_PCT",
		"pipeline.handler_grace_period": "PIPELINE_HANDLER_GRACE_PERIOD",
		"pipeline.budget_stop_threshold": "PIPELINE_BUDGET_STOP_THRESHOLD",
	}

	for configKey, envSuffix := range bindings {
		v.BindEnv(configKey, "DIGEST_"+envSuffix)
	}
}

func loadConfigFile(v *viper.Viper) error {
	if v.ConfigFileUsed() == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.ai-digest")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// unmarshalConfig maps Viper keys to struct fields explicitly, the way the
// teacher's unmarshalServerConfig does, rather than relying on mapstructure
// tag inference.
func unmarshalConfig(v *viper.Viper, cfg *Config) error {
	cfg.Server.Port = v.GetString("server.port")
	cfg.Server.Host = v.GetString("server.host")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")

	cfg.Gmail.ClientID = v.GetString("gmail.client_id")
	cfg.Gmail.ClientSecret = v.GetString("gmail.client_secret")
	cfg.Gmail.RefreshToken = v.GetString("gmail.refresh_token")
	cfg.Gmail.RedirectURL = v.GetString("gmail.redirect_url")
	cfg.Gmail.UserEmail = v.GetString("gmail.user_email")
	cfg.Gmail.LabelAIDigest = v.GetString("gmail.label_ai_digest")
	cfg.Gmail.BatchSize = v.GetInt("gmail.batch_size")

	cfg.Store.DBPath = v.GetString("store.db_path")
	cfg.Store.BlobBucket = v.GetString("store.blob_bucket")
	cfg.Store.BlobRegion = v.GetString("store.blob_region")
	cfg.Store.BlobEndpoint = v.GetString("store.blob_endpoint")
	cfg.Store.BlobAccessKey = v.GetString("store.blob_access_key")
	cfg.Store.BlobSecretKey = v.GetString("store.blob_secret_key")
	cfg.Store.BlobForcePath = v.GetBool("store.blob_force_path_style")

	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")

	cfg.CostTracker.MaxCostPerRunUSD = v.GetFloat64("cost_tracker.max_cost_per_run_usd")
	cfg.CostTracker.ApproachingPct = v.GetFloat64("cost_tracker.approaching_limit_pct")
	cfg.CostTracker.MaxOpenAICalls = v.GetInt("cost_tracker.max_openai_calls")
	cfg.CostTracker.MaxFirecrawlCalls = v.GetInt("cost_tracker.max_firecrawl_calls")
	cfg.CostTracker.MaxBraveCalls = v.GetInt("cost_tracker.max_brave_calls")
	cfg.CostTracker.MaxEmailsPerRun = v.GetInt("cost_tracker.max_emails_per_run")

	cfg.CircuitBreaker.FailureThreshold = v.GetInt("circuit_breaker.failure_threshold")
	cfg.CircuitBreaker.HalfOpenMaxProbes = v.GetInt("circuit_breaker.half_open_max_probes")

	cfg.Payload.InlineThresholdBytes = v.GetInt("payload.inline_threshold_bytes")

	cfg.LLM.Provider = v.GetString("llm.provider")
	cfg.LLM.Model = v.GetString("llm.model")
	cfg.LLM.FastModel = v.GetString("llm.fast_model")
	cfg.LLM.QualityModel = v.GetString("llm.quality_model")
	cfg.LLM.APIKey = v.GetString("llm.api_key")
	cfg.LLM.Endpoint = v.GetString("llm.endpoint")
	cfg.LLM.Temperature = v.GetFloat64("llm.temperature")
	cfg.LLM.RateLimitRPM = v.GetInt("llm.rate_limit_rpm")

	cfg.WebExtract.Concurrency = v.GetInt("web_extract.concurrency")
	cfg.WebExtract.MaxChars = v.GetInt("web_extract.max_chars")
	cfg.WebExtract.TimeoutSeconds = v.GetInt("web_extract.timeout_seconds")

	cfg.WebSearch.APIKey = v.GetString("web_search.api_key")

	cfg.Mailer.SMTPHost = v.GetString("mailer.smtp_host")
	cfg.Mailer.SMTPPort = v.GetInt("mailer.smtp_port")
	cfg.Mailer.SMTPUsername = v.GetString("mailer.smtp_username")
	cfg.Mailer.SMTPPassword = v.GetString("mailer.smtp_password")
	cfg.Mailer.FromAddress = v.GetString("mailer.from_address")
	cfg.Mailer.FromName = v.GetString("mailer.from_name")
	cfg.Mailer.Recipient = v.GetString("mailer.recipient")
	cfg.Mailer.UseSTARTTLS = v.GetBool("mailer.use_starttls")

	cfg.Scheduler.CronExpression = v.GetString("scheduler.cron_expression")
	cfg.Scheduler.Timezone = v.GetString("scheduler.timezone")

	cfg.Pipeline.SubBatchSize = v.GetInt("pipeline.sub_batch_size")
	cfg.Pipeline.RetryMaxAttempts = v.GetInt("pipeline.retry_max_attempts")
	cfg.Pipeline.RetryBackoffFactor = v.GetFloat64("pipeline.retry_backoff_factor")
	cfg.Pipeline.RetryJitterPct = v.GetFloat64("pipeline.retry_jitter_pct")
	cfg.Pipeline.BudgetStopThreshold = v.GetFloat64("pipeline.budget_stop_threshold")

	var err error
	cfg.Store.ProcessedRetention, err = time.ParseDuration(v.GetString("store.processed_retention"))
	if err != nil {
		return fmt.Errorf("invalid store.processed_retention: %w", err)
	}
	cfg.Store.SenderDecayHalfLife, err = time.ParseDuration(v.GetString("store.sender_decay_half_life"))
	if err != nil {
		return fmt.Errorf("invalid store.sender_decay_half_life: %w", err)
	}
	cfg.Redis.KeyTTL, err = time.ParseDuration(v.GetString("redis.key_ttl"))
	if err != nil {
		return fmt.Errorf("invalid redis.key_ttl: %w", err)
	}
	cfg.CircuitBreaker.ResetTimeout, err = time.ParseDuration(v.GetString("circuit_breaker.reset_timeout"))
	if err != nil {
		return fmt.Errorf("invalid circuit_breaker.reset_timeout: %w", err)
	}
	cfg.LLM.Timeout, err = time.ParseDuration(v.GetString("llm.timeout"))
	if err != nil {
		return fmt.Errorf("invalid llm.timeout: %w", err)
	}
	cfg.WebSearch.Timeout, err = time.ParseDuration(v.GetString("web_search.timeout"))
	if err != nil {
		return fmt.Errorf("invalid web_search.timeout: %w", err)
	}
	cfg.Pipeline.HardTimeout, err = time.ParseDuration(v.GetString("pipeline.hard_timeout"))
	if err != nil {
		return fmt.Errorf("invalid pipeline.hard_timeout: %w", err)
	}
	cfg.Pipeline.BatchDelay, err = time.ParseDuration(v.GetString("pipeline.batch_delay"))
	if err != nil {
		return fmt.Errorf("invalid pipeline.batch_delay: %w", err)
	}
	cfg.Pipeline.RetryBaseDelay, err = time.ParseDuration(v.GetString("pipeline.retry_base_delay"))
	if err != nil {
		return fmt.Errorf("invalid pipeline.retry_base_delay: %w", err)
	}
	cfg.Pipeline.HandlerGracePeriod, err = time.ParseDuration(v.GetString("pipeline.handler_grace_period"))
	if err != nil {
		return fmt.Errorf("invalid pipeline.handler_grace_period: %w", err)
	}

	return nil
}

// setComputedDefaults fills in values that depend on other fields, the way
// email_config.go's SetDefaults() picks a model name based on the provider.
func (c *Config) setComputedDefaults() {
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case LLMProviderOpenAI:
			c.LLM.Model = "gpt-4o-mini"
		case LLMProviderLocal:
			c.LLM.Model = "llama3"
		}
	}
	// Fast and quality tiers default to the single configured model unless
	// the operator splits them out explicitly (e.g. gpt-4o-mini vs gpt-4o).
	if c.LLM.FastModel == "" {
		c.LLM.FastModel = c.LLM.Model
	}
	if c.LLM.QualityModel == "" {
		if c.LLM.Provider == LLMProviderOpenAI {
			c.LLM.QualityModel = "gpt-4o"
		} else {
			c.LLM.QualityModel = c.LLM.Model
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path is required")
	}
	if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" {
		return fmt.Errorf("gmail.client_id and gmail.client_secret are required")
	}
	if c.CostTracker.MaxCostPerRunUSD <= 0 {
		return fmt.Errorf("cost_tracker.max_cost_per_run_usd must be positive")
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.Payload.InlineThresholdBytes <= 0 {
		return fmt.Errorf("payload.inline_threshold_bytes must be positive")
	}
	if c.LLM.Provider == LLMProviderOpenAI && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", LLMProviderOpenAI)
	}
	if c.Mailer.Recipient == "" {
		return fmt.Errorf("mailer.recipient is required")
	}
	if c.Pipeline.RetryMaxAttempts < 1 {
		return fmt.Errorf("pipeline.retry_max_attempts must be at least 1")
	}
	if c.Pipeline.BudgetStopThreshold <= 0 || c.Pipeline.BudgetStopThreshold > 1 {
		return fmt.Errorf("pipeline.budget_stop_threshold must be in (0, 1]")
	}
	return nil
}

// Address returns the host:port the HTTP server should bind to.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// ToJSON serializes the configuration with secrets redacted, for debug logging.
func (c *Config) ToJSON() (string, error) {
	safe := *c
	safe.Gmail.ClientSecret = redact(safe.Gmail.ClientSecret)
	safe.Gmail.RefreshToken = redact(safe.Gmail.RefreshToken)
	safe.Store.BlobSecretKey = redact(safe.Store.BlobSecretKey)
	safe.Redis.Password = redact(safe.Redis.Password)
	safe.LLM.APIKey = redact(safe.LLM.APIKey)
	safe.WebSearch.APIKey = redact(safe.WebSearch.APIKey)
	safe.Mailer.SMTPPassword = redact(safe.Mailer.SMTPPassword)

	data, err := json.MarshalIndent(safe, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}
