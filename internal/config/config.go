package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Sheet       SheetConfig       `yaml:"sheet" mapstructure:"sheet"`
	Glossary    GlossaryConfig    `yaml:"glossary" mapstructure:"glossary"`
	Gemini      GeminiConfig      `yaml:"gemini" mapstructure:"gemini"`
	OpenAI      OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Routing     RoutingConfig     `yaml:"routing" mapstructure:"routing"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Run         RunConfig         `yaml:"run" mapstructure:"run"`
	Throttle    ThrottleConfig    `yaml:"throttle" mapstructure:"throttle"`
	Notify      NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Credentials map[string]string `yaml:"credentials" mapstructure:"credentials"`
}

// StoreConfig configures the run-state database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SheetConfig points at the article workbook and its column layout.
type SheetConfig struct {
	Path       string        `yaml:"path" mapstructure:"path"`
	Names      []string      `yaml:"names" mapstructure:"names"`
	StartRow   int           `yaml:"start_row" mapstructure:"start_row"`
	WindowRows int           `yaml:"window_rows" mapstructure:"window_rows"`
	Columns    ColumnsConfig `yaml:"columns" mapstructure:"columns"`
}

// ColumnsConfig maps row fields to column letters.
type ColumnsConfig struct {
	Marker       string `yaml:"marker" mapstructure:"marker"`
	Media        string `yaml:"media" mapstructure:"media"`
	Title        string `yaml:"title" mapstructure:"title"`
	Body         string `yaml:"body" mapstructure:"body"`
	URL          string `yaml:"url" mapstructure:"url"`
	HeadlineA    string `yaml:"headline_a" mapstructure:"headline_a"`
	HeadlineBAlt string `yaml:"headline_b_alt" mapstructure:"headline_b_alt"`
	Summary      string `yaml:"summary" mapstructure:"summary"`
	Status       string `yaml:"status" mapstructure:"status"`
}

// GlossaryConfig locates the region glossary (XLSX sheet or YAML file).
type GlossaryConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Sheet string `yaml:"sheet" mapstructure:"sheet"`
}

// GeminiConfig holds primary provider settings.
type GeminiConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OpenAIConfig holds fallback provider settings.
type OpenAIConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	Model        string `yaml:"model" mapstructure:"model"`
	KeyName      string `yaml:"key_name" mapstructure:"key_name"`
	StrictSchema bool   `yaml:"strict_schema" mapstructure:"strict_schema"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RoutingConfig maps sheets and media names to primary-provider key names.
type RoutingConfig struct {
	SheetPrefixes map[string]string   `yaml:"sheet_prefixes" mapstructure:"sheet_prefixes"`
	DefaultPrefix string              `yaml:"default_prefix" mapstructure:"default_prefix"`
	MediaKeys     map[string]string   `yaml:"media_keys" mapstructure:"media_keys"`
	DefaultBase   string              `yaml:"default_base" mapstructure:"default_base"`
	Rotation      map[string][]string `yaml:"rotation" mapstructure:"rotation"`
	DailyCap      int                 `yaml:"daily_cap" mapstructure:"daily_cap"`
}

// RetryConfig configures per-chunk provider retries.
type RetryConfig struct {
	MaxRetries          int      `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs         int      `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs          int      `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	JitterMs            int      `yaml:"jitter_ms" mapstructure:"jitter_ms"`
	QuotaSignatures     []string `yaml:"quota_signatures" mapstructure:"quota_signatures"`
	TransientSignatures []string `yaml:"transient_signatures" mapstructure:"transient_signatures"`
}

// BatchConfig configures chunk packing and prompt building.
type BatchConfig struct {
	TokenBudget   int     `yaml:"token_budget" mapstructure:"token_budget"`
	CharsPerToken float64 `yaml:"chars_per_token" mapstructure:"chars_per_token"`
	BodyMaxChars  int     `yaml:"body_max_chars" mapstructure:"body_max_chars"`
}

// RunConfig configures a single scheduled invocation.
type RunConfig struct {
	MaxRows         int    `yaml:"max_rows" mapstructure:"max_rows"`
	PrimaryCeiling  int    `yaml:"primary_ceiling" mapstructure:"primary_ceiling"`
	FallbackCeiling int    `yaml:"fallback_ceiling" mapstructure:"fallback_ceiling"`
	LockWaitSecs    int    `yaml:"lock_wait_secs" mapstructure:"lock_wait_secs"`
	LockTTLSecs     int    `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
	WindowStart     string `yaml:"window_start" mapstructure:"window_start"`
	WindowEnd       string `yaml:"window_end" mapstructure:"window_end"`
	Timezone        string `yaml:"timezone" mapstructure:"timezone"`
}

// ThrottleConfig bounds the aggregate provider request rate.
type ThrottleConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	RPM           int `yaml:"rpm" mapstructure:"rpm"`
}

// NotifyConfig configures completion notifications.
type NotifyConfig struct {
	WebhookURL string   `yaml:"webhook_url" mapstructure:"webhook_url"`
	To         []string `yaml:"to" mapstructure:"to"`
	Subject    string   `yaml:"subject" mapstructure:"subject"`
}

// ServerConfig configures the trigger server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	IntervalMins   int      `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Location resolves the configured reference time zone.
func (c RunConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", c.Timezone)
	}
	return loc, nil
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional ./config.yaml; an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("MNA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "translate-runner.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.interval_mins", 0)
	v.SetDefault("sheet.path", "articles.xlsx")
	v.SetDefault("sheet.names", []string{"prod"})
	v.SetDefault("sheet.start_row", 2)
	v.SetDefault("sheet.window_rows", 300)
	v.SetDefault("sheet.columns.marker", "A")
	v.SetDefault("sheet.columns.media", "C")
	v.SetDefault("sheet.columns.headline_a", "E")
	v.SetDefault("sheet.columns.headline_b_alt", "G")
	v.SetDefault("sheet.columns.summary", "I")
	v.SetDefault("sheet.columns.url", "J")
	v.SetDefault("sheet.columns.title", "M")
	v.SetDefault("sheet.columns.body", "N")
	v.SetDefault("sheet.columns.status", "P")
	v.SetDefault("glossary.sheet", "regions")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.temperature", 0.2)
	v.SetDefault("gemini.timeout_secs", 120)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1-mini")
	v.SetDefault("openai.key_name", "OPENAI_API_KEY")
	v.SetDefault("openai.strict_schema", true)
	v.SetDefault("openai.timeout_secs", 120)
	v.SetDefault("routing.sheet_prefixes", map[string]string{
		"prod": "GEMINI_API_KEY_",
		"dev":  "GEMINI_API_TEST_KEY_",
	})
	v.SetDefault("routing.default_prefix", "GEMINI_API_KEY_")
	v.SetDefault("routing.media_keys", map[string]string{
		"bbc":               "BBC",
		"bbc burmese":       "BBC",
		"mizzima":           "MIZZIMA",
		"mizzima burmese":   "MIZZIMA",
		"mizzima (burmese)": "MIZZIMA",
		"khit thit":         "KHITTHIT",
		"khit thit media":   "KHITTHIT",
		"myanmar now":       "MYANMARNOW",
		"myanmar now (mm)":  "MYANMARNOW",
		"dvb":               "DVB",
		"irrawaddy":         "IRRAWADDY",
	})
	v.SetDefault("routing.default_base", "MIZZIMA")
	v.SetDefault("routing.daily_cap", 200)
	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 16000)
	v.SetDefault("retry.jitter_ms", 1000)
	v.SetDefault("retry.quota_signatures", []string{
		"insufficient_quota",
		"exceeded your current quota",
		"quota exceeded for quota metric",
	})
	v.SetDefault("retry.transient_signatures", []string{
		"unavailable",
		"overloaded",
		"resource_exhausted",
		"rate limit",
		"deadline_exceeded",
		"internal error",
		"try again",
		"timeout",
	})
	v.SetDefault("batch.token_budget", 6000)
	v.SetDefault("batch.chars_per_token", 2.5)
	v.SetDefault("batch.body_max_chars", 1800)
	v.SetDefault("run.max_rows", 10)
	v.SetDefault("run.primary_ceiling", 3)
	v.SetDefault("run.fallback_ceiling", 2)
	v.SetDefault("run.lock_wait_secs", 30)
	v.SetDefault("run.lock_ttl_secs", 900)
	v.SetDefault("run.window_start", "05:00")
	v.SetDefault("run.window_end", "23:30")
	v.SetDefault("run.timezone", "Asia/Yangon")
	v.SetDefault("throttle.min_interval_ms", 4000)
	v.SetDefault("throttle.rpm", 10)
	v.SetDefault("notify.subject", "[MNA] translation complete")

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
