package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// legacyEnv maps configuration keys to the environment names used by
// existing deployments. The MAIL2CAL_ prefixed form is always accepted too.
var legacyEnv = map[string]string{
	"mailbox.type":                "MAILBOX_TYPE",
	"imap.address":                "IMAP_ADDRESS",
	"imap.username":               "GMAIL_USER",
	"imap.password":               "GMAIL_APP_PASSWORD",
	"imap.mailbox":                "IMAP_MAILBOX",
	"imap.processed_flag":         "IMAP_PROCESSED_FLAG",
	"smtp.listen_address":         "SMTP_LISTEN_ADDRESS",
	"poll.subject_filter":         "SEARCH_SUBJECT",
	"poll.check_interval":         "CHECK_INTERVAL",
	"poll.retry_interval":         "RETRY_INTERVAL",
	"poll.mark_processed":         "MARK_AS_PROCESSED",
	"poll.mark_unparseable":       "MARK_UNPARSEABLE",
	"poll.run_once":               "RUN_ONCE",
	"poll.allowed_sender_domains": "ALLOWED_SENDER_DOMAINS",
	"extraction.max_body_chars":   "MAX_EMAIL_BODY_CHARS",
	"extraction.timezone":         "TIMEZONE",
	"extraction.event_prefix":     "EVENT_PREFIX",
	"extraction.min_confidence":   "MIN_CONFIDENCE",
	"llm.provider":                "LLM_PROVIDER",
	"llm.timeout":                 "LLM_TIMEOUT",
	"llm.requests_per_minute":     "LLM_REQUESTS_PER_MINUTE",
	"openai.api_key":              "OPENROUTER_API_KEY",
	"openai.model_name":           "OPENROUTER_MODEL",
	"openai.base_url":             "OPENAI_BASE_URL",
	"gemini.api_key":              "GEMINI_API_KEY",
	"google.enabled":              "ENABLE_GOOGLE_CALENDAR",
	"google.credentials_file":     "GOOGLE_CREDENTIALS_FILE",
	"google.token_file":           "GOOGLE_TOKEN_FILE",
	"google.calendar_name":        "GOOGLE_CALENDAR_NAME",
	"caldav.enabled":              "ENABLE_CALDAV",
	"caldav.url":                  "CALDAV_URL",
	"caldav.username":             "CALDAV_USERNAME",
	"caldav.password":             "CALDAV_PASSWORD",
	"caldav.calendar_name":        "CALENDAR_NAME",
	"caldav.retry_attempts":       "CALDAV_RETRY_ATTEMPTS",
	"caldav.retry_delay":          "CALDAV_RETRY_DELAY",
	"calendar.breaker.enabled":    "CALENDAR_BREAKER_ENABLED",
	"cache.type":                  "CACHE_TYPE",
	"cache.enabled":               "CACHE_ENABLED",
	"cache.ttl":                   "CACHE_TTL",
	"logging.level":               "LOG_LEVEL",
	"logging.format":              "LOG_FORMAT",
	"logging.file":                "LOG_FILE",
	"metrics.listen_address":      "METRICS_LISTEN_ADDRESS",
}

const envPrefix = "MAIL2CAL"

// Load creates a configuration instance. An explicit path must exist;
// otherwise the default search paths are tried and a missing file is fine.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mail2cal/")
		v.AddConfigPath("$HOME/.mail2cal")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Set defaults
	setDefaults(v)

	// Environment variables
	bindEnv(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		// Explicit names replace the automatic one, so both are listed
		_ = v.BindEnv(key, prefixed, legacy)
	}
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Mailbox defaults
	v.SetDefault("mailbox.type", "imap")

	v.SetDefault("imap.address", "imap.gmail.com:993")
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.processed_flag", `\Seen`)
	v.SetDefault("imap.timeout", "30s")

	v.SetDefault("smtp.listen_address", "0.0.0.0:2525")
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("smtp.max_message_bytes", 10*1024*1024)
	v.SetDefault("smtp.spool_size", 1000)

	// Poll defaults
	v.SetDefault("poll.subject_filter", "Meeting Request")
	v.SetDefault("poll.check_interval", 60)
	v.SetDefault("poll.retry_interval", 60)
	v.SetDefault("poll.mark_processed", true)
	v.SetDefault("poll.run_once", false)
	v.SetDefault("poll.allowed_sender_domains", []string{})

	// Extraction defaults
	v.SetDefault("extraction.max_body_chars", 3000)
	v.SetDefault("extraction.timezone", "UTC")
	v.SetDefault("extraction.event_prefix", "")
	v.SetDefault("extraction.min_confidence", 0.0)

	// LLM provider defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.requests_per_minute", 0)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)

	// OpenAI-compatible defaults (OpenRouter)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "openai/gpt-3.5-turbo")
	v.SetDefault("openai.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openai.referer", "https://github.com/mikey/mail2cal")
	v.SetDefault("openai.app_title", "mail2cal")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 1.0)

	// Google Calendar defaults
	v.SetDefault("google.enabled", true)
	v.SetDefault("google.credentials_file", "./credentials/credentials.json")
	v.SetDefault("google.token_file", "./credentials/token.json")
	v.SetDefault("google.calendar_name", "primary")
	v.SetDefault("google.timeout", "30s")

	// CalDAV defaults
	v.SetDefault("caldav.enabled", true)
	v.SetDefault("caldav.url", "http://localhost:5232")
	v.SetDefault("caldav.username", "")
	v.SetDefault("caldav.password", "")
	v.SetDefault("caldav.calendar_name", "default")
	v.SetDefault("caldav.retry_attempts", 5)
	v.SetDefault("caldav.retry_delay", 10)
	v.SetDefault("caldav.timeout", "30s")

	// Circuit breaker defaults
	v.SetDefault("calendar.breaker.enabled", true)
	v.SetDefault("calendar.breaker.max_failures", 5)
	v.SetDefault("calendar.breaker.open_timeout", "5m")

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.cleanup_frequency", "1h")
	v.SetDefault("cache.sqlite_path", "./data/mail2cal_cache.db")
	v.SetDefault("cache.mysql_dsn", "user:password@tcp(localhost:3306)/mail2cal")
	v.SetDefault("cache.redis_address", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_key_prefix", "mail2cal:extraction:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	// Metrics defaults
	v.SetDefault("metrics.listen_address", "")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// IsSet reports whether a key was set by a file, the environment or a flag
func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key)
}

// GetStringSlice gets a string slice value from the configuration.
// A single comma-separated string, as found in environment variables,
// is split.
func (c *Config) GetStringSlice(key string) []string {
	values := c.v.GetStringSlice(key)
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// GetSeconds reads a duration given either as a bare number of seconds
// or as a Go duration string
func (c *Config) GetSeconds(key string) (time.Duration, error) {
	raw := strings.TrimSpace(c.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	seconds := c.v.GetFloat64(key)
	if seconds == 0 && raw != "0" {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, raw)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
