package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MailboxConfig selects the mailbox implementation
type MailboxConfig struct {
	Type string
}

// IMAPConfig represents the configuration for the IMAP mailbox
type IMAPConfig struct {
	Address       string
	Username      string
	Password      string
	Mailbox       string
	ProcessedFlag string
	Timeout       time.Duration
}

// SMTPConfig represents the configuration for the SMTP intake mailbox
type SMTPConfig struct {
	ListenAddress   string
	Domain          string
	MaxMessageBytes int64
	SpoolSize       int
}

// PollConfig represents the poll loop configuration
type PollConfig struct {
	SubjectFilter        string
	CheckInterval        time.Duration
	RetryInterval        time.Duration
	MarkProcessed        bool
	MarkUnparseable      bool
	RunOnce              bool
	AllowedSenderDomains []string
}

// ExtractionConfig represents the configuration for event extraction
type ExtractionConfig struct {
	MaxBodyChars  int
	Timezone      string
	EventPrefix   string
	MinConfidence float64
}

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider          string
	Timeout           time.Duration
	RequestsPerMinute int
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// OpenAIConfig represents the configuration for an OpenAI-compatible API
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	BaseURL     string
	Referer     string
	AppTitle    string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GoogleConfig represents the configuration for Google Calendar
type GoogleConfig struct {
	Enabled         bool
	CredentialsFile string
	TokenFile       string
	CalendarName    string
	Timeout         time.Duration
}

// CalDAVConfig represents the configuration for a CalDAV server
type CalDAVConfig struct {
	Enabled       bool
	URL           string
	Username      string
	Password      string
	CalendarName  string
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
}

// BreakerConfig represents the calendar circuit breaker configuration
type BreakerConfig struct {
	Enabled     bool
	MaxFailures uint32
	OpenTimeout time.Duration
}

// CacheConfig represents the extraction cache configuration
type CacheConfig struct {
	Type             string
	Enabled          bool
	TTL              time.Duration
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
	RedisAddress     string
	RedisPassword    string
	RedisDB          int
	RedisKeyPrefix   string
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// MetricsConfig represents the metrics endpoint configuration
type MetricsConfig struct {
	ListenAddress string
}

// GetMailbox returns the mailbox configuration
func (c *Config) GetMailbox() MailboxConfig {
	return MailboxConfig{
		Type: strings.ToLower(c.GetString("mailbox.type")),
	}
}

// GetIMAP returns the IMAP configuration
func (c *Config) GetIMAP() IMAPConfig {
	timeout, _ := c.GetDuration("imap.timeout")
	return IMAPConfig{
		Address:       c.GetString("imap.address"),
		Username:      c.GetString("imap.username"),
		Password:      c.GetString("imap.password"),
		Mailbox:       c.GetString("imap.mailbox"),
		ProcessedFlag: c.GetString("imap.processed_flag"),
		Timeout:       timeout,
	}
}

// GetSMTP returns the SMTP intake configuration
func (c *Config) GetSMTP() SMTPConfig {
	return SMTPConfig{
		ListenAddress:   c.GetString("smtp.listen_address"),
		Domain:          c.GetString("smtp.domain"),
		MaxMessageBytes: int64(c.GetInt("smtp.max_message_bytes")),
		SpoolSize:       c.GetInt("smtp.spool_size"),
	}
}

// GetPoll returns the poll loop configuration
func (c *Config) GetPoll() (PollConfig, error) {
	checkInterval, err := c.GetSeconds("poll.check_interval")
	if err != nil {
		return PollConfig{}, err
	}
	retryInterval, err := c.GetSeconds("poll.retry_interval")
	if err != nil {
		return PollConfig{}, err
	}

	markProcessed := c.GetBool("poll.mark_processed")
	markUnparseable := markProcessed
	if c.IsSet("poll.mark_unparseable") {
		markUnparseable = c.GetBool("poll.mark_unparseable")
	}

	return PollConfig{
		SubjectFilter:        c.GetString("poll.subject_filter"),
		CheckInterval:        checkInterval,
		RetryInterval:        retryInterval,
		MarkProcessed:        markProcessed,
		MarkUnparseable:      markUnparseable,
		RunOnce:              c.GetBool("poll.run_once"),
		AllowedSenderDomains: c.GetStringSlice("poll.allowed_sender_domains"),
	}, nil
}

// GetExtraction returns the extraction configuration
func (c *Config) GetExtraction() ExtractionConfig {
	return ExtractionConfig{
		MaxBodyChars:  c.GetInt("extraction.max_body_chars"),
		Timezone:      c.GetString("extraction.timezone"),
		EventPrefix:   c.GetString("extraction.event_prefix"),
		MinConfidence: c.GetFloat64("extraction.min_confidence"),
	}
}

// Location resolves the configured IANA timezone
func (e ExtractionConfig) Location() (*time.Location, error) {
	name := e.Timezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	timeout, _ := c.GetDuration("llm.timeout")
	return LLMConfig{
		Provider:          strings.ToLower(c.GetString("llm.provider")),
		Timeout:           timeout,
		RequestsPerMinute: c.GetInt("llm.requests_per_minute"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		BaseURL:     c.GetString("openai.base_url"),
		Referer:     c.GetString("openai.referer"),
		AppTitle:    c.GetString("openai.app_title"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
	}
}

// GetGoogle returns the Google Calendar configuration
func (c *Config) GetGoogle() GoogleConfig {
	timeout, _ := c.GetDuration("google.timeout")
	return GoogleConfig{
		Enabled:         c.GetBool("google.enabled"),
		CredentialsFile: c.GetString("google.credentials_file"),
		TokenFile:       c.GetString("google.token_file"),
		CalendarName:    c.GetString("google.calendar_name"),
		Timeout:         timeout,
	}
}

// GetCalDAV returns the CalDAV configuration
func (c *Config) GetCalDAV() CalDAVConfig {
	retryDelay, _ := c.GetSeconds("caldav.retry_delay")
	timeout, _ := c.GetDuration("caldav.timeout")
	return CalDAVConfig{
		Enabled:       c.GetBool("caldav.enabled"),
		URL:           c.GetString("caldav.url"),
		Username:      c.GetString("caldav.username"),
		Password:      c.GetString("caldav.password"),
		CalendarName:  c.GetString("caldav.calendar_name"),
		RetryAttempts: c.GetInt("caldav.retry_attempts"),
		RetryDelay:    retryDelay,
		Timeout:       timeout,
	}
}

// GetBreaker returns the calendar circuit breaker configuration
func (c *Config) GetBreaker() BreakerConfig {
	openTimeout, _ := c.GetDuration("calendar.breaker.open_timeout")
	return BreakerConfig{
		Enabled:     c.GetBool("calendar.breaker.enabled"),
		MaxFailures: uint32(c.GetInt("calendar.breaker.max_failures")),
		OpenTimeout: openTimeout,
	}
}

// GetCache returns the cache configuration
func (c *Config) GetCache() (CacheConfig, error) {
	ttl, err := c.GetDuration("cache.ttl")
	if err != nil {
		return CacheConfig{}, err
	}
	cleanup, err := c.GetDuration("cache.cleanup_frequency")
	if err != nil {
		return CacheConfig{}, err
	}
	return CacheConfig{
		Type:             strings.ToLower(c.GetString("cache.type")),
		Enabled:          c.GetBool("cache.enabled"),
		TTL:              ttl,
		CleanupFrequency: cleanup,
		SQLitePath:       c.GetString("cache.sqlite_path"),
		MySQLDSN:         c.GetString("cache.mysql_dsn"),
		RedisAddress:     c.GetString("cache.redis_address"),
		RedisPassword:    c.GetString("cache.redis_password"),
		RedisDB:          c.GetInt("cache.redis_db"),
		RedisKeyPrefix:   c.GetString("cache.redis_key_prefix"),
	}, nil
}

// GetLogging returns the logging configuration
func (c *Config) GetLogging() LoggingConfig {
	return LoggingConfig{
		Level:  strings.ToLower(c.GetString("logging.level")),
		Format: strings.ToLower(c.GetString("logging.format")),
		File:   c.GetString("logging.file"),
	}
}

// GetMetrics returns the metrics endpoint configuration
func (c *Config) GetMetrics() MetricsConfig {
	return MetricsConfig{
		ListenAddress: c.GetString("metrics.listen_address"),
	}
}

// Validate checks the settings every run depends on. Credentials for a
// specific backend are checked when that backend is built.
func (c *Config) Validate() error {
	var errs []error

	switch c.GetMailbox().Type {
	case "imap", "smtp":
	default:
		errs = append(errs, fmt.Errorf("unsupported mailbox type: %s", c.GetMailbox().Type))
	}

	switch c.GetLLM().Provider {
	case "openai", "gemini", "bedrock":
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider: %s", c.GetLLM().Provider))
	}
	if _, err := c.GetDuration("llm.timeout"); err != nil {
		errs = append(errs, err)
	}

	poll, err := c.GetPoll()
	if err != nil {
		errs = append(errs, err)
	} else if poll.CheckInterval <= 0 && !poll.RunOnce {
		errs = append(errs, errors.New("poll.check_interval must be positive"))
	}

	extraction := c.GetExtraction()
	if _, err := extraction.Location(); err != nil {
		errs = append(errs, err)
	}
	if extraction.MinConfidence < 0 || extraction.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("extraction.min_confidence must be within [0, 1], got %v", extraction.MinConfidence))
	}

	if _, err := c.GetCache(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
