package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// scheduleParser accepts 5-field cron expressions and descriptors such as
// "@daily". Validate and the digest scheduler both parse with it.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a digest schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(strings.TrimSpace(spec))
}

const defaultRemoteTimeout = 30 * time.Second
const defaultRemoteTimeoutSeconds = int(defaultRemoteTimeout / time.Second)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const maxRemoteRetries = 5

type Config struct {
	RemoteProvider       string `yaml:"remote_provider"`
	RemoteModel          string `yaml:"remote_model"`
	GeminiAPIKey         string `yaml:"gemini_api_key"`
	GeminiBaseURL        string `yaml:"gemini_base_url"`
	AnthropicAPIKey      string `yaml:"anthropic_api_key"`
	OpenAIAPIKey         string `yaml:"openai_api_key"`
	RemoteTimeoutSeconds int    `yaml:"remote_timeout_seconds"`
	RemoteMaxRetries     int    `yaml:"remote_max_retries"`

	LocalModelPath string `yaml:"local_model_path"`

	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`

	SlackBotToken        string `yaml:"slack_bot_token"`
	SlackAppToken        string `yaml:"slack_app_token"`
	SlackDigestChannelID string `yaml:"slack_digest_channel_id"`
	DigestSchedule       string `yaml:"digest_schedule"`
	Timezone             string `yaml:"timezone"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Load reads config.yaml (or $CONFIG_PATH), applies environment overrides and
// defaults, and validates the result. A missing file is not an error.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	envOverride(&cfg.RemoteProvider, "REMOTE_PROVIDER")
	envOverride(&cfg.RemoteModel, "REMOTE_MODEL")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&cfg.GeminiBaseURL, "GEMINI_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	if err := envOverrideInt(&cfg.RemoteTimeoutSeconds, "REMOTE_TIMEOUT_SECONDS"); err != nil {
		return Config{}, err
	}
	if err := envOverrideInt(&cfg.RemoteMaxRetries, "REMOTE_MAX_RETRIES"); err != nil {
		return Config{}, err
	}
	envOverride(&cfg.LocalModelPath, "LOCAL_MODEL_PATH")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.SlackDigestChannelID, "SLACK_DIGEST_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.RemoteProvider = strings.ToLower(strings.TrimSpace(c.RemoteProvider))
	if c.RemoteProvider == "" {
		c.RemoteProvider = ProviderGemini
	}
	if c.RemoteTimeoutSeconds == 0 {
		c.RemoteTimeoutSeconds = defaultRemoteTimeoutSeconds
	}
	if c.LocalModelPath == "" {
		c.LocalModelPath = "./models/distilbert-sst2"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks value ranges and cross-field constraints. It also resolves
// Location from Timezone.
func (c *Config) Validate() error {
	switch c.RemoteProvider {
	case ProviderGemini, ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("remote_provider must be 'gemini', 'anthropic' or 'openai', got '%s'", c.RemoteProvider)
	}
	if c.RemoteTimeoutSeconds < 1 {
		return fmt.Errorf("invalid remote_timeout_seconds '%d': must be >= 1", c.RemoteTimeoutSeconds)
	}
	if c.RemoteMaxRetries < 0 || c.RemoteMaxRetries > maxRemoteRetries {
		return fmt.Errorf("invalid remote_max_retries '%d': must be between 0 and %d", c.RemoteMaxRetries, maxRemoteRetries)
	}
	if (c.SlackBotToken == "") != (c.SlackAppToken == "") {
		return fmt.Errorf("slack_bot_token and slack_app_token must be set together")
	}
	if schedule := strings.TrimSpace(c.DigestSchedule); schedule != "" {
		if _, err := ParseSchedule(schedule); err != nil {
			return fmt.Errorf("invalid digest_schedule '%s': %w", schedule, err)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be 'text' or 'json', got '%s'", c.LogFormat)
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}
	return nil
}

// RemoteAPIKey returns the credential of the selected remote provider.
func (c Config) RemoteAPIKey() string {
	switch c.RemoteProvider {
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	default:
		return c.GeminiAPIKey
	}
}

// SetRemoteAPIKey overrides the credential of the selected provider, e.g.
// from --api-key.
func (c *Config) SetRemoteAPIKey(key string) {
	switch c.RemoteProvider {
	case ProviderAnthropic:
		c.AnthropicAPIKey = key
	case ProviderOpenAI:
		c.OpenAIAPIKey = key
	default:
		c.GeminiAPIKey = key
	}
}

func (c Config) RemoteEnabled() bool {
	return strings.TrimSpace(c.RemoteAPIKey()) != ""
}

func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutSeconds) * time.Second
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func (c Config) HistoryEnabled() bool {
	return strings.TrimSpace(c.DBPath) != ""
}

func (c Config) DigestEnabled() bool {
	return strings.TrimSpace(c.DigestSchedule) != "" && c.SlackDigestChannelID != "" && c.SlackConfigured()
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
