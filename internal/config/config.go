// Package config loads Agency OS configuration from config.yaml plus
// environment variables. Secrets are referenced as ${VAR} in the YAML and
// expanded from the environment; a local .env file is honoured in dev.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the platform.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
	Classifier ClassifierConfig `yaml:"classifier"`
	CIS        CISConfig        `yaml:"cis"`
	Policy     PolicyConfig     `yaml:"policy"`
	TestMode   bool             `yaml:"test_mode"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DispatchConfig holds worker pool and queue behaviour.
type DispatchConfig struct {
	Workers          int           `yaml:"workers"`
	BatchSize        int           `yaml:"batch_size"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	LeaseTTL         time.Duration `yaml:"lease_ttl"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
	MaxWindowRequeue int           `yaml:"max_window_requeues"`
	SendWindowStart  int           `yaml:"send_window_start_hour"`
	SendWindowEnd    int           `yaml:"send_window_end_hour"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// EnrichmentConfig holds waterfall provider settings.
type EnrichmentConfig struct {
	CacheVersion string            `yaml:"cache_version"`
	CacheTTLDays int               `yaml:"cache_ttl_days"`
	Providers    map[string]string `yaml:"providers"` // provider name -> API key
	BaseURLs     map[string]string `yaml:"base_urls"` // provider name -> endpoint override
}

// ChannelConfig holds per-channel provider credentials and caps.
type ChannelConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	DailyCap int    `yaml:"daily_cap"`

	// Resource is the sending identity on this channel: a phone number
	// for sms and voice, a seat profile URL for linkedin, a return
	// address for mail. Rate limits are counted per resource.
	Resource string `yaml:"resource"`
}

// ChannelsConfig groups the five channel providers. Email uses AWS SES.
type ChannelsConfig struct {
	Email struct {
		AccessKey   string `yaml:"access_key"`
		SecretKey   string `yaml:"secret_key"`
		Region      string `yaml:"region"`
		DailyCap    int    `yaml:"daily_cap"`
		FromAddress string `yaml:"from_address"`
	} `yaml:"email"`
	SMS      ChannelConfig `yaml:"sms"`
	LinkedIn ChannelConfig `yaml:"linkedin"`
	Voice    ChannelConfig `yaml:"voice"`
	Mail     ChannelConfig `yaml:"mail"`

	// TEST_MODE routing targets. All sends go here when test mode is on.
	OperatorEmail string `yaml:"operator_email"`
	OperatorPhone string `yaml:"operator_phone"`
}

// WebhooksConfig holds signing secrets for inbound provider webhooks and
// outbound client webhooks.
type WebhooksConfig struct {
	EmailSecret    string `yaml:"email_secret"`
	SMSSecret      string `yaml:"sms_secret"`
	LinkedInSecret string `yaml:"linkedin_secret"`
	VoiceSecret    string `yaml:"voice_secret"`
	OutboundSecret string `yaml:"outbound_secret"`
}

// ClassifierConfig holds reply-classifier adapter settings.
type ClassifierConfig struct {
	OpenAIKey     string  `yaml:"openai_key"`
	OpenAIModel   string  `yaml:"openai_model"`
	BedrockModel  string  `yaml:"bedrock_model"`
	BedrockRegion string  `yaml:"bedrock_region"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// CISConfig holds learning loop settings.
type CISConfig struct {
	Interval      time.Duration `yaml:"interval"`
	ArchiveBucket string        `yaml:"archive_bucket"`
	ArchiveRegion string        `yaml:"archive_region"`
}

// PolicyConfig holds platform policy knobs.
type PolicyConfig struct {
	PersonalDomains       []string `yaml:"personal_domains"`
	AttributionWindowDays int      `yaml:"attribution_window_days"`
	StaleThreadDays       int      `yaml:"stale_thread_days"`
	CoolingOffMonths      int      `yaml:"cooling_off_months"`
}

// Default returns a configuration with production defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML config at path, expands ${VAR} references from the
// environment (after loading .env if present), and applies defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if v := os.Getenv("TEST_MODE"); v != "" {
		on, _ := strconv.ParseBool(v)
		cfg.TestMode = on
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.Workers = n
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 8
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 50
	}
	if c.Dispatch.PollInterval == 0 {
		c.Dispatch.PollInterval = time.Second
	}
	if c.Dispatch.LeaseTTL == 0 {
		c.Dispatch.LeaseTTL = 60 * time.Second
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 5
	}
	if c.Dispatch.BackoffBase == 0 {
		c.Dispatch.BackoffBase = 30 * time.Second
	}
	if c.Dispatch.BackoffMax == 0 {
		c.Dispatch.BackoffMax = time.Hour
	}
	if c.Dispatch.MaxWindowRequeue == 0 {
		c.Dispatch.MaxWindowRequeue = 3
	}
	if c.Dispatch.SendWindowStart == 0 {
		c.Dispatch.SendWindowStart = 8
	}
	if c.Dispatch.SendWindowEnd == 0 {
		c.Dispatch.SendWindowEnd = 18
	}
	if c.Dispatch.SweepInterval == 0 {
		c.Dispatch.SweepInterval = 6 * time.Hour
	}
	if c.Enrichment.CacheVersion == "" {
		c.Enrichment.CacheVersion = "v1"
	}
	if c.Enrichment.CacheTTLDays == 0 {
		c.Enrichment.CacheTTLDays = 90
	}
	if c.Channels.Email.Region == "" {
		c.Channels.Email.Region = "us-east-1"
	}
	if c.Channels.Email.DailyCap == 0 {
		c.Channels.Email.DailyCap = 50
	}
	if c.Channels.SMS.DailyCap == 0 {
		c.Channels.SMS.DailyCap = 100
	}
	if c.Channels.LinkedIn.DailyCap == 0 {
		c.Channels.LinkedIn.DailyCap = 17
	}
	if c.Channels.Voice.DailyCap == 0 {
		c.Channels.Voice.DailyCap = 50
	}
	if c.Classifier.OpenAIModel == "" {
		c.Classifier.OpenAIModel = "gpt-4o-mini"
	}
	if c.Classifier.BedrockModel == "" {
		c.Classifier.BedrockModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if c.Classifier.BedrockRegion == "" {
		c.Classifier.BedrockRegion = "us-east-1"
	}
	if c.Classifier.MinConfidence == 0 {
		c.Classifier.MinConfidence = 0.6
	}
	if c.CIS.Interval == 0 {
		c.CIS.Interval = 7 * 24 * time.Hour
	}
	if c.Policy.AttributionWindowDays == 0 {
		c.Policy.AttributionWindowDays = 90
	}
	if c.Policy.StaleThreadDays == 0 {
		c.Policy.StaleThreadDays = 30
	}
	if c.Policy.CoolingOffMonths == 0 {
		c.Policy.CoolingOffMonths = 12
	}
	if len(c.Policy.PersonalDomains) == 0 {
		c.Policy.PersonalDomains = []string{
			"gmail.com", "yahoo.com", "outlook.com", "hotmail.com",
			"aol.com", "icloud.com", "proton.me", "protonmail.com",
			"live.com", "msn.com", "gmx.com", "zoho.com",
		}
	}
}

// DailyCap returns the configured per-resource daily cap for a channel
// name; mail is unbounded (0 means no cap).
func (c *Config) DailyCap(channel string) int {
	switch channel {
	case "email":
		return c.Channels.Email.DailyCap
	case "sms":
		return c.Channels.SMS.DailyCap
	case "linkedin":
		return c.Channels.LinkedIn.DailyCap
	case "voice":
		return c.Channels.Voice.DailyCap
	}
	return 0
}
