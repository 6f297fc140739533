// Package config loads settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort int

	DBDriver    string
	DBPath      string
	DatabaseURL string

	AuthSecret string
	SessionTTL time.Duration

	RelayDriver       string
	ResendAPIKey      string
	ResendBaseURL     string
	SMTPRelayAddr     string
	SMTPRelayUsername string
	SMTPRelayPassword string

	DefaultFromName    string
	DefaultFromAddress string

	RedisURL string
	DedupTTL time.Duration

	SuggestionDomains []string
	ComposeIdleTTL    time.Duration
}

// fileConfig mirrors the YAML layout.
type fileConfig struct {
	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`
	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Auth struct {
		Secret     string `yaml:"secret"`
		SessionTTL string `yaml:"session_ttl"`
	} `yaml:"auth"`
	Relay struct {
		Driver string `yaml:"driver"`
		Resend struct {
			APIKey  string `yaml:"api_key"`
			BaseURL string `yaml:"base_url"`
		} `yaml:"resend"`
		SMTP struct {
			Addr     string `yaml:"addr"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		} `yaml:"smtp"`
		FromName    string `yaml:"from_name"`
		FromAddress string `yaml:"from_address"`
	} `yaml:"relay"`
	Redis struct {
		URL      string `yaml:"url"`
		DedupTTL string `yaml:"dedup_ttl"`
	} `yaml:"redis"`
	Compose struct {
		SuggestionDomains []string `yaml:"suggestion_domains"`
	} `yaml:"compose"`
}

func defaults() Config {
	return Config{
		HTTPPort:        3025,
		DBDriver:        "sqlite",
		SessionTTL:      30 * 24 * time.Hour,
		RelayDriver:     "resend",
		ResendBaseURL:   "https://api.resend.com",
		SMTPRelayAddr:   "127.0.0.1:2025",
		DefaultFromName: "Glass Mail",
		DedupTTL:        24 * time.Hour,
		ComposeIdleTTL:  2 * time.Hour,
	}
}

// Load builds the configuration. CONFIG_PATH names an optional YAML file
// whose ${VAR} references are expanded before parsing.
func Load() (Config, error) {
	cfg := defaults()

	if path := getEnvString("CONFIG_PATH", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := cfg.applyFile([]byte(os.ExpandEnv(string(data)))); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)
	cfg.DBDriver = strings.ToLower(getEnvString("DB_DRIVER", cfg.DBDriver))
	cfg.DBPath = getEnvString("DB_PATH", cfg.DBPath)
	cfg.DatabaseURL = getEnvString("DATABASE_URL", cfg.DatabaseURL)
	cfg.AuthSecret = getEnvString("AUTH_SECRET", cfg.AuthSecret)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", cfg.SessionTTL)
	cfg.RelayDriver = strings.ToLower(getEnvString("RELAY_DRIVER", cfg.RelayDriver))
	cfg.ResendAPIKey = getEnvString("RESEND_API_KEY", cfg.ResendAPIKey)
	cfg.ResendBaseURL = getEnvString("RESEND_BASE_URL", cfg.ResendBaseURL)
	cfg.SMTPRelayAddr = getEnvString("SMTP_RELAY_ADDR", cfg.SMTPRelayAddr)
	cfg.SMTPRelayUsername = getEnvString("SMTP_RELAY_USERNAME", cfg.SMTPRelayUsername)
	cfg.SMTPRelayPassword = getEnvString("SMTP_RELAY_PASSWORD", cfg.SMTPRelayPassword)
	cfg.DefaultFromName = getEnvString("DEFAULT_FROM_NAME", cfg.DefaultFromName)
	cfg.DefaultFromAddress = getEnvString("DEFAULT_FROM_ADDRESS", cfg.DefaultFromAddress)
	cfg.RedisURL = getEnvString("REDIS_URL", cfg.RedisURL)
	cfg.DedupTTL = getEnvDuration("DEDUP_TTL", cfg.DedupTTL)
	cfg.ComposeIdleTTL = getEnvDuration("COMPOSE_IDLE_TTL", cfg.ComposeIdleTTL)
	if raw := getEnvString("SUGGESTION_DOMAINS", ""); raw != "" {
		cfg.SuggestionDomains = splitList(raw)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(data []byte) error {
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	if raw.HTTP.Port > 0 {
		c.HTTPPort = raw.HTTP.Port
	}
	c.DBDriver = firstNonEmpty(raw.Database.Driver, c.DBDriver)
	c.DBPath = firstNonEmpty(raw.Database.Path, c.DBPath)
	c.DatabaseURL = firstNonEmpty(raw.Database.URL, c.DatabaseURL)
	c.AuthSecret = firstNonEmpty(raw.Auth.Secret, c.AuthSecret)
	c.RelayDriver = firstNonEmpty(raw.Relay.Driver, c.RelayDriver)
	c.ResendAPIKey = firstNonEmpty(raw.Relay.Resend.APIKey, c.ResendAPIKey)
	c.ResendBaseURL = firstNonEmpty(raw.Relay.Resend.BaseURL, c.ResendBaseURL)
	c.SMTPRelayAddr = firstNonEmpty(raw.Relay.SMTP.Addr, c.SMTPRelayAddr)
	c.SMTPRelayUsername = firstNonEmpty(raw.Relay.SMTP.Username, c.SMTPRelayUsername)
	c.SMTPRelayPassword = firstNonEmpty(raw.Relay.SMTP.Password, c.SMTPRelayPassword)
	c.DefaultFromName = firstNonEmpty(raw.Relay.FromName, c.DefaultFromName)
	c.DefaultFromAddress = firstNonEmpty(raw.Relay.FromAddress, c.DefaultFromAddress)
	c.RedisURL = firstNonEmpty(raw.Redis.URL, c.RedisURL)
	if raw.Auth.SessionTTL != "" {
		ttl, err := time.ParseDuration(raw.Auth.SessionTTL)
		if err != nil {
			return fmt.Errorf("parse auth.session_ttl: %w", err)
		}
		c.SessionTTL = ttl
	}
	if raw.Redis.DedupTTL != "" {
		ttl, err := time.ParseDuration(raw.Redis.DedupTTL)
		if err != nil {
			return fmt.Errorf("parse redis.dedup_ttl: %w", err)
		}
		c.DedupTTL = ttl
	}
	if len(raw.Compose.SuggestionDomains) > 0 {
		c.SuggestionDomains = splitList(strings.Join(raw.Compose.SuggestionDomains, ","))
	}
	return nil
}

func (c Config) validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is postgres")
	}
	switch c.RelayDriver {
	case "resend", "smtp":
	default:
		return fmt.Errorf("unknown RELAY_DRIVER %q", c.RelayDriver)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
