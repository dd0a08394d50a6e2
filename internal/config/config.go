package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Quotes   QuotesConfig   `yaml:"quotes"`
	Auth     AuthConfig     `yaml:"auth"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type HTTPConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig enables the quote cache when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type QuotesConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
	CacheTTL string `yaml:"cache_ttl"`
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	TokenTTL   string `yaml:"token_ttl"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

type LedgerConfig struct {
	StartingCash string `yaml:"starting_cash"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path when path is non-empty, then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	if err := setInt(&cfg.HTTP.Port, "PORT"); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Quotes.APIKey, "API_KEY")
	setString(&cfg.Quotes.BaseURL, "QUOTE_BASE_URL")
	setString(&cfg.Quotes.Timeout, "QUOTE_TIMEOUT")
	setString(&cfg.Quotes.CacheTTL, "QUOTE_CACHE_TTL")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.TokenTTL, "TOKEN_TTL")
	if err := setInt(&cfg.Auth.BcryptCost, "BCRYPT_COST"); err != nil {
		return err
	}
	setString(&cfg.Ledger.StartingCash, "STARTING_CASH")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if len(cfg.HTTP.AllowedOrigins) == 0 {
		cfg.HTTP.AllowedOrigins = []string{"http://localhost:5174"}
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "sqlite://finance.db"
	}
	if cfg.Quotes.Timeout == "" {
		cfg.Quotes.Timeout = "5s"
	}
	if cfg.Quotes.CacheTTL == "" {
		cfg.Quotes.CacheTTL = "15s"
	}
	if cfg.Auth.TokenTTL == "" {
		cfg.Auth.TokenTTL = "24h"
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 12
	}
	if cfg.Ledger.StartingCash == "" {
		cfg.Ledger.StartingCash = "10000.00"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Quotes.APIKey == "" {
		return fmt.Errorf("API_KEY not set")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET not set")
	}
	for name, v := range map[string]string{
		"quotes.timeout":   c.Quotes.Timeout,
		"quotes.cache_ttl": c.Quotes.CacheTTL,
		"auth.token_ttl":   c.Auth.TokenTTL,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}
	cash, err := decimal.NewFromString(c.Ledger.StartingCash)
	if err != nil {
		return fmt.Errorf("invalid ledger.starting_cash %q: %w", c.Ledger.StartingCash, err)
	}
	if cash.IsNegative() {
		return fmt.Errorf("ledger.starting_cash must not be negative")
	}
	return nil
}

func (c *Config) QuoteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Quotes.Timeout)
	return d
}

// QuoteCacheTTL is zero when caching is disabled.
func (c *Config) QuoteCacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Quotes.CacheTTL)
	return d
}

func (c *Config) TokenTTL() time.Duration {
	d, _ := time.ParseDuration(c.Auth.TokenTTL)
	return d
}

func (c *Config) StartingCash() decimal.Decimal {
	return decimal.RequireFromString(c.Ledger.StartingCash)
}
