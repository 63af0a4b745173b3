// Package config loads process configuration from the environment,
// optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config for the slackbridge process. Every field is read from the named
// environment variable.
type Config struct {
	// SlackBotToken is the bot credential used for every Web API call.
	SlackBotToken string `env:"SLACK_BOT_TOKEN,required"`
	// APIKey is the shared secret callers present in X-API-Key.
	APIKey string `env:"API_KEY,required"`

	Port    int    `env:"PORT,default=3000"`
	MCPPath string `env:"MCP_PATH,default=/mcp"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT,default=30s"`
	// UserCacheTTL bounds how long the user directory and per-query results
	// are reused. Zero disables the cache.
	UserCacheTTL time.Duration `env:"USER_CACHE_TTL,default=5m"`
	// UserCacheSize caps the memory cache entries: the directory plus one
	// per distinct find_user query.
	UserCacheSize int `env:"USER_CACHE_SIZE,default=1024"`

	// RedisAddr switches cache storage from memory to Redis when set.
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB,default=0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=slackbridge:cache:"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads the given .env files (".env" when none are named), then decodes
// and validates the environment. Variables already set in the environment
// win over file values. A missing default .env file is not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values envdecode cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.SlackBotToken == "" {
		errs = append(errs, errors.New("SLACK_BOT_TOKEN is required"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if !strings.HasPrefix(c.MCPPath, "/") {
		errs = append(errs, fmt.Errorf("MCP_PATH must start with '/': %q", c.MCPPath))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text: %q", c.LogFormat))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT must be positive: %s", c.UpstreamTimeout))
	}
	if c.UserCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("USER_CACHE_TTL must not be negative: %s", c.UserCacheTTL))
	}
	if c.UserCacheSize < 1 {
		errs = append(errs, fmt.Errorf("USER_CACHE_SIZE must be positive: %d", c.UserCacheSize))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive: %s", c.ShutdownTimeout))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}
