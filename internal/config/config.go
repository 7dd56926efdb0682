// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ggoodman/contentstack-mcp/contentstack"
)

const (
	ToolsetContentstack = "contentstack"
	ToolsetMinimal      = "minimal"
)

// Config is the full set of environment-driven settings.
type Config struct {
	Port int    `env:"PORT,default=3000"`
	Host string `env:"HOST"`

	StreamPaths  []string `env:"SSE_PATHS,default=/sse;/mcp"`
	MessagesPath string   `env:"MESSAGES_PATH,default=/messages"`
	PublicDir    string   `env:"PUBLIC_DIR,default=public"`

	ShutdownDeadline time.Duration `env:"SHUTDOWN_DEADLINE,default=10s"`

	Heartbeat    time.Duration `env:"SSE_HEARTBEAT,default=25s"`
	WriteTimeout time.Duration `env:"SSE_WRITE_TIMEOUT,default=10s"`
	MaxBacklog   int           `env:"SSE_MAX_BACKLOG,default=256"`
	CloseTimeout time.Duration `env:"SSE_CLOSE_TIMEOUT,default=2s"`

	RateLimitRPS    float64 `env:"RATE_LIMIT_RPS,default=0"`
	RateLimitBurst  int     `env:"RATE_LIMIT_BURST,default=20"`
	MaxMessageBytes int64   `env:"MAX_MESSAGE_BYTES,default=4194304"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	Toolset string `env:"TOOLSET,default=contentstack"`

	Contentstack contentstack.Config
}

// ConfigurationError is fatal and reported before the listener starts.
type ConfigurationError struct {
	Problems []string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Load decodes the environment into a Config. It does not validate.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, &ConfigurationError{Err: err}
	}
	return &cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel maps LogLevel onto slog. Validate guarantees it parses.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	_ = l.UnmarshalText([]byte(c.LogLevel))
	return l
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Port <= 0 || c.Port > 65535 {
		add("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if len(c.StreamPaths) == 0 {
		add("SSE_PATHS must name at least one path")
	}
	seen := map[string]bool{}
	for _, p := range append([]string{c.MessagesPath}, c.StreamPaths...) {
		switch {
		case p == "":
			add("paths must not be empty")
		case !strings.HasPrefix(p, "/"):
			add("path %q must start with /", p)
		case p == "/" || p == "/ping" || p == "/metrics":
			add("path %q is reserved", p)
		case seen[p]:
			add("path %q is used more than once", p)
		}
		seen[p] = true
	}

	if c.ShutdownDeadline <= 0 {
		add("SHUTDOWN_DEADLINE must be positive")
	}
	if c.MaxBacklog <= 0 {
		add("SSE_MAX_BACKLOG must be positive")
	}
	if c.Heartbeat < 0 || c.WriteTimeout < 0 || c.CloseTimeout < 0 {
		add("SSE durations must not be negative")
	}
	if c.RateLimitRPS < 0 {
		add("RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		add("RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.MaxMessageBytes <= 0 {
		add("MAX_MESSAGE_BYTES must be positive")
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		add("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, c.LogFormat) {
		add("LOG_FORMAT %q is not one of json, text", c.LogFormat)
	}

	switch c.Toolset {
	case ToolsetMinimal:
	case ToolsetContentstack:
		if err := c.Contentstack.Validate(); err != nil {
			add("%v", err)
		}
	default:
		add("TOOLSET %q is not one of %s, %s", c.Toolset, ToolsetContentstack, ToolsetMinimal)
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}
