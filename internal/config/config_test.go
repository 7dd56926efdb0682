package config

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "HOST", "SSE_PATHS", "MESSAGES_PATH", "PUBLIC_DIR", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}
	t.Setenv("TOOLSET", "minimal")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("port %d", cfg.Port)
	}
	if !slices.Equal(cfg.StreamPaths, []string{"/sse", "/mcp"}) {
		t.Errorf("stream paths %v", cfg.StreamPaths)
	}
	if cfg.MessagesPath != "/messages" || cfg.PublicDir != "public" {
		t.Errorf("paths %q %q", cfg.MessagesPath, cfg.PublicDir)
	}
	if cfg.ShutdownDeadline != 10*time.Second || cfg.Heartbeat != 25*time.Second || cfg.CloseTimeout != 2*time.Second {
		t.Errorf("durations %s %s %s", cfg.ShutdownDeadline, cfg.Heartbeat, cfg.CloseTimeout)
	}
	if cfg.MaxBacklog != 256 || cfg.MaxMessageBytes != 4<<20 || cfg.RateLimitRPS != 0 {
		t.Errorf("limits %d %d %v", cfg.MaxBacklog, cfg.MaxMessageBytes, cfg.RateLimitRPS)
	}
	if cfg.Contentstack.DeliveryURL != "https://cdn.contentstack.io" || cfg.Contentstack.ManagementURL != "https://api.contentstack.io" {
		t.Errorf("contentstack urls %+v", cfg.Contentstack)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with minimal toolset should validate: %v", err)
	}
	if cfg.SlogLevel() != slog.LevelInfo || cfg.Addr() != ":3000" {
		t.Errorf("level %v addr %q", cfg.SlogLevel(), cfg.Addr())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("SSE_PATHS", "/events")
	t.Setenv("SHUTDOWN_DEADLINE", "3s")
	t.Setenv("STACK_API_KEY", "blt")
	t.Setenv("DELIVERY_TOKEN", "cs")
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8080" || !slices.Equal(cfg.StreamPaths, []string{"/events"}) || cfg.ShutdownDeadline != 3*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Contentstack.Environment != "staging" {
		t.Fatalf("nested config not decoded: %+v", cfg.Contentstack)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("level %v", cfg.SlogLevel())
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "port", key: "PORT", value: "not-a-number"},
		{name: "heartbeat", key: "SSE_HEARTBEAT", value: "every-now-and-then"},
		{name: "rate limit", key: "RATE_LIMIT_RPS", value: "lots"},
		{name: "backlog", key: "SSE_MAX_BACKLOG", value: "plenty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg, err := Load()
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError for %s=%q, got %v (cfg=%+v)", tt.key, tt.value, err, cfg)
			}
		})
	}
}

func validConfig() Config {
	return Config{
		Port:             3000,
		StreamPaths:      []string{"/sse", "/mcp"},
		MessagesPath:     "/messages",
		ShutdownDeadline: time.Second,
		MaxBacklog:       10,
		MaxMessageBytes:  1024,
		LogLevel:         "info",
		LogFormat:        "json",
		Toolset:          ToolsetMinimal,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Port = 0 }, "PORT"},
		{"no stream paths", func(c *Config) { c.StreamPaths = nil }, "SSE_PATHS"},
		{"relative path", func(c *Config) { c.StreamPaths = []string{"sse"} }, "must start with /"},
		{"duplicate path", func(c *Config) { c.StreamPaths = []string{"/sse", "/sse"} }, "more than once"},
		{"messages overlaps stream", func(c *Config) { c.MessagesPath = "/sse" }, "more than once"},
		{"reserved path", func(c *Config) { c.StreamPaths = []string{"/ping"} }, "reserved"},
		{"deadline", func(c *Config) { c.ShutdownDeadline = 0 }, "SHUTDOWN_DEADLINE"},
		{"backlog", func(c *Config) { c.MaxBacklog = 0 }, "SSE_MAX_BACKLOG"},
		{"burst", func(c *Config) { c.RateLimitRPS = 5; c.RateLimitBurst = 0 }, "RATE_LIMIT_BURST"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"toolset", func(c *Config) { c.Toolset = "everything" }, "TOOLSET"},
		{"contentstack credentials", func(c *Config) { c.Toolset = ToolsetContentstack }, "STACK_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Port = -1
	cfg.LogFormat = "xml"
	var cfgErr *ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || len(cfgErr.Problems) != 2 {
		t.Fatalf("expected two problems, got %v", err)
	}
}
