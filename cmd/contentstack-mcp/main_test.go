package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/contentstack-mcp/internal/config"
)

func TestExecuteConfigurationErrors(t *testing.T) {
	t.Setenv("STACK_API_KEY", "")
	t.Setenv("DELIVERY_TOKEN", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("TOOLSET", "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing credentials", nil, "STACK_API_KEY"},
		{"unknown toolset", []string{"--toolset", "everything"}, "TOOLSET"},
		{"bad log level", []string{"--toolset", "minimal", "--log-level", "loud"}, "LOG_LEVEL"},
		{"bad port", []string{"--toolset", "minimal", "--port", "0"}, "PORT"},
		{"unknown flag", []string{"--nope"}, "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if code := execute(t.Context(), tt.args, &stderr); code != exitConfig {
				t.Fatalf("want exit %d, got %d: %s", exitConfig, code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.want) {
				t.Fatalf("stderr %q does not mention %q", stderr.String(), tt.want)
			}
		})
	}
}

func TestBuildTools(t *testing.T) {
	var logs bytes.Buffer
	cfg := &config.Config{Toolset: config.ToolsetMinimal, LogLevel: "info"}
	log := newLogger(cfg, &logs)

	names := func(cfg *config.Config) []string {
		var out []string
		for _, tool := range buildTools(cfg, log).Snapshot() {
			out = append(out, tool.Name)
		}
		return out
	}

	if got := names(cfg); len(got) != 1 || got[0] != "echo" {
		t.Fatalf("minimal toolset: %v", got)
	}

	cfg.Toolset = config.ToolsetContentstack
	got := names(cfg)
	if len(got) != 2 || !strings.Contains(strings.Join(got, ","), "searchEntries") {
		t.Fatalf("contentstack toolset: %v", got)
	}
	if !strings.Contains(logs.String(), "contentstack.management.disabled") {
		t.Fatal("missing management token should be logged")
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&config.Config{LogFormat: "json", LogLevel: "info"}, &buf).Info("hello")
	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("json format produced %q", buf.String())
	}

	buf.Reset()
	l := newLogger(&config.Config{LogFormat: "text", LogLevel: "warn"}, &buf)
	l.Info("quiet")
	l.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "msg=loud") {
		t.Fatalf("text format produced %q", buf.String())
	}
}

func TestServeOnStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := &config.Config{
		StreamPaths:      []string{"/sse"},
		MessagesPath:     "/messages",
		ShutdownDeadline: time.Second,
		MaxBacklog:       16,
		MaxMessageBytes:  1 << 20,
		LogLevel:         "error",
		LogFormat:        "text",
		Toolset:          config.ToolsetMinimal,
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- serveOn(ctx, cfg, ln, &bytes.Buffer{}, func(int) { t.Error("exit must not be called without a signal") })
	}()

	url := "http://" + ln.Addr().String() + "/ping"
	var resp *http.Response
	for start := time.Now(); time.Since(start) < 5*time.Second; time.Sleep(10 * time.Millisecond) {
		if resp, err = http.Get(url); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ping status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
