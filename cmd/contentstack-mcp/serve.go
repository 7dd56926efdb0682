package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/contentstack-mcp/contentstack"
	"github.com/ggoodman/contentstack-mcp/examples/echo"
	"github.com/ggoodman/contentstack-mcp/internal/config"
	"github.com/ggoodman/contentstack-mcp/internal/engine"
	"github.com/ggoodman/contentstack-mcp/internal/metrics"
	"github.com/ggoodman/contentstack-mcp/internal/router"
	"github.com/ggoodman/contentstack-mcp/internal/shutdown"
	"github.com/ggoodman/contentstack-mcp/mcp"
	"github.com/ggoodman/contentstack-mcp/mcpservice"
	"github.com/ggoodman/contentstack-mcp/sessions"
	"github.com/ggoodman/contentstack-mcp/sse"
	"github.com/ggoodman/contentstack-mcp/ssehttp"
)

const serverName = "Contentstack MCP"

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func buildTools(cfg *config.Config, log *slog.Logger) *mcpservice.ToolsContainer {
	if cfg.Toolset == config.ToolsetMinimal {
		return echo.New()
	}
	client := contentstack.NewClient(cfg.Contentstack, contentstack.WithLogger(log))
	if !client.HasManagementToken() {
		log.Warn("contentstack.management.disabled", slog.String("reason", "MANAGEMENT_TOKEN is not set; createEntry will return an error"))
	}
	return mcpservice.NewToolsContainer(contentstack.Tools(client)...)
}

// serve listens on the configured address until a termination signal has
// been handled.
func serve(ctx context.Context, cfg *config.Config, logOut io.Writer, exit func(int)) error {
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	return serveOn(ctx, cfg, ln, logOut, exit)
}

func serveOn(ctx context.Context, cfg *config.Config, ln net.Listener, logOut io.Writer, exit func(int)) error {
	log := newLogger(cfg, logOut)
	slog.SetDefault(log)

	m := metrics.New()
	reg := sessions.NewRegistry(
		sessions.WithLogger(log),
		sessions.WithHooks(sessions.Hooks{
			OnCreate: func(string) { m.SessionOpened() },
			OnRemove: func(_ string, age time.Duration) { m.SessionClosed(age) },
		}),
	)

	eng := engine.New(buildTools(cfg, log),
		engine.WithLogger(log),
		engine.WithMetrics(m),
		engine.WithServerInfo(mcp.ImplementationInfo{Name: serverName, Version: version}),
	)
	rtr := router.New(reg, eng, router.WithLogger(log), router.WithMetrics(m))

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	coord := shutdown.New(reg,
		shutdown.WithDeadline(cfg.ShutdownDeadline),
		shutdown.WithLogger(log),
		shutdown.WithWaiter(eng),
		shutdown.WithServer(srv),
		shutdown.WithExit(exit),
		shutdown.WithMetrics(m),
	)

	h, err := ssehttp.New(reg, rtr,
		ssehttp.WithLogger(log),
		ssehttp.WithServerName(serverName),
		ssehttp.WithStreamPaths(cfg.StreamPaths...),
		ssehttp.WithMessagesPath(cfg.MessagesPath),
		ssehttp.WithMaxMessageBytes(cfg.MaxMessageBytes),
		ssehttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		ssehttp.WithAdmission(coord.Accepting),
		ssehttp.WithMetrics(m),
		ssehttp.WithPublicDir(cfg.PublicDir),
		ssehttp.WithChannelOptions(
			sse.WithHeartbeat(cfg.Heartbeat),
			sse.WithWriteTimeout(cfg.WriteTimeout),
			sse.WithMaxBacklog(cfg.MaxBacklog),
			sse.WithCloseTimeout(cfg.CloseTimeout),
		),
	)
	if err != nil {
		_ = ln.Close()
		return &config.ConfigurationError{Err: err}
	}
	srv.Handler = h

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server.listen",
			slog.String("addr", ln.Addr().String()),
			slog.Any("stream_paths", cfg.StreamPaths),
			slog.String("messages_path", cfg.MessagesPath),
			slog.String("toolset", cfg.Toolset),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := coord.Watch(gctx); err != nil {
			// Cancelled without a signal: the server failed or the caller
			// gave up. Nothing to drain gracefully.
			return srv.Close()
		}
		return nil
	})

	return g.Wait()
}
