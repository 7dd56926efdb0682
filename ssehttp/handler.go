package ssehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/ggoodman/contentstack-mcp/internal/logctx"
	"github.com/ggoodman/contentstack-mcp/internal/metrics"
	"github.com/ggoodman/contentstack-mcp/internal/router"
	"github.com/ggoodman/contentstack-mcp/sessions"
	"github.com/ggoodman/contentstack-mcp/sse"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader = "Mcp-Session-Id"
	sessionIDParam     = "sessionId"

	DefaultMessagesPath    = "/messages"
	DefaultMaxMessageBytes = 4 << 20
)

// DefaultStreamPaths are the channel-open paths used when WithStreamPaths is
// not given.
var DefaultStreamPaths = []string{"/sse", "/mcp"}

// writeJSONError emits a transport-level rejection. Shape:
// {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Router dispatches one message body to the session named by key.
type Router interface {
	Route(ctx context.Context, key string, body []byte) router.Result
}

// Option configures the Handler.
type Option func(*config)

type config struct {
	serverName      string
	logger          *slog.Logger
	streamPaths     []string
	messagesPath    string
	maxMessageBytes int64
	rateRPS         float64
	rateBurst       int
	admit           func() bool
	metrics         *metrics.Metrics
	publicDir       string
	channelOpts     []sse.Option
}

// WithServerName sets the name shown in the root banner.
func WithServerName(name string) Option {
	return func(c *config) { c.serverName = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithStreamPaths sets the GET paths that open a push channel. Every path
// behaves identically.
func WithStreamPaths(paths ...string) Option {
	return func(c *config) { c.streamPaths = paths }
}

// WithMessagesPath sets the POST path for client messages.
func WithMessagesPath(p string) Option {
	return func(c *config) { c.messagesPath = p }
}

// WithMaxMessageBytes caps POST bodies.
func WithMaxMessageBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxMessageBytes = n
		}
	}
}

// WithRateLimit limits each session to rps messages per second with the
// given burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rateRPS = rps
		c.rateBurst = burst
	}
}

// WithAdmission installs a predicate consulted before opening channels and
// accepting messages. When it returns false the request gets 503.
func WithAdmission(fn func() bool) Option {
	return func(c *config) { c.admit = fn }
}

// WithMetrics exposes m on GET /metrics and records transport counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithPublicDir serves static files from dir when it exists.
func WithPublicDir(dir string) Option {
	return func(c *config) { c.publicDir = dir }
}

// WithChannelOptions are applied to every push channel.
func WithChannelOptions(opts ...sse.Option) Option {
	return func(c *config) { c.channelOpts = append(c.channelOpts, opts...) }
}

// Handler is the HTTP surface of the server.
type Handler struct {
	log             *slog.Logger
	registry        *sessions.Registry
	router          Router
	serverName      string
	streamPaths     []string
	messagesPath    string
	maxMessageBytes int64
	limiter         *sessionRateLimiter
	admit           func() bool
	metrics         *metrics.Metrics
	channelOpts     []sse.Option

	root http.Handler
}

// New builds the transport handler around a session registry and a router
// that is bound to the same registry.
func New(reg *sessions.Registry, rtr Router, opts ...Option) (*Handler, error) {
	if reg == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if rtr == nil {
		return nil, fmt.Errorf("router is required")
	}

	cfg := &config{
		serverName:      "contentstack-mcp",
		logger:          slog.Default(),
		streamPaths:     DefaultStreamPaths,
		messagesPath:    DefaultMessagesPath,
		maxMessageBytes: DefaultMaxMessageBytes,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.streamPaths) == 0 {
		return nil, fmt.Errorf("at least one stream path is required")
	}
	seen := map[string]bool{cfg.messagesPath: true}
	for _, p := range append([]string{cfg.messagesPath}, cfg.streamPaths...) {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("path %q must start with /", p)
		}
	}
	for _, p := range cfg.streamPaths {
		if seen[p] {
			return nil, fmt.Errorf("path %q is configured more than once", p)
		}
		seen[p] = true
	}

	h := &Handler{
		log:             logctx.Wrap(cfg.logger),
		registry:        reg,
		router:          rtr,
		serverName:      cfg.serverName,
		streamPaths:     cfg.streamPaths,
		messagesPath:    cfg.messagesPath,
		maxMessageBytes: cfg.maxMessageBytes,
		limiter:         newSessionRateLimiter(cfg.rateRPS, cfg.rateBurst),
		admit:           cfg.admit,
		metrics:         cfg.metrics,
		channelOpts:     cfg.channelOpts,
	}

	mux := http.NewServeMux()
	for _, p := range cfg.streamPaths {
		mux.HandleFunc(fmt.Sprintf("GET %s", p), h.handleGetStream)
	}
	mux.HandleFunc(fmt.Sprintf("POST %s", cfg.messagesPath), h.handlePostMessage)
	mux.HandleFunc("GET /ping", h.handlePing)
	mux.HandleFunc("GET /{$}", h.handleBanner)
	if cfg.metrics != nil {
		mux.Handle("GET /metrics", cfg.metrics.Handler())
	}
	if cfg.publicDir != "" {
		if fi, err := os.Stat(cfg.publicDir); err == nil && fi.IsDir() {
			mux.Handle("GET /", http.FileServer(http.Dir(cfg.publicDir)))
		} else {
			h.log.Info("static.dir.skip", slog.String("dir", cfg.publicDir))
		}
	}

	h.root = recoverPanics(h.log, logRequests(h.log, withCORS(mux)))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func (h *Handler) accepting() bool {
	return h.admit == nil || h.admit()
}

// endpointURL is the data of the initial "endpoint" event.
func (h *Handler) endpointURL(sessionID string) string {
	return h.messagesPath + "?" + url.Values{sessionIDParam: {sessionID}}.Encode()
}

// handleGetStream opens a push channel and serves it until the session ends.
func (h *Handler) handleGetStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !h.accepting() {
		writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		h.log.InfoContext(ctx, "sse.open.draining")
		return
	}

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		h.log.WarnContext(ctx, "http.get.not_acceptable")
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := http.NewResponseController(w).Flush(); err != nil {
		h.log.ErrorContext(ctx, "sse.flush.fail", slog.String("err", err.Error()))
		return
	}

	opts := append([]sse.Option{sse.WithLogger(h.log)}, h.channelOpts...)
	if h.metrics != nil {
		opts = append(opts, sse.WithWriteHook(func(_ sse.Event, err error) { h.metrics.FrameWritten(err) }))
	}
	ch := sse.Open(w, opts...)
	sess := h.registry.Create(ch)

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), State: sess.State().String()})
	h.log.InfoContext(ctx, "sse.stream.start")

	if _, err := ch.Post(sse.Event{Name: "endpoint", Data: []byte(h.endpointURL(sess.ID()))}); err != nil {
		h.log.ErrorContext(ctx, "sse.endpoint.fail", slog.String("err", err.Error()))
		_ = sess.Close()
		return
	}

	err := ch.Run(ctx)
	_ = sess.Close()
	h.limiter.forget(sess.ID())

	switch {
	case err == nil:
		h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
	case errors.Is(err, sse.ErrPeerGone):
		h.log.InfoContext(ctx, "sse.stream.peer_gone", slog.Duration("dur", time.Since(start)))
	default:
		h.log.WarnContext(ctx, "sse.stream.fail", slog.Duration("dur", time.Since(start)), slog.String("err", err.Error()))
	}
}

// handlePostMessage routes one JSON-RPC message to its session.
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !h.accepting() {
		writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		h.log.InfoContext(ctx, "http.post.draining")
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	key := r.URL.Query().Get(sessionIDParam)
	if key == "" {
		key = r.Header.Get(mcpSessionIDHeader)
	}

	// Only live sessions are rate limited. Unknown keys fall through to the
	// router, which reports them as 404, and never get a bucket.
	if h.limitable(key) && !h.limiter.allow(key, time.Now()) {
		h.metrics.RateLimited()
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		h.log.WarnContext(ctx, "http.post.rate_limited", slog.String("session_id", key))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxMessageBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("message exceeds %d bytes", tooBig.Limit))
			h.log.WarnContext(ctx, "http.post.too_large", slog.Int64("limit", tooBig.Limit))
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		h.log.WarnContext(ctx, "http.post.read.fail", slog.String("err", err.Error()))
		return
	}

	res := h.router.Route(ctx, key, body)
	status, msg := statusFor(res)
	if status != http.StatusOK {
		writeJSONError(w, status, msg)
		h.log.InfoContext(ctx, "http.post.reject",
			slog.String("outcome", res.Outcome.String()),
			slog.Int("status", status),
			slog.Duration("dur", time.Since(start)),
		)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	h.log.DebugContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}

func (h *Handler) limitable(key string) bool {
	if key == "" || h.limiter == nil {
		return false
	}
	_, err := h.registry.Lookup(key)
	return err == nil
}

// statusFor maps a routing outcome to the HTTP response for the POST path.
func statusFor(res router.Result) (int, string) {
	reason := func(fallback string) string {
		if res.Err != nil {
			return fallback + ": " + res.Err.Error()
		}
		return fallback
	}
	switch res.Outcome {
	case router.Dispatched:
		return http.StatusOK, ""
	case router.MissingRoutingKey:
		return http.StatusBadRequest, "missing sessionId"
	case router.UnknownSession:
		return http.StatusNotFound, "session not found"
	case router.InvalidMessage:
		return http.StatusBadRequest, reason("invalid JSON-RPC message")
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": h.registry.Len()})
}

func (h *Handler) handleBanner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "%s MCP server is running.\nOpen a stream with GET %s and post messages to %s.\n",
		h.serverName, strings.Join(h.streamPaths, " or "), h.messagesPath)
}
