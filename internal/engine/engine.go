// Package engine implements the MCP request handling bound to a session:
// the initialize handshake, ping, tool listing and tool invocation.
//
// Requests are served on their own goroutine so that a slow tool never
// blocks the request path or other sessions. Responses are written back on
// the session's push channel; if the session is gone by then the response is
// dropped.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ggoodman/contentstack-mcp/internal/jsonrpc"
	"github.com/ggoodman/contentstack-mcp/internal/logctx"
	"github.com/ggoodman/contentstack-mcp/internal/metrics"
	"github.com/ggoodman/contentstack-mcp/mcp"
	"github.com/ggoodman/contentstack-mcp/mcpservice"
	"github.com/ggoodman/contentstack-mcp/sessions"
)

var (
	// ErrCancelled is the cause attached to tool contexts cancelled by a
	// notifications/cancelled message.
	ErrCancelled = errors.New("operation cancelled")
	errToolPanic = errors.New("tool panicked")
)

// Engine dispatches JSON-RPC messages for sessions.
type Engine struct {
	tools        mcpservice.ToolDispatcher
	info         mcp.ImplementationInfo
	instructions string
	log          *slog.Logger
	metrics      *metrics.Metrics

	inflight tracker

	cancelMu sync.Mutex
	cancels  map[callKey]context.CancelCauseFunc
}

type callKey struct {
	session string
	request string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(e *Engine) { e.info = info }
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(s string) Option {
	return func(e *Engine) { e.instructions = s }
}

// WithMetrics records request and tool metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an Engine that serves tools from d.
func New(d mcpservice.ToolDispatcher, opts ...Option) *Engine {
	e := &Engine{
		tools:   d,
		info:    mcp.ImplementationInfo{Name: "contentstack-mcp", Version: "dev"},
		log:     slog.Default(),
		cancels: make(map[callKey]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.log = logctx.Wrap(e.log)
	return e
}

// HandleMessage accepts one inbound message for sess. Requests are answered
// asynchronously on the session channel; HandleMessage only returns an error
// when the message cannot be accepted at all.
func (e *Engine) HandleMessage(ctx context.Context, sess *sessions.Session, msg *jsonrpc.AnyMessage) error {
	if sess == nil {
		return errors.New("engine: nil session")
	}
	if msg == nil {
		return errors.New("engine: nil message")
	}

	switch msg.Type() {
	case "response":
		// The server never issues client-bound requests.
		e.log.DebugContext(ctx, "engine.response.ignored")
		return nil
	case "notification":
		e.handleNotification(ctx, sess, msg.AsRequest())
		return nil
	}

	req := msg.AsRequest()
	// The HTTP request that carried this message completes before the
	// response is ready, so the work must not inherit its cancellation.
	ctx = context.WithoutCancel(ctx)

	e.inflight.add()
	e.metrics.RequestStarted()
	go func() {
		defer e.inflight.done()
		defer e.metrics.RequestFinished()
		e.serve(ctx, sess, req)
	}()
	return nil
}

// Wait blocks until no requests are in flight or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	return e.inflight.wait(ctx)
}

// InFlight returns the number of requests currently being served.
func (e *Engine) InFlight() int {
	return e.inflight.count()
}

func (e *Engine) serve(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var res *jsonrpc.Response
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(ctx, "engine.handle_request.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
			}
		}()
		res = e.handleRequest(ctx, sess, req)
	}()

	if err := e.writeResponse(ctx, sess, res); err != nil {
		log.InfoContext(ctx, "engine.result.discarded", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		return
	}
	if res.Error != nil {
		log.InfoContext(ctx, "engine.handle_request.error", slog.Int("code", int(res.Error.Code)), slog.Duration("dur", time.Since(start)))
		return
	}
	log.DebugContext(ctx, "engine.handle_request.ok", slog.Duration("dur", time.Since(start)))
}

func (e *Engine) handleRequest(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, sess, req)
	case mcp.PingMethod:
		return mustResult(req.ID, &mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, sess, req)
	}
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
}

func (e *Engine) handleInitialize(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
	}

	version := params.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(version) {
		version = mcp.LatestProtocolVersion
	}
	sess.SetInitialized(version, sessions.ClientInfo{Name: params.ClientInfo.Name, Version: params.ClientInfo.Version})

	e.log.InfoContext(ctx, "engine.session.initialize",
		slog.String("requested_version", params.ProtocolVersion),
		slog.String("negotiated_version", version),
		slog.String("client", params.ClientInfo.Name),
	)

	result := &mcp.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      e.info,
		Instructions:    e.instructions,
	}
	result.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged"`
	}{}
	return mustResult(req.ID, result)
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
		}
	}

	page, err := e.tools.ListTools(ctx, params.Cursor)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.tools_list.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}

	result := &mcp.ListToolsResult{Tools: page.Items}
	if result.Tools == nil {
		result.Tools = []mcp.Tool{}
	}
	result.NextCursor = page.NextCursor
	return mustResult(req.ID, result)
}

func (e *Engine) handleToolCall(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
	}
	if params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "missing tool name", nil)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})
	log := e.log.With(slog.String("method", req.Method))

	toolCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	// Cancellation is keyed by request id, so a second call reusing an id
	// that is still in flight is refused.
	key := callKey{session: sess.ID(), request: req.ID.String()}
	e.cancelMu.Lock()
	if _, dup := e.cancels[key]; dup {
		e.cancelMu.Unlock()
		log.WarnContext(ctx, "engine.tool_call.duplicate_id", slog.String("id", key.request))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "request id already in flight", nil)
	}
	e.cancels[key] = cancel
	e.cancelMu.Unlock()
	defer func() {
		e.cancelMu.Lock()
		delete(e.cancels, key)
		e.cancelMu.Unlock()
	}()

	if params.Meta != nil && params.Meta.ProgressToken != nil {
		toolCtx = mcpservice.WithProgressReporter(toolCtx, e.progressReporter(sess, params.Meta.ProgressToken))
	}

	res, err := e.invoke(toolCtx, params.Name, params.Arguments)
	dur := time.Since(start)
	if err != nil {
		resp := e.toolErrorResponse(toolCtx, req.ID, err)
		e.metrics.ToolCall(params.Name, resp.Error.Code.String(), dur)
		log.InfoContext(ctx, "engine.tool_call.fail", slog.String("err", err.Error()), slog.Duration("dur", dur))
		return resp
	}

	status := "ok"
	if res.IsError {
		status = "tool_error"
	}
	e.metrics.ToolCall(params.Name, status, dur)
	log.InfoContext(ctx, "engine.tool_call.ok", slog.Bool("is_error", res.IsError), slog.Duration("dur", dur))

	resp, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		log.ErrorContext(ctx, "engine.tool_call.encode_fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode tool result", nil)
	}
	return resp
}

func (e *Engine) toolErrorResponse(ctx context.Context, id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	var argErr *mcpservice.ArgumentError
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &argErr):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, argErr.Error(), nil)
	case errors.Is(err, mcpservice.ErrToolNotFound):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
	case errors.As(err, &rpcErr):
		return jsonrpc.NewErrorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	case errors.Is(context.Cause(ctx), ErrCancelled):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "cancelled", nil)
	case errors.Is(err, errToolPanic):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	default:
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
}

// invoke calls the dispatcher, converting a handler panic into an error.
func (e *Engine) invoke(ctx context.Context, name string, args json.RawMessage) (res *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "engine.tool_call.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			res, err = nil, fmt.Errorf("%w: %v", errToolPanic, r)
		}
	}()
	res, err = e.tools.Invoke(ctx, name, args)
	if err == nil && res == nil {
		res = &mcp.CallToolResult{Content: []mcp.ContentBlock{}}
	}
	return res, err
}

func (e *Engine) handleNotification(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.DebugContext(ctx, "engine.session.initialized")
	case mcp.CancelledNotificationMethod:
		var params mcp.CancelledNotification
		if err := json.Unmarshal(req.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.cancel.invalid", slog.String("err", err.Error()))
			return
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(params.RequestID, &id); err != nil {
			e.log.InfoContext(ctx, "engine.cancel.invalid", slog.String("err", err.Error()))
			return
		}
		e.cancelMu.Lock()
		cancel, ok := e.cancels[callKey{session: sess.ID(), request: id.String()}]
		e.cancelMu.Unlock()
		if ok {
			cancel(ErrCancelled)
		}
		e.log.InfoContext(ctx, "engine.cancel", slog.String("request_id", id.String()), slog.Bool("found", ok), slog.String("reason", params.Reason))
	default:
		e.log.DebugContext(ctx, "engine.notification.ignored")
	}
}

func (e *Engine) progressReporter(sess *sessions.Session, token mcp.ProgressToken) mcpservice.ProgressReporter {
	return mcpservice.ProgressFunc(func(ctx context.Context, progress, total float64) error {
		note, err := jsonrpc.NewNotification(string(mcp.ProgressNotificationMethod), mcp.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      progress,
			Total:         total,
		})
		if err != nil {
			return err
		}
		return e.writeMessage(ctx, sess, note)
	})
}

func mustResult(id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return res
}
