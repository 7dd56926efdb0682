// Package router correlates messages arriving on the stateless request path
// with the session they belong to.
//
// The routing key always comes from transport metadata (query string or
// header), never from the JSON-RPC body, so a payload cannot address a
// session other than the one its transport request names. The router holds
// no state of its own; the session registry is the only shared structure.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ggoodman/contentstack-mcp/internal/jsonrpc"
	"github.com/ggoodman/contentstack-mcp/internal/logctx"
	"github.com/ggoodman/contentstack-mcp/internal/metrics"
	"github.com/ggoodman/contentstack-mcp/sessions"
)

// Outcome classifies the result of routing one message.
type Outcome int

const (
	Dispatched Outcome = iota
	MissingRoutingKey
	UnknownSession
	InvalidMessage
	HandlerFailed
)

func (o Outcome) String() string {
	switch o {
	case Dispatched:
		return "dispatched"
	case MissingRoutingKey:
		return "missing_routing_key"
	case UnknownSession:
		return "unknown_session"
	case InvalidMessage:
		return "invalid_message"
	case HandlerFailed:
		return "handler_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of Route plus, for failures, the reason.
type Result struct {
	Outcome Outcome
	Err     error
	// Session is set when the routing key resolved.
	Session *sessions.Session
}

// Handler is the per-session protocol engine.
type Handler interface {
	HandleMessage(ctx context.Context, sess *sessions.Session, msg *jsonrpc.AnyMessage) error
}

// Registry is the subset of *sessions.Registry the router needs.
type Registry interface {
	Lookup(id string) (*sessions.Session, error)
}

// Router resolves routing keys and hands messages to the engine.
type Router struct {
	registry Registry
	handler  Handler
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Router.
type Option func(*Router)

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New builds a Router.
func New(reg Registry, h Handler, opts ...Option) *Router {
	r := &Router{registry: reg, handler: h}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logctx.Wrap(r.log)
	return r
}

// Route resolves key to a live session and dispatches body to its engine.
// Key checks run before the body is parsed; the handler is only invoked on
// the Dispatched path.
func (r *Router) Route(ctx context.Context, key string, body []byte) (res Result) {
	defer func() {
		r.metrics.Routed(res.Outcome.String())
	}()

	if key == "" {
		r.log.InfoContext(ctx, "router.key.missing")
		return Result{Outcome: MissingRoutingKey, Err: errors.New("missing session id")}
	}

	sess, err := r.registry.Lookup(key)
	if err != nil {
		r.log.InfoContext(ctx, "router.session.miss", slog.String("session_id", key))
		return Result{Outcome: UnknownSession, Err: err}
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           sess.State().String(),
	})

	msg, err := jsonrpc.Parse(body)
	if err != nil {
		r.log.InfoContext(ctx, "router.message.invalid", slog.String("err", err.Error()))
		return Result{Outcome: InvalidMessage, Err: err, Session: sess}
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	if err := r.dispatch(ctx, sess, msg); err != nil {
		r.log.ErrorContext(ctx, "router.dispatch.fail", slog.String("err", err.Error()))
		return Result{Outcome: HandlerFailed, Err: err, Session: sess}
	}

	r.log.DebugContext(ctx, "router.dispatch.ok")
	return Result{Outcome: Dispatched, Session: sess}
}

func (r *Router) dispatch(ctx context.Context, sess *sessions.Session, msg *jsonrpc.AnyMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.ErrorContext(ctx, "router.dispatch.panic", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return r.handler.HandleMessage(ctx, sess, msg)
}
