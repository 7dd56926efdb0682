// Package shutdown drains live sessions when the process is asked to stop.
//
// A Coordinator moves through Running, Draining and Stopped exactly once.
// The whole drain is bounded by a deadline; if the sweep, the in-flight
// wait or the HTTP server shutdown has not finished by then the process is
// terminated with a non-zero exit code.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/contentstack-mcp/internal/logctx"
	"github.com/ggoodman/contentstack-mcp/internal/metrics"
	"github.com/ggoodman/contentstack-mcp/sessions"
)

// DefaultDeadline bounds the drain when WithDeadline is not used.
const DefaultDeadline = 10 * time.Second

// ErrDeadlineExceeded is reported when the drain did not finish in time.
var ErrDeadlineExceeded = errors.New("shutdown: drain deadline exceeded")

// State is the coordinator's lifecycle position.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sessions is the subset of *sessions.Registry the coordinator drains.
type Sessions interface {
	IDs() []string
	Lookup(id string) (*sessions.Session, error)
}

// Waiter blocks until in-flight work finishes or ctx ends.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Server is satisfied by *http.Server.
type Server interface {
	Shutdown(ctx context.Context) error
}

var _ Server = (*http.Server)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithDeadline(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.deadline = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithWaiter makes the drain wait for in-flight tool invocations.
func WithWaiter(w Waiter) Option {
	return func(c *Coordinator) { c.waiter = w }
}

// WithServer makes the drain stop the HTTP server once sessions are closed.
func WithServer(s Server) Option {
	return func(c *Coordinator) { c.server = s }
}

// WithExit replaces os.Exit.
func WithExit(fn func(code int)) Option {
	return func(c *Coordinator) { c.exit = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator owns the drain state machine.
type Coordinator struct {
	sessions Sessions
	deadline time.Duration
	log      *slog.Logger
	waiter   Waiter
	server   Server
	exit     func(int)
	metrics  *metrics.Metrics

	state atomic.Int32
	once  sync.Once
	code  int
}

// New returns a Running coordinator for the given sessions.
func New(s Sessions, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessions: s,
		deadline: DefaultDeadline,
		exit:     os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logctx.Wrap(c.log)
	return c
}

// State reports the current lifecycle position.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Accepting reports whether new channels and request-path messages should
// be admitted.
func (c *Coordinator) Accepting() bool { return c.State() == StateRunning }

// Watch blocks until one of signals (SIGINT and SIGTERM when none are given)
// arrives, then runs Shutdown. If ctx ends first Watch returns ctx.Err()
// without shutting down.
func (c *Coordinator) Watch(ctx context.Context, signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		c.log.InfoContext(ctx, "shutdown.signal", slog.String("signal", sig.String()))
		c.Shutdown()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drains the process and calls the exit function with 0 when the
// drain completed inside the deadline and 1 otherwise. Only the first call
// does any work; every call returns the chosen exit code.
func (c *Coordinator) Shutdown() int {
	c.once.Do(func() {
		c.code = c.run()
		c.exit(c.code)
	})
	return c.code
}

func (c *Coordinator) run() int {
	c.state.Store(int32(StateDraining))
	start := time.Now()

	ids := c.sessions.IDs()
	c.log.Info("shutdown.drain.start", slog.Int("sessions", len(ids)), slog.Duration("deadline", c.deadline))

	ctx, cancel := context.WithTimeoutCause(context.Background(), c.deadline, ErrDeadlineExceeded)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- c.drain(ctx, ids) }()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
	}
	c.state.Store(int32(StateStopped))

	if ctx.Err() != nil {
		c.log.Error("shutdown.deadline.exceeded",
			slog.Duration("elapsed", time.Since(start)),
			slog.Int("remaining_sessions", len(c.sessions.IDs())),
		)
		c.metrics.Shutdown("deadline_exceeded")
		return 1
	}

	if err != nil {
		// Close failures are isolated to their sessions; the drain still
		// finished in time.
		c.log.Warn("shutdown.drain.errors", slog.String("err", err.Error()))
	}
	c.log.Info("shutdown.drain.complete", slog.Duration("elapsed", time.Since(start)))
	c.metrics.Shutdown("clean")
	return 0
}

func (c *Coordinator) drain(ctx context.Context, ids []string) error {
	errs := c.closeSessions(ids)

	if c.waiter != nil {
		if err := c.waiter.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for in-flight requests: %w", err))
			return errors.Join(errs...)
		}
	}

	// A channel-open that passed admission just before draining began can
	// register after the first snapshot. Its stream would hold
	// server.Shutdown open until the deadline.
	if late := c.sessions.IDs(); len(late) > 0 {
		c.log.Info("shutdown.drain.late_sessions", slog.Int("count", len(late)))
		errs = append(errs, c.closeSessions(late)...)
	}

	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// closeSessions closes every listed session concurrently and returns the
// close errors. A failure never stops the sweep.
func (c *Coordinator) closeSessions(ids []string) []error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			sess, err := c.sessions.Lookup(id)
			if err != nil {
				// Closed by its peer since the snapshot.
				return nil
			}
			if err := sess.Close(); err != nil {
				c.log.Warn("shutdown.session.close.fail", slog.String("session_id", id), slog.String("err", err.Error()))
				mu.Lock()
				errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
