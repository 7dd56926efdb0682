package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/ggoodman/contentstack-mcp/internal/logctx"
)

var (
	// ErrChannelClosed is returned for sends on a closed channel and for
	// queued frames that were dropped during close.
	ErrChannelClosed = errors.New("sse: channel closed")
	// ErrBacklogFull is returned when the consumer has fallen too far
	// behind. The channel is closed as a side effect.
	ErrBacklogFull = errors.New("sse: backlog full")
	// ErrPeerGone is returned by Run when the request context ends.
	ErrPeerGone = errors.New("sse: peer disconnected")
	// ErrCloseTimeout is returned by Close when the writer loop did not exit
	// in time.
	ErrCloseTimeout = errors.New("sse: close timed out")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("sse: writer loop already running")
)

const (
	DefaultMaxBacklog   = 256
	DefaultWriteTimeout = 10 * time.Second
	DefaultCloseTimeout = 2 * time.Second
	DefaultHeartbeat    = 25 * time.Second
)

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger for write failures and lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// WithMaxBacklog bounds the number of queued, unwritten frames.
func WithMaxBacklog(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.maxBacklog = n
		}
	}
}

// WithWriteTimeout sets the per-frame write deadline. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Channel) { c.writeTimeout = d }
}

// WithCloseTimeout bounds how long Close spends flushing queued frames.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

// WithHeartbeat sets the keepalive comment interval. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Channel) { c.heartbeat = d }
}

// WithWriteHook registers fn to observe the outcome of every frame write.
func WithWriteHook(fn func(ev Event, err error)) Option {
	return func(c *Channel) { c.onWrite = fn }
}

type frame struct {
	ev     Event
	result chan error
}

// Channel is a single SSE stream. See the package documentation for the
// concurrency model.
type Channel struct {
	w  io.Writer
	rc *http.ResponseController

	log          *slog.Logger
	maxBacklog   int
	writeTimeout time.Duration
	closeTimeout time.Duration
	heartbeat    time.Duration
	onWrite      func(Event, error)

	mu           sync.Mutex
	backlog      *queue.Queue
	closing      bool
	disconnected bool
	disconnectFn []func()

	wake      chan struct{}
	closeCh   chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	started   atomic.Bool
	done      chan struct{}
}

// Open takes ownership of w for streaming. The caller is expected to have
// written the response headers and to call Run on the same goroutine that is
// serving the request.
func Open(w http.ResponseWriter, opts ...Option) *Channel {
	c := &Channel{
		w:            w,
		rc:           http.NewResponseController(w),
		maxBacklog:   DefaultMaxBacklog,
		writeTimeout: DefaultWriteTimeout,
		closeTimeout: DefaultCloseTimeout,
		backlog:      queue.New(),
		wake:         make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logctx.Wrap(c.log)
	return c
}

// Post queues ev without waiting for it to be written. The returned channel
// receives exactly one value: nil once the frame is flushed, or the error
// that prevented it.
func (c *Channel) Post(ev Event) (<-chan error, error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if c.backlog.Length() >= c.maxBacklog {
		n := c.backlog.Length()
		c.mu.Unlock()
		c.log.Warn("sse.backlog.full", slog.Int("backlog", n))
		c.stop()
		return nil, ErrBacklogFull
	}
	f := &frame{ev: ev, result: make(chan error, 1)}
	c.backlog.Add(f)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return f.result, nil
}

// SendEvent queues ev and waits until it is written, the channel closes, or
// ctx ends. A frame whose sender gave up on ctx is still written in order.
func (c *Channel) SendEvent(ctx context.Context, ev Event) error {
	res, err := c.Post(ev)
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes msg as a "message" event.
func (c *Channel) Send(ctx context.Context, msg []byte) error {
	return c.SendEvent(ctx, MessageEvent(msg))
}

// OnPeerDisconnect registers fn to run once when the peer goes away. If the
// disconnect already happened fn runs immediately.
func (c *Channel) OnPeerDisconnect(fn func()) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		fn()
		return
	}
	c.disconnectFn = append(c.disconnectFn, fn)
	c.mu.Unlock()
}

// Backlog returns the number of queued frames.
func (c *Channel) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backlog.Length()
}

// Done is closed when the writer loop has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Run is the writer loop. It returns nil after Close, ErrPeerGone when ctx
// ends, or the write error that broke the stream.
func (c *Channel) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		if c.isClosing() {
			// Close claimed the writer first and is draining the backlog.
			<-c.done
			return nil
		}
		return ErrAlreadyRunning
	}

	var heartbeat <-chan time.Time
	if c.heartbeat > 0 {
		t := time.NewTicker(c.heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	err := c.loop(ctx, heartbeat)

	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.failPending()
	close(c.done)

	if err != nil {
		c.log.DebugContext(ctx, "sse.stream.lost", slog.String("err", err.Error()))
		c.firePeerDisconnect()
	}
	return err
}

func (c *Channel) loop(ctx context.Context, heartbeat <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrPeerGone, context.Cause(ctx))
		case <-c.closeCh:
			c.drain(ctx)
			return nil
		case <-c.wake:
			if err := c.flushBacklog(ctx); err != nil {
				return err
			}
		case <-heartbeat:
			if err := c.writeFrame(Event{Comment: "keepalive"}); err != nil {
				c.log.InfoContext(ctx, "sse.heartbeat.fail", slog.String("err", err.Error()))
				return err
			}
		}
	}
}

func (c *Channel) flushBacklog(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrPeerGone, context.Cause(ctx))
		}
		select {
		case <-c.closeCh:
			// Close takes over; drain handles what is left.
			return nil
		default:
		}
		f := c.pop()
		if f == nil {
			return nil
		}
		err := c.writeFrame(f.ev)
		f.result <- err
		if err != nil {
			c.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return err
		}
	}
}

// drain writes queued frames until the backlog is empty or the close budget
// is spent.
func (c *Channel) drain(ctx context.Context) {
	deadline := time.Now().Add(c.closeTimeout)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		f := c.pop()
		if f == nil {
			return
		}
		err := c.writeFrame(f.ev)
		f.result <- err
		if err != nil {
			c.log.DebugContext(ctx, "sse.drain.fail", slog.String("err", err.Error()))
			return
		}
	}
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Channel) pop() *frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backlog.Length() == 0 {
		return nil
	}
	return c.backlog.Remove().(*frame)
}

func (c *Channel) failPending() {
	for {
		f := c.pop()
		if f == nil {
			return
		}
		f.result <- ErrChannelClosed
	}
}

func (c *Channel) writeFrame(ev Event) (err error) {
	if c.onWrite != nil {
		defer func() { c.onWrite(ev, err) }()
	}
	if c.writeTimeout > 0 {
		if err := c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("failed to set SSE write deadline: %w", err)
		}
	}
	if _, err := ev.WriteTo(c.w); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	if err := c.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush SSE frame: %w", err)
	}
	return nil
}

func (c *Channel) firePeerDisconnect() {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	fns := c.disconnectFn
	c.disconnectFn = nil
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// stop refuses further sends and signals the writer loop to drain and exit.
func (c *Channel) stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		close(c.closeCh)
	})
}

// Close stops the channel, flushes queued frames within the close budget,
// and waits for the writer loop to exit. Only the first call does any work.
func (c *Channel) Close() error {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.stop()

		if c.started.CompareAndSwap(false, true) {
			// Run never took the writer; flush what is queued from here.
			c.drain(context.Background())
			c.failPending()
			close(c.done)
			return
		}

		timer := time.NewTimer(c.closeTimeout + c.writeTimeout)
		defer timer.Stop()
		select {
		case <-c.done:
		case <-timer.C:
			c.failPending()
			c.closeErr = ErrCloseTimeout
			c.log.Warn("sse.close.timeout", slog.Duration("budget", c.closeTimeout+c.writeTimeout))
		}
	})
	if !first {
		return nil
	}
	return c.closeErr
}
