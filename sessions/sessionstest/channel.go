// Package sessionstest provides an in-memory sessions.Channel for tests of
// components that sit above the push channel.
package sessionstest

import (
	"context"
	"errors"
	"sync"

	"github.com/ggoodman/contentstack-mcp/sessions"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("sessionstest: channel closed")

var _ sessions.Channel = (*Channel)(nil)

// Channel records every message sent to it. The zero value is not usable;
// call NewChannel.
type Channel struct {
	mu           sync.Mutex
	msgs         [][]byte
	closed       bool
	closeCalls   int
	disconnectFn []func()
	notify       chan struct{}

	// CloseFunc, when set, runs on the first Close and its error is returned.
	CloseFunc func() error
	// SendFunc, when set, runs before a message is recorded. A non-nil error
	// is returned to the caller and the message is dropped.
	SendFunc func(ctx context.Context, msg []byte) error
}

func NewChannel() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

func (c *Channel) Send(ctx context.Context, msg []byte) error {
	if fn := c.SendFunc; fn != nil {
		if err := fn(ctx, msg); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.msgs = append(c.msgs, append([]byte(nil), msg...))
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	c.closeCalls++
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	fn := c.CloseFunc
	c.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

func (c *Channel) OnPeerDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectFn = append(c.disconnectFn, fn)
}

// Disconnect simulates the remote side going away.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	fns := c.disconnectFn
	c.disconnectFn = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Messages returns a copy of everything sent so far.
func (c *Channel) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCalls returns how many times Close was invoked.
func (c *Channel) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// WaitForMessages blocks until at least n messages were recorded or ctx ends.
func (c *Channel) WaitForMessages(ctx context.Context, n int) ([][]byte, error) {
	for {
		msgs := c.Messages()
		if len(msgs) >= n {
			return msgs, nil
		}
		select {
		case <-c.notify:
		case <-ctx.Done():
			return msgs, ctx.Err()
		}
	}
}
