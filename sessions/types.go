package sessions

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned by Registry.Lookup for identifiers that
	// are not live.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when sending on a session that is no
	// longer open.
	ErrSessionClosed = errors.New("session closed")
)

// State is the lifecycle state of a Session. Transitions only move forward.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is the outbound half of a session. Implementations must serialize
// writes internally so that concurrent Send calls never interleave frames.
type Channel interface {
	// Send writes one message as a discrete event and returns once it has
	// been flushed, the context ends, or the channel is closed.
	Send(ctx context.Context, msg []byte) error
	// Close releases the underlying connection. It must be idempotent.
	Close() error
	// OnPeerDisconnect registers a callback fired at most once when the
	// remote side goes away.
	OnPeerDisconnect(fn func())
}

// ClientInfo identifies the client connecting to the server.
type ClientInfo struct {
	Name    string
	Version string
}
