package sessions

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Session is a live push-channel session. It is safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time
	channel   Channel
	registry  *Registry

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	mu              sync.RWMutex
	protocolVersion string
	client          ClientInfo
	initialized     bool
}

// ID returns the session identifier used as the routing key.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the time the session was registered.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Send writes msg on the session's channel.
func (s *Session) Send(ctx context.Context, msg []byte) error {
	if s.State() != StateOpen {
		return ErrSessionClosed
	}
	if err := s.channel.Send(ctx, msg); err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	return nil
}

// Close tears the session down: the channel is closed and the session is
// removed from its registry. Only the first call does any work; later calls
// return nil.
func (s *Session) Close() error {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
		s.closeErr = s.channel.Close()
		s.state.Store(int32(StateClosed))
		if s.registry != nil {
			s.registry.Remove(s.id)
		}
		close(s.closed)
	})
	if !first {
		return nil
	}
	return s.closeErr
}

// SetInitialized records the outcome of the initialize handshake.
func (s *Session) SetInitialized(protocolVersion string, client ClientInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = protocolVersion
	s.client = client
	s.initialized = true
}

// ProtocolVersion is the negotiated protocol version, empty before initialize.
func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

// Client returns the client info sent during initialize.
func (s *Session) Client() ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Initialized reports whether initialize has completed.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}
