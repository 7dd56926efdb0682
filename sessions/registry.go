package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/contentstack-mcp/internal/logctx"
	"github.com/google/uuid"
)

// Hooks observe registry membership changes. Both callbacks run outside the
// registry lock.
type Hooks struct {
	OnCreate func(id string)
	OnRemove func(id string, age time.Duration)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithHooks installs membership observers.
func WithHooks(h Hooks) Option {
	return func(r *Registry) { r.hooks = h }
}

// WithIDGenerator overrides identifier generation. The registry still
// guarantees uniqueness among live sessions by retrying on collision.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// Registry maps session identifiers to live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	log   *slog.Logger
	hooks Hooks
	newID func() string
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logctx.Wrap(r.log)
	return r
}

// Create registers a new Open session owning ch. When ch reports a peer
// disconnect the session closes itself.
func (r *Registry) Create(ch Channel) *Session {
	s := &Session{
		createdAt: time.Now(),
		channel:   ch,
		registry:  r,
		closed:    make(chan struct{}),
	}

	r.mu.Lock()
	id := r.newID()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = r.newID()
	}
	s.id = id
	r.sessions[id] = s
	r.mu.Unlock()

	ch.OnPeerDisconnect(func() {
		ctx := logctx.WithSessionData(context.Background(), &logctx.SessionData{SessionID: id})
		r.log.DebugContext(ctx, "session.peer.disconnect")
		if err := s.Close(); err != nil {
			r.log.WarnContext(ctx, "session.close.fail", slog.String("err", err.Error()))
		}
	})

	if r.hooks.OnCreate != nil {
		r.hooks.OnCreate(id)
	}
	r.log.Debug("session.create", slog.String("session_id", id))

	return s
}

// Lookup returns the live session with the given id or ErrSessionNotFound.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove drops id from the registry. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	age := time.Since(s.createdAt)
	if r.hooks.OnRemove != nil {
		r.hooks.OnRemove(id, age)
	}
	r.log.Debug("session.remove", slog.String("session_id", id), slog.Duration("age", age))
}

// IDs returns a point-in-time snapshot of live session identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
