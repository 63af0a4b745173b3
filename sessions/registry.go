package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/slackbridge/internal/engine"
)

// ErrSessionNotFound is returned for ids that are absent or already removed.
var ErrSessionNotFound = errors.New("session not found")

const maxCreateAttempts = 8

// EngineFactory builds the engine for a newly allocated session id.
type EngineFactory func(id string) *engine.Engine

// Session binds an id to the engine that exclusively serves it.
type Session struct {
	ID        string
	Engine    *engine.Engine
	CreatedAt time.Time
}

// Registry is the sole authority for id to session lookup. Sessions are
// only created by Create and only destroyed by removal, which happens when
// the session's engine closes.
type Registry struct {
	newEngine EngineFactory
	newID     func() (string, error)
	log       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithIDGenerator replaces the random uuid generator.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(r *Registry) { r.newID = fn }
}

// NewRegistry returns an empty registry that builds engines with newEngine.
func NewRegistry(newEngine EngineFactory, opts ...Option) *Registry {
	r := &Registry{
		newEngine: newEngine,
		newID:     newRandomID,
		log:       slog.Default(),
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newRandomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Create allocates a fresh id, builds its engine and stores the pair. The
// mapping is removed automatically when the engine closes.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := r.newID()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}

		r.mu.Lock()
		if _, taken := r.sessions[id]; taken {
			r.mu.Unlock()
			r.log.WarnContext(ctx, "session.create.collision", slog.String("session_id", id))
			continue
		}
		sess := &Session{ID: id, Engine: r.newEngine(id), CreatedAt: time.Now()}
		r.sessions[id] = sess
		r.mu.Unlock()

		sess.Engine.OnClose(func() { r.remove(sess) })

		r.log.InfoContext(ctx, "session.create.ok", slog.String("session_id", id))
		return sess, nil
	}
	return nil, errors.New("could not allocate a unique session id")
}

// Lookup returns the live session for id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove drops the mapping for id without closing its engine. Removing an
// unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// remove drops sess only if it is still the entry for its id.
func (r *Registry) remove(sess *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[sess.ID]; ok && cur == sess {
		delete(r.sessions, sess.ID)
	}
	r.mu.Unlock()
	r.log.Info("session.remove.ok", slog.String("session_id", sess.ID))
}

// Close closes the session's engine, which removes it from the registry.
// When several callers race to close the same id, exactly one succeeds and
// the rest get ErrSessionNotFound.
func (r *Registry) Close(ctx context.Context, id string) error {
	sess, ok := r.Lookup(id)
	if !ok {
		return ErrSessionNotFound
	}
	if err := sess.Engine.Close(); err != nil {
		if errors.Is(err, engine.ErrSessionClosed) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("close session %s: %w", id, err)
	}
	r.log.InfoContext(ctx, "session.close.ok", slog.String("session_id", id))
	return nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every live session; used at shutdown.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	var errs []error
	for _, s := range all {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.Engine.Close(); err != nil && !errors.Is(err, engine.ErrSessionClosed) {
			errs = append(errs, err)
		}
	}
	r.log.InfoContext(ctx, "session.close_all.ok", slog.Int("count", len(all)))
	return errors.Join(errs...)
}
