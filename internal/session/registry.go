package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/pkg/audio"
)

var (
	// ErrSessionNotFound is returned by Get for unknown IDs.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrTooManySessions is returned by Create when the session limit is
	// reached.
	ErrTooManySessions = errors.New("session: too many active sessions")
)

// CreateOption adjusts the configuration of one session.
type CreateOption func(*Config)

// WithInputFormat sets the client's audio codec and stream format. Zero
// values keep the registry defaults.
func WithInputFormat(codec audio.Codec, f audio.Format) CreateOption {
	return func(c *Config) {
		if codec != "" {
			c.Codec = codec
		}
		if f.SampleRate > 0 {
			c.InputFormat.SampleRate = f.SampleRate
		}
		if f.Channels > 0 {
			c.InputFormat.Channels = f.Channels
		}
	}
}

// Registry owns every live Session. It is the only structure shared across
// sessions; its lock is held for map operations only.
type Registry struct {
	deps        Deps
	cfg         Config
	maxSessions int
	newID       func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxSessions limits the number of concurrent sessions. Zero means no
// limit.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) { r.maxSessions = n }
}

// WithIDGenerator replaces the UUID generator. Intended for tests.
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *Registry) { r.newID = fn }
}

// NewRegistry returns a Registry that builds sessions from deps and cfg.
func NewRegistry(deps Deps, cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		deps:     deps,
		cfg:      cfg,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create registers a new session for ic and returns its ID. The session does
// not start until its Run method is called.
func (r *Registry) Create(ic interview.Context, opts ...CreateOption) (string, error) {
	if err := ic.Validate(); err != nil {
		return "", fmt.Errorf("session: invalid context: %w", err)
	}
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()
	for _, o := range opts {
		o(&cfg)
	}
	id := r.newID()
	s, err := newSession(id, ic, cfg, r.deps)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return "", ErrTooManySessions
	}
	if _, dup := r.sessions[id]; dup {
		return "", fmt.Errorf("session: duplicate id %q", id)
	}
	r.sessions[id] = s
	return id, nil
}

// Get returns the session with id or ErrSessionNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove stops and forgets the session with id. Removing an unknown or
// already removed id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Stop()
		slog.Debug("session removed", "session_id", id)
	}
}

// Reconfigure applies fn to the configuration used for sessions created from
// now on. Running sessions keep their configuration.
func (r *Registry) Reconfigure(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cfg
	cfg.Keywords = slices.Clone(cfg.Keywords)
	fn(&cfg)
	r.cfg = cfg
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops every registered session.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Stop()
	}
}
