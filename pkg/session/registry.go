package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/provider"
	"github.com/go-go-golems/parley/pkg/stream"
)

// Options carries the process-wide, read-only capabilities every session is
// constructed with. Nothing here is mutated after startup.
type Options struct {
	// BaseCtx bounds background work (forwarders, backend calls). Defaults to
	// context.Background().
	BaseCtx context.Context
	// Providers is the shared agent→adapter table.
	Providers *provider.Registry
	// Backend supplies the response stream transport.
	Backend stream.Backend
	// NewID generates response ids. Defaults to uuid.NewString; tests inject a
	// deterministic one.
	NewID func() string
}

// Registry maps an opaque session key to at most one live Session. The HTTP
// layer resolves or creates sessions here and removes them on close.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     Options

	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.Providers == nil {
		return nil, errors.New("provider registry is nil")
	}
	if opts.Backend == nil {
		return nil, errors.New("stream backend is nil")
	}
	if opts.BaseCtx == nil {
		opts.BaseCtx = context.Background()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Registry{
		sessions: map[string]*Session{},
		opts:     opts,
	}, nil
}

// GetOrCreate returns the live session for key, creating one (in Upgrading)
// if none exists. A closed session still in the map counts as dead and is
// replaced, so a returning key gets a brand-new session.
func (r *Registry) GetOrCreate(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok && s.State() != StateClosed {
		return s
	}
	s := newSession(key, r.opts)
	r.sessions[key] = s
	return s
}

// Get returns the session for key if one is registered.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Remove closes the session for key and drops it from the map.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
