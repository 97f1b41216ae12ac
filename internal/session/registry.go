package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/charliek/stackscope/internal/domain"
)

// Registry holds the named sessions of one process
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session. Names must be unique.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.Name()]; ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, s.Name())
	}
	r.sessions[s.Name()] = s
	return nil
}

// Get returns a session by name
func (r *Registry) Get(name string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, name)
	}
	return s, nil
}

// Names returns the sorted session names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sessions returns the sessions sorted by name
func (r *Registry) Sessions() []*Session {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(names))
	for _, name := range names {
		if s, ok := r.sessions[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start binds the transports of every session. Failures are recorded in each
// session's status and returned joined; the other sessions still start.
func (r *Registry) Start(ctx context.Context) error {
	var errs []error
	for _, s := range r.Sessions() {
		if err := s.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run runs every session until ctx is done. A session that fails is logged
// and recorded in its status; it does not stop the others.
func (r *Registry) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range r.Sessions() {
		g.Go(func() error {
			if err := s.Run(ctx); err != nil {
				s.logger.Error("session failed", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every session
func (r *Registry) Close() error {
	var errs []error
	for _, s := range r.Sessions() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
