package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry tracks live sessions by ID and expires the ones that go quiet.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg  Config
	deps Deps
	ttl  time.Duration
	now  func() time.Time
}

// NewRegistry creates a registry that considers a session stale after ttl
// of inactivity. A non-positive ttl disables expiry.
func NewRegistry(cfg Config, deps Deps, ttl time.Duration) *Registry {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		deps:     deps,
		ttl:      ttl,
		now:      now,
	}
}

// Create starts a new session for userID under a fresh ID.
func (r *Registry) Create(userID string) (*Session, error) {
	s, err := New(uuid.NewString(), userID, r.cfg, r.deps)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	slog.Info("session created", "session", s.ID, "user", userID)
	return s, nil
}

// Get looks up a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove ends the session and drops it from the registry.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.End()
	slog.Info("session removed", "session", id)
	return true
}

// Len reports the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns a snapshot of tracked sessions, most recently active first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActive().After(out[j].LastActive())
	})
	return out
}

// Sweep ends and drops every session idle longer than the TTL, returning
// how many were expired.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.End()
		slog.Info("session expired", "session", s.ID, "user", s.UserID)
	}
	return len(stale)
}

// Run sweeps at the given interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
