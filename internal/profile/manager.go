package profile

import (
	"fmt"
	"sync"
	"time"
)

// Store defines the persistence operations the Manager needs.
// Implemented by storage.Store. The ok result distinguishes "no profile yet"
// from a storage failure.
type Store interface {
	GetProfile(userID string) (Profile, bool, error)
	SaveProfile(p Profile) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, structured access to user profiles. Profiles are
// created on first reference and never deleted.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	profile  *Profile
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// Clock returns the manager's clock so callers share one time source.
func (m *Manager) Clock() Clock {
	return m.clock
}

// Get returns the user's profile, creating an empty one on first reference.
// The returned value is a deep copy; mutations are persisted via Save.
func (m *Manager) Get(userID string) (Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		p := deepCopy(e.profile)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return deepCopy(e.profile), nil
	}

	p, found, err := m.store.GetProfile(userID)
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile %q: %w", userID, err)
	}
	if !found {
		p = *New(userID, m.clock.Now())
	}

	m.cache[userID] = cacheEntry{profile: &p, cachedAt: m.clock.Now()}
	return deepCopy(&p), nil
}

// Save persists the profile and refreshes the cache.
func (m *Manager) Save(p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SaveProfile(p); err != nil {
		return fmt.Errorf("saving profile %q: %w", p.UserID, err)
	}

	cp := deepCopy(&p)
	m.cache[p.UserID] = cacheEntry{profile: &cp, cachedAt: m.clock.Now()}
	return nil
}

func deepCopy(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p

	if p.Attributes != nil {
		cp.Attributes = make(map[string]Attribute, len(p.Attributes))
		for k, v := range p.Attributes {
			cp.Attributes[k] = v
		}
	}
	if p.TopicHistory != nil {
		cp.TopicHistory = make([]string, len(p.TopicHistory))
		copy(cp.TopicHistory, p.TopicHistory)
	}
	return cp
}
