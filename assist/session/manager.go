// Package session owns the short-lived cached session handle per user
// identity. A session is created lazily, exactly once, on first use.
package session

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vitrineai/vitrine/assist/backend"
	"github.com/vitrineai/vitrine/assist/cache"
)

// Bootstrapper creates sessions on the backend.
type Bootstrapper interface {
	CreateSession(ctx context.Context, userID string) (*backend.Bootstrap, error)
}

// Manager caches one session per user identity with a TTL. Expired entries
// are treated as absent and bootstrapped again.
type Manager struct {
	bootstrapper Bootstrapper
	sessions     *cache.LRU[string, backend.Session]
	group        singleflight.Group
	ttl          time.Duration
	onBootstrap  func(userID string, b *backend.Bootstrap)
}

// NewManager creates a Manager with the given cache TTL (default 1h).
func NewManager(b Bootstrapper, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		bootstrapper: b,
		sessions:     cache.New[string, backend.Session](1024, ttl),
		ttl:          ttl,
	}
}

// OnBootstrap registers a hook invoked after each successful bootstrap, e.g.
// to surface the backend's greeting. Must be set before the first Acquire.
func (m *Manager) OnBootstrap(fn func(userID string, b *backend.Bootstrap)) {
	m.onBootstrap = fn
}

// Acquire returns the cached session for the user identity, bootstrapping it
// on first use. Concurrent first uses for the same identity collapse into a
// single backend call; no network call happens on a cache hit.
func (m *Manager) Acquire(ctx context.Context, userID string) (backend.Session, error) {
	if s, ok := m.sessions.Get(userID); ok {
		return s, nil
	}

	v, err, _ := m.group.Do(userID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have filled it.
		if s, ok := m.sessions.Get(userID); ok {
			return s, nil
		}
		b, err := m.bootstrapper.CreateSession(ctx, userID)
		if err != nil {
			return backend.Session{}, err
		}
		m.sessions.Set(userID, b.Session, m.ttl)
		if m.onBootstrap != nil {
			m.onBootstrap(userID, b)
		}
		return b.Session, nil
	})
	if err != nil {
		return backend.Session{}, err
	}
	return v.(backend.Session), nil
}

// Invalidate drops the cached session for a user identity, forcing the next
// Acquire to bootstrap again.
func (m *Manager) Invalidate(userID string) {
	m.sessions.Remove(userID)
}
