package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// MEMORY LOCKER - In-process implementation (single instance / tests)
// =============================================================================

type lease struct {
	token     string
	expiresAt time.Time
}

// Memory is a Locker for a single process. Leases expire on Now().
type Memory struct {
	mu     sync.Mutex
	leases map[string]lease

	// Now is the clock; tests may replace it.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{leases: make(map[string]lease), Now: time.Now}
}

// Acquire implements Locker.
func (m *Memory) Acquire(ctx context.Context, key string, opts Options) (string, error) {
	opts = opts.normalized()
	token := uuid.NewString()

	err := acquireWithRetry(ctx, key, opts, func(context.Context) (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if l, ok := m.leases[key]; ok && m.Now().Before(l.expiresAt) {
			return false, nil
		}
		m.leases[key] = lease{token: token, expiresAt: m.Now().Add(opts.TTL)}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Release implements Locker.
func (m *Memory) Release(_ context.Context, key, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[key]
	if !ok || l.token != token || !m.Now().Before(l.expiresAt) {
		return false
	}
	delete(m.leases, key)
	return true
}

// Extend implements Locker.
func (m *Memory) Extend(_ context.Context, key, token string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[key]
	if !ok || l.token != token || !m.Now().Before(l.expiresAt) {
		return false
	}
	l.expiresAt = m.Now().Add(ttl)
	m.leases[key] = l
	return true
}

// Held reports whether key is currently leased.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[key]
	return ok && m.Now().Before(l.expiresAt)
}
