// Package lock provides per-key mutual exclusion with a TTL fallback.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrHeld is returned by TryLock when another holder owns the key.
var ErrHeld = errors.New("lock is held")

// Locker hands out exclusive, expiring locks.
type Locker interface {
	// TryLock acquires key without waiting. The returned release func is safe to
	// call more than once.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	IsLocked(ctx context.Context, key string) (bool, error)
}

// Memory is an in-process Locker.
type Memory struct {
	clock clock.Clock

	mu    sync.Mutex
	held  map[string]holder
	nextN uint64
}

type holder struct {
	n       uint64
	expires time.Time
}

// NewMemory returns an in-process locker timed against clk.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{clock: clk, held: make(map[string]holder)}
}

func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if h, ok := m.held[key]; ok && now.Before(h.expires) {
		return nil, ErrHeld
	}

	m.nextN++
	n := m.nextN
	m.held[key] = holder{n: n, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// an expired lock may already belong to someone else
			if h, ok := m.held[key]; ok && h.n == n {
				delete(m.held, key)
			}
		})
	}, nil
}

func (m *Memory) IsLocked(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.held[key]
	return ok && m.clock.Now().Before(h.expires), nil
}
