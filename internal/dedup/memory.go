package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local TTL cache. Expired keys are pruned on lookup and by Sweep.
// It does not share state between instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]claim
	now     func() time.Time
}

type claim struct {
	token     string
	expiresAt time.Time
}

// NewMemoryStore builds an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]claim), now: now}
}

// Claim implements Store.
func (m *MemoryStore) Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if c, ok := m.entries[key]; ok && now.Before(c.expiresAt) {
		return false, nil
	}
	m.entries[key] = claim{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release implements Store.
func (m *MemoryStore) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.entries[key]; ok && c.token == token {
		delete(m.entries, key)
	}
	return nil
}

// Sweep drops every expired entry.
func (m *MemoryStore) Sweep(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed int64
	for key, c := range m.entries {
		if !now.Before(c.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len counts entries, expired ones included until pruned.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)
