package storage

import (
	"context"
	"sync"
	"time"
)

var _ Coordinator = (*MemoryCoordinator)(nil)

type memoryResult struct {
	result    RefreshResult
	expiresAt time.Time
}

// MemoryCoordinator coordinates refreshes within a single process
type MemoryCoordinator struct {
	mu      sync.Mutex
	locks   map[string]time.Time
	results map[string]memoryResult
	now     func() time.Time
}

// NewMemoryCoordinator creates a new in-process coordinator
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		locks:   make(map[string]time.Time),
		results: make(map[string]memoryResult),
		now:     time.Now,
	}
}

func (m *MemoryCoordinator) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiresAt, held := m.locks[key]; held && now.Before(expiresAt) {
		return false, nil
	}
	m.locks[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryCoordinator) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func (m *MemoryCoordinator) Result(_ context.Context, key string) (*RefreshResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.results[key]
	if !ok || !m.now().Before(entry.expiresAt) {
		return nil, ErrResultNotFound
	}
	result := entry.result
	return &result, nil
}

func (m *MemoryCoordinator) PutResult(_ context.Context, key string, result *RefreshResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results[key] = memoryResult{result: *result, expiresAt: m.now().Add(ttl)}
	return nil
}

// CleanupExpired drops expired locks and results, returning how many went
func (m *MemoryCoordinator) CleanupExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for key, expiresAt := range m.locks {
		if !now.Before(expiresAt) {
			delete(m.locks, key)
			count++
		}
	}
	for key, entry := range m.results {
		if !now.Before(entry.expiresAt) {
			delete(m.results, key)
			count++
		}
	}
	return count, nil
}

func (m *MemoryCoordinator) Ping(context.Context) error { return nil }
func (m *MemoryCoordinator) Close() error               { return nil }
