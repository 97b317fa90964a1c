package budget

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	value     int
	expiresAt time.Time
}

// MemoryStore - процессное хранилище счётчиков.
//
// Подходит для одного экземпляра приложения и тестов. Атомарность
// DecrementIfAtLeast обеспечивается мьютексом.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]counter
	now      func() time.Time
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]counter), now: time.Now}
}

func (s *MemoryStore) liveLocked(key string) (counter, bool) {
	c, ok := s.counters[key]
	if !ok {
		return counter{}, false
	}
	if !s.now().Before(c.expiresAt) {
		delete(s.counters, key)
		return counter{}, false
	}
	return c, true
}

// SetWithExpiry реализует Store.
func (s *MemoryStore) SetWithExpiry(_ context.Context, key string, value int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = counter{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get реализует Store.
func (s *MemoryStore) Get(_ context.Context, key string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.liveLocked(key)
	return c.value, ok, nil
}

// DecrementIfAtLeast реализует Store.
func (s *MemoryStore) DecrementIfAtLeast(_ context.Context, key string, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.liveLocked(key)
	if !ok || c.value < amount {
		return false, nil
	}
	c.value -= amount
	s.counters[key] = c
	return true, nil
}

var _ Store = (*MemoryStore)(nil)
