package cachestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// MemoryStorage keeps every generation in process memory
type MemoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
	order  []string
	closed bool
	now    func() time.Time
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*memoryStore),
		now:    time.Now,
	}
}

func (s *MemoryStorage) Open(ctx context.Context, name string) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if st, ok := s.stores[name]; ok {
		return st, nil
	}
	st := &memoryStore{name: name, entries: make(map[string]models.CacheEntry), now: s.now}
	s.stores[name] = st
	s.order = append(s.order, name)
	return st, nil
}

func (s *MemoryStorage) Lookup(ctx context.Context, name string) (Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	st, ok := s.stores[name]
	if !ok {
		return nil, fmt.Errorf("generation %s: %w", name, ErrNotFound)
	}
	return st, nil
}

func (s *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.stores[name]
	return ok, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	st, ok := s.stores[name]
	if !ok {
		return false, nil
	}
	delete(s.stores, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	st.drop()
	return true, nil
}

func (s *MemoryStorage) Names(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return append([]string(nil), s.order...), nil
}

func (s *MemoryStorage) Match(ctx context.Context, key string) (*models.CacheEntry, error) {
	s.mu.RLock()
	stores := make([]*memoryStore, 0, len(s.order))
	for _, name := range s.order {
		stores = append(stores, s.stores[name])
	}
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	for _, st := range stores {
		entry, err := st.Match(ctx, key)
		if err == nil {
			return entry, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memoryStore struct {
	name    string
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
	now     func() time.Time
}

func (m *memoryStore) Name() string { return m.name }

func (m *memoryStore) Match(ctx context.Context, key string) (*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	entry.Response = entry.Response.Clone()
	return &entry, nil
}

func (m *memoryStore) Put(ctx context.Context, key string, resp *models.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		// evicted generation: the write is unreachable, like the SQLite variant
		return nil
	}
	m.entries[key] = models.CacheEntry{
		RequestKey: key,
		Response:   resp.Clone(),
		StoredAt:   m.now(),
	}
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

func (m *memoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// drop detaches an evicted generation so late writers cannot resurrect it
func (m *memoryStore) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}
