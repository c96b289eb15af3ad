package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps values in a map for the life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	feed   *feed
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Watcher = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		feed:   newFeed(),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	s.feed.emit(Change{Key: key, Value: value})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	var removed []string
	s.mu.Lock()
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			removed = append(removed, k)
		}
	}
	s.mu.Unlock()

	for _, k := range removed {
		s.feed.emit(Change{Key: k, Deleted: true})
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	return s.feed.watch(ctx), nil
}

func (s *MemoryStore) Origin() string {
	return s.feed.origin
}
