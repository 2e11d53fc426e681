// Package cache provides process-scoped key/value stores for immutable
// lookups (token decimals, pool metadata, historical prices, block times).
// Entries are written once and never invalidated.
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Store is an insert-if-absent map safe for concurrent use.
type Store[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	group singleflight.Group
}

// New creates an empty store.
func New[V any]() *Store[V] {
	return &Store[V]{items: make(map[string]V)}
}

// Get returns the value for key.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// PutIfAbsent stores v unless key already has a value, and returns the
// value that ends up stored.
func (s *Store[V]) PutIfAbsent(key string, v V) V {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok {
		return existing
	}
	s.items[key] = v
	return v
}

// Len returns the number of cached entries.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// GetOrLoad returns the cached value for key, calling load at most once per
// key across concurrent callers. Errors are not cached.
func (s *Store[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}

	res, err, _ := s.group.Do(key, func() (interface{}, error) {
		if v, ok := s.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return s.PutIfAbsent(key, v), nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
