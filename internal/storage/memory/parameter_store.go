package memory

import (
	"context"
	"sync"

	"lp-pnl-tracker/internal/storage"
)

// ParameterStore is an in-memory implementation of storage.ParameterStore.
type ParameterStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewParameterStore creates a new in-memory parameter store.
func NewParameterStore() *ParameterStore {
	return &ParameterStore{data: make(map[string]string)}
}

// Get retrieves a parameter value. Returns ErrNotFound if not exists.
func (s *ParameterStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

// Set inserts or updates a parameter value.
func (s *ParameterStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return nil
}

var _ storage.ParameterStore = (*ParameterStore)(nil)
