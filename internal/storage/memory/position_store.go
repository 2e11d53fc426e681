package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by PositionKey.String()
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

func copyPosition(p *domain.Position) *domain.Position {
	c := *p
	if p.EndBlock != nil {
		end := *p.EndBlock
		c.EndBlock = &end
	}
	return &c
}

// Insert adds a new position. Returns ErrDuplicateKey if the identity key exists.
func (s *PositionStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.PoolAddress == "" || p.TokenID == "" {
		return storage.ErrInvalidInput
	}

	key := p.Key().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[key] = copyPosition(p)
	return nil
}

// Get retrieves a position by identity key. Returns ErrNotFound if not exists.
func (s *PositionStore) Get(_ context.Context, key domain.PositionKey) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[key.String()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyPosition(p), nil
}

// UpdateStatus sets is_active and end_block_number. Returns ErrNotFound if not exists.
func (s *PositionStore) UpdateStatus(_ context.Context, key domain.PositionKey, isActive bool, endBlock *uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[key.String()]
	if !ok {
		return storage.ErrNotFound
	}
	p.IsActive = isActive
	p.EndBlock = nil
	if endBlock != nil {
		end := *endBlock
		p.EndBlock = &end
	}
	return nil
}

// List retrieves positions matching filter, ordered by creation_block ASC.
func (s *PositionStore) List(_ context.Context, filter storage.PositionFilter) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if filter.PoolName != "" && p.PoolName != filter.PoolName {
			continue
		}
		if filter.Owner != "" && !strings.EqualFold(p.Owner, filter.Owner) {
			continue
		}
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		result = append(result, copyPosition(p))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreationBlock != result[j].CreationBlock {
			return result[i].CreationBlock < result[j].CreationBlock
		}
		return result[i].Key().String() < result[j].Key().String()
	})

	return result, nil
}

var _ storage.PositionStore = (*PositionStore)(nil)
