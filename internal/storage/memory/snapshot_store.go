package memory

import (
	"context"
	"sort"
	"sync"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StrategySnapshot // keyed by PositionKey.String()
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.StrategySnapshot),
	}
}

func copySnapshot(s *domain.StrategySnapshot) *domain.StrategySnapshot {
	c := *s
	if s.EndBlockNumber != nil {
		end := *s.EndBlockNumber
		c.EndBlockNumber = &end
	}
	return &c
}

// Upsert inserts or replaces the snapshot for its identity key.
func (s *SnapshotStore) Upsert(_ context.Context, snap *domain.StrategySnapshot) error {
	if snap == nil || snap.PoolAddress == "" || snap.TokenID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[snap.Key().String()] = copySnapshot(snap)
	return nil
}

// Get retrieves the snapshot for a position. Returns ErrNotFound if not exists.
func (s *SnapshotStore) Get(_ context.Context, key domain.PositionKey) (*domain.StrategySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[key.String()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySnapshot(snap), nil
}

// List retrieves all snapshots for a pool name, or every snapshot when poolName is empty.
func (s *SnapshotStore) List(_ context.Context, poolName string) ([]*domain.StrategySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StrategySnapshot
	for _, snap := range s.data {
		if poolName == "" || snap.PoolName == poolName {
			result = append(result, copySnapshot(snap))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key().String() < result[j].Key().String()
	})

	return result, nil
}

// Len returns the number of stored snapshots.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
