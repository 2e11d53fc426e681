package memory

import (
	"context"
	"sort"
	"sync"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// SnapshotHistoryStore is an in-memory implementation of storage.SnapshotHistoryStore.
type SnapshotHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.StrategySnapshot // keyed by PositionKey.String()
}

// NewSnapshotHistoryStore creates a new in-memory snapshot history store.
func NewSnapshotHistoryStore() *SnapshotHistoryStore {
	return &SnapshotHistoryStore{data: make(map[string][]*domain.StrategySnapshot)}
}

// Append adds snapshots to the history.
func (s *SnapshotHistoryStore) Append(_ context.Context, snapshots []*domain.StrategySnapshot) error {
	for _, snap := range snapshots {
		if snap == nil || snap.PoolAddress == "" || snap.TokenID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		key := snap.Key().String()
		s.data[key] = append(s.data[key], copySnapshot(snap))
	}
	return nil
}

// History retrieves up to limit snapshots for a position, newest first.
func (s *SnapshotHistoryStore) History(_ context.Context, key domain.PositionKey, limit int) ([]*domain.StrategySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[key.String()]
	result := make([]*domain.StrategySnapshot, 0, len(rows))
	for _, snap := range rows {
		result = append(result, copySnapshot(snap))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].QueryTime > result[j].QueryTime
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.SnapshotHistoryStore = (*SnapshotHistoryStore)(nil)
