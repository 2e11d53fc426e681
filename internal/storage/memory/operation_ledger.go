package memory

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/storage"
)

// OperationLedger is an in-memory implementation of storage.OperationLedger.
type OperationLedger struct {
	mu   sync.RWMutex
	data map[string]*domain.Operation // keyed by Operation.Key()
}

// NewOperationLedger creates a new in-memory operation ledger.
func NewOperationLedger() *OperationLedger {
	return &OperationLedger{
		data: make(map[string]*domain.Operation),
	}
}

func validOperation(op *domain.Operation) bool {
	return op != nil && op.PoolAddress != "" && op.TokenID != "" && op.TxHash != "" && op.OpType.Valid()
}

func copyOperation(op *domain.Operation) *domain.Operation {
	c := *op
	c.LiquidityDelta = new(big.Int).Set(op.Liquidity())
	return &c
}

// Record inserts an operation. A duplicate is a no-op and reports inserted=false.
func (l *OperationLedger) Record(_ context.Context, op *domain.Operation) (bool, error) {
	if !validOperation(op) {
		return false, storage.ErrInvalidInput
	}

	key := op.Key()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.data[key]; exists {
		return false, nil
	}
	l.data[key] = copyOperation(op)
	return true, nil
}

// RecordMany inserts operations atomically, skipping duplicates.
func (l *OperationLedger) RecordMany(_ context.Context, ops []*domain.Operation) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}

	// First pass: validate the whole batch before touching data
	for _, op := range ops {
		if !validOperation(op) {
			return 0, storage.ErrInvalidInput
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Second pass: insert rows whose key is new
	inserted := 0
	for _, op := range ops {
		key := op.Key()
		if _, exists := l.data[key]; exists {
			continue
		}
		l.data[key] = copyOperation(op)
		inserted++
	}

	return inserted, nil
}

// Replay retrieves a position's operations ordered by block_number, log_index ASC.
func (l *OperationLedger) Replay(_ context.Context, poolAddress, tokenID string) ([]*domain.Operation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*domain.Operation
	for _, op := range l.data {
		if strings.EqualFold(op.PoolAddress, poolAddress) && op.TokenID == tokenID {
			result = append(result, copyOperation(op))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockNumber != result[j].BlockNumber {
			return result[i].BlockNumber < result[j].BlockNumber
		}
		return result[i].LogIndex < result[j].LogIndex
	})

	return result, nil
}

// Len returns the number of ledger rows.
func (l *OperationLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data)
}

var _ storage.OperationLedger = (*OperationLedger)(nil)
