package ingestion

import (
	"errors"
	"sort"
	"strings"

	"lp-pnl-tracker/internal/domain"
)

// ErrInvalidOrdering is returned when operations are not properly ordered.
var ErrInvalidOrdering = errors.New("operations are not in deterministic order")

// SortOperations orders operations by (block_number ASC, log_index ASC, tx_hash ASC, op_type ASC).
// The three event streams of a position are fetched independently, so the
// merged slice must be sorted before it reaches the ledger.
func SortOperations(ops []*domain.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return compareOperations(ops[i], ops[j]) < 0
	})
}

// SortLiquidityEvents orders decoded events by (block_number ASC, log_index ASC).
func SortLiquidityEvents(events []*LiquidityEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}

// ValidateOperationOrdering checks that ops are strictly increasing by
// sort key. A repeated (block, log index, tx, op type) is rejected too.
func ValidateOperationOrdering(ops []*domain.Operation) error {
	for i := 1; i < len(ops); i++ {
		if compareOperations(ops[i-1], ops[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareOperations returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (block_number ASC, log_index ASC, tx_hash ASC, op_type ASC)
func compareOperations(a, b *domain.Operation) int {
	if a.BlockNumber != b.BlockNumber {
		if a.BlockNumber < b.BlockNumber {
			return -1
		}
		return 1
	}
	if a.LogIndex != b.LogIndex {
		if a.LogIndex < b.LogIndex {
			return -1
		}
		return 1
	}
	if c := strings.Compare(strings.ToLower(a.TxHash), strings.ToLower(b.TxHash)); c != 0 {
		return c
	}
	return strings.Compare(string(a.OpType), string(b.OpType))
}
