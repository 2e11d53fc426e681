package replay

import (
	"sort"

	"lp-pnl-tracker/internal/domain"
)

// SortOperations orders operations by (block_number ASC, log_index ASC).
// The sort is stable so rows sharing a position keep their ledger order.
func SortOperations(ops []*domain.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return before(ops[i].BlockNumber, ops[i].LogIndex, ops[j].BlockNumber, ops[j].LogIndex)
	})
}

// before reports whether (blockA, indexA) sorts strictly before (blockB, indexB).
func before(blockA uint64, indexA uint, blockB uint64, indexB uint) bool {
	if blockA != blockB {
		return blockA < blockB
	}
	return indexA < indexB
}
