package memory

import "lp-pnl-tracker/internal/storage"

// NewStores returns a fresh set of in-memory stores.
func NewStores() storage.Stores {
	return storage.Stores{
		Positions:  NewPositionStore(),
		Ledger:     NewOperationLedger(),
		Snapshots:  NewSnapshotStore(),
		Parameters: NewParameterStore(),
	}
}
