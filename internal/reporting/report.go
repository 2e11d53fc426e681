package reporting

import "time"

// Report is the PnL report over the stored snapshots.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	PoolName    string // empty when every DEX is included

	Summary Summary

	// Per (pool name, owner), sorted by pool name then owner
	Owners []OwnerRow

	// Per position, sorted by pnl descending
	Positions []PositionRow
}

// Summary totals every position in the report.
type Summary struct {
	TotalPositions  int
	ActivePositions int
	ClosedPositions int
	TotalAddUSD     float64
	TotalRemoveUSD  float64
	FeeClaimUSD     float64
	UnclaimedFeeUSD float64
	CurrentValueUSD float64
	PnLTotalUSD     float64
	PnLPercentage   float64
	QueryTimeStart  int64 // Unix ms, oldest snapshot
	QueryTimeEnd    int64 // Unix ms, newest snapshot
}

// OwnerRow aggregates one owner's positions on one DEX.
type OwnerRow struct {
	PoolName        string
	Owner           string
	Positions       int
	Active          int
	TotalAddUSD     float64
	CurrentValueUSD float64
	PnLTotalUSD     float64
	PnLPercentage   float64
}

// PositionRow is one snapshot.
type PositionRow struct {
	PoolName        string
	PoolAddress     string
	TokenID         string
	PairName        string
	Owner           string
	IsActive        bool
	DurationHours   float64
	TotalAddUSD     float64
	TotalRemoveUSD  float64
	FeeClaimUSD     float64
	UnclaimedFeeUSD float64
	CurrentValueUSD float64
	PnLTotalUSD     float64
	PnLPercentage   float64
}
