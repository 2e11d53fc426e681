package reporting

import (
	"context"
	"sort"
	"strings"
	"time"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/pnl"
	"lp-pnl-tracker/internal/storage"
)

// Generator produces reports from stored snapshots.
type Generator struct {
	snapshots storage.SnapshotStore
	now       func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(snapshots storage.SnapshotStore) *Generator {
	return &Generator{
		snapshots: snapshots,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the report for poolName, or for every DEX when empty.
func (g *Generator) Generate(ctx context.Context, poolName string) (*Report, error) {
	snaps, err := g.snapshots.List(ctx, poolName)
	if err != nil {
		return nil, err
	}

	return &Report{
		GeneratedAt: g.now(),
		PoolName:    poolName,
		Summary:     summarize(snaps),
		Owners:      ownerRows(snaps),
		Positions:   positionRows(snaps),
	}, nil
}

func summarize(snaps []*domain.StrategySnapshot) Summary {
	var s Summary
	for i, snap := range snaps {
		s.TotalPositions++
		if snap.IsActive {
			s.ActivePositions++
		} else {
			s.ClosedPositions++
		}
		s.TotalAddUSD += snap.TotalAdd.ValueUSD
		s.TotalRemoveUSD += snap.TotalRemove.ValueUSD
		s.FeeClaimUSD += snap.TotalFeeClaim.ValueUSD
		s.UnclaimedFeeUSD += snap.UnclaimedFee.ValueUSD
		s.CurrentValueUSD += snap.CurrentPositionValueUSD
		s.PnLTotalUSD += snap.PnLTotalUSD

		if i == 0 || snap.QueryTime < s.QueryTimeStart {
			s.QueryTimeStart = snap.QueryTime
		}
		if snap.QueryTime > s.QueryTimeEnd {
			s.QueryTimeEnd = snap.QueryTime
		}
	}
	s.PnLPercentage = pnl.Percentage(s.PnLTotalUSD, s.TotalAddUSD)
	return s
}

func ownerRows(snaps []*domain.StrategySnapshot) []OwnerRow {
	type ownerKey struct{ pool, owner string }
	groups := make(map[ownerKey]*OwnerRow)

	for _, snap := range snaps {
		k := ownerKey{snap.PoolName, strings.ToLower(snap.Owner)}
		row, ok := groups[k]
		if !ok {
			row = &OwnerRow{PoolName: snap.PoolName, Owner: snap.Owner}
			groups[k] = row
		}
		row.Positions++
		if snap.IsActive {
			row.Active++
		}
		row.TotalAddUSD += snap.TotalAdd.ValueUSD
		row.CurrentValueUSD += snap.CurrentPositionValueUSD
		row.PnLTotalUSD += snap.PnLTotalUSD
	}

	rows := make([]OwnerRow, 0, len(groups))
	for _, row := range groups {
		row.PnLPercentage = pnl.Percentage(row.PnLTotalUSD, row.TotalAddUSD)
		rows = append(rows, *row)
	}

	// Sort by (pool_name, owner)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PoolName != rows[j].PoolName {
			return rows[i].PoolName < rows[j].PoolName
		}
		return strings.ToLower(rows[i].Owner) < strings.ToLower(rows[j].Owner)
	})
	return rows
}

func positionRows(snaps []*domain.StrategySnapshot) []PositionRow {
	rows := make([]PositionRow, len(snaps))
	for i, snap := range snaps {
		rows[i] = PositionRow{
			PoolName:        snap.PoolName,
			PoolAddress:     snap.PoolAddress,
			TokenID:         snap.TokenID,
			PairName:        snap.PairName,
			Owner:           snap.Owner,
			IsActive:        snap.IsActive,
			DurationHours:   snap.DurationHours,
			TotalAddUSD:     snap.TotalAdd.ValueUSD,
			TotalRemoveUSD:  snap.TotalRemove.ValueUSD,
			FeeClaimUSD:     snap.TotalFeeClaim.ValueUSD,
			UnclaimedFeeUSD: snap.UnclaimedFee.ValueUSD,
			CurrentValueUSD: snap.CurrentPositionValueUSD,
			PnLTotalUSD:     snap.PnLTotalUSD,
			PnLPercentage:   snap.PnLTotalPercentage,
		}
	}

	// Sort by pnl descending, then by identity for a stable order
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PnLTotalUSD != rows[j].PnLTotalUSD {
			return rows[i].PnLTotalUSD > rows[j].PnLTotalUSD
		}
		return positionKey(rows[i]) < positionKey(rows[j])
	})
	return rows
}

func positionKey(r PositionRow) string {
	return domain.PositionKey{PoolAddress: r.PoolAddress, TokenID: r.TokenID, PoolName: r.PoolName}.String()
}
