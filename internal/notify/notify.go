// Package notify delivers position-closed and cycle-failure messages.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lp-pnl-tracker/internal/domain"
)

// Notifier is told about position lifecycle and cycle outcomes.
// Implementations must be safe for concurrent use.
type Notifier interface {
	PositionClosed(ctx context.Context, snap *domain.StrategySnapshot) error
	CycleFailed(ctx context.Context, instance string, err error) error
}

// Nop discards every notification.
type Nop struct{}

// PositionClosed implements Notifier.
func (Nop) PositionClosed(context.Context, *domain.StrategySnapshot) error { return nil }

// CycleFailed implements Notifier.
func (Nop) CycleFailed(context.Context, string, error) error { return nil }

// FormatPositionClosed renders the message sent when a position closes.
func FormatPositionClosed(snap *domain.StrategySnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Position closed: %s #%s (%s)\n", snap.PairName, snap.TokenID, snap.PoolName)
	fmt.Fprintf(&b, "Owner: %s\n", snap.Owner)
	if snap.EndBlockNumber != nil {
		fmt.Fprintf(&b, "Blocks: %d - %d\n", snap.BlockNumber, *snap.EndBlockNumber)
	}
	fmt.Fprintf(&b, "Duration: %.1fh\n", snap.DurationHours)
	fmt.Fprintf(&b, "Added: $%.2f  Removed: $%.2f  Fees: $%.2f\n",
		snap.TotalAdd.ValueUSD, snap.TotalRemove.ValueUSD, snap.TotalFeeClaim.ValueUSD)
	fmt.Fprintf(&b, "PnL: $%.2f (%.2f%%)", snap.PnLTotalUSD, snap.PnLTotalPercentage)
	return b.String()
}

// FormatCycleFailed renders the message sent when an instance cycle fails.
func FormatCycleFailed(instance string, err error, at time.Time) string {
	return fmt.Sprintf("Cycle failed for %s at %s\n%v", instance, at.UTC().Format(time.RFC3339), err)
}
