package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# LP Position PnL Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.PoolName != "" {
		sb.WriteString(fmt.Sprintf("DEX: %s\n\n", r.PoolName))
	}

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Positions | %d |\n", s.TotalPositions))
	sb.WriteString(fmt.Sprintf("| Active | %d |\n", s.ActivePositions))
	sb.WriteString(fmt.Sprintf("| Closed | %d |\n", s.ClosedPositions))
	sb.WriteString(fmt.Sprintf("| Total Added (USD) | %.2f |\n", s.TotalAddUSD))
	sb.WriteString(fmt.Sprintf("| Total Removed (USD) | %.2f |\n", s.TotalRemoveUSD))
	sb.WriteString(fmt.Sprintf("| Fees Claimed (USD) | %.2f |\n", s.FeeClaimUSD))
	sb.WriteString(fmt.Sprintf("| Unclaimed Fees (USD) | %.2f |\n", s.UnclaimedFeeUSD))
	sb.WriteString(fmt.Sprintf("| Current Value (USD) | %.2f |\n", s.CurrentValueUSD))
	sb.WriteString(fmt.Sprintf("| PnL (USD) | %.2f |\n", s.PnLTotalUSD))
	sb.WriteString(fmt.Sprintf("| PnL %% | %.2f |\n", s.PnLPercentage))
	if s.TotalPositions > 0 {
		sb.WriteString(fmt.Sprintf("| Oldest Snapshot | %s |\n", time.UnixMilli(s.QueryTimeStart).UTC().Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("| Newest Snapshot | %s |\n", time.UnixMilli(s.QueryTimeEnd).UTC().Format(time.RFC3339)))
	}
	sb.WriteString("\n")

	// Owners
	sb.WriteString("## Owners\n\n")
	if len(r.Owners) > 0 {
		sb.WriteString("| DEX | Owner | Positions | Active | Added (USD) | Value (USD) | PnL (USD) | PnL % |\n")
		sb.WriteString("|-----|-------|-----------|--------|-------------|-------------|-----------|-------|\n")
		for _, o := range r.Owners {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %.2f | %.2f | %.2f | %.2f |\n",
				o.PoolName, o.Owner, o.Positions, o.Active,
				o.TotalAddUSD, o.CurrentValueUSD, o.PnLTotalUSD, o.PnLPercentage))
		}
	} else {
		sb.WriteString("No owners tracked.\n")
	}
	sb.WriteString("\n")

	// Positions
	sb.WriteString("## Positions\n\n")
	if len(r.Positions) > 0 {
		sb.WriteString("| DEX | Pair | Token | Status | Hours | Added | Removed | Fees | Unclaimed | Value | PnL | PnL % |\n")
		sb.WriteString("|-----|------|-------|--------|-------|-------|---------|------|-----------|-------|-----|-------|\n")
		for _, p := range r.Positions {
			status := "closed"
			if p.IsActive {
				status = "active"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %.1f | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f |\n",
				p.PoolName, p.PairName, p.TokenID, status, p.DurationHours,
				p.TotalAddUSD, p.TotalRemoveUSD, p.FeeClaimUSD, p.UnclaimedFeeUSD,
				p.CurrentValueUSD, p.PnLTotalUSD, p.PnLPercentage))
		}
	} else {
		sb.WriteString("No snapshots available.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
