package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders position rows as CSV string.
func RenderCSV(rows []PositionRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("pool_name,pool_address,position_token_id,pair_name,owner,is_active,position_duration_h,")
	sb.WriteString("total_add_value_usd,total_remove_value_usd,total_fee_claim_value_usd,unclaimed_fee_value_usd,")
	sb.WriteString("current_position_value_usd,pnl_total_usd,pnl_total_percentage\n")

	// Rows
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%t,%.4f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f\n",
			r.PoolName,
			r.PoolAddress,
			r.TokenID,
			r.PairName,
			r.Owner,
			r.IsActive,
			r.DurationHours,
			r.TotalAddUSD,
			r.TotalRemoveUSD,
			r.FeeClaimUSD,
			r.UnclaimedFeeUSD,
			r.CurrentValueUSD,
			r.PnLTotalUSD,
			r.PnLPercentage,
		))
	}

	return sb.String()
}
