package api

import "lp-pnl-tracker/internal/domain"

// PositionView is the JSON form of a position.
type PositionView struct {
	PoolAddress       string  `json:"pool_address"`
	TokenID           string  `json:"token_id"`
	PoolName          string  `json:"pool_name"`
	Chain             string  `json:"chain"`
	PairName          string  `json:"pair_name"`
	Fee               uint32  `json:"fee"`
	TickLower         int32   `json:"tick_lower"`
	TickUpper         int32   `json:"tick_upper"`
	BaseToken         string  `json:"base_token"`
	QuoteToken        string  `json:"quote_token"`
	BaseTokenLocation string  `json:"base_token_location"`
	Owner             string  `json:"owner"`
	CreationTime      int64   `json:"creation_time"`
	CreationBlock     uint64  `json:"creation_block"`
	IsActive          bool    `json:"is_active"`
	EndBlock          *uint64 `json:"end_block,omitempty"`
}

// NewPositionView converts a domain position.
func NewPositionView(p *domain.Position) PositionView {
	return PositionView{
		PoolAddress:       p.PoolAddress,
		TokenID:           p.TokenID,
		PoolName:          p.PoolName,
		Chain:             p.Chain,
		PairName:          p.PairName,
		Fee:               p.Fee,
		TickLower:         p.TickLower,
		TickUpper:         p.TickUpper,
		BaseToken:         p.BaseToken,
		QuoteToken:        p.QuoteToken,
		BaseTokenLocation: p.BaseTokenLocation,
		Owner:             p.Owner,
		CreationTime:      p.CreationTime,
		CreationBlock:     p.CreationBlock,
		IsActive:          p.IsActive,
		EndBlock:          p.EndBlock,
	}
}

// OperationView is the JSON form of a ledger operation.
type OperationView struct {
	OpType         string  `json:"op_type"`
	TxHash         string  `json:"tx_hash"`
	BlockNumber    uint64  `json:"block_number"`
	LogIndex       uint    `json:"log_index"`
	OpTime         int64   `json:"op_time"`
	BaseAmount     float64 `json:"base_amount"`
	QuoteAmount    float64 `json:"quote_amount"`
	BasePriceUSD   float64 `json:"base_price_usd"`
	QuotePriceUSD  float64 `json:"quote_price_usd"`
	LiquidityDelta string  `json:"liquidity_delta"`
}

// NewOperationView converts a ledger operation.
func NewOperationView(op *domain.Operation) OperationView {
	return OperationView{
		OpType:         string(op.OpType),
		TxHash:         op.TxHash,
		BlockNumber:    op.BlockNumber,
		LogIndex:       op.LogIndex,
		OpTime:         op.OpTime,
		BaseAmount:     op.BaseAmount,
		QuoteAmount:    op.QuoteAmount,
		BasePriceUSD:   op.BasePriceUSD,
		QuotePriceUSD:  op.QuotePriceUSD,
		LiquidityDelta: op.Liquidity().String(),
	}
}

// TotalsView is the JSON form of a running total.
type TotalsView struct {
	BaseAmount    float64 `json:"base_amount"`
	QuoteAmount   float64 `json:"quote_amount"`
	BaseValueUSD  float64 `json:"base_value_usd"`
	QuoteValueUSD float64 `json:"quote_value_usd"`
	ValueUSD      float64 `json:"value_usd"`
}

func newTotalsView(t domain.Totals) TotalsView {
	return TotalsView(t)
}

// SnapshotView is the JSON form of a strategy snapshot.
type SnapshotView struct {
	PoolAddress             string     `json:"pool_address"`
	TokenID                 string     `json:"token_id"`
	PoolName                string     `json:"pool_name"`
	PairName                string     `json:"pair_name"`
	Owner                   string     `json:"owner"`
	QueryTime               int64      `json:"query_time"`
	CreateTime              int64      `json:"create_time"`
	DurationHours           float64    `json:"duration_hours"`
	BlockNumber             uint64     `json:"block_number"`
	EndBlockNumber          *uint64    `json:"end_block_number,omitempty"`
	BaseToken               string     `json:"base_token"`
	QuoteToken              string     `json:"quote_token"`
	BaseTokenLocation       string     `json:"base_token_location"`
	BasePriceUSD            float64    `json:"base_price_usd"`
	QuotePriceUSD           float64    `json:"quote_price_usd"`
	TotalAdd                TotalsView `json:"total_add"`
	TotalRemove             TotalsView `json:"total_remove"`
	TotalFeeClaim           TotalsView `json:"total_fee_claim"`
	UnclaimedFee            TotalsView `json:"unclaimed_fee"`
	CurrentBaseAmount       float64    `json:"current_base_amount"`
	CurrentQuoteAmount      float64    `json:"current_quote_amount"`
	CurrentPositionValueUSD float64    `json:"current_position_value_usd"`
	PnLTotalUSD             float64    `json:"pnl_total_usd"`
	PnLTotalPercentage      float64    `json:"pnl_total_percentage"`
	IsActive                bool       `json:"is_active"`
}

// NewSnapshotView converts a snapshot.
func NewSnapshotView(s *domain.StrategySnapshot) SnapshotView {
	return SnapshotView{
		PoolAddress:             s.PoolAddress,
		TokenID:                 s.TokenID,
		PoolName:                s.PoolName,
		PairName:                s.PairName,
		Owner:                   s.Owner,
		QueryTime:               s.QueryTime,
		CreateTime:              s.CreateTime,
		DurationHours:           s.DurationHours,
		BlockNumber:             s.BlockNumber,
		EndBlockNumber:          s.EndBlockNumber,
		BaseToken:               s.BaseToken,
		QuoteToken:              s.QuoteToken,
		BaseTokenLocation:       s.BaseTokenLocation,
		BasePriceUSD:            s.BasePriceUSD,
		QuotePriceUSD:           s.QuotePriceUSD,
		TotalAdd:                newTotalsView(s.TotalAdd),
		TotalRemove:             newTotalsView(s.TotalRemove),
		TotalFeeClaim:           newTotalsView(s.TotalFeeClaim),
		UnclaimedFee:            newTotalsView(s.UnclaimedFee),
		CurrentBaseAmount:       s.CurrentBaseAmount,
		CurrentQuoteAmount:      s.CurrentQuoteAmount,
		CurrentPositionValueUSD: s.CurrentPositionValueUSD,
		PnLTotalUSD:             s.PnLTotalUSD,
		PnLTotalPercentage:      s.PnLTotalPercentage,
		IsActive:                s.IsActive,
	}
}
