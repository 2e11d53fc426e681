package domain

// Totals groups the five amount/value columns shared by every running total.
type Totals struct {
	BaseAmount    float64
	QuoteAmount   float64
	BaseValueUSD  float64
	QuoteValueUSD float64
	ValueUSD      float64
}

// Add accumulates base and quote amounts priced at the given USD prices.
func (t *Totals) Add(base, quote, basePrice, quotePrice float64) {
	bv := base * basePrice
	qv := quote * quotePrice
	t.BaseAmount += base
	t.QuoteAmount += quote
	t.BaseValueUSD += bv
	t.QuoteValueUSD += qv
	t.ValueUSD += bv + qv
}

// StrategySnapshot is the materialized PnL view of one position.
// Corresponds to lp_strategy_snapshots table; upserted on (PoolAddress, TokenID, PoolName).
type StrategySnapshot struct {
	PoolAddress string
	TokenID     string
	PoolName    string
	PairName    string
	Owner       string

	QueryTime         int64 // Unix milliseconds
	CreateTime        int64 // Unix milliseconds
	DurationHours     float64
	BlockNumber       uint64 // creation block
	EndBlockNumber    *uint64
	BaseToken         string
	QuoteToken        string
	BaseTokenLocation string
	BasePriceUSD      float64 // live price at QueryTime
	QuotePriceUSD     float64

	TotalAdd      Totals
	TotalRemove   Totals
	TotalFeeClaim Totals
	UnclaimedFee  Totals

	CurrentBaseAmount       float64
	CurrentQuoteAmount      float64
	CurrentPositionValueUSD float64

	PnLTotalUSD        float64
	PnLTotalPercentage float64
	IsActive           bool
}

// Key returns the snapshot identity key.
func (s *StrategySnapshot) Key() PositionKey {
	return PositionKey{PoolAddress: s.PoolAddress, TokenID: s.TokenID, PoolName: s.PoolName}
}
