package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// OpType is the kind of ledger operation.
type OpType string

// Operation type constants
const (
	OpIncreaseLiquidity OpType = "IncreaseLiquidity"
	OpDecreaseLiquidity OpType = "DecreaseLiquidity"
	OpCollect           OpType = "Collect"
	// OpMint marks position creation. It is never written to the ledger and
	// replays as a no-op.
	OpMint OpType = "Mint"
)

// Valid reports whether t may be recorded in the ledger.
func (t OpType) Valid() bool {
	switch t {
	case OpIncreaseLiquidity, OpDecreaseLiquidity, OpCollect:
		return true
	}
	return false
}

// Operation is an immutable ledger entry for one liquidity-affecting event.
// Corresponds to lp_operations table.
// Unique on (PoolAddress, TokenID, TxHash, OpType).
type Operation struct {
	PoolAddress    string
	TokenID        string
	OpType         OpType
	TxHash         string
	BlockNumber    uint64
	LogIndex       uint  // position of the log within the block
	OpTime         int64 // block timestamp, Unix milliseconds
	BaseToken      string
	QuoteToken     string
	BaseDecimals   uint8
	QuoteDecimals  uint8
	BaseAmount     float64 // decimals-normalized
	QuoteAmount    float64 // decimals-normalized
	BasePriceUSD   float64 // historical price at OpTime, 0 when unavailable
	QuotePriceUSD  float64
	LiquidityDelta *big.Int // unsigned magnitude, 0 for Collect
}

// Key returns the ledger uniqueness key.
func (o *Operation) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", strings.ToLower(o.PoolAddress), o.TokenID, strings.ToLower(o.TxHash), o.OpType)
}

// Liquidity returns LiquidityDelta, or zero when unset.
func (o *Operation) Liquidity() *big.Int {
	if o.LiquidityDelta == nil {
		return new(big.Int)
	}
	return o.LiquidityDelta
}
