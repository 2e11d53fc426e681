package replay

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"lp-pnl-tracker/internal/domain"
)

// State is the running ledger state of one position. The zero value is
// not usable; create it with NewState.
type State struct {
	// Liquidity is signed; a ledger that starts mid-history may go negative.
	Liquidity *big.Int
	IsActive  bool
	// EndBlock is the block at which liquidity last reached zero. It is
	// cleared when liquidity is added again.
	EndBlock *uint64

	// Applied counts operations replayed, Mint included.
	Applied int
	// LiquidityOps counts Increase and Decrease operations.
	LiquidityOps int

	add      totals
	remove   totals
	feeClaim totals

	lastBlock uint64
	lastIndex uint
}

// NewState returns the state of a position with no operations.
func NewState() *State {
	return &State{Liquidity: new(big.Int)}
}

// OnOperation implements Engine.
func (s *State) OnOperation(_ context.Context, op *domain.Operation) error {
	return s.Apply(op)
}

// Apply advances the state by one operation. Operations must arrive in
// (block_number, log_index) order.
func (s *State) Apply(op *domain.Operation) error {
	if s.Applied > 0 && before(op.BlockNumber, op.LogIndex, s.lastBlock, s.lastIndex) {
		return fmt.Errorf("%w: block %d index %d after block %d index %d",
			ErrInvalidOrdering, op.BlockNumber, op.LogIndex, s.lastBlock, s.lastIndex)
	}

	switch op.OpType {
	case domain.OpMint:
	case domain.OpIncreaseLiquidity:
		s.Liquidity.Add(s.Liquidity, op.Liquidity())
		s.add.add(op)
		s.LiquidityOps++
		if s.Liquidity.Sign() > 0 {
			s.IsActive = true
			s.EndBlock = nil
		}
	case domain.OpDecreaseLiquidity:
		s.Liquidity.Sub(s.Liquidity, op.Liquidity())
		s.remove.add(op)
		s.LiquidityOps++
		if s.Liquidity.Sign() <= 0 && (s.IsActive || s.EndBlock == nil) {
			end := op.BlockNumber
			s.EndBlock = &end
			s.IsActive = false
		}
	case domain.OpCollect:
		s.feeClaim.add(op)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, op.OpType)
	}

	s.Applied++
	s.lastBlock, s.lastIndex = op.BlockNumber, op.LogIndex
	return nil
}

// TotalAdd returns the running IncreaseLiquidity totals.
func (s *State) TotalAdd() domain.Totals { return s.add.totals() }

// TotalRemove returns the running DecreaseLiquidity totals.
func (s *State) TotalRemove() domain.Totals { return s.remove.totals() }

// TotalFeeClaim returns the running Collect totals.
func (s *State) TotalFeeClaim() domain.Totals { return s.feeClaim.totals() }

// totals accumulates in decimal so the result does not depend on float
// rounding order.
type totals struct {
	base, quote, baseValue, quoteValue decimal.Decimal
}

func (t *totals) add(op *domain.Operation) {
	base := decimal.NewFromFloat(op.BaseAmount)
	quote := decimal.NewFromFloat(op.QuoteAmount)
	t.base = t.base.Add(base)
	t.quote = t.quote.Add(quote)
	t.baseValue = t.baseValue.Add(base.Mul(decimal.NewFromFloat(op.BasePriceUSD)))
	t.quoteValue = t.quoteValue.Add(quote.Mul(decimal.NewFromFloat(op.QuotePriceUSD)))
}

func (t *totals) totals() domain.Totals {
	return domain.Totals{
		BaseAmount:    t.base.InexactFloat64(),
		QuoteAmount:   t.quote.InexactFloat64(),
		BaseValueUSD:  t.baseValue.InexactFloat64(),
		QuoteValueUSD: t.quoteValue.InexactFloat64(),
		ValueUSD:      t.baseValue.Add(t.quoteValue).InexactFloat64(),
	}
}
