// Package verification checks stored positions and snapshots against a
// fresh replay of the operation ledger.
package verification

import (
	"context"
	"math"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/replay"
)

// FloatTolerance is the tolerance for float64 comparisons.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // stored value
	Actual   interface{} // replayed value
}

// VerificationResult contains the result of verifying a single position.
type VerificationResult struct {
	Key         domain.PositionKey
	Match       bool              // true if all fields match
	Divergences []FieldDivergence // list of divergent fields
	Operations  int               // ledger operations replayed
	HasSnapshot bool
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	TotalPositions     int                  // total positions verified
	MatchedPositions   int                  // positions that matched exactly
	DivergentPositions int                  // positions with divergences
	MissingSnapshots   int                  // positions never aggregated
	Results            []VerificationResult // individual results
}

// Verifier interface for ledger replay verification.
type Verifier interface {
	// VerifyPosition replays the ledger of one position and compares the
	// result with its stored status and snapshot.
	VerifyPosition(ctx context.Context, pos *domain.Position) (*VerificationResult, error)

	// VerifyAll verifies every stored position.
	VerifyAll(ctx context.Context) (*VerificationReport, error)
}

// ComparePosition compares the stored status of a position with the
// replayed state. A ledger without liquidity operations carries no status
// so only positions with liquidity history are compared.
func ComparePosition(stored *domain.Position, replayed *replay.State) []FieldDivergence {
	if replayed.LiquidityOps == 0 {
		return nil
	}

	var divergences []FieldDivergence

	if stored.IsActive != replayed.IsActive {
		divergences = append(divergences, FieldDivergence{
			Field:    "Position.IsActive",
			Expected: stored.IsActive,
			Actual:   replayed.IsActive,
		})
	}

	if !blockPtrEquals(stored.EndBlock, replayed.EndBlock) {
		divergences = append(divergences, FieldDivergence{
			Field:    "Position.EndBlock",
			Expected: blockValue(stored.EndBlock),
			Actual:   blockValue(replayed.EndBlock),
		})
	}

	return divergences
}

// CompareSnapshot compares the ledger-derived fields of a snapshot with
// the replayed state. Valuation and live-price fields are not replayable
// and are not compared.
func CompareSnapshot(stored *domain.StrategySnapshot, replayed *replay.State) []FieldDivergence {
	var divergences []FieldDivergence

	divergences = append(divergences, CompareTotals("TotalAdd", stored.TotalAdd, replayed.TotalAdd())...)
	divergences = append(divergences, CompareTotals("TotalRemove", stored.TotalRemove, replayed.TotalRemove())...)
	divergences = append(divergences, CompareTotals("TotalFeeClaim", stored.TotalFeeClaim, replayed.TotalFeeClaim())...)

	if replayed.LiquidityOps == 0 {
		return divergences
	}

	if stored.IsActive != replayed.IsActive {
		divergences = append(divergences, FieldDivergence{
			Field:    "Snapshot.IsActive",
			Expected: stored.IsActive,
			Actual:   replayed.IsActive,
		})
	}

	if !blockPtrEquals(stored.EndBlockNumber, replayed.EndBlock) {
		divergences = append(divergences, FieldDivergence{
			Field:    "Snapshot.EndBlockNumber",
			Expected: blockValue(stored.EndBlockNumber),
			Actual:   blockValue(replayed.EndBlock),
		})
	}

	return divergences
}

// CompareTotals compares two running totals field by field.
func CompareTotals(name string, stored, replayed domain.Totals) []FieldDivergence {
	fields := []struct {
		field            string
		stored, replayed float64
	}{
		{"BaseAmount", stored.BaseAmount, replayed.BaseAmount},
		{"QuoteAmount", stored.QuoteAmount, replayed.QuoteAmount},
		{"BaseValueUSD", stored.BaseValueUSD, replayed.BaseValueUSD},
		{"QuoteValueUSD", stored.QuoteValueUSD, replayed.QuoteValueUSD},
		{"ValueUSD", stored.ValueUSD, replayed.ValueUSD},
	}

	var divergences []FieldDivergence
	for _, f := range fields {
		if !floatEquals(f.stored, f.replayed) {
			divergences = append(divergences, FieldDivergence{
				Field:    name + "." + f.field,
				Expected: f.stored,
				Actual:   f.replayed,
			})
		}
	}
	return divergences
}

// floatEquals compares two floats with tolerance.
func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}

func blockPtrEquals(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func blockValue(b *uint64) interface{} {
	if b == nil {
		return nil
	}
	return *b
}
