package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPosition is returned when a position violates its static invariants.
var ErrInvalidPosition = errors.New("invalid position")

// Base token location constants
const (
	LocationToken0 = "token0"
	LocationToken1 = "token1"
)

// Position represents an owner's concentrated-liquidity stake in a pool.
// Corresponds to lp_positions table. Identity is (PoolAddress, TokenID, PoolName).
type Position struct {
	PoolAddress       string // pool contract address (checksummed hex)
	TokenID           string // NFT position token id (decimal string)
	PoolName          string // "PancakeSwap V3" | "Uniswap V3"
	Chain             string // chain identifier, e.g. "bsc"
	PairName          string // "SYM0/SYM1"
	Fee               uint32 // pool fee tier in hundredths of a bip
	TickLower         int32
	TickUpper         int32
	Token0            string
	Token1            string
	BaseToken         string // fixed at creation, never re-derived
	QuoteToken        string
	BaseTokenLocation string // "token0" | "token1"
	Owner             string
	CreationTime      int64 // Unix timestamp in milliseconds
	CreationBlock     uint64
	IsActive          bool
	EndBlock          *uint64 // block at which liquidity last reached zero
}

// Key returns the identity key used by stores and caches.
func (p *Position) Key() PositionKey {
	return PositionKey{PoolAddress: p.PoolAddress, TokenID: p.TokenID, PoolName: p.PoolName}
}

// BaseIsToken0 reports whether the base token is the pool's token0.
func (p *Position) BaseIsToken0() bool {
	return p.BaseTokenLocation == LocationToken0
}

// Validate checks the static invariants of a position.
func (p *Position) Validate() error {
	if p.PoolAddress == "" || p.TokenID == "" || p.PoolName == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidPosition)
	}
	if p.TickLower >= p.TickUpper {
		return fmt.Errorf("%w: tick_lower %d >= tick_upper %d", ErrInvalidPosition, p.TickLower, p.TickUpper)
	}
	if p.BaseTokenLocation != LocationToken0 && p.BaseTokenLocation != LocationToken1 {
		return fmt.Errorf("%w: base_token_location %q", ErrInvalidPosition, p.BaseTokenLocation)
	}
	return nil
}

// PositionKey identifies a position across stores.
type PositionKey struct {
	PoolAddress string
	TokenID     string
	PoolName    string
}

// String renders the key as "pool|token|name" with a lowercased pool address.
func (k PositionKey) String() string {
	return fmt.Sprintf("%s|%s|%s", strings.ToLower(k.PoolAddress), k.TokenID, k.PoolName)
}
