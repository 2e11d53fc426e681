package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"lp-pnl-tracker/internal/cache"
	"lp-pnl-tracker/internal/domain"
)

// ErrUnexpectedOutput is returned when a contract call decodes to the wrong shape.
var ErrUnexpectedOutput = errors.New("unexpected contract output")

// Caches holds the process-scoped lookups shared by readers.
// Keys are immutable (addresses, block numbers) so entries never expire.
type Caches struct {
	PoolInfo   *cache.Store[*domain.PoolInfo]
	Decimals   *cache.Store[uint8]
	Symbols    *cache.Store[string]
	Timestamps *cache.Store[int64]
}

// NewCaches creates empty caches.
func NewCaches() *Caches {
	return &Caches{
		PoolInfo:   cache.New[*domain.PoolInfo](),
		Decimals:   cache.New[uint8](),
		Symbols:    cache.New[string](),
		Timestamps: cache.New[int64](),
	}
}

// Reader performs typed contract and block reads.
type Reader struct {
	client *Client
	caches *Caches
}

// NewReader creates a reader. A nil caches gets a fresh set.
func NewReader(client *Client, caches *Caches) *Reader {
	if caches == nil {
		caches = NewCaches()
	}
	return &Reader{client: client, caches: caches}
}

// Client returns the underlying retrying client.
func (r *Reader) Client() *Client {
	return r.client
}

// LatestBlock returns the head block number.
func (r *Reader) LatestBlock(ctx context.Context) (uint64, error) {
	return r.client.BlockNumber(ctx)
}

// BlockTimestamp returns the block timestamp in Unix milliseconds. Cached per block.
func (r *Reader) BlockTimestamp(ctx context.Context, block uint64) (int64, error) {
	return r.caches.Timestamps.GetOrLoad(ctx, strconv.FormatUint(block, 10), func(ctx context.Context) (int64, error) {
		return r.client.BlockTimestamp(ctx, block)
	})
}

// Receipt returns the receipt of a transaction.
func (r *Reader) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return r.client.TransactionReceipt(ctx, hash)
}

// Position reads positions(tokenId) from the position manager at block
// (0 means latest).
func (r *Reader) Position(ctx context.Context, manager common.Address, tokenID *big.Int, block uint64) (*domain.PositionState, error) {
	vals, err := r.callView(ctx, PositionManager, manager, "positions", block, tokenID)
	if err != nil {
		return nil, err
	}
	if len(vals) != 12 {
		return nil, fmt.Errorf("%w: positions returned %d values", ErrUnexpectedOutput, len(vals))
	}

	token0, ok0 := vals[2].(common.Address)
	token1, ok1 := vals[3].(common.Address)
	if !ok0 || !ok1 {
		return nil, fmt.Errorf("%w: positions token addresses", ErrUnexpectedOutput)
	}
	ints, err := bigInts(vals, 4, 5, 6, 7, 8, 9, 10, 11)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}

	return &domain.PositionState{
		Token0:                   token0.Hex(),
		Token1:                   token1.Hex(),
		Fee:                      uint32(ints[0].Uint64()),
		TickLower:                int32(ints[1].Int64()),
		TickUpper:                int32(ints[2].Int64()),
		Liquidity:                ints[3],
		FeeGrowthInside0LastX128: ints[4],
		FeeGrowthInside1LastX128: ints[5],
		TokensOwed0:              ints[6],
		TokensOwed1:              ints[7],
	}, nil
}

// PoolSnapshot reads slot0, global fee growth and the fee growth outside
// both range boundaries at block (0 means latest). The reads run concurrently.
func (r *Reader) PoolSnapshot(ctx context.Context, pool common.Address, tickLower, tickUpper int32, block uint64) (*domain.PoolSnapshot, error) {
	snap := &domain.PoolSnapshot{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vals, err := r.callView(gctx, Pool, pool, "slot0", block)
		if err != nil {
			return err
		}
		ints, err := bigInts(vals, 0, 1)
		if err != nil {
			return fmt.Errorf("slot0: %w", err)
		}
		snap.SqrtPriceX96 = ints[0]
		snap.Tick = int32(ints[1].Int64())
		return nil
	})
	g.Go(func() error {
		v, err := r.callBig(gctx, Pool, pool, "feeGrowthGlobal0X128", block)
		snap.FeeGrowthGlobal0X128 = v
		return err
	})
	g.Go(func() error {
		v, err := r.callBig(gctx, Pool, pool, "feeGrowthGlobal1X128", block)
		snap.FeeGrowthGlobal1X128 = v
		return err
	})
	g.Go(func() error {
		out, err := r.tickFeeGrowthOutside(gctx, pool, tickLower, block)
		snap.LowerFeeGrowthOutside = out
		return err
	})
	g.Go(func() error {
		out, err := r.tickFeeGrowthOutside(gctx, pool, tickUpper, block)
		snap.UpperFeeGrowthOutside = out
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *Reader) tickFeeGrowthOutside(ctx context.Context, pool common.Address, tick int32, block uint64) ([2]*big.Int, error) {
	vals, err := r.callView(ctx, Pool, pool, "ticks", block, big.NewInt(int64(tick)))
	if err != nil {
		return [2]*big.Int{}, err
	}
	ints, err := bigInts(vals, 2, 3)
	if err != nil {
		return [2]*big.Int{}, fmt.Errorf("ticks(%d): %w", tick, err)
	}
	return [2]*big.Int{ints[0], ints[1]}, nil
}

// PoolInfo returns token0, token1, fee and both symbols of pool. Cached.
func (r *Reader) PoolInfo(ctx context.Context, pool common.Address) (*domain.PoolInfo, error) {
	return r.caches.PoolInfo.GetOrLoad(ctx, cacheKey(pool), func(ctx context.Context) (*domain.PoolInfo, error) {
		token0, err := r.callAddress(ctx, pool, "token0")
		if err != nil {
			return nil, err
		}
		token1, err := r.callAddress(ctx, pool, "token1")
		if err != nil {
			return nil, err
		}
		fee, err := r.callBig(ctx, Pool, pool, "fee", 0)
		if err != nil {
			return nil, err
		}
		sym0, err := r.Symbol(ctx, token0)
		if err != nil {
			return nil, err
		}
		sym1, err := r.Symbol(ctx, token1)
		if err != nil {
			return nil, err
		}
		return &domain.PoolInfo{
			Address: pool.Hex(),
			Token0:  token0.Hex(),
			Token1:  token1.Hex(),
			Fee:     uint32(fee.Uint64()),
			Symbol0: sym0,
			Symbol1: sym1,
		}, nil
	})
}

// Decimals returns the ERC20 decimals of token. Cached.
func (r *Reader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	return r.caches.Decimals.GetOrLoad(ctx, cacheKey(token), func(ctx context.Context) (uint8, error) {
		vals, err := r.callView(ctx, ERC20, token, "decimals", 0)
		if err != nil {
			return 0, err
		}
		if len(vals) != 1 {
			return 0, fmt.Errorf("%w: decimals", ErrUnexpectedOutput)
		}
		d, ok := vals[0].(uint8)
		if !ok {
			return 0, fmt.Errorf("%w: decimals type %T", ErrUnexpectedOutput, vals[0])
		}
		return d, nil
	})
}

// Symbol returns the ERC20 symbol of token, accepting the legacy bytes32
// form. Cached.
func (r *Reader) Symbol(ctx context.Context, token common.Address) (string, error) {
	return r.caches.Symbols.GetOrLoad(ctx, cacheKey(token), func(ctx context.Context) (string, error) {
		data, err := ERC20.Pack("symbol")
		if err != nil {
			return "", err
		}
		out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return "", fmt.Errorf("call symbol: %w", err)
		}
		if vals, err := ERC20.Unpack("symbol", out); err == nil && len(vals) == 1 {
			if s, ok := vals[0].(string); ok {
				return s, nil
			}
		}
		vals, err := erc20Bytes32.Unpack("symbol", out)
		if err != nil || len(vals) != 1 {
			return "", fmt.Errorf("%w: symbol of %s", ErrUnexpectedOutput, token.Hex())
		}
		b, ok := vals[0].([32]byte)
		if !ok {
			return "", fmt.Errorf("%w: symbol type %T", ErrUnexpectedOutput, vals[0])
		}
		return string(bytes.TrimRight(b[:], "\x00")), nil
	})
}

func (r *Reader) callView(ctx context.Context, contract abi.ABI, to common.Address, method string, block uint64, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, blockArg(block))
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func (r *Reader) callBig(ctx context.Context, contract abi.ABI, to common.Address, method string, block uint64) (*big.Int, error) {
	vals, err := r.callView(ctx, contract, to, method, block)
	if err != nil {
		return nil, err
	}
	ints, err := bigInts(vals, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return ints[0], nil
}

func (r *Reader) callAddress(ctx context.Context, to common.Address, method string) (common.Address, error) {
	vals, err := r.callView(ctx, Pool, to, method, 0)
	if err != nil {
		return common.Address{}, err
	}
	if len(vals) != 1 {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnexpectedOutput, method)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s type %T", ErrUnexpectedOutput, method, vals[0])
	}
	return addr, nil
}

func bigInts(vals []interface{}, idx ...int) ([]*big.Int, error) {
	out := make([]*big.Int, len(idx))
	for i, n := range idx {
		if n >= len(vals) {
			return nil, fmt.Errorf("%w: missing output %d", ErrUnexpectedOutput, n)
		}
		v, ok := vals[n].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: output %d is %T", ErrUnexpectedOutput, n, vals[n])
		}
		out[i] = v
	}
	return out, nil
}

func blockArg(block uint64) *big.Int {
	if block == 0 {
		return nil
	}
	return new(big.Int).SetUint64(block)
}

func cacheKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
