package ingestion

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"lp-pnl-tracker/internal/chain"
	"lp-pnl-tracker/internal/domain"
)

var (
	testManager = common.HexToAddress("0x46A15B0b27311cedF172AB29E4f4766fbE7F4364")
	testPool    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testOwner   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testToken0  = common.HexToAddress("0x00000000000000000000000000000000000000c0") // unlisted, base
	testToken1  = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955") // USDT, quote
)

// fakeLogs serves logs from a fixed set, filtering like eth_getLogs.
type fakeLogs struct {
	mu      sync.Mutex
	logs    []types.Log
	queries []chain.LogFilter
	err     error
}

func (f *fakeLogs) add(l ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l...)
}

func (f *fakeLogs) Scan(_ context.Context, filter chain.LogFilter, from, to uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, filter)
	if f.err != nil {
		return nil, f.err
	}

	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if !matchAddress(filter.Addresses, l.Address) || !matchTopics(filter.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	chain.SortLogs(out)
	return out, nil
}

func matchAddress(addrs []common.Address, addr common.Address) bool {
	if len(addrs) == 0 {
		return true
	}
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, set := range filter {
		if len(set) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range set {
			if h == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// fakeChain answers receipt, pool, decimals and timestamp reads.
type fakeChain struct {
	mu         sync.Mutex
	receipts   map[common.Hash]*types.Receipt
	pools      map[common.Address]*domain.PoolInfo
	decimals   map[common.Address]uint8
	tsErr      error
	tsRequests map[uint64]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		receipts: make(map[common.Hash]*types.Receipt),
		pools: map[common.Address]*domain.PoolInfo{
			testPool: {
				Address: testPool.Hex(),
				Token0:  testToken0.Hex(),
				Token1:  testToken1.Hex(),
				Fee:     500,
				Symbol0: "CAKE",
				Symbol1: "USDT",
			},
		},
		decimals: map[common.Address]uint8{
			testToken0: 18,
			testToken1: 6,
		},
		tsRequests: make(map[uint64]int),
	}
}

func (f *fakeChain) Receipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, chain.ErrReceiptNotFound
	}
	return r, nil
}

func (f *fakeChain) PoolInfo(_ context.Context, pool common.Address) (*domain.PoolInfo, error) {
	info, ok := f.pools[pool]
	if !ok {
		return nil, fmt.Errorf("pool %s: execution reverted", pool.Hex())
	}
	return info, nil
}

func (f *fakeChain) Decimals(_ context.Context, token common.Address) (uint8, error) {
	d, ok := f.decimals[token]
	if !ok {
		return 0, errors.New("decimals: execution reverted")
	}
	return d, nil
}

// BlockTimestamp returns block*1000 ms so tests can predict op times.
func (f *fakeChain) BlockTimestamp(_ context.Context, block uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tsRequests[block]++
	if f.tsErr != nil {
		return 0, f.tsErr
	}
	return int64(block) * 1000, nil
}

// fakePrices returns a fixed USD price per token; tokens without one fail.
type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) HistoricalPrice(_ context.Context, token string, _ time.Time) (float64, error) {
	p, ok := f.prices[strings.ToLower(token)]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func txHash(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(0x1000 + n)))
}

func tokenTopic(id int64) common.Hash {
	return common.BigToHash(big.NewInt(id))
}

func tickTopic(tick int32) common.Hash {
	var h common.Hash
	if tick < 0 {
		for i := range h {
			h[i] = 0xff
		}
	}
	binary.BigEndian.PutUint32(h[28:], uint32(tick))
	return h
}

func mustPack(name string, contract string, args ...interface{}) []byte {
	var (
		data []byte
		err  error
	)
	switch contract {
	case "manager":
		data, err = chain.PositionManager.Events[name].Inputs.NonIndexed().Pack(args...)
	case "pool":
		data, err = chain.Pool.Events[name].Inputs.NonIndexed().Pack(args...)
	}
	if err != nil {
		panic(err)
	}
	return data
}

func increaseLog(tokenID int64, liquidity, amount0, amount1 int64, block uint64, index uint, tx common.Hash) types.Log {
	return types.Log{
		Address:     testManager,
		Topics:      []common.Hash{chain.TopicIncreaseLiquidity, tokenTopic(tokenID)},
		Data:        mustPack("IncreaseLiquidity", "manager", big.NewInt(liquidity), big.NewInt(amount0), big.NewInt(amount1)),
		BlockNumber: block,
		Index:       index,
		TxHash:      tx,
	}
}

func decreaseLog(tokenID int64, liquidity, amount0, amount1 int64, block uint64, index uint, tx common.Hash) types.Log {
	return types.Log{
		Address:     testManager,
		Topics:      []common.Hash{chain.TopicDecreaseLiquidity, tokenTopic(tokenID)},
		Data:        mustPack("DecreaseLiquidity", "manager", big.NewInt(liquidity), big.NewInt(amount0), big.NewInt(amount1)),
		BlockNumber: block,
		Index:       index,
		TxHash:      tx,
	}
}

func collectLog(tokenID int64, amount0, amount1 int64, block uint64, index uint, tx common.Hash) types.Log {
	return types.Log{
		Address:     testManager,
		Topics:      []common.Hash{chain.TopicCollect, tokenTopic(tokenID)},
		Data:        mustPack("Collect", "manager", testOwner, big.NewInt(amount0), big.NewInt(amount1)),
		BlockNumber: block,
		Index:       index,
		TxHash:      tx,
	}
}

func transferLog(from, to common.Address, tokenID int64, block uint64, index uint, tx common.Hash) types.Log {
	return types.Log{
		Address:     testManager,
		Topics:      []common.Hash{chain.TopicTransfer, chain.AddressTopic(from), chain.AddressTopic(to), tokenTopic(tokenID)},
		BlockNumber: block,
		Index:       index,
		TxHash:      tx,
	}
}

func poolMintLog(pool, owner common.Address, tickLower, tickUpper int32, amount int64, block uint64, index uint, tx common.Hash) types.Log {
	return types.Log{
		Address:     pool,
		Topics:      []common.Hash{chain.TopicPoolMint, chain.AddressTopic(owner), tickTopic(tickLower), tickTopic(tickUpper)},
		Data:        mustPack("Mint", "pool", owner, big.NewInt(amount), big.NewInt(1), big.NewInt(2)),
		BlockNumber: block,
		Index:       index,
		TxHash:      tx,
	}
}

func testPosition(tokenID string, creationBlock uint64) *domain.Position {
	return &domain.Position{
		PoolAddress:       testPool.Hex(),
		TokenID:           tokenID,
		PoolName:          "PancakeSwap V3",
		Chain:             "bsc",
		PairName:          "CAKE/USDT",
		Fee:               500,
		TickLower:         -100,
		TickUpper:         100,
		Token0:            testToken0.Hex(),
		Token1:            testToken1.Hex(),
		BaseToken:         testToken0.Hex(),
		QuoteToken:        testToken1.Hex(),
		BaseTokenLocation: domain.LocationToken0,
		Owner:             testOwner.Hex(),
		CreationBlock:     creationBlock,
		CreationTime:      int64(creationBlock) * 1000,
		IsActive:          true,
	}
}

func testVariant() domain.Variant {
	v, err := domain.VariantFor(domain.DEXPancake)
	if err != nil {
		panic(err)
	}
	return v
}

func testInstance() domain.Instance {
	return domain.Instance{
		Chain:   "bsc",
		Variant: testVariant(),
		Owners:  []string{testOwner.Hex()},
	}
}
