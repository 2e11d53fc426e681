package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend serves logs from a fixed set and contract calls from a
// selector table.
type fakeBackend struct {
	mu      sync.Mutex
	logs    []types.Log
	queries []Range
	failAt  map[uint64]error // chunk start block -> error
	head    uint64
	headers map[uint64]*types.Header
	calls   map[[4]byte]func(msg ethereum.CallMsg) ([]byte, error)
	callLog map[[4]byte]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		failAt:  make(map[uint64]error),
		headers: make(map[uint64]*types.Header),
		calls:   make(map[[4]byte]func(msg ethereum.CallMsg) ([]byte, error)),
		callLog: make(map[[4]byte]int),
	}
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.headers[number.Uint64()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return h, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, Range{From: from, To: to})
	if err, ok := f.failAt[from]; ok {
		return nil, err
	}

	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	var sel [4]byte
	copy(sel[:], msg.Data[:4])

	f.mu.Lock()
	fn, ok := f.calls[sel]
	f.callLog[sel]++
	f.mu.Unlock()

	if !ok {
		return nil, errors.New("execution reverted")
	}
	return fn(msg)
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeBackend) handle(method []byte, fn func(msg ethereum.CallMsg) ([]byte, error)) {
	var sel [4]byte
	copy(sel[:], method)
	f.calls[sel] = fn
}

func (f *fakeBackend) callCount(method []byte) int {
	var sel [4]byte
	copy(sel[:], method)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callLog[sel]
}

func testLog(block uint64, index uint) types.Log {
	return types.Log{
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
	}
}
