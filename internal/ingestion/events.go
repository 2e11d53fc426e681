package ingestion

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"lp-pnl-tracker/internal/chain"
	"lp-pnl-tracker/internal/domain"
)

var (
	// ErrUnknownEvent is returned for a log whose topic is not a tracked event.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedLog is returned when a log does not match its event layout.
	ErrMalformedLog = errors.New("malformed log")
	// ErrMintLogNotFound is returned when a mint transaction has no pool Mint log.
	ErrMintLogNotFound = errors.New("pool mint log not found")
)

// LiquidityEvent is a decoded IncreaseLiquidity, DecreaseLiquidity or Collect log.
type LiquidityEvent struct {
	OpType      domain.OpType
	TokenID     *big.Int
	Liquidity   *big.Int // zero for Collect
	Amount0     *big.Int
	Amount1     *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

// TransferEvent is a decoded position NFT Transfer log.
type TransferEvent struct {
	From        common.Address
	To          common.Address
	TokenID     *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

// PoolMintEvent is a decoded pool Mint log.
type PoolMintEvent struct {
	Pool        common.Address
	Owner       common.Address
	TickLower   int32
	TickUpper   int32
	Amount      *big.Int
	BlockNumber uint64
	LogIndex    uint
}

// DecodeLiquidityEvent decodes a position manager liquidity or collect log.
func DecodeLiquidityEvent(l types.Log) (*LiquidityEvent, error) {
	if len(l.Topics) != 2 {
		return nil, fmt.Errorf("%w: want 2 topics, got %d", ErrMalformedLog, len(l.Topics))
	}

	var (
		name   string
		opType domain.OpType
	)
	switch l.Topics[0] {
	case chain.TopicIncreaseLiquidity:
		name, opType = "IncreaseLiquidity", domain.OpIncreaseLiquidity
	case chain.TopicDecreaseLiquidity:
		name, opType = "DecreaseLiquidity", domain.OpDecreaseLiquidity
	case chain.TopicCollect:
		name, opType = "Collect", domain.OpCollect
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, l.Topics[0].Hex())
	}

	vals, err := chain.PositionManager.Unpack(name, l.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrMalformedLog, name, err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("%w: %s has %d values", ErrMalformedLog, name, len(vals))
	}

	ev := &LiquidityEvent{
		OpType:      opType,
		TokenID:     new(big.Int).SetBytes(l.Topics[1].Bytes()),
		Liquidity:   new(big.Int),
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}

	var ok0, ok1 bool
	if opType != domain.OpCollect {
		liq, ok := vals[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: %s liquidity is %T", ErrMalformedLog, name, vals[0])
		}
		ev.Liquidity = liq
	}
	ev.Amount0, ok0 = vals[1].(*big.Int)
	ev.Amount1, ok1 = vals[2].(*big.Int)
	if !ok0 || !ok1 {
		return nil, fmt.Errorf("%w: %s amounts", ErrMalformedLog, name)
	}
	return ev, nil
}

// DecodeTransfer decodes a position NFT Transfer log.
func DecodeTransfer(l types.Log) (*TransferEvent, error) {
	if len(l.Topics) != 4 || l.Topics[0] != chain.TopicTransfer {
		return nil, fmt.Errorf("%w: not a Transfer log", ErrMalformedLog)
	}
	return &TransferEvent{
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		TokenID:     new(big.Int).SetBytes(l.Topics[3].Bytes()),
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}, nil
}

// DecodePoolMint decodes a pool Mint log. The log address is the pool.
func DecodePoolMint(l types.Log) (*PoolMintEvent, error) {
	if len(l.Topics) != 4 || l.Topics[0] != chain.TopicPoolMint {
		return nil, fmt.Errorf("%w: not a pool Mint log", ErrMalformedLog)
	}
	vals, err := chain.Pool.Unpack("Mint", l.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack Mint: %v", ErrMalformedLog, err)
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("%w: Mint has %d values", ErrMalformedLog, len(vals))
	}
	amount, ok := vals[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: Mint amount is %T", ErrMalformedLog, vals[1])
	}
	return &PoolMintEvent{
		Pool:        l.Address,
		Owner:       common.BytesToAddress(l.Topics[1].Bytes()),
		TickLower:   tickFromTopic(l.Topics[2]),
		TickUpper:   tickFromTopic(l.Topics[3]),
		Amount:      amount,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}, nil
}

// tickFromTopic reads a sign-extended int24 topic.
func tickFromTopic(topic common.Hash) int32 {
	return int32(binary.BigEndian.Uint32(topic[28:32]))
}

// FindPoolMint locates the pool Mint log that created the position minted
// at transferIndex: the last Mint owned by manager emitted before the
// Transfer in the same receipt.
func FindPoolMint(receipt *types.Receipt, manager common.Address, transferIndex uint) (*PoolMintEvent, error) {
	var found *types.Log
	for _, l := range receipt.Logs {
		if l == nil || len(l.Topics) != 4 || l.Topics[0] != chain.TopicPoolMint {
			continue
		}
		if common.BytesToAddress(l.Topics[1].Bytes()) != manager {
			continue
		}
		if l.Index >= transferIndex {
			continue
		}
		if found == nil || l.Index > found.Index {
			found = l
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: tx %s", ErrMintLogNotFound, receipt.TxHash.Hex())
	}
	return DecodePoolMint(*found)
}
