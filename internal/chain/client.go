// Package chain wraps an EVM JSON-RPC node with the retry policy used by
// every chain read: log queries, contract calls, headers and receipts.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"lp-pnl-tracker/internal/observability"
)

// Default configuration values.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultCallTimeout = 15 * time.Second
)

var (
	// ErrBlockNotFound is returned when a header lookup finds no block.
	ErrBlockNotFound = errors.New("block not found")
	// ErrReceiptNotFound is returned when a transaction receipt is unknown to the node.
	ErrReceiptNotFound = errors.New("receipt not found")
)

// Backend is the subset of ethclient.Client the tracker reads through.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client applies a bounded retry policy and a per-call timeout to a Backend.
type Client struct {
	backend     Backend
	maxRetries  int
	retryDelay  time.Duration
	callTimeout time.Duration
	logger      *zap.Logger
	closer      func()
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the fixed delay between attempts.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithCallTimeout sets the timeout applied to each individual attempt.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithLogger sets the logger used for retry notifications.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient wraps backend with the retry policy.
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:     backend,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		callTimeout: DefaultCallTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "chain"))
	return c
}

// Dial connects to an HTTP or websocket RPC endpoint.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c := NewClient(ec, opts...)
	c.closer = ec.Close
	return c, nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := call(ctx, c, "eth_blockNumber", func(ctx context.Context) (uint64, error) {
		return c.backend.BlockNumber(ctx)
	})
	if err == nil {
		observability.UpdateHeadBlock(n)
	}
	return n, err
}

// HeaderByNumber returns the header of block number.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	h, err := call(ctx, c, "eth_getBlockByNumber", func(ctx context.Context) (*types.Header, error) {
		return c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if errors.Is(err, ethereum.NotFound) || (err == nil && h == nil) {
		return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, number)
	}
	return h, err
}

// BlockTimestamp returns the timestamp of block number in Unix milliseconds.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (int64, error) {
	h, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		return 0, err
	}
	return int64(h.Time) * 1000, nil
}

// FilterLogs runs one log query.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return call(ctx, c, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return c.backend.FilterLogs(ctx, q)
	})
}

// CallContract executes a read-only call, pinned to block when non-nil.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return call(ctx, c, "eth_call", func(ctx context.Context) ([]byte, error) {
		return c.backend.CallContract(ctx, msg, block)
	})
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := call(ctx, c, "eth_getTransactionReceipt", func(ctx context.Context) (*types.Receipt, error) {
		return c.backend.TransactionReceipt(ctx, hash)
	})
	if errors.Is(err, ethereum.NotFound) || (err == nil && r == nil) {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, hash.Hex())
	}
	return r, err
}

// call runs op under the retry policy. Each attempt gets its own timeout.
func call[T any](ctx context.Context, c *Client, method string, op func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	attempt := 0

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		v, err := op(callCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithMaxElapsedTime(time.Duration(c.maxRetries+1)*(c.callTimeout+c.retryDelay)),
		backoff.WithNotify(func(err error, d time.Duration) {
			observability.RecordRPCRetry(method)
			c.logger.Warn("rpc call failed, retrying",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Duration("delay", d),
				zap.Error(err))
		}),
	)

	observability.RecordRPCCall(method, time.Since(start).Seconds(), err)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", method, err)
	}
	return res, nil
}
