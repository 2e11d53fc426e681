package chain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"lp-pnl-tracker/internal/observability"
)

// HeadWatcherConfig configures HeadWatcher behavior.
type HeadWatcherConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultHeadWatcherConfig returns default configuration.
func DefaultHeadWatcherConfig() HeadWatcherConfig {
	return HeadWatcherConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// HeadWatcher follows new block headers over an eth_subscribe newHeads
// websocket subscription and keeps the highest block number seen.
type HeadWatcher struct {
	endpoint string
	config   HeadWatcherConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64
	latest    atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewHeadWatcher connects to endpoint and subscribes to new heads.
func NewHeadWatcher(ctx context.Context, endpoint string, config *HeadWatcherConfig, logger *zap.Logger) (*HeadWatcher, error) {
	cfg := DefaultHeadWatcherConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &HeadWatcher{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.With(zap.String("component", "head_watcher")),
		done:     make(chan struct{}),
	}

	if err := w.connect(ctx); err != nil {
		return nil, err
	}
	if err := w.subscribe(); err != nil {
		w.conn.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.readLoop()

	w.wg.Add(1)
	go w.pingLoop()

	return w, nil
}

// Latest returns the highest block number seen, or 0 before the first head.
func (w *HeadWatcher) Latest() uint64 {
	return w.latest.Load()
}

// Close closes the websocket connection and stops background loops.
func (w *HeadWatcher) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	close(w.done)

	w.connMu.Lock()
	if w.conn != nil {
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		w.conn.Close()
	}
	w.connMu.Unlock()

	w.wg.Wait()
	return nil
}

func (w *HeadWatcher) connect(ctx context.Context) error {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	w.conn = conn
	return nil
}

func (w *HeadWatcher) subscribe() error {
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      w.requestID.Add(1),
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	}
	payload, err := sonnet.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("subscribe: not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

func (w *HeadWatcher) readLoop() {
	defer w.wg.Done()

	reconnectDelay := w.config.ReconnectDelay

	for !w.closed.Load() {
		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()

		if conn == nil {
			select {
			case <-w.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if w.closed.Load() {
				return
			}

			if !w.reconnecting.Swap(true) {
				go w.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > w.config.MaxReconnectDelay {
				reconnectDelay = w.config.MaxReconnectDelay
			}

			select {
			case <-w.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = w.config.ReconnectDelay
		w.handleMessage(message)
	}
}

func (w *HeadWatcher) reconnect(delay time.Duration) {
	defer w.reconnecting.Store(false)

	if w.closed.Load() {
		return
	}

	select {
	case <-w.done:
		return
	case <-time.After(delay):
	}

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	observability.RecordWSReconnect()
	if err := w.connect(ctx); err != nil {
		w.logger.Warn("reconnect failed", zap.Duration("delay", delay), zap.Error(err))
		return
	}
	if err := w.subscribe(); err != nil {
		w.logger.Warn("resubscribe failed", zap.Error(err))
	}
}

func (w *HeadWatcher) handleMessage(message []byte) {
	var notif wsHeadNotification
	if err := sonnet.Unmarshal(message, &notif); err != nil {
		w.logger.Debug("ignoring undecodable message", zap.Error(err))
		return
	}

	if notif.Error != nil {
		w.logger.Warn("subscription error",
			zap.Int("code", notif.Error.Code),
			zap.String("message", notif.Error.Message))
		return
	}
	if notif.Method != "eth_subscription" || notif.Params == nil {
		return
	}

	n, err := hexutil.DecodeUint64(notif.Params.Result.Number)
	if err != nil {
		w.logger.Debug("bad head number", zap.String("number", notif.Params.Result.Number))
		return
	}

	for {
		cur := w.latest.Load()
		if n <= cur || w.latest.CompareAndSwap(cur, n) {
			break
		}
	}
	observability.UpdateHeadBlock(w.latest.Load())
}

func (w *HeadWatcher) pingLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.connMu.Lock()
			if w.conn != nil {
				w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
				// A dead connection surfaces as a read error and reconnects there.
				_ = w.conn.WriteMessage(websocket.PingMessage, nil)
			}
			w.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsHeadNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  *struct {
		Subscription string `json:"subscription"`
		Result       struct {
			Number string `json:"number"`
			Hash   string `json:"hash"`
		} `json:"result"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
