package price

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"lp-pnl-tracker/internal/cache"
	"lp-pnl-tracker/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL           = "https://pro-api.coingecko.com/api/v3"
	DefaultPlatform          = "binance-smart-chain"
	DefaultMaxRetries        = 4
	DefaultRetryDelay        = 2 * time.Second
	DefaultCurrentTimeout    = 5 * time.Second
	DefaultHistoryTimeout    = 50 * time.Second
	DefaultListTimeout       = 20 * time.Second
	DefaultCurrentResolution = time.Minute

	fallbackPlatform = "ethereum"
	coinListKey      = "coins"
)

// CoinGecko implements Oracle over the CoinGecko Pro REST API.
type CoinGecko struct {
	baseURL           string
	apiKey            string
	platform          string
	client            *http.Client
	maxRetries        int
	retryDelay        time.Duration
	currentTimeout    time.Duration
	historyTimeout    time.Duration
	currentResolution time.Duration
	logger            *zap.Logger
	now               func() time.Time

	coins   *cache.Store[*coinIndex]
	history *cache.Store[float64]
	current *cache.Store[float64]
}

// Option configures CoinGecko.
type Option func(*CoinGecko)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *CoinGecko) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithAPIKey sets the pro API key.
func WithAPIKey(key string) Option {
	return func(c *CoinGecko) {
		c.apiKey = key
	}
}

// WithPlatform sets the asset platform searched first for contract addresses.
func WithPlatform(p string) Option {
	return func(c *CoinGecko) {
		if p != "" {
			c.platform = p
		}
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(c *CoinGecko) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the fixed delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *CoinGecko) {
		c.retryDelay = d
	}
}

// WithTimeouts sets per-request timeouts for current and historical lookups.
func WithTimeouts(current, history time.Duration) Option {
	return func(c *CoinGecko) {
		if current > 0 {
			c.currentTimeout = current
		}
		if history > 0 {
			c.historyTimeout = history
		}
	}
}

// WithCurrentResolution sets the bucket width of cached current prices.
func WithCurrentResolution(d time.Duration) Option {
	return func(c *CoinGecko) {
		c.currentResolution = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *CoinGecko) {
		c.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *CoinGecko) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for current-price buckets.
func WithClock(now func() time.Time) Option {
	return func(c *CoinGecko) {
		c.now = now
	}
}

// WithCaches injects shared price caches.
func WithCaches(history, current *cache.Store[float64]) Option {
	return func(c *CoinGecko) {
		if history != nil {
			c.history = history
		}
		if current != nil {
			c.current = current
		}
	}
}

// NewCoinGecko creates a CoinGecko oracle.
func NewCoinGecko(opts ...Option) *CoinGecko {
	c := &CoinGecko{
		baseURL:           DefaultBaseURL,
		platform:          DefaultPlatform,
		client:            &http.Client{},
		maxRetries:        DefaultMaxRetries,
		retryDelay:        DefaultRetryDelay,
		currentTimeout:    DefaultCurrentTimeout,
		historyTimeout:    DefaultHistoryTimeout,
		currentResolution: DefaultCurrentResolution,
		logger:            zap.NewNop(),
		now:               time.Now,
		coins:             cache.New[*coinIndex](),
		history:           cache.New[float64](),
		current:           cache.New[float64](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "coingecko"))
	return c
}

// HistoricalPrice returns the USD price of token on the UTC day of at.
func (c *CoinGecko) HistoricalPrice(ctx context.Context, token string, at time.Time) (float64, error) {
	key := HistoryCacheKey(token, at)
	if v, ok := c.history.Get(key); ok {
		observability.RecordPriceCacheHit("history")
		return v, nil
	}

	v, err := c.history.GetOrLoad(ctx, key, func(ctx context.Context) (float64, error) {
		id, err := c.coinID(ctx, token)
		if err != nil {
			return 0, err
		}
		endpoint := fmt.Sprintf("%s/coins/%s/history?date=%s&localization=false",
			c.baseURL, url.PathEscape(id), DayKey(at))

		return c.fetchPrice(ctx, "history", endpoint, c.historyTimeout, func(body []byte) (float64, error) {
			var resp historyResponse
			if err := sonnet.Unmarshal(body, &resp); err != nil {
				return 0, fmt.Errorf("decode history: %w", err)
			}
			if resp.MarketData == nil {
				return 0, ErrNoPrice
			}
			return resp.MarketData.CurrentPrice["usd"], nil
		})
	})
	observability.RecordPriceLookup("history", err)
	if err != nil {
		return 0, fmt.Errorf("historical price %s on %s: %w", token, DayKey(at), err)
	}
	return v, nil
}

// CurrentPrice returns the live USD price of token.
func (c *CoinGecko) CurrentPrice(ctx context.Context, token string) (float64, error) {
	key := CurrentCacheKey(token, c.now(), c.currentResolution)
	if v, ok := c.current.Get(key); ok {
		observability.RecordPriceCacheHit("current")
		return v, nil
	}

	v, err := c.current.GetOrLoad(ctx, key, func(ctx context.Context) (float64, error) {
		addr := strings.ToLower(token)
		endpoint := fmt.Sprintf("%s/simple/token_price/%s?contract_addresses=%s&vs_currencies=usd",
			c.baseURL, url.PathEscape(c.platform), url.QueryEscape(addr))

		return c.fetchPrice(ctx, "current", endpoint, c.currentTimeout, func(body []byte) (float64, error) {
			var resp map[string]map[string]float64
			if err := sonnet.Unmarshal(body, &resp); err != nil {
				return 0, fmt.Errorf("decode token_price: %w", err)
			}
			for k, v := range resp {
				if strings.EqualFold(k, addr) {
					return v["usd"], nil
				}
			}
			return 0, ErrNoPrice
		})
	})
	observability.RecordPriceLookup("current", err)
	if err != nil {
		return 0, fmt.Errorf("current price %s: %w", token, err)
	}
	return v, nil
}

// fetchPrice GETs endpoint under the retry policy. A zero or missing
// price counts as a failed attempt.
func (c *CoinGecko) fetchPrice(ctx context.Context, kind, endpoint string, timeout time.Duration, decode func([]byte) (float64, error)) (float64, error) {
	return c.retry(ctx, kind, func() (float64, error) {
		body, err := c.get(ctx, endpoint, timeout)
		if err != nil {
			return 0, err
		}
		p, err := decode(body)
		if err != nil {
			return 0, err
		}
		if p <= 0 {
			return 0, ErrNoPrice
		}
		return p, nil
	})
}

func (c *CoinGecko) retry(ctx context.Context, kind string, op func() (float64, error)) (float64, error) {
	tries := 1
	if c.maxRetries > 0 {
		tries += c.maxRetries
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(time.Duration(tries)*(c.historyTimeout+c.retryDelay)),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.logger.Warn("price lookup failed, retrying",
				zap.String("kind", kind),
				zap.Duration("delay", d),
				zap.Error(err))
		}),
	)
}

func (c *CoinGecko) get(ctx context.Context, endpoint string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body))
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: HTTP 404", ErrUnknownToken))
	default:
		return nil, backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body)))
	}
}

// coinIndex maps lowercased contract addresses to coin ids for the
// configured platform and the ethereum fallback.
type coinIndex struct {
	primary  map[string]string
	fallback map[string]string
}

func (c *CoinGecko) coinID(ctx context.Context, token string) (string, error) {
	idx, err := c.coins.GetOrLoad(ctx, coinListKey, c.loadCoinList)
	if err != nil {
		return "", err
	}
	addr := strings.ToLower(token)
	if id, ok := idx.primary[addr]; ok {
		return id, nil
	}
	if id, ok := idx.fallback[addr]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownToken, token)
}

func (c *CoinGecko) loadCoinList(ctx context.Context) (*coinIndex, error) {
	endpoint := c.baseURL + "/coins/list?include_platform=true"

	var coins []coinListEntry
	_, err := c.retry(ctx, "coin_list", func() (float64, error) {
		body, err := c.get(ctx, endpoint, DefaultListTimeout)
		if err != nil {
			return 0, err
		}
		if err := sonnet.Unmarshal(body, &coins); err != nil {
			return 0, fmt.Errorf("decode coin list: %w", err)
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load coin list: %w", err)
	}

	idx := &coinIndex{primary: make(map[string]string), fallback: make(map[string]string)}
	for _, coin := range coins {
		if addr := coin.Platforms[c.platform]; addr != "" {
			idx.primary[strings.ToLower(addr)] = coin.ID
		}
		if addr := coin.Platforms[fallbackPlatform]; addr != "" {
			idx.fallback[strings.ToLower(addr)] = coin.ID
		}
	}
	c.logger.Info("coin list loaded",
		zap.Int("coins", len(coins)),
		zap.Int("platform_tokens", len(idx.primary)))
	return idx, nil
}

type coinListEntry struct {
	ID        string            `json:"id"`
	Symbol    string            `json:"symbol"`
	Name      string            `json:"name"`
	Platforms map[string]string `json:"platforms"`
}

type historyResponse struct {
	MarketData *struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

var _ Oracle = (*CoinGecko)(nil)

// IsUnknownToken reports whether err came from an unmapped contract address.
func IsUnknownToken(err error) bool {
	return errors.Is(err, ErrUnknownToken)
}
