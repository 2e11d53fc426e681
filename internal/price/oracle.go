// Package price resolves token USD prices, historical by UTC day and
// current, for the contract addresses the tracker sees on chain.
package price

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNoPrice is returned when a lookup yields no usable (non-zero) price.
	ErrNoPrice = errors.New("no price")
	// ErrUnknownToken is returned when a contract address maps to no coin.
	ErrUnknownToken = errors.New("unknown token")
)

// Oracle returns USD prices. A zero price is never returned without an error.
type Oracle interface {
	HistoricalPrice(ctx context.Context, token string, at time.Time) (float64, error)
	CurrentPrice(ctx context.Context, token string) (float64, error)
}

// DayKey renders the UTC day of t as dd-mm-yyyy.
func DayKey(t time.Time) string {
	return t.UTC().Format("02-01-2006")
}

// HistoryCacheKey is the cache key of a historical price.
func HistoryCacheKey(token string, at time.Time) string {
	return strings.ToLower(token) + "_" + DayKey(at)
}

// CurrentCacheKey is the cache key of a current price, bucketed by resolution
// so that entries stay immutable.
func CurrentCacheKey(token string, at time.Time, resolution time.Duration) string {
	bucket := at.UTC()
	if resolution > 0 {
		bucket = bucket.Truncate(resolution)
	}
	return strings.ToLower(token) + "@" + bucket.Format(time.RFC3339)
}
