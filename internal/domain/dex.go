package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedDEX is returned for a dex_type with no known variant.
var ErrUnsupportedDEX = errors.New("unsupported dex type")

// DEX type constants
const (
	DEXPancake = "pancake"
	DEXUniswap = "uniswap"
)

// Variant selects the position manager and display name for one DEX.
// Both variants share the same ABI.
type Variant struct {
	DEXType         string
	PositionManager string
	PoolName        string
}

var variants = map[string]Variant{
	DEXPancake: {
		DEXType:         DEXPancake,
		PositionManager: "0x46A15B0b27311cedF172AB29E4f4766fbE7F4364",
		PoolName:        "PancakeSwap V3",
	},
	DEXUniswap: {
		DEXType:         DEXUniswap,
		PositionManager: "0x7b8A01B39D58278b5DE7e48c8449c9f4F5170613",
		PoolName:        "Uniswap V3",
	},
}

// VariantFor returns the variant for dexType. Returns ErrUnsupportedDEX otherwise.
func VariantFor(dexType string) (Variant, error) {
	v, ok := variants[strings.ToLower(dexType)]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnsupportedDEX, dexType)
	}
	return v, nil
}

// quotePriority lists quote candidates per chain, highest priority first.
var quotePriority = map[string][]string{
	"bsc": {
		"0x55d398326f99059fF775485246999027B3197955", // USDT
		"0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", // USDC
		"0x1AF3F329e8BE154074D8769D1FFa4eE058B1DBc3", // DAI
		"0x8d0D000Ee44948FC98c9B98A4FA4921476f08B0d", // USD1
		"0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", // WBNB
		"0x2170Ed0880ac9A755fd29B2688956BD959F933F8", // WETH
	},
}

// QuotePriority returns the quote-token priority list for chain.
func QuotePriority(chain string) []string {
	return quotePriority[strings.ToLower(chain)]
}

func priorityIndex(list []string, token string) int {
	for i, t := range list {
		if strings.EqualFold(t, token) {
			return i
		}
	}
	return -1
}

// ResolveBaseQuote assigns base and quote for a token0/token1 pair.
// The listed token with the highest priority is the quote; when neither is
// listed token0 is the base.
func ResolveBaseQuote(chain, token0, token1 string) (base, quote, location string) {
	list := QuotePriority(chain)
	i0 := priorityIndex(list, token0)
	i1 := priorityIndex(list, token1)

	switch {
	case i0 >= 0 && i1 >= 0:
		if i0 < i1 {
			return token1, token0, LocationToken1
		}
		return token0, token1, LocationToken0
	case i0 >= 0:
		return token1, token0, LocationToken1
	default:
		return token0, token1, LocationToken0
	}
}
