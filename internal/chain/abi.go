package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// PositionManagerABI covers the NonfungiblePositionManager events and the
// positions(tokenId) view. PancakeSwap V3 and Uniswap V3 share this shape.
const PositionManagerABI = `[
	{"anonymous":false,"name":"IncreaseLiquidity","type":"event","inputs":[
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":false,"name":"liquidity","type":"uint128"},
		{"indexed":false,"name":"amount0","type":"uint256"},
		{"indexed":false,"name":"amount1","type":"uint256"}]},
	{"anonymous":false,"name":"DecreaseLiquidity","type":"event","inputs":[
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":false,"name":"liquidity","type":"uint128"},
		{"indexed":false,"name":"amount0","type":"uint256"},
		{"indexed":false,"name":"amount1","type":"uint256"}]},
	{"anonymous":false,"name":"Collect","type":"event","inputs":[
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":false,"name":"recipient","type":"address"},
		{"indexed":false,"name":"amount0","type":"uint256"},
		{"indexed":false,"name":"amount1","type":"uint256"}]},
	{"anonymous":false,"name":"Transfer","type":"event","inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"}]},
	{"name":"positions","type":"function","stateMutability":"view",
		"inputs":[{"name":"tokenId","type":"uint256"}],
		"outputs":[
			{"name":"nonce","type":"uint96"},
			{"name":"operator","type":"address"},
			{"name":"token0","type":"address"},
			{"name":"token1","type":"address"},
			{"name":"fee","type":"uint24"},
			{"name":"tickLower","type":"int24"},
			{"name":"tickUpper","type":"int24"},
			{"name":"liquidity","type":"uint128"},
			{"name":"feeGrowthInside0LastX128","type":"uint256"},
			{"name":"feeGrowthInside1LastX128","type":"uint256"},
			{"name":"tokensOwed0","type":"uint128"},
			{"name":"tokensOwed1","type":"uint128"}]}
]`

// PoolABI covers the pool Mint event and the views needed for valuation.
// Only the slot0 fields common to both DEX variants are declared.
const PoolABI = `[
	{"anonymous":false,"name":"Mint","type":"event","inputs":[
		{"indexed":false,"name":"sender","type":"address"},
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":true,"name":"tickLower","type":"int24"},
		{"indexed":true,"name":"tickUpper","type":"int24"},
		{"indexed":false,"name":"amount","type":"uint128"},
		{"indexed":false,"name":"amount0","type":"uint256"},
		{"indexed":false,"name":"amount1","type":"uint256"}]},
	{"name":"slot0","type":"function","stateMutability":"view","inputs":[],
		"outputs":[
			{"name":"sqrtPriceX96","type":"uint160"},
			{"name":"tick","type":"int24"},
			{"name":"observationIndex","type":"uint16"},
			{"name":"observationCardinality","type":"uint16"},
			{"name":"observationCardinalityNext","type":"uint16"}]},
	{"name":"feeGrowthGlobal0X128","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"name":"feeGrowthGlobal1X128","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"name":"ticks","type":"function","stateMutability":"view",
		"inputs":[{"name":"tick","type":"int24"}],
		"outputs":[
			{"name":"liquidityGross","type":"uint128"},
			{"name":"liquidityNet","type":"int128"},
			{"name":"feeGrowthOutside0X128","type":"uint256"},
			{"name":"feeGrowthOutside1X128","type":"uint256"},
			{"name":"tickCumulativeOutside","type":"int56"},
			{"name":"secondsPerLiquidityOutsideX128","type":"uint160"},
			{"name":"secondsOutside","type":"uint32"},
			{"name":"initialized","type":"bool"}]},
	{"name":"token0","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"address"}]},
	{"name":"token1","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"address"}]},
	{"name":"fee","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint24"}]}
]`

// ERC20ABI covers token metadata reads.
const ERC20ABI = `[
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint8"}]},
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"string"}]}
]`

// erc20Bytes32ABI is the legacy symbol() shape returning bytes32.
const erc20Bytes32ABI = `[
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"bytes32"}]}
]`

// Parsed ABIs.
var (
	PositionManager = mustParse(PositionManagerABI)
	Pool            = mustParse(PoolABI)
	ERC20           = mustParse(ERC20ABI)
	erc20Bytes32    = mustParse(erc20Bytes32ABI)
)

// Event topics.
var (
	TopicIncreaseLiquidity = PositionManager.Events["IncreaseLiquidity"].ID
	TopicDecreaseLiquidity = PositionManager.Events["DecreaseLiquidity"].ID
	TopicCollect           = PositionManager.Events["Collect"].ID
	TopicTransfer          = PositionManager.Events["Transfer"].ID
	TopicPoolMint          = Pool.Events["Mint"].ID
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}

// AddressTopic left-pads an address into a 32-byte topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
