package clmath

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outside(v0, v1 uint64) FeeGrowthOutside {
	return FeeGrowthOutside{Token0: uint256.NewInt(v0), Token1: uint256.NewInt(v1)}
}

func TestFeeGrowthInside(t *testing.T) {
	global := uint256.NewInt(100)
	maxU256 := new(uint256.Int).SetAllOne()

	tests := []struct {
		name    string
		lower   FeeGrowthOutside
		upper   FeeGrowthOutside
		current int32
		want    *uint256.Int
	}{
		{
			name:    "within range",
			lower:   outside(10, 10),
			upper:   outside(20, 20),
			current: 0,
			want:    uint256.NewInt(70),
		},
		{
			name:    "below range",
			lower:   outside(30, 30),
			upper:   outside(10, 10),
			current: -200,
			want:    uint256.NewInt(20),
		},
		{
			name:    "above range",
			lower:   outside(20, 20),
			upper:   outside(50, 50),
			current: 200,
			want:    uint256.NewInt(30),
		},
		{
			name:    "current at upper counts as above",
			lower:   outside(20, 20),
			upper:   outside(50, 50),
			current: 100,
			want:    uint256.NewInt(30),
		},
		{
			name:    "wraps below zero",
			lower:   outside(60, 60),
			upper:   outside(50, 50),
			current: 0,
			want:    new(uint256.Int).SubUint64(maxU256, 9),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in0, in1 := FeeGrowthInside(tt.lower, tt.upper, -100, 100, tt.current, global, global)
			assert.Equal(t, tt.want.Dec(), in0.Dec())
			assert.Equal(t, tt.want.Dec(), in1.Dec())
		})
	}
}

func TestTokensOwed(t *testing.T) {
	now := new(uint256.Int).Lsh(uint256.NewInt(3), 128)
	last := new(uint256.Int).Lsh(uint256.NewInt(1), 128)

	owed0, owed1, err := TokensOwed(last, last, uint256.NewInt(5), now, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), owed0.Uint64())
	assert.Equal(t, uint64(10), owed1.Uint64())
}

func TestTokensOwed_Wraparound(t *testing.T) {
	// last = 2^256 - 2^128, now = 2^128: the accumulator wrapped by 2^129.
	last := new(uint256.Int).Sub(new(uint256.Int), Q128)
	now := new(uint256.Int).Set(Q128)

	owed0, owed1, err := TokensOwed(last, now, uint256.NewInt(3), now, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), owed0.Uint64())
	assert.True(t, owed1.IsZero())
}

func TestFromBig(t *testing.T) {
	v, err := FromBig(big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v.Uint64())

	v, err = FromBig(nil)
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	_, err = FromBig(big.NewInt(-1))
	assert.ErrorIs(t, err, ErrNegative)

	_, err = FromBig(new(big.Int).Lsh(big.NewInt(1), 256))
	assert.ErrorIs(t, err, ErrOverflow)
}
