package txflow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAffordable(t *testing.T) {
	maxU256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	require.True(t, affordable(big.NewInt(210), 21, big.NewInt(10), nil))
	require.False(t, affordable(big.NewInt(209), 21, big.NewInt(10), nil))
	require.True(t, affordable(big.NewInt(215), 21, big.NewInt(10), big.NewInt(5)))
	require.False(t, affordable(nil, 1, big.NewInt(1), nil))

	// gas * price overflows uint256
	require.False(t, affordable(maxU256, 2, maxU256, nil))
	// cost + value overflows uint256
	require.False(t, affordable(maxU256, 1, big.NewInt(1), maxU256))
}

func TestResolveGas(t *testing.T) {
	s := &Service{gasNum: defaultGasNumerator, gasDen: defaultGasDenominator}
	require.Equal(t, uint64(135_000), s.resolveGas(100_000))
	require.Equal(t, uint64(28_350), s.resolveGas(21_000))
	require.Equal(t, uint64(1), s.resolveGas(1))
	require.Equal(t, ^uint64(0), s.resolveGas(^uint64(0)))
}
