package process

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriceImpact_MatchesSpecFormula(t *testing.T) {
	// reserveIn=1000, reserveOut=1000, amountIn=10, amountOut=9 (a 10%
	// output shortfall): expected=1e18, actual=9e17 -> impact=10%.
	impact := priceImpact(big.NewInt(1000), big.NewInt(1000), big.NewInt(10), big.NewInt(9))
	require.InDelta(t, 10.0, impact, 1e-9)
}

func TestPriceImpact_NoTradeIsZero(t *testing.T) {
	require.Equal(t, 0.0, priceImpact(big.NewInt(1000), big.NewInt(1000), big.NewInt(0), big.NewInt(0)))
	require.Equal(t, 0.0, priceImpact(big.NewInt(0), big.NewInt(1000), big.NewInt(10), big.NewInt(9)))
}

func TestMaxPct_TakesLargerSide(t *testing.T) {
	// amount0 is 10% of reserve0, amount1 is 80% of reserve1 -> 80.
	pct := maxPct(big.NewInt(10), big.NewInt(100), big.NewInt(80), big.NewInt(100))
	require.InDelta(t, 80.0, pct, 1e-9)
}

func TestMaxPct_CatastrophicRemoval(t *testing.T) {
	// Burn removes 9000 of a 10000 reserve on one side: 90% -> CRITICAL tier.
	pct := maxPct(big.NewInt(9000), big.NewInt(10000), big.NewInt(1000), big.NewInt(10000))
	require.GreaterOrEqual(t, pct, float64(criticalRemovalPercent))
}

func TestShiftExceeds(t *testing.T) {
	require.True(t, shiftExceeds(big.NewInt(1000), big.NewInt(400), 50))
	require.False(t, shiftExceeds(big.NewInt(1000), big.NewInt(900), 50))
	require.False(t, shiftExceeds(big.NewInt(0), big.NewInt(900), 50))
}

func TestLiquidityEstimate_ZeroAmountsYieldZero(t *testing.T) {
	require.Equal(t, big.NewInt(0), liquidityEstimate(big.NewInt(0), big.NewInt(0)))
}

func TestLiquidityEstimate_GeometricMean(t *testing.T) {
	// sqrt(100*100) = 100.
	require.Equal(t, big.NewInt(100), liquidityEstimate(big.NewInt(100), big.NewInt(100)))
}
