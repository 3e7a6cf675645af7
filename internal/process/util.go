package process

import (
	"encoding/json"
	"math/big"
)

// mustJSON marshals v for a best-effort KV list push. A marshal failure
// here would mean a store-level model stopped being JSON-encodable; the
// error is not reported and the JSON literal null is returned instead.
func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

var weiScale = new(big.Float).SetFloat64(1e18)

// weiToFloat converts an 18-decimal wei-scale integer to a float64 token
// count. Used only for USD valuation math, where float precision is
// acceptable (spec.md §8 itself specifies the price-impact formula in
// floating point).
func weiToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(v), weiScale)
	out, _ := f.Float64()
	return out
}

// priceImpact implements the formula spec.md §8 specifies exactly:
//
//	expected = reserveOut * 1e18 / reserveIn
//	actual   = amountOut  * 1e18 / amountIn
//	impact%  = |expected - actual| * 100 / expected
func priceImpact(reserveIn, reserveOut, amountIn, amountOut *big.Int) float64 {
	if reserveIn == nil || reserveOut == nil || amountIn == nil || amountOut == nil {
		return 0
	}
	if reserveIn.Sign() == 0 || amountIn.Sign() == 0 {
		return 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	expected := new(big.Int).Div(new(big.Int).Mul(reserveOut, scale), reserveIn)
	actual := new(big.Int).Div(new(big.Int).Mul(amountOut, scale), amountIn)

	expectedF := new(big.Float).SetInt(expected)
	if expectedF.Sign() == 0 {
		return 0
	}
	diff := new(big.Float).Sub(expectedF, new(big.Float).SetInt(actual))
	diff.Abs(diff)
	pct := new(big.Float).Quo(diff, expectedF)
	pct.Mul(pct, big.NewFloat(100))
	out, _ := pct.Float64()
	return out
}

// maxPct returns the larger of amount0/reserve0 and amount1/reserve1,
// expressed as a percentage, used to classify a Burn's share of the pool
// (spec.md §4.10: "percentage of reserves removed").
func maxPct(amount0, reserve0, amount1, reserve1 *big.Int) float64 {
	p0 := pct(amount0, reserve0)
	p1 := pct(amount1, reserve1)
	if p1 > p0 {
		return p1
	}
	return p0
}

func pct(amount, reserve *big.Int) float64 {
	if amount == nil || reserve == nil || reserve.Sign() == 0 {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(amount), new(big.Float).SetInt(reserve))
	f.Mul(f, big.NewFloat(100))
	out, _ := f.Float64()
	return out
}

// shiftExceeds reports whether cur differs from prev by more than pct
// percent, used by the reserve-shift watchdog (spec.md §4.10).
func shiftExceeds(prev, cur *big.Int, pctThreshold float64) bool {
	if prev == nil || cur == nil || prev.Sign() == 0 {
		return false
	}
	diff := new(big.Int).Sub(cur, prev)
	diff.Abs(diff)
	return pct(diff, prev) > pctThreshold
}

// liquidityEstimate mirrors Uniswap V2's geometric-mean liquidity formula
// (sqrt(amount0*amount1)), used only to populate the informational
// liquidity_events.liquidity column — the indexer never computes LP token
// supply authoritatively, since it never reads the pair's own totalSupply.
func liquidityEstimate(amount0, amount1 *big.Int) *big.Int {
	if amount0 == nil || amount1 == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(amount0, amount1)
	if product.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sqrt(product)
}
