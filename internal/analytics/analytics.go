// Package analytics is the AnalyticsEngine of spec.md §4.11: rug score
// composition, honeypot heuristic, and USD-denominated liquidity/market
// cap derived from a PriceProvider. TokenProcessor supplies the read-only
// contract-derived Input; this package is a pure function of that input
// plus the configured base-token price.
package analytics

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/riftindex/chainindexer/internal/priceoracle"
)

// Input is everything AnalyticsEngine needs, already resolved by
// TokenProcessor's contract reads (spec.md §4.8's "failure-tolerant read
// that defaults on revert").
type Input struct {
	ContractVerified          bool
	OwnershipRenounced        bool
	LiquidityLocked           bool
	OwnershipConcentrationPct float64
	BuyTaxPct                 float64
	SellTaxPct                float64
	HoneypotSimulationReverts bool

	CirculatingSupply *big.Int
	Decimals          uint8

	// TokenPriceInBase is the token's spot price expressed in units of
	// the base token (derived from the primary pair's reserves).
	TokenPriceInBase float64
	// PairReserveBase is the base-token side of the primary pair's
	// reserves, used to value total liquidity in USD.
	PairReserveBase *big.Int
}

// Output is the computed analytics row, persisted via
// store.UpsertTokenAnalytics.
type Output struct {
	RugScore     int
	IsHoneypot   bool
	LiquidityUSD float64
	PriceUSD     float64
	MarketCapUSD float64
}

// Engine computes per-token analytics.
type Engine struct {
	Price priceoracle.PriceProvider
}

// New builds an Engine backed by the given base-token price provider.
func New(p priceoracle.PriceProvider) *Engine {
	return &Engine{Price: p}
}

// RugScore composes the heuristic exactly as spec.md §4.11 specifies:
// +20 unverified, +30 not renounced, +20 no liquidity lock, +30/+15 for
// concentration >50%/>30%, +20 for tax >10% either side, clamped to 100.
func (e *Engine) RugScore(in Input) int {
	score := 0
	if !in.ContractVerified {
		score += 20
	}
	if !in.OwnershipRenounced {
		score += 30
	}
	if !in.LiquidityLocked {
		score += 20
	}
	switch {
	case in.OwnershipConcentrationPct > 50:
		score += 30
	case in.OwnershipConcentrationPct > 30:
		score += 15
	}
	if in.BuyTaxPct > 10 || in.SellTaxPct > 10 {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

// IsHoneypot reports the honeypot heuristic: a simulated tiny-transfer
// revert, or either tax exceeding 50%.
func (e *Engine) IsHoneypot(in Input) bool {
	return in.HoneypotSimulationReverts || in.BuyTaxPct > 50 || in.SellTaxPct > 50
}

// Compute resolves the full analytics Output, including USD-denominated
// fields via the configured PriceProvider.
func (e *Engine) Compute(ctx context.Context, in Input) (Output, error) {
	basePriceUSD, err := e.Price.BaseTokenUSD(ctx)
	if err != nil {
		return Output{}, fmt.Errorf("analytics: base token price: %w", err)
	}

	priceUSD := in.TokenPriceInBase * basePriceUSD

	liquidityUSD := 0.0
	if in.PairReserveBase != nil {
		reserveBase, _ := new(big.Float).SetInt(in.PairReserveBase).Float64()
		liquidityUSD = 2 * (reserveBase / 1e18) * basePriceUSD
	}

	marketCapUSD := 0.0
	if in.CirculatingSupply != nil {
		supply, _ := new(big.Float).SetInt(in.CirculatingSupply).Float64()
		marketCapUSD = (supply / math.Pow(10, float64(in.Decimals))) * priceUSD
	}

	return Output{
		RugScore:     e.RugScore(in),
		IsHoneypot:   e.IsHoneypot(in),
		LiquidityUSD: liquidityUSD,
		PriceUSD:     priceUSD,
		MarketCapUSD: marketCapUSD,
	}, nil
}
