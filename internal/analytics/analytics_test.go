package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftindex/chainindexer/internal/priceoracle"
)

func TestRugScore_Composition(t *testing.T) {
	e := New(priceoracle.StaticPriceProvider{Value: 1})

	// Fully clean token: verified, renounced, locked, low concentration, no tax.
	require.Equal(t, 0, e.RugScore(Input{
		ContractVerified: true, OwnershipRenounced: true, LiquidityLocked: true,
		OwnershipConcentrationPct: 10,
	}))

	// Worst case clamps to 100 rather than overflowing (20+30+20+30+20=120).
	require.Equal(t, 100, e.RugScore(Input{
		OwnershipConcentrationPct: 90, BuyTaxPct: 15,
	}))

	// Concentration tiers: >30 and <=50 gets +15, not +30.
	require.Equal(t, 15, e.RugScore(Input{
		ContractVerified: true, OwnershipRenounced: true, LiquidityLocked: true,
		OwnershipConcentrationPct: 35,
	}))
}

func TestIsHoneypot(t *testing.T) {
	e := New(priceoracle.StaticPriceProvider{Value: 1})

	require.True(t, e.IsHoneypot(Input{HoneypotSimulationReverts: true}))
	require.True(t, e.IsHoneypot(Input{BuyTaxPct: 51}))
	require.True(t, e.IsHoneypot(Input{SellTaxPct: 60}))
	require.False(t, e.IsHoneypot(Input{BuyTaxPct: 10, SellTaxPct: 10}))
}

func TestCompute_UsesPriceProvider(t *testing.T) {
	e := New(priceoracle.StaticPriceProvider{Value: 2000})

	out, err := e.Compute(context.Background(), Input{
		ContractVerified: true, OwnershipRenounced: true, LiquidityLocked: true,
		TokenPriceInBase: 0.001,
	})
	require.NoError(t, err)
	require.InDelta(t, 2.0, out.PriceUSD, 1e-9)
	require.Equal(t, 0, out.RugScore)
	require.False(t, out.IsHoneypot)
}

func TestCompute_PropagatesPriceProviderError(t *testing.T) {
	e := New(errorProvider{})
	_, err := e.Compute(context.Background(), Input{})
	require.Error(t, err)
}

type errorProvider struct{}

func (errorProvider) BaseTokenUSD(ctx context.Context) (float64, error) {
	return 0, context.Canceled
}
