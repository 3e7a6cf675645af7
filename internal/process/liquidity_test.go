package process

import (
	"context"
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/riftindex/chainindexer/internal/alert"
	"github.com/riftindex/chainindexer/internal/evt"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/priceoracle"
)

func newLiquidityProcessor(priceUSD float64) *LiquidityProcessor {
	r := alert.NewRouter(nil, obslog.New("test", "error"), "")
	return &LiquidityProcessor{
		Alerts: r, Log: obslog.New("test", "error"),
		Price: priceoracle.StaticPriceProvider{Value: priceUSD}, BaseToken: testBaseToken,
	}
}

// TestOnBurn_CatastrophicRemovalEscalatesToCritical exercises spec.md §8's
// "90% of reserves pulled in one Burn" scenario: severity escalates to
// CRITICAL regardless of USD value.
func TestOnBurn_CatastrophicRemovalEscalatesToCritical(t *testing.T) {
	gormDB, mock := newMockGormDB(t)
	p := newLiquidityProcessor(1)

	addr := toLowerHex(testPair)
	mock.ExpectQuery("SELECT \\* FROM `pairs`").WillReturnRows(
		sqlmock.NewRows([]string{"address", "token0", "token1", "reserve0", "reserve1", "dex_name"}).
			AddRow(addr, toLowerHex(testBaseToken), toLowerHex(testToken1), e18(1000).String(), e18(1000).String(), "basicdex"))
	mock.ExpectExec("INSERT INTO `liquidity_events`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `alerts`").WillReturnResult(sqlmock.NewResult(1, 1))

	e := evt.Burn{
		LogMeta: evt.LogMeta{BlockNumber: 20, TxHash: common.HexToHash("0xburn1"), LogIndex: 0},
		Pair:    testPair, Amount0: e18(900), Amount1: e18(100),
	}
	postCommit, err := p.OnBurn(context.Background(), gormDB, e)
	require.NoError(t, err)
	require.NotEmpty(t, postCommit)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestOnMint_ZeroAmountsProduceNoAlert exercises the boundary in spec.md
// §8: a Mint with both amounts zero is accepted (liquidity=0) and never
// crosses the USD alert threshold.
func TestOnMint_ZeroAmountsProduceNoAlert(t *testing.T) {
	gormDB, mock := newMockGormDB(t)
	p := newLiquidityProcessor(1)

	addr := toLowerHex(testPair)
	mock.ExpectQuery("SELECT \\* FROM `pairs`").WillReturnRows(
		sqlmock.NewRows([]string{"address", "token0", "token1", "reserve0", "reserve1", "dex_name"}).
			AddRow(addr, toLowerHex(testBaseToken), toLowerHex(testToken1), e18(1000).String(), e18(1000).String(), "basicdex"))
	mock.ExpectExec("INSERT INTO `liquidity_events`").WillReturnResult(sqlmock.NewResult(1, 1))

	e := evt.Mint{
		LogMeta: evt.LogMeta{BlockNumber: 20, TxHash: common.HexToHash("0xmint0"), LogIndex: 0},
		Pair:    testPair, Amount0: big.NewInt(0), Amount1: big.NewInt(0),
	}
	postCommit, err := p.OnMint(context.Background(), gormDB, e)
	require.NoError(t, err)
	require.Len(t, postCommit, 1, "only the publish hook, no alert")
	require.NoError(t, mock.ExpectationsWereMet())
}
