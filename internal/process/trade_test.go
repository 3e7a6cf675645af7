package process

import (
	"context"
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/alert"
	"github.com/riftindex/chainindexer/internal/evt"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/priceoracle"
)

func newMockGormDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

var (
	testBaseToken = common.HexToAddress("0x000000000000000000000000000000000000b1")
	testPair      = common.HexToAddress("0x000000000000000000000000000000000000aa")
	testToken1    = common.HexToAddress("0x000000000000000000000000000000000000cc")
)

func newTradeProcessor(priceUSD float64) *TradeProcessor {
	r := alert.NewRouter(nil, obslog.New("test", "error"), "")
	return &TradeProcessor{
		Alerts:    r,
		Log:       obslog.New("test", "error"),
		Price:     priceoracle.StaticPriceProvider{Value: priceUSD},
		BaseToken: testBaseToken,
	}
}

// e18 scales a decimal unit count into wei (18 decimals), matching the
// convention store.FormatBigInt/ParseBigInt round-trips through.
func e18(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// TestOnSwap_LargeSellClassification exercises spec.md §8 scenario 3: a
// swap where the base token is the output leg and trade value lands in
// [100,500) classifies as LARGE_SELL at MEDIUM severity.
func TestOnSwap_LargeSellClassification(t *testing.T) {
	gormDB, mock := newMockGormDB(t)
	p := newTradeProcessor(20) // 10 base-token units * $20 = $200, in [100,500)

	addr := toLowerHex(testPair)
	mock.ExpectQuery("SELECT \\* FROM `pairs`").WillReturnRows(
		sqlmock.NewRows([]string{"address", "token0", "token1", "reserve0", "reserve1", "dex_name"}).
			AddRow(addr, toLowerHex(testBaseToken), toLowerHex(testToken1), e18(1000).String(), e18(1000).String(), "basicdex"))
	mock.ExpectExec("INSERT INTO `trades`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM `trader_profiles`").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO `trader_profiles`").WillReturnResult(sqlmock.NewResult(1, 1))
	volumeRow := sqlmock.NewRows([]string{"usd", "count"}).AddRow(200, 1)
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(usd_value\\).*FROM `trades`").WillReturnRows(volumeRow) // pair 1h
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(usd_value\\).*FROM `trades`").WillReturnRows(volumeRow) // pair 24h
	mock.ExpectExec("UPDATE `pairs`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(usd_value\\).*FROM `trades`").WillReturnRows(volumeRow) // token 24h
	mock.ExpectQuery("SELECT \\* FROM `token_analytics`").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO `alerts`").WillReturnResult(sqlmock.NewResult(1, 1))

	e := evt.Swap{
		LogMeta:    evt.LogMeta{BlockNumber: 10, TxHash: common.HexToHash("0xt1"), LogIndex: 0},
		Pair:       testPair,
		To:         common.HexToAddress("0x0000000000000000000000000000000000dddd"),
		Amount0In:  big.NewInt(0),
		Amount1In:  e18(10),
		Amount0Out: e18(10), // 1:1 reserves, so this trade carries ~0 price impact
		Amount1Out: big.NewInt(0),
	}
	postCommit, err := p.OnSwap(context.Background(), gormDB, e)
	require.NoError(t, err)
	require.NotEmpty(t, postCommit)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestOnSwap_UnknownPairSkipped exercises the decode-and-skip policy for a
// swap on a pair DexMonitor hasn't recorded yet.
func TestOnSwap_UnknownPairSkipped(t *testing.T) {
	gormDB, mock := newMockGormDB(t)
	p := newTradeProcessor(20)

	mock.ExpectQuery("SELECT \\* FROM `pairs`").WillReturnRows(sqlmock.NewRows(nil))

	e := evt.Swap{
		LogMeta: evt.LogMeta{BlockNumber: 10, TxHash: common.HexToHash("0xt2"), LogIndex: 0},
		Pair:    testPair, Amount0In: big.NewInt(0), Amount1In: e18(1),
		Amount0Out: e18(1), Amount1Out: big.NewInt(0),
	}
	postCommit, err := p.OnSwap(context.Background(), gormDB, e)
	require.NoError(t, err)
	require.Nil(t, postCommit)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestOnSwap_RollingVolumesUpdatePairAndTokenAnalytics exercises spec.md
// §4.9's "update rolling hourly and daily volumes per pair and per
// non-base token", including a 24h price-change computation against a
// pre-existing TokenAnalytics row.
func TestOnSwap_RollingVolumesUpdatePairAndTokenAnalytics(t *testing.T) {
	gormDB, mock := newMockGormDB(t)
	p := newTradeProcessor(20) // 10 base-token units * $20 = $200

	addr := toLowerHex(testPair)
	mock.ExpectQuery("SELECT \\* FROM `pairs`").WillReturnRows(
		sqlmock.NewRows([]string{"address", "token0", "token1", "reserve0", "reserve1", "dex_name"}).
			AddRow(addr, toLowerHex(testBaseToken), toLowerHex(testToken1), e18(1000).String(), e18(1000).String(), "basicdex"))
	mock.ExpectExec("INSERT INTO `trades`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM `trader_profiles`").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO `trader_profiles`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(usd_value\\).*FROM `trades`").WillReturnRows(
		sqlmock.NewRows([]string{"usd", "count"}).AddRow(200, 1)) // pair 1h
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(usd_value\\).*FROM `trades`").WillReturnRows(
		sqlmock.NewRows([]string{"usd", "count"}).AddRow(500, 3)) // pair 24h
	mock.ExpectExec("UPDATE `pairs`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(usd_value\\).*FROM `trades`").WillReturnRows(
		sqlmock.NewRows([]string{"usd", "count"}).AddRow(500, 3)) // token 24h
	mock.ExpectQuery("SELECT \\* FROM `token_analytics`").WillReturnRows(
		sqlmock.NewRows([]string{"token_address", "price_usd"}).AddRow(toLowerHex(testToken1), 10))
	mock.ExpectExec("UPDATE `token_analytics`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `alerts`").WillReturnResult(sqlmock.NewResult(1, 1))

	e := evt.Swap{
		LogMeta:    evt.LogMeta{BlockNumber: 10, TxHash: common.HexToHash("0xt3"), LogIndex: 0},
		Pair:       testPair,
		To:         common.HexToAddress("0x0000000000000000000000000000000000dddd"),
		Amount0In:  big.NewInt(0),
		Amount1In:  e18(10),
		Amount0Out: e18(10),
		Amount1Out: big.NewInt(0),
	}
	postCommit, err := p.OnSwap(context.Background(), gormDB, e)
	require.NoError(t, err)
	require.NotEmpty(t, postCommit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func toLowerHex(a common.Address) string {
	s := a.Hex()
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
