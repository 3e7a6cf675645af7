package process

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/alert"
	"github.com/riftindex/chainindexer/internal/analytics"
	"github.com/riftindex/chainindexer/internal/chain"
	"github.com/riftindex/chainindexer/internal/evt"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/priceoracle"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "gorm.io/driver/mysql"
)

// revertingBackend implements chain.Backend and fails every call, exercising
// TokenProcessor's failure-tolerant contract-read defaults (spec.md §4.8).
type revertingBackend struct{}

func (revertingBackend) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (revertingBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (revertingBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("execution reverted")
}
func (revertingBackend) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("unsupported")
}
func (revertingBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, errors.New("not found")
}

// concentratedBackend implements chain.Backend, returning a majority
// balanceOf response for the creator and reverting every other call, to
// exercise the ownership-concentration path of readHoneypotProfile.
type concentratedBackend struct{ balance *big.Int }

func (b concentratedBackend) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (b concentratedBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (b concentratedBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(msg.Data) >= 4 && string(msg.Data[:4]) == string(selBalanceOf) {
		out, err := uintReturn.Pack(b.balance)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, errors.New("execution reverted")
}
func (b concentratedBackend) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("unsupported")
}
func (b concentratedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, errors.New("not found")
}

func newTestTokenProcessor() *TokenProcessor {
	return newTestTokenProcessorWithBackend(revertingBackend{})
}

func newTestTokenProcessorWithBackend(backend chain.Backend) *TokenProcessor {
	c := chain.New(backend, 1, 100)
	eng := analytics.New(priceoracle.StaticPriceProvider{Value: 1})
	r := alert.NewRouter(nil, obslog.New("test", "error"), "")
	return NewTokenProcessor(c, eng, r, nil, obslog.New("test", "error"))
}

func newMockGormDBForToken(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	gormDB, err := gorm.Open(mysqldriver.New(mysqldriver.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

// TestOnNewToken_AllContractReadsDefaultOnRevert exercises the
// failure-tolerant contract-read path: every view call reverts, so the
// token persists with its zero-value enrichment defaults. Unverified +
// non-renounced + unlocked scores 70 (20+30+20), short of the 80 alert
// threshold, and zero taxes never trip the honeypot/tax heuristics — only
// the unconditional NEW_TOKEN alert fires.
func TestOnNewToken_AllContractReadsDefaultOnRevert(t *testing.T) {
	gormDB, mock := newMockGormDBForToken(t)
	p := newTestTokenProcessor()

	mock.ExpectExec("INSERT INTO `tokens`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `tokens`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `token_analytics`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `alerts`").WillReturnResult(sqlmock.NewResult(1, 1)) // NEW_TOKEN

	e := evt.TokenCreated{
		LogMeta:   evt.LogMeta{BlockNumber: 5, TxHash: common.HexToHash("0xnew1"), LogIndex: 0},
		Token:     common.HexToAddress("0x000000000000000000000000000000000000ee"),
		Creator:   common.HexToAddress("0x000000000000000000000000000000000000cc"),
		Name:      "Test Token",
		Symbol:    "TEST",
		Timestamp: 1700000000,
	}
	postCommit, err := p.OnNewToken(context.Background(), gormDB, e)
	require.NoError(t, err)
	require.Len(t, postCommit, 2) // NEW_TOKEN alert + cache hook
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestOnNewToken_HighConcentrationTriggersWhaleActivity exercises spec.md
// §4.8's "WHALE_ACTIVITY (MEDIUM) if ownership_concentration > 50": the
// creator holding 60% of supply must emit WHALE_ACTIVITY alongside NEW_TOKEN.
// With every other read reverting, the score is 20+30+20+30 = 100 > 80, so
// RUG_WARNING fires as well.
func TestOnNewToken_HighConcentrationTriggersWhaleActivity(t *testing.T) {
	gormDB, mock := newMockGormDBForToken(t)
	majority := new(big.Int).Mul(big.NewInt(600000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	p := newTestTokenProcessorWithBackend(concentratedBackend{balance: majority})

	mock.ExpectExec("INSERT INTO `tokens`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `tokens`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `token_analytics`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `alerts`").WillReturnResult(sqlmock.NewResult(1, 1)) // NEW_TOKEN
	mock.ExpectExec("INSERT INTO `alerts`").WillReturnResult(sqlmock.NewResult(1, 1)) // RUG_WARNING
	mock.ExpectExec("INSERT INTO `alerts`").WillReturnResult(sqlmock.NewResult(1, 1)) // WHALE_ACTIVITY

	e := evt.TokenCreated{
		LogMeta:   evt.LogMeta{BlockNumber: 6, TxHash: common.HexToHash("0xnew2"), LogIndex: 0},
		Token:     common.HexToAddress("0x000000000000000000000000000000000000ef"),
		Creator:   common.HexToAddress("0x000000000000000000000000000000000000cd"),
		Name:      "Whale Token",
		Symbol:    "WHL",
		Timestamp: 1700000001,
	}
	postCommit, err := p.OnNewToken(context.Background(), gormDB, e)
	require.NoError(t, err)
	require.Len(t, postCommit, 4) // NEW_TOKEN + RUG_WARNING + WHALE_ACTIVITY alerts + cache hook
	require.NoError(t, mock.ExpectationsWereMet())
}
