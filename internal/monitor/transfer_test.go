package monitor

import (
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/evt"
)

func newMockGormDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

func transferEvt(txHash string, logIndex uint, from, to common.Address, value int64) evt.Transfer {
	return evt.Transfer{
		LogMeta: evt.LogMeta{TxHash: common.HexToHash(txHash), LogIndex: logIndex, BlockNumber: 110},
		Token:   common.HexToAddress("0xTOKEN"),
		From:    from,
		To:      to,
		Value:   big.NewInt(value),
	}
}

// TestApplyTransfer_DuplicateLogIsNoEffect is spec.md §8 scenario 6: the
// same (tx_hash, log_index) delivered twice yields one transfer_events row
// and the balance mutation runs exactly once.
func TestApplyTransfer_DuplicateLogIsNoEffect(t *testing.T) {
	db, mock := newMockGormDB(t)
	m := &TransferMonitor{}
	a := common.HexToAddress("0xA")
	b := common.HexToAddress("0xB")
	e := transferEvt("0xT", 5, a, b, 100)

	// First delivery: insert succeeds (RowsAffected=1), debit+credit run.
	mock.ExpectExec("INSERT INTO `transfer_events`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM `token_holders`").
		WithArgs("0xtoken", "0xa").
		WillReturnRows(sqlmock.NewRows(nil))
	// debit against an untracked holder is a no-op (nothing to subtract).
	mock.ExpectQuery("SELECT \\* FROM `token_holders`").
		WithArgs("0xtoken", "0xb").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO `token_holders`").WillReturnResult(sqlmock.NewResult(1, 1))

	delta, err := m.applyTransfer(db, e, "0xtoken")
	require.NoError(t, err)
	require.EqualValues(t, 1, delta) // new holder b created
	require.NoError(t, mock.ExpectationsWereMet())

	// Second, duplicate delivery of the exact same (tx_hash, log_index):
	// the insert reports RowsAffected=0, so no balance mutation follows.
	mock.ExpectExec("INSERT INTO `transfer_events`").WillReturnResult(sqlmock.NewResult(0, 0))

	delta, err = m.applyTransfer(db, e, "0xtoken")
	require.NoError(t, err)
	require.Zero(t, delta)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyTransfer_ZeroAddressSenderOnlyCreditsReceiver is spec.md §8's
// boundary: "a Transfer from the zero address increases only the
// receiver balance" (a mint).
func TestApplyTransfer_ZeroAddressSenderOnlyCreditsReceiver(t *testing.T) {
	db, mock := newMockGormDB(t)
	m := &TransferMonitor{}
	to := common.HexToAddress("0xB")
	e := transferEvt("0xT", 1, common.Address{}, to, 500)

	mock.ExpectExec("INSERT INTO `transfer_events`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM `token_holders`").
		WithArgs("0xtoken", "0xb").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO `token_holders`").WillReturnResult(sqlmock.NewResult(1, 1))

	delta, err := m.applyTransfer(db, e, "0xtoken")
	require.NoError(t, err)
	require.EqualValues(t, 1, delta) // mint creates a fresh holder
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyTransfer_ZeroAddressReceiverOnlyDebitsSenderAndZeroClamps is
// spec.md §8's companion boundary ("a Transfer to the zero address
// reduces only the sender balance") plus the zero-clamp delete invariant
// (§3 invariant 1: balance>0 always, so a balance reaching zero deletes
// its row rather than persisting a zero).
func TestApplyTransfer_ZeroAddressReceiverOnlyDebitsSenderAndZeroClamps(t *testing.T) {
	db, mock := newMockGormDB(t)
	m := &TransferMonitor{}
	from := common.HexToAddress("0xA")
	e := transferEvt("0xT", 2, from, common.Address{}, 100)

	rows := sqlmock.NewRows([]string{
		"token_address", "holder_address", "balance", "last_updated",
	}).AddRow("0xtoken", "0xa", "100", int64(1))

	mock.ExpectExec("INSERT INTO `transfer_events`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM `token_holders`").
		WithArgs("0xtoken", "0xa").
		WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM `token_holders`").WillReturnResult(sqlmock.NewResult(0, 1))

	delta, err := m.applyTransfer(db, e, "0xtoken")
	require.NoError(t, err)
	require.EqualValues(t, -1, delta) // zero-clamp delete removes the holder
	require.NoError(t, mock.ExpectationsWereMet())
}
