package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// newMockStore builds a Store over a sqlmock-backed gorm DB, mirroring
// the teacher's TestMySQLRecorder_RecordReport setup
// (internal/db/transaction_recorder_test.go) but skipping AutoMigrate
// since sqlmock has no real schema to introspect.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &Store{db: gormDB}, mock
}

func TestStore_CommitRange_CommitsCursorInSameTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `trades`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `cursors`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.CommitRange(context.Background(), "factory", 150, func(tx *gorm.DB) error {
		return InsertTrade(tx, &Trade{TxHash: "0xabc", LogIndex: 0, Pair: "0xpair"})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitRange_RollsBackOnHandlerError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	handlerErr := func(tx *gorm.DB) error { return gorm.ErrInvalidData }
	err := s.CommitRange(context.Background(), "factory", 150, handlerErr)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertTransferEvent_DuplicateIsNoEffect(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `transfer_events`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var inserted bool
	err := s.CommitRange(context.Background(), "transfer:0xaa", 200, func(tx *gorm.DB) error {
		var err error
		inserted, err = InsertTransferEvent(tx, &TransferEvent{TxHash: "0xT", LogIndex: 5, TokenAddress: "0xaa"})
		return err
	})
	require.NoError(t, err)
	require.False(t, inserted, "duplicate (tx_hash, log_index) must report no effect")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBigIntToString(t *testing.T) {
	require.Equal(t, "0", bigIntToString(nil))
	require.Equal(t, "123", bigIntToString(stringToBigInt("123")))
}

func TestStringToBigInt_MalformedDefaultsToZero(t *testing.T) {
	v := stringToBigInt("not-a-number")
	require.Equal(t, "0", v.String())
}

func TestTokenTableName(t *testing.T) {
	require.Equal(t, "tokens", Token{}.TableName())
	require.Equal(t, "token_holders", HolderBalance{}.TableName())
	require.Equal(t, "transfer_events", TransferEvent{}.TableName())
}

func TestAggregatePairVolume_SumsAndCounts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(usd_value\\).*FROM `trades`").
		WillReturnRows(sqlmock.NewRows([]string{"usd", "count"}).AddRow(1500.5, 4))

	usd, count, err := AggregatePairVolume(s.db, "0xpair", 1000)
	require.NoError(t, err)
	require.Equal(t, 1500.5, usd)
	require.EqualValues(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateTokenVolume_MatchesEitherLeg(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(usd_value\\).*FROM `trades`").
		WillReturnRows(sqlmock.NewRows([]string{"usd", "count"}).AddRow(0, 0))

	usd, count, err := AggregateTokenVolume(s.db, "0xtoken", 1000)
	require.NoError(t, err)
	require.Zero(t, usd)
	require.Zero(t, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePairVolume_WritesRollingWindows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE `pairs`").WillReturnResult(sqlmock.NewResult(0, 1))

	err := UpdatePairVolume(s.db, "0xpair", 100, 2, 500, 9)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTokenAnalyticsTradeMetrics_WritesPriceAndVolume(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE `token_analytics`").WillReturnResult(sqlmock.NewResult(0, 1))

	err := UpdateTokenAnalyticsTradeMetrics(s.db, "0xtoken", 1.25, 5000, 10.5, 42)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursor_NotFoundReturnsFalse(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM `cursors`").WillReturnRows(sqlmock.NewRows(nil))

	_, ok, err := s.Cursor(context.Background(), "factory")
	require.NoError(t, err)
	require.False(t, ok)
}
