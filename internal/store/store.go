// Package store is the durable keyed state described in spec.md §3/§4.2:
// tokens, pairs, trades, transfer_events, token_holders, token_analytics,
// alerts, cursors. Transactional on write batches, gorm+MySQL, grounded on
// the teacher's internal/db/transaction_recorder.go (AutoMigrate,
// TableName(), big.Int-as-string columns, NewMySQLRecorderWithDB-style
// test injection).
package store

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps a *gorm.DB and exposes the transactional batch-write
// primitive every monitor drives its commits through.
type Store struct {
	db *gorm.DB
}

// NewMySQLStore dials dsn and runs AutoMigrate over every table in §3,
// mirroring the teacher's NewMySQLRecorder.
func NewMySQLStore(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect mysql: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing *gorm.DB (the teacher's
// NewMySQLRecorderWithDB shape, used by sqlmock-backed tests).
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying *gorm.DB for advanced/read-path queries.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: get underlying db: %w", err)
	}
	return sqlDB.Close()
}

// Cursor returns the last committed block for monitor, or (0, false) if
// the monitor has never committed (spec.md §4.4 INIT state).
func (s *Store) Cursor(ctx context.Context, monitor string) (uint64, bool, error) {
	var c Cursor
	err := s.db.WithContext(ctx).Where("processor = ?", monitor).First(&c).Error
	if err == gorm.ErrRecordNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: load cursor %s: %w", monitor, err)
	}
	return c.LastBlock, true, nil
}

// CommitRange opens one transaction, runs fn (the derived writes for a
// processed block range), then advances monitor's cursor to toBlock in
// the same transaction. This is the source of the
// at-least-once-with-exactly-one-effect property spec.md §4.2 names: on
// crash the monitor resumes from the last committed cursor and re-derives
// idempotently.
func (s *Store) CommitRange(ctx context.Context, monitor string, toBlock uint64, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		return upsertCursor(tx, monitor, toBlock)
	})
}

func upsertCursor(tx *gorm.DB, monitor string, toBlock uint64) error {
	c := Cursor{Processor: monitor, LastBlock: toBlock}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "processor"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_block", "record_updated_at"}),
	}).Create(&c).Error
}

// CreateTokenIfAbsent inserts t unless a row for its address already
// exists, per spec.md §3 ("created on first observation ... mutated only
// by TokenProcessor").
func CreateTokenIfAbsent(tx *gorm.DB, t *Token) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(t).Error
}

// GetToken reads a token row. Returns (nil, nil) if absent.
func GetToken(tx *gorm.DB, address string) (*Token, error) {
	var t Token
	err := tx.Where("address = ?", address).First(&t).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get token %s: %w", address, err)
	}
	return &t, nil
}

// UpdateToken applies a partial column update to a token row.
func UpdateToken(tx *gorm.DB, address string, updates map[string]interface{}) error {
	return tx.Model(&Token{}).Where("address = ?", address).Updates(updates).Error
}

// UpsertPair creates p or updates only its reserves if it already
// exists (PairCreated is only ever observed once per pair, but replays
// during catch-up must stay idempotent).
func UpsertPair(tx *gorm.DB, p *Pair) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"reserve0", "reserve1", "record_updated_at"}),
	}).Create(p).Error
}

// GetPair reads a pair row. Returns (nil, nil) if absent.
func GetPair(tx *gorm.DB, address string) (*Pair, error) {
	var p Pair
	err := tx.Where("address = ?", address).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pair %s: %w", address, err)
	}
	return &p, nil
}

// UpdatePairReserves applies a Sync event's new reserves.
func UpdatePairReserves(tx *gorm.DB, address, reserve0, reserve1 string) error {
	return tx.Model(&Pair{}).Where("address = ?", address).
		Updates(map[string]interface{}{"reserve0": reserve0, "reserve1": reserve1}).Error
}

// ListPairs returns every known pair, used by DexMonitor at INIT to
// rebuild its in-memory watch set (spec.md §4.6).
func ListPairs(tx *gorm.DB) ([]Pair, error) {
	var pairs []Pair
	if err := tx.Find(&pairs).Error; err != nil {
		return nil, fmt.Errorf("store: list pairs: %w", err)
	}
	return pairs, nil
}

// InsertTrade appends a Trade row, ignoring a duplicate (tx_hash,
// log_index) delivery.
func InsertTrade(tx *gorm.DB, t *Trade) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(t).Error
}

// tradeWindowAggregate is the shape of a SUM(usd_value)/COUNT(*) scan.
type tradeWindowAggregate struct {
	Usd   float64
	Count int64
}

// AggregatePairVolume sums usd_value and counts trades on pair since the
// given unix timestamp, the rolling-window read half of spec.md §4.9's
// "update rolling hourly and daily volumes per pair".
func AggregatePairVolume(tx *gorm.DB, pair string, since int64) (usd float64, count int64, err error) {
	var agg tradeWindowAggregate
	err = tx.Model(&Trade{}).
		Where("pair = ? AND timestamp >= ?", pair, since).
		Select("COALESCE(SUM(usd_value), 0) AS usd, COUNT(*) AS count").
		Scan(&agg).Error
	if err != nil {
		return 0, 0, fmt.Errorf("store: aggregate pair volume %s: %w", pair, err)
	}
	return agg.Usd, agg.Count, nil
}

// AggregateTokenVolume sums usd_value and counts trades where token is
// either leg, since the given unix timestamp — the per-non-base-token half
// of spec.md §4.9's rolling volume requirement.
func AggregateTokenVolume(tx *gorm.DB, token string, since int64) (usd float64, count int64, err error) {
	var agg tradeWindowAggregate
	err = tx.Model(&Trade{}).
		Where("(token_in = ? OR token_out = ?) AND timestamp >= ?", token, token, since).
		Select("COALESCE(SUM(usd_value), 0) AS usd, COUNT(*) AS count").
		Scan(&agg).Error
	if err != nil {
		return 0, 0, fmt.Errorf("store: aggregate token volume %s: %w", token, err)
	}
	return agg.Usd, agg.Count, nil
}

// UpdatePairVolume writes the recomputed rolling windows onto a pair row.
// A no-op (not an error) if the pair doesn't exist, matching UpdateToken's
// partial-update style.
func UpdatePairVolume(tx *gorm.DB, pair string, volume1h float64, txns1h int64, volume24h float64, txns24h int64) error {
	return tx.Model(&Pair{}).Where("address = ?", pair).Updates(map[string]interface{}{
		"volume1h": volume1h, "transactions1h": txns1h,
		"volume24h": volume24h, "transactions24h": txns24h,
	}).Error
}

// UpdateTokenAnalyticsTradeMetrics writes the per-swap-recomputed
// price/volume/change fields of TokenAnalytics (spec.md §4.9/§3). A no-op
// if the token's analytics row hasn't been created yet (e.g. a trade
// observed before TokenProcessor.OnNewToken has run for it).
func UpdateTokenAnalyticsTradeMetrics(tx *gorm.DB, token string, priceUSD, volume24h, priceChange24h float64, transactions24h int64) error {
	return tx.Model(&TokenAnalytics{}).Where("token_address = ?", token).Updates(map[string]interface{}{
		"price_usd": priceUSD, "volume24h": volume24h,
		"price_change24h": priceChange24h, "transactions24h": transactions24h,
	}).Error
}

// InsertLiquidityEvent appends a LiquidityEvent row, ignoring a duplicate
// (tx_hash, log_index) delivery.
func InsertLiquidityEvent(tx *gorm.DB, e *LiquidityEvent) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(e).Error
}

// InsertTransferEvent idempotently inserts e. The returned bool is true
// only if this call actually created the row (RowsAffected>0) — callers
// use this to gate the at-most-one-effect balance mutation on a fresh
// delivery only (spec.md §3 invariant 5).
func InsertTransferEvent(tx *gorm.DB, e *TransferEvent) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return false, fmt.Errorf("store: insert transfer event: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetHolderBalance reads a single holder row. Returns (nil, nil) if the
// address currently holds none (row deleted at zero balance).
func GetHolderBalance(tx *gorm.DB, token, holder string) (*HolderBalance, error) {
	var hb HolderBalance
	err := tx.Where("token_address = ? AND holder_address = ?", token, holder).First(&hb).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get holder balance: %w", err)
	}
	return &hb, nil
}

// UpsertHolderBalance writes a positive balance for (token, holder).
func UpsertHolderBalance(tx *gorm.DB, hb *HolderBalance) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_address"}, {Name: "holder_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "last_updated"}),
	}).Create(hb).Error
}

// DeleteHolderBalance removes the (token, holder) row, invariant 1 of
// spec.md §3 ("balance > 0" always, so a zero balance has no row).
func DeleteHolderBalance(tx *gorm.DB, token, holder string) error {
	return tx.Where("token_address = ? AND holder_address = ?", token, holder).
		Delete(&HolderBalance{}).Error
}

// CountHolders returns the current |{HolderBalance: token_address=token}|
// for recomputing holders_count (spec.md §3 invariant 2) or re-seeding
// the bounded in-memory holder_set (REDESIGN FLAGS §9) on LRU miss.
func CountHolders(tx *gorm.DB, token string) (int64, error) {
	var n int64
	err := tx.Model(&HolderBalance{}).Where("token_address = ?", token).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: count holders %s: %w", token, err)
	}
	return n, nil
}

// SetHoldersCount writes the denormalised counter on the token row.
func SetHoldersCount(tx *gorm.DB, token string, count int64) error {
	return tx.Model(&Token{}).Where("address = ?", token).
		Update("holders_count", count).Error
}

// UpsertTokenAnalytics writes the full analytics row computed by
// AnalyticsEngine.
func UpsertTokenAnalytics(tx *gorm.DB, a *TokenAnalytics) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"rug_score", "is_honeypot", "ownership_concentration", "liquidity_usd",
			"volume24h", "holders", "transactions24h", "price_usd", "price_change24h",
			"market_cap_usd", "circulating_supply", "max_wallet_pct", "max_tx_pct",
			"buy_tax", "sell_tax", "is_renounced", "liquidity_locked",
			"liquidity_lock_expiry", "record_updated_at",
		}),
	}).Create(a).Error
}

// GetTokenAnalytics reads a token's analytics row. Returns (nil, nil) if
// none has been computed yet.
func GetTokenAnalytics(tx *gorm.DB, token string) (*TokenAnalytics, error) {
	var a TokenAnalytics
	err := tx.Where("token_address = ?", token).First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get token analytics %s: %w", token, err)
	}
	return &a, nil
}

// InsertAlertIfAbsent inserts a per its deterministic ID. The bool return
// is true only when a is newly persisted (spec.md §3 invariant 6:
// duplicate emissions collapse).
func InsertAlertIfAbsent(tx *gorm.DB, a *Alert) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(a)
	if res.Error != nil {
		return false, fmt.Errorf("store: insert alert: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpsertTraderProfile merges a trade observation into the (address,
// token) trader profile row.
func UpsertTraderProfile(tx *gorm.DB, p *TraderProfile) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}, {Name: "token_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"trade_count", "total_volume_usd", "avg_trade_usd", "last_seen_at", "is_whale",
		}),
	}).Create(p).Error
}

// GetTraderProfile reads a (address, token) trader profile. Returns (nil,
// nil) if this is the trader's first observed trade on token.
func GetTraderProfile(tx *gorm.DB, address, token string) (*TraderProfile, error) {
	var p TraderProfile
	err := tx.Where("address = ? AND token_address = ?", address, token).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get trader profile: %w", err)
	}
	return &p, nil
}

// ListTokensNotRenounced returns every token not yet flagged
// ownership_renounced, the working set for cmd/indexer's periodic
// re-enrichment sweep (spec.md §4.8 OnRenounce: no factory event
// announces renouncement directly, so it must be polled).
func ListTokensNotRenounced(tx *gorm.DB) ([]Token, error) {
	var tokens []Token
	if err := tx.Where("ownership_renounced = ?", false).Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("store: list unrenounced tokens: %w", err)
	}
	return tokens, nil
}
