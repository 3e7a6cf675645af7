package store

import "time"

// Token is keyed by its lowercase 20-byte address, per spec.md §3. Created
// on first observation of a factory TokenCreated log; mutated only by
// TokenProcessor.
type Token struct {
	Address            string `gorm:"primaryKey;size:42"`
	Name               string `gorm:"size:128"`
	Symbol             string `gorm:"size:32"`
	Decimals           uint8
	TotalSupply        string `gorm:"size:78"`
	Creator            string `gorm:"size:42;index"`
	CreatedAtUnix      int64  `gorm:"column:created_at"`
	BlockNumber        uint64
	TxHash             string `gorm:"size:66"`
	FirstSeenTxHash    string `gorm:"size:66"`
	Status             string `gorm:"size:24;index"` // CREATED|LAUNCHED|GRADUATED|TRADING_ENABLED
	OwnershipRenounced bool

	Description string `gorm:"size:1024"`
	ImageURL    string `gorm:"size:512"`
	Twitter     string `gorm:"size:256"`
	Telegram    string `gorm:"size:256"`
	Website     string `gorm:"size:256"`

	MaxWallet      string `gorm:"size:78"`
	MaxTransaction string `gorm:"size:78"`
	TradingEnabled bool

	HoldersCount int64

	RecordCreatedAt time.Time `gorm:"autoCreateTime"`
	RecordUpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Token) TableName() string { return "tokens" }

const (
	TokenStatusCreated        = "CREATED"
	TokenStatusLaunched       = "LAUNCHED"
	TokenStatusGraduated      = "GRADUATED"
	TokenStatusTradingEnabled = "TRADING_ENABLED"
)

// Pair is a DEX constant-product pair, keyed by address.
type Pair struct {
	Address       string `gorm:"primaryKey;size:42"`
	Token0        string `gorm:"size:42;index"`
	Token1        string `gorm:"size:42;index"`
	Reserve0      string `gorm:"size:78"`
	Reserve1      string `gorm:"size:78"`
	DexName       string `gorm:"size:64"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
	BlockNumber   uint64

	// Volume1h/Volume24h/Transactions1h/Transactions24h are rolling windows
	// recomputed from the trades table on every swap (spec.md §4.9: "update
	// rolling hourly and daily volumes per pair").
	Volume1h        float64
	Volume24h       float64
	Transactions1h  int64
	Transactions24h int64

	RecordCreatedAt time.Time `gorm:"autoCreateTime"`
	RecordUpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Pair) TableName() string { return "pairs" }

// Trade is append-only, keyed by (tx_hash, log_index) since a single
// transaction can contain multiple swap legs (multi-hop routes) — the
// composite key spec.md §3 names but doesn't type out; log_index is the
// supplemented field that disambiguates them.
type Trade struct {
	TxHash      string `gorm:"primaryKey;size:66"`
	LogIndex    uint   `gorm:"primaryKey"`
	BlockNumber uint64 `gorm:"index"`
	Timestamp   int64
	Pair        string `gorm:"size:42;index"`
	Trader      string `gorm:"size:42;index"`
	TokenIn     string `gorm:"size:42"`
	TokenOut    string `gorm:"size:42"`
	AmountIn    string `gorm:"size:78"`
	AmountOut   string `gorm:"size:78"`
	UsdValue    float64
	PriceImpact float64
	GasUsed     uint64
	GasPriceWei string `gorm:"size:78"`

	RecordCreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Trade) TableName() string { return "trades" }

// LiquidityEvent is append-only, one row per Mint/Burn.
type LiquidityEvent struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Pair          string `gorm:"size:42;index"`
	TxHash        string `gorm:"size:66;uniqueIndex:idx_liq_tx_log"`
	LogIndex      uint   `gorm:"uniqueIndex:idx_liq_tx_log"`
	BlockNumber   uint64 `gorm:"index"`
	Timestamp     int64
	Provider      string `gorm:"size:42"`
	Token0Amount  string `gorm:"size:78"`
	Token1Amount  string `gorm:"size:78"`
	Liquidity     string `gorm:"size:78"`
	Type          string `gorm:"size:8"` // ADD|REMOVE

	RecordCreatedAt time.Time `gorm:"autoCreateTime"`
}

func (LiquidityEvent) TableName() string { return "liquidity_events" }

const (
	LiquidityEventAdd    = "ADD"
	LiquidityEventRemove = "REMOVE"
)

// TransferEvent is append-only, unique on (tx_hash, log_index); duplicate
// deliveries are ignored by this constraint, giving at-most-one-effect on
// HolderBalance (spec.md §3 invariant 5).
type TransferEvent struct {
	TxHash       string `gorm:"primaryKey;size:66"`
	LogIndex     uint   `gorm:"primaryKey"`
	FromAddr     string `gorm:"column:from_address;size:42;index"`
	ToAddr       string `gorm:"column:to_address;size:42;index"`
	Value        string `gorm:"size:78"`
	TokenAddress string `gorm:"size:42;index:idx_transfer_token_block"`
	BlockNumber  uint64 `gorm:"index:idx_transfer_token_block"`
	Timestamp    int64

	RecordCreatedAt time.Time `gorm:"autoCreateTime"`
}

func (TransferEvent) TableName() string { return "transfer_events" }

// HolderBalance is unique on (token_address, address); the row is deleted
// when balance reaches zero (spec.md §3 invariant 1).
type HolderBalance struct {
	TokenAddress  string `gorm:"primaryKey;size:42"`
	HolderAddress string `gorm:"primaryKey;size:42"`
	Balance       string `gorm:"size:78;index:idx_holder_token_balance"`
	LastUpdated   int64
}

func (HolderBalance) TableName() string { return "token_holders" }

// TokenAnalytics holds the derived per-token risk/liquidity metrics
// computed by AnalyticsEngine.
type TokenAnalytics struct {
	TokenAddress           string `gorm:"primaryKey;size:42"`
	RugScore               int
	IsHoneypot             bool
	OwnershipConcentration float64
	LiquidityUSD           float64
	Volume24h              float64
	Holders                int64
	Transactions24h        int64
	PriceUSD               float64
	PriceChange24h         float64
	MarketCapUSD           float64
	CirculatingSupply      string `gorm:"size:78"`
	MaxWalletPct           float64
	MaxTxPct               float64
	BuyTax                 float64
	SellTax                float64
	IsRenounced            bool
	LiquidityLocked        bool
	LiquidityLockExpiry    int64

	RecordUpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (TokenAnalytics) TableName() string { return "token_analytics" }

// Alert carries a deterministic ID so duplicate emissions collapse to one
// persisted row (spec.md §3 invariant 6).
type Alert struct {
	ID           string `gorm:"primaryKey;size:128"`
	Type         string `gorm:"size:64;index"`
	Severity     string `gorm:"size:16"`
	TokenAddress string `gorm:"size:42;index"`
	Message      string `gorm:"size:512"`
	Data         string `gorm:"type:text"` // JSON-encoded unstructured payload
	Timestamp    int64
	Sent         bool

	RecordCreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Alert) TableName() string { return "alerts" }

const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Cursor is the durable per-monitor checkpoint. Advances monotonically
// only inside the same transaction as the writes it guards (spec.md
// §3 invariant 4, §4.2).
type Cursor struct {
	Processor string `gorm:"primaryKey;size:64"`
	LastBlock uint64

	RecordUpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Cursor) TableName() string { return "cursors" }

// TraderProfile is a supplemented table: spec.md §4.9 names "trader
// profile" accounting (counters, avg size, first/last seen, whale flag)
// without giving it a schema. Scoped per (trader, token) so a wallet's
// activity on one token doesn't inflate its whale status on another.
type TraderProfile struct {
	Address        string `gorm:"primaryKey;size:42"`
	TokenAddress   string `gorm:"primaryKey;size:42"`
	TradeCount     int64
	TotalVolumeUSD float64
	AvgTradeUSD    float64
	FirstSeenAt    int64
	LastSeenAt     int64
	IsWhale        bool
}

func (TraderProfile) TableName() string { return "trader_profiles" }

// allModels lists every table for AutoMigrate, in an order that satisfies
// no FK dependency (none are declared — cross-table consistency is
// application-level, per spec.md §5 "last-writer-wins on disjoint
// columns").
func allModels() []interface{} {
	return []interface{}{
		&Token{},
		&Pair{},
		&Trade{},
		&LiquidityEvent{},
		&TransferEvent{},
		&HolderBalance{},
		&TokenAnalytics{},
		&Alert{},
		&Cursor{},
		&TraderProfile{},
	}
}
