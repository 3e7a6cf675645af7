// Package evt is the shared sum-type event decoder used by every monitor.
// Instead of each monitor dispatching on a raw log's topic string in its
// own handler (the dynamic-dispatch shape the teacher corpus otherwise
// favors), every raw chain log is decoded exactly once into one of the
// concrete Event variants below, per REDESIGN FLAGS §9.
package evt

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LogMeta carries the chain coordinates every decoded event needs for
// ordering (block_number asc, log_index asc) and for building the
// (tx_hash, log_index) keys spec.md §3 requires.
type LogMeta struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Address     common.Address
}

// Event is satisfied by every concrete decoded variant. It intentionally
// carries no behavior beyond exposing its LogMeta: consumers type-switch
// on the concrete type, mirroring a tagged union.
type Event interface {
	Meta() LogMeta
}

// TokenCreated is emitted by the factory when a new bonding-curve token
// is deployed.
type TokenCreated struct {
	LogMeta
	Token     common.Address
	Creator   common.Address
	Name      string
	Symbol    string
	Timestamp uint64
}

func (e TokenCreated) Meta() LogMeta { return e.LogMeta }

// TokenPurchased is a bonding-curve buy. Per Open Question §9(b) this is
// never turned into a Trade row.
type TokenPurchased struct {
	LogMeta
	Token     common.Address
	Buyer     common.Address
	AmountIn  *big.Int // native/base token spent
	AmountOut *big.Int // bonding-curve token received
}

func (e TokenPurchased) Meta() LogMeta { return e.LogMeta }

// TokenSold is a bonding-curve sell, the counterpart of TokenPurchased.
type TokenSold struct {
	LogMeta
	Token     common.Address
	Seller    common.Address
	AmountIn  *big.Int // bonding-curve token sold
	AmountOut *big.Int // native/base token received
}

func (e TokenSold) Meta() LogMeta { return e.LogMeta }

// TokenLaunched marks a token's graduation from the bonding curve onto
// the DEX.
type TokenLaunched struct {
	LogMeta
	Token          common.Address
	LiquidityAdded *big.Int
}

func (e TokenLaunched) Meta() LogMeta { return e.LogMeta }

// FeesWithdrawn, CreationFeeUpdated, TradingFeeUpdated are informational
// factory events (spec.md §4.5: "no state change").
type FeesWithdrawn struct {
	LogMeta
	Recipient common.Address
	Amount    *big.Int
}

func (e FeesWithdrawn) Meta() LogMeta { return e.LogMeta }

type CreationFeeUpdated struct {
	LogMeta
	NewFee *big.Int
}

func (e CreationFeeUpdated) Meta() LogMeta { return e.LogMeta }

type TradingFeeUpdated struct {
	LogMeta
	NewFeeBps *big.Int
}

func (e TradingFeeUpdated) Meta() LogMeta { return e.LogMeta }

// PairCreated is emitted by the DEX factory when a new pair is deployed.
type PairCreated struct {
	LogMeta
	Token0 common.Address
	Token1 common.Address
	Pair   common.Address
}

func (e PairCreated) Meta() LogMeta { return e.LogMeta }

// Swap is a standard constant-product swap. Exactly one of
// (Amount0In,Amount1In) and one of (Amount0Out,Amount1Out) is nonzero.
type Swap struct {
	LogMeta
	Pair       common.Address
	Sender     common.Address
	To         common.Address
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

func (e Swap) Meta() LogMeta { return e.LogMeta }

// Mint is a liquidity add.
type Mint struct {
	LogMeta
	Pair    common.Address
	Sender  common.Address
	Amount0 *big.Int
	Amount1 *big.Int
}

func (e Mint) Meta() LogMeta { return e.LogMeta }

// Burn is a liquidity remove.
type Burn struct {
	LogMeta
	Pair    common.Address
	Sender  common.Address
	To      common.Address
	Amount0 *big.Int
	Amount1 *big.Int
}

func (e Burn) Meta() LogMeta { return e.LogMeta }

// Sync carries the pair's post-swap/mint/burn reserve snapshot.
type Sync struct {
	LogMeta
	Pair     common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

func (e Sync) Meta() LogMeta { return e.LogMeta }

// Transfer is a standard ERC-20 Transfer, watched per-token by
// TransferMonitor for holder accounting.
type Transfer struct {
	LogMeta
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

func (e Transfer) Meta() LogMeta { return e.LogMeta }
