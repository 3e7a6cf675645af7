// Package process is the three derived-state processors of spec.md §4.8-
// §4.10: TokenProcessor, TradeProcessor, LiquidityProcessor. Each is driven
// by a monitor with a decoded evt.Event and an open store transaction, and
// each returns the non-transactional post-commit side effects (alert
// routing, KV cache/publish) the monitor runs once the transaction commits
// — the same postCommit-deferral shape internal/alert.Router uses, so a
// partial failure after commit never loses a durable write.
package process

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/riftindex/chainindexer/internal/chain"
)

// selector computes a 4-byte Solidity function selector, the same
// keccak256-prefix approach go-ethereum's abi.Method.Sig uses internally.
func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

var (
	selMaxWallet      = selector("maxWallet()")
	selMaxTransaction = selector("maxTransaction()")
	selTradingEnabled = selector("tradingEnabled()")
	selDescription    = selector("description()")
	selImage          = selector("image()")
	selTwitter        = selector("twitter()")
	selTelegram       = selector("telegram()")
	selWebsite        = selector("website()")
	selOwner          = selector("owner()")
	selVerified       = selector("isVerified()")
	selLocked         = selector("liquidityLocked()")
	selBuyTax         = selector("buyTaxBps()")
	selSellTax        = selector("sellTaxBps()")
	selBalanceOf      = selector("balanceOf(address)")

	stringReturn abi.Arguments
	boolReturn   abi.Arguments
	uintReturn   abi.Arguments
)

func init() {
	strType, _ := abi.NewType("string", "", nil)
	boolType, _ := abi.NewType("bool", "", nil)
	uintType, _ := abi.NewType("uint256", "", nil)
	stringReturn = abi.Arguments{{Type: strType}}
	boolReturn = abi.Arguments{{Type: boolType}}
	uintReturn = abi.Arguments{{Type: uintType}}
}

// Metadata is the optional off-chain-flavored token metadata TokenProcessor
// reads best-effort from the token contract, per spec.md §4.8.
type Metadata struct {
	Description string
	Image       string
	Twitter     string
	Telegram    string
	Website     string
}

// TradingControls are the bonding-curve/anti-bot guard rails spec.md §4.8
// enumerates.
type TradingControls struct {
	MaxWallet      *big.Int
	MaxTransaction *big.Int
	TradingEnabled bool
}

// HoneypotProfile is the subset of AnalyticsEngine's Input this package
// resolves from live contract state.
type HoneypotProfile struct {
	ContractVerified          bool
	OwnershipRenounced        bool
	LiquidityLocked           bool
	BuyTaxPct                 float64
	SellTaxPct                float64
	OwnershipConcentrationPct float64
}

// readString performs a failure-tolerant view call: any RPC error, revert,
// or undecodable response returns def rather than propagating, per spec.md
// §4.8's "a contract read that reverts or errors degrades to a documented
// default rather than failing the block".
func readString(ctx context.Context, c *chain.Client, to common.Address, sel []byte, def string) string {
	out, err := c.Call(ctx, to, sel, nil)
	if err != nil {
		return def
	}
	vals, err := stringReturn.Unpack(out)
	if err != nil || len(vals) == 0 {
		return def
	}
	s, ok := vals[0].(string)
	if !ok {
		return def
	}
	return s
}

func readBool(ctx context.Context, c *chain.Client, to common.Address, sel []byte, def bool) bool {
	out, err := c.Call(ctx, to, sel, nil)
	if err != nil {
		return def
	}
	vals, err := boolReturn.Unpack(out)
	if err != nil || len(vals) == 0 {
		return def
	}
	b, ok := vals[0].(bool)
	if !ok {
		return def
	}
	return b
}

func readUint(ctx context.Context, c *chain.Client, to common.Address, sel []byte, def *big.Int) *big.Int {
	out, err := c.Call(ctx, to, sel, nil)
	if err != nil {
		return def
	}
	vals, err := uintReturn.Unpack(out)
	if err != nil || len(vals) == 0 {
		return def
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return def
	}
	return v
}

func readAddress(ctx context.Context, c *chain.Client, to common.Address, sel []byte, def common.Address) common.Address {
	out, err := c.Call(ctx, to, sel, nil)
	if err != nil || len(out) < 32 {
		return def
	}
	return common.BytesToAddress(out[12:32])
}

// readBalanceOf calls balanceOf(holder) on token, defaulting to zero on any
// revert or undecodable response (same failure-tolerant shape as the other
// readX helpers).
func readBalanceOf(ctx context.Context, c *chain.Client, token, holder common.Address) *big.Int {
	data := append(append([]byte{}, selBalanceOf...), common.LeftPadBytes(holder.Bytes(), 32)...)
	out, err := c.Call(ctx, token, data, nil)
	if err != nil {
		return big.NewInt(0)
	}
	vals, err := uintReturn.Unpack(out)
	if err != nil || len(vals) == 0 {
		return big.NewInt(0)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func readMetadata(ctx context.Context, c *chain.Client, token common.Address) Metadata {
	return Metadata{
		Description: readString(ctx, c, token, selDescription, ""),
		Image:       readString(ctx, c, token, selImage, ""),
		Twitter:     readString(ctx, c, token, selTwitter, ""),
		Telegram:    readString(ctx, c, token, selTelegram, ""),
		Website:     readString(ctx, c, token, selWebsite, ""),
	}
}

func readTradingControls(ctx context.Context, c *chain.Client, token common.Address) TradingControls {
	return TradingControls{
		MaxWallet:      readUint(ctx, c, token, selMaxWallet, big.NewInt(0)),
		MaxTransaction: readUint(ctx, c, token, selMaxTransaction, big.NewInt(0)),
		TradingEnabled: readBool(ctx, c, token, selTradingEnabled, false),
	}
}

// readHoneypotProfile resolves the rug-score/honeypot inputs that live on
// chain. A missing owner()/isVerified() surface (most bonding-curve tokens
// don't expose one) defaults to the conservative ("not renounced", "not
// verified") reading, per spec.md §4.11. Ownership concentration is read as
// the creator's current share of total supply — the only holder balance
// known at mint time, before TransferMonitor has necessarily caught up.
func readHoneypotProfile(ctx context.Context, c *chain.Client, token, creator common.Address, totalSupply *big.Int) HoneypotProfile {
	owner := readAddress(ctx, c, token, selOwner, common.Address{1})
	buyTaxBps := readUint(ctx, c, token, selBuyTax, big.NewInt(0))
	sellTaxBps := readUint(ctx, c, token, selSellTax, big.NewInt(0))
	return HoneypotProfile{
		ContractVerified:          readBool(ctx, c, token, selVerified, false),
		OwnershipRenounced:        owner == (common.Address{}),
		LiquidityLocked:           readBool(ctx, c, token, selLocked, false),
		BuyTaxPct:                 bpsToPct(buyTaxBps),
		SellTaxPct:                bpsToPct(sellTaxBps),
		OwnershipConcentrationPct: concentrationPct(readBalanceOf(ctx, c, token, creator), totalSupply),
	}
}

// concentrationPct returns balance as a percentage of supply, 0 when supply
// is unset or zero.
func concentrationPct(balance, supply *big.Int) float64 {
	if supply == nil || supply.Sign() <= 0 || balance == nil {
		return 0
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(balance), new(big.Float).SetInt(supply))
	pct, _ := new(big.Float).Mul(ratio, big.NewFloat(100)).Float64()
	return pct
}

func bpsToPct(bps *big.Int) float64 {
	if bps == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(bps).Float64()
	return f / 100
}
