package process

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/alert"
	"github.com/riftindex/chainindexer/internal/evt"
	"github.com/riftindex/chainindexer/internal/kv"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/priceoracle"
	"github.com/riftindex/chainindexer/internal/store"
)

const (
	largeLiquidityThresholdUSD  = 50000
	criticalRemovalPercent      = 80
	reserveShiftWatchdogPercent = 50
)

// LiquidityProcessor derives Pair/LiquidityEvent rows and alerts from
// PairCreated/Mint/Burn/Sync logs, per spec.md §4.6/§4.10.
type LiquidityProcessor struct {
	Alerts    *alert.Router
	KV        *kv.Client
	Log       *obslog.Logger
	Price     priceoracle.PriceProvider
	BaseToken common.Address
}

// NewLiquidityProcessor builds a LiquidityProcessor.
func NewLiquidityProcessor(alerts *alert.Router, kvc *kv.Client, log *obslog.Logger, price priceoracle.PriceProvider, baseToken common.Address) *LiquidityProcessor {
	return &LiquidityProcessor{Alerts: alerts, KV: kvc, Log: log.With("liquidity_processor"), Price: price, BaseToken: baseToken}
}

// OnPairCreated records a new pair and, if it pairs against the base
// token, emits a NEW_PAIR alert.
func (p *LiquidityProcessor) OnPairCreated(ctx context.Context, tx *gorm.DB, e evt.PairCreated, dexName string) ([]func(context.Context), error) {
	addr := strings.ToLower(e.Pair.Hex())
	pair := &store.Pair{
		Address:       addr,
		Token0:        strings.ToLower(e.Token0.Hex()),
		Token1:        strings.ToLower(e.Token1.Hex()),
		Reserve0:      "0",
		Reserve1:      "0",
		DexName:       dexName,
		CreatedAtUnix: time.Now().Unix(),
		BlockNumber:   e.BlockNumber,
	}
	if err := store.UpsertPair(tx, pair); err != nil {
		return nil, fmt.Errorf("process: upsert pair %s: %w", addr, err)
	}

	var postCommit []func(context.Context)
	if e.Token0 == p.BaseToken || e.Token1 == p.BaseToken {
		fn, err := p.Alerts.Emit(tx, alert.NewPairID(addr), "NEW_PAIR", store.SeverityMedium,
			addr, "new pair includes base token", pair, pair.CreatedAtUnix)
		if err != nil {
			return nil, err
		}
		postCommit = append(postCommit, fn)
	}
	postCommit = append(postCommit, func(ctx context.Context) {
		if err := p.KV.Publish(ctx, kv.ChannelPairEvents, kv.Envelope{Event: kv.EventNewPair, Data: pair, Timestamp: pair.CreatedAtUnix}); err != nil {
			p.Log.Warnf("publish pair-events failed", map[string]any{"pair": addr, "error": err.Error()})
		}
		_ = p.KV.HSet(ctx, kv.PairsSetKey(dexName), addr, "1")
		_ = p.KV.HSet(ctx, kv.TokenPairsSetKey(pair.Token0), addr, "1")
		_ = p.KV.HSet(ctx, kv.TokenPairsSetKey(pair.Token1), addr, "1")
	})
	return postCommit, nil
}

// OnMint records a liquidity-add LiquidityEvent and emits LIQUIDITY_ADDED
// when its USD value reaches largeLiquidityThresholdUSD.
func (p *LiquidityProcessor) OnMint(ctx context.Context, tx *gorm.DB, e evt.Mint) ([]func(context.Context), error) {
	pairAddr := strings.ToLower(e.Pair.Hex())
	pair, err := store.GetPair(tx, pairAddr)
	if err != nil {
		return nil, fmt.Errorf("process: load pair %s: %w", pairAddr, err)
	}

	le := &store.LiquidityEvent{
		Pair: pairAddr, TxHash: e.TxHash.Hex(), LogIndex: e.LogIndex, BlockNumber: e.BlockNumber,
		Timestamp: time.Now().Unix(), Provider: strings.ToLower(e.Sender.Hex()),
		Token0Amount: store.FormatBigInt(e.Amount0), Token1Amount: store.FormatBigInt(e.Amount1),
		Liquidity: store.FormatBigInt(liquidityEstimate(e.Amount0, e.Amount1)), Type: store.LiquidityEventAdd,
	}
	if err := store.InsertLiquidityEvent(tx, le); err != nil {
		return nil, fmt.Errorf("process: insert liquidity event %s: %w", le.TxHash, err)
	}

	var postCommit []func(context.Context)
	usd := p.estimateLiquidityUSD(ctx, pair, e.Amount0, e.Amount1)
	if usd >= largeLiquidityThresholdUSD {
		fn, err := p.Alerts.Emit(tx, alert.LiquidityAddedID(le.TxHash), kv.EventLiquidityAdded, store.SeverityHigh,
			pairAddr, "large liquidity add", le, le.Timestamp)
		if err != nil {
			return nil, err
		}
		postCommit = append(postCommit, fn)
	}
	postCommit = append(postCommit, func(ctx context.Context) { p.publishLiquidity(ctx, le) })
	return postCommit, nil
}

// OnBurn records a liquidity-remove LiquidityEvent and escalates to
// CRITICAL when the removal reaches 80% of the pair's pre-burn reserves
// (spec.md §4.10's "catastrophic liquidity pull" scenario).
func (p *LiquidityProcessor) OnBurn(ctx context.Context, tx *gorm.DB, e evt.Burn) ([]func(context.Context), error) {
	pairAddr := strings.ToLower(e.Pair.Hex())
	pair, err := store.GetPair(tx, pairAddr)
	if err != nil {
		return nil, fmt.Errorf("process: load pair %s: %w", pairAddr, err)
	}

	le := &store.LiquidityEvent{
		Pair: pairAddr, TxHash: e.TxHash.Hex(), LogIndex: e.LogIndex, BlockNumber: e.BlockNumber,
		Timestamp: time.Now().Unix(), Provider: strings.ToLower(e.Sender.Hex()),
		Token0Amount: store.FormatBigInt(e.Amount0), Token1Amount: store.FormatBigInt(e.Amount1),
		Liquidity: store.FormatBigInt(liquidityEstimate(e.Amount0, e.Amount1)), Type: store.LiquidityEventRemove,
	}
	if err := store.InsertLiquidityEvent(tx, le); err != nil {
		return nil, fmt.Errorf("process: insert liquidity event %s: %w", le.TxHash, err)
	}

	var pctRemoved float64
	if pair != nil {
		pctRemoved = maxPct(e.Amount0, store.ParseBigInt(pair.Reserve0), e.Amount1, store.ParseBigInt(pair.Reserve1))
	}

	var postCommit []func(context.Context)
	switch {
	case pctRemoved >= criticalRemovalPercent:
		fn, err := p.Alerts.Emit(tx, alert.CriticalLiquidityRemovalID(le.TxHash), kv.EventLiquidityRemoved, store.SeverityCritical,
			pairAddr, "critical liquidity removal", le, le.Timestamp)
		if err != nil {
			return nil, err
		}
		postCommit = append(postCommit, fn)
	default:
		if usd := p.estimateLiquidityUSD(ctx, pair, e.Amount0, e.Amount1); usd >= largeLiquidityThresholdUSD {
			fn, err := p.Alerts.Emit(tx, alert.LiquidityRemovedID(le.TxHash), kv.EventLiquidityRemoved, store.SeverityHigh,
				pairAddr, "large liquidity removal", le, le.Timestamp)
			if err != nil {
				return nil, err
			}
			postCommit = append(postCommit, fn)
		}
	}
	postCommit = append(postCommit, func(ctx context.Context) { p.publishLiquidity(ctx, le) })
	return postCommit, nil
}

// OnSync updates a pair's reserve snapshot and runs the reserve-shift
// watchdog, which only logs (spec.md §4.10 names no Sync alert).
func (p *LiquidityProcessor) OnSync(ctx context.Context, tx *gorm.DB, e evt.Sync) ([]func(context.Context), error) {
	pairAddr := strings.ToLower(e.Pair.Hex())
	if err := store.UpdatePairReserves(tx, pairAddr, store.FormatBigInt(e.Reserve0), store.FormatBigInt(e.Reserve1)); err != nil {
		return nil, fmt.Errorf("process: update reserves %s: %w", pairAddr, err)
	}
	return []func(context.Context){func(ctx context.Context) {
		p.watchdogAndSnapshot(ctx, pairAddr, e.Reserve0, e.Reserve1)
	}}, nil
}

type reserveSnapshot struct {
	Reserve0 string `json:"reserve0"`
	Reserve1 string `json:"reserve1"`
}

func (p *LiquidityProcessor) watchdogAndSnapshot(ctx context.Context, pairAddr string, r0, r1 *big.Int) {
	key := kv.ReserveSnapshotKey(pairAddr)
	if prev, ok, err := p.KV.Get(ctx, key); err == nil && ok {
		var snap reserveSnapshot
		if json.Unmarshal([]byte(prev), &snap) == nil {
			prevR0, prevR1 := store.ParseBigInt(snap.Reserve0), store.ParseBigInt(snap.Reserve1)
			if shiftExceeds(prevR0, r0, reserveShiftWatchdogPercent) || shiftExceeds(prevR1, r1, reserveShiftWatchdogPercent) {
				p.Log.Warnf("significant reserve shift since last snapshot", map[string]any{"pair": pairAddr})
			}
		}
	}
	snap := reserveSnapshot{Reserve0: store.FormatBigInt(r0), Reserve1: store.FormatBigInt(r1)}
	if err := p.KV.SetJSON(ctx, key, snap, time.Hour); err != nil {
		p.Log.Warnf("snapshot reserves failed", map[string]any{"pair": pairAddr, "error": err.Error()})
	}
}

func (p *LiquidityProcessor) estimateLiquidityUSD(ctx context.Context, pair *store.Pair, amount0, amount1 *big.Int) float64 {
	if pair == nil {
		return 0
	}
	basePrice, err := p.Price.BaseTokenUSD(ctx)
	if err != nil {
		return 0
	}
	var baseAmount *big.Int
	switch {
	case strings.EqualFold(pair.Token0, strings.ToLower(p.BaseToken.Hex())):
		baseAmount = amount0
	case strings.EqualFold(pair.Token1, strings.ToLower(p.BaseToken.Hex())):
		baseAmount = amount1
	default:
		return 0
	}
	return 2 * weiToFloat(baseAmount) * basePrice
}

func (p *LiquidityProcessor) publishLiquidity(ctx context.Context, le *store.LiquidityEvent) {
	event := kv.EventLiquidityAdded
	if le.Type == store.LiquidityEventRemove {
		event = kv.EventLiquidityRemoved
	}
	if err := p.KV.Publish(ctx, kv.ChannelLiquidityEvents, kv.Envelope{Event: event, Data: le, Timestamp: le.Timestamp}); err != nil {
		p.Log.Warnf("publish liquidity-events failed", map[string]any{"tx": le.TxHash, "error": err.Error()})
	}
}
