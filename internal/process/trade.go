package process

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/alert"
	"github.com/riftindex/chainindexer/internal/chain"
	"github.com/riftindex/chainindexer/internal/evt"
	"github.com/riftindex/chainindexer/internal/kv"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/priceoracle"
	"github.com/riftindex/chainindexer/internal/store"
)

const (
	whaleThresholdUSD       = 500
	largeTradeThresholdUSD  = 100
	priceImpactAlertPercent = 10
	whaleVolumeThresholdUSD = 100000
)

// TradeProcessor derives Trade rows, trader profiles, and alerts from
// decoded Swap logs, per spec.md §4.9/§8.
type TradeProcessor struct {
	Chain     *chain.Client
	Alerts    *alert.Router
	KV        *kv.Client
	Log       *obslog.Logger
	Price     priceoracle.PriceProvider
	BaseToken common.Address
}

// NewTradeProcessor builds a TradeProcessor. baseToken is the chain's
// reserve/native-wrapped asset (spec.md §1's bonding-curve base token),
// used to resolve a trade's USD value from whichever leg is denominated
// in it.
func NewTradeProcessor(c *chain.Client, alerts *alert.Router, kvc *kv.Client, log *obslog.Logger, price priceoracle.PriceProvider, baseToken common.Address) *TradeProcessor {
	return &TradeProcessor{Chain: c, Alerts: alerts, KV: kvc, Log: log.With("trade_processor"), Price: price, BaseToken: baseToken}
}

// OnSwap handles a decoded Swap log against a known pair. An unknown pair
// (one DexMonitor hasn't recorded yet) is skipped rather than erroring,
// since PairCreated/Swap ordering across reorg-adjacent blocks isn't
// guaranteed within a single range.
func (p *TradeProcessor) OnSwap(ctx context.Context, tx *gorm.DB, e evt.Swap) ([]func(context.Context), error) {
	pairAddr := strings.ToLower(e.Pair.Hex())
	pair, err := store.GetPair(tx, pairAddr)
	if err != nil {
		return nil, fmt.Errorf("process: load pair %s: %w", pairAddr, err)
	}
	if pair == nil {
		p.Log.Warnf("swap on unknown pair, skipping", map[string]any{"pair": pairAddr, "tx": e.TxHash.Hex()})
		return nil, nil
	}

	var tokenIn, tokenOut common.Address
	var amountIn, amountOut *big.Int
	if e.Amount0In.Sign() > 0 {
		tokenIn, tokenOut = common.HexToAddress(pair.Token0), common.HexToAddress(pair.Token1)
		amountIn, amountOut = e.Amount0In, e.Amount1Out
	} else {
		tokenIn, tokenOut = common.HexToAddress(pair.Token1), common.HexToAddress(pair.Token0)
		amountIn, amountOut = e.Amount1In, e.Amount0Out
	}

	reserveIn, reserveOut := reservesFor(pair, tokenIn)
	impact := priceImpact(reserveIn, reserveOut, amountIn, amountOut)

	usdValue := p.estimateTradeUSD(ctx, tokenIn, tokenOut, amountIn, amountOut)

	trade := &store.Trade{
		TxHash:      e.TxHash.Hex(),
		LogIndex:    e.LogIndex,
		BlockNumber: e.BlockNumber,
		Timestamp:   time.Now().Unix(),
		Pair:        pairAddr,
		Trader:      strings.ToLower(e.To.Hex()),
		TokenIn:     strings.ToLower(tokenIn.Hex()),
		TokenOut:    strings.ToLower(tokenOut.Hex()),
		AmountIn:    store.FormatBigInt(amountIn),
		AmountOut:   store.FormatBigInt(amountOut),
		UsdValue:    usdValue,
		PriceImpact: impact,
	}
	p.fillGas(ctx, trade, e.TxHash)

	if err := store.InsertTrade(tx, trade); err != nil {
		return nil, fmt.Errorf("process: insert trade %s: %w", trade.TxHash, err)
	}

	nonBase := nonBaseToken(tokenIn, tokenOut, p.BaseToken)
	if err := p.updateTraderProfile(tx, trade.Trader, nonBase, usdValue, trade.Timestamp); err != nil {
		return nil, fmt.Errorf("process: update trader profile: %w", err)
	}

	nonBaseAmount := amountIn
	if tokenIn == p.BaseToken {
		nonBaseAmount = amountOut
	}
	priceChange24h, tokenPriceUSD, tokenVolume24h, err := p.updateRollingVolumes(tx, pairAddr, nonBase, nonBaseAmount, usdValue, trade.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("process: update rolling volumes: %w", err)
	}

	var postCommit []func(context.Context)
	emit := func(id, typ, severity, msg string) error {
		fn, err := p.Alerts.Emit(tx, id, typ, severity, nonBase, msg, trade, trade.Timestamp)
		if err != nil {
			return err
		}
		postCommit = append(postCommit, fn)
		return nil
	}

	switch {
	case usdValue >= whaleThresholdUSD:
		if err := emit(alert.WhaleActivityTradeID(trade.TxHash), "WHALE_ACTIVITY", store.SeverityHigh,
			"trade value exceeds whale threshold"); err != nil {
			return nil, err
		}
	case usdValue >= largeTradeThresholdUSD:
		if tokenOut == p.BaseToken {
			if err := emit(alert.LargeSellID(trade.TxHash), "LARGE_SELL", store.SeverityMedium, "large sell"); err != nil {
				return nil, err
			}
		} else {
			if err := emit(alert.LargeBuyID(trade.TxHash), "LARGE_BUY", store.SeverityMedium, "large buy"); err != nil {
				return nil, err
			}
		}
	}
	if impact > priceImpactAlertPercent {
		if err := emit(alert.WhaleActivityTradeID(trade.TxHash+"-impact"), "WHALE_ACTIVITY", store.SeverityMedium,
			"price impact exceeds threshold"); err != nil {
			return nil, err
		}
	}

	postCommit = append(postCommit, func(ctx context.Context) {
		p.publishTrade(ctx, trade, tokenPriceUSD, priceChange24h, tokenVolume24h)
	})
	return postCommit, nil
}

// updateRollingVolumes recomputes the hourly/daily rolling windows spec.md
// §4.9 names ("update rolling hourly and daily volumes per pair and per
// non-base token") directly from the trades table, and returns the
// non-base token's new implied USD price, its 24h change against the
// previously-recorded price, and its 24h volume, for the
// websocket:price_update payload.
func (p *TradeProcessor) updateRollingVolumes(tx *gorm.DB, pairAddr, token string, tokenAmount *big.Int, usdValue float64, ts int64) (priceChange24h, tokenPriceUSD, tokenVolume24h float64, err error) {
	vol1h, txns1h, err := store.AggregatePairVolume(tx, pairAddr, ts-3600)
	if err != nil {
		return 0, 0, 0, err
	}
	vol24h, txns24h, err := store.AggregatePairVolume(tx, pairAddr, ts-86400)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := store.UpdatePairVolume(tx, pairAddr, vol1h, txns1h, vol24h, txns24h); err != nil {
		return 0, 0, 0, err
	}

	tokenVol24h, tokenTxns24h, err := store.AggregateTokenVolume(tx, token, ts-86400)
	if err != nil {
		return 0, 0, 0, err
	}

	if amt := weiToFloat(tokenAmount); amt > 0 {
		tokenPriceUSD = usdValue / amt
	}
	existing, err := store.GetTokenAnalytics(tx, token)
	if err != nil {
		return 0, 0, 0, err
	}
	if existing != nil {
		if existing.PriceUSD > 0 {
			priceChange24h = (tokenPriceUSD - existing.PriceUSD) / existing.PriceUSD * 100
		}
		if err := store.UpdateTokenAnalyticsTradeMetrics(tx, token, tokenPriceUSD, tokenVol24h, priceChange24h, tokenTxns24h); err != nil {
			return 0, 0, 0, err
		}
	}
	return priceChange24h, tokenPriceUSD, tokenVol24h, nil
}

// fillGas enriches trade with gas_used/gas_price from the transaction
// receipt. Chain is nil in tests that don't exercise enrichment; a receipt
// fetch failure leaves the fields at their zero value rather than failing
// the swap (gas accounting is informational, spec.md §4.9 supplement).
func (p *TradeProcessor) fillGas(ctx context.Context, trade *store.Trade, txHash common.Hash) {
	if p.Chain == nil {
		return
	}
	receipt, err := p.Chain.Receipt(ctx, txHash)
	if err != nil || receipt == nil {
		return
	}
	trade.GasUsed = receipt.GasUsed
	if receipt.EffectiveGasPrice != nil {
		trade.GasPriceWei = receipt.EffectiveGasPrice.String()
	}
}

func (p *TradeProcessor) estimateTradeUSD(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, amountOut *big.Int) float64 {
	basePrice, err := p.Price.BaseTokenUSD(ctx)
	if err != nil {
		p.Log.Warnf("price provider failed, valuing trade at 0", map[string]any{"error": err.Error()})
		return 0
	}
	switch p.BaseToken {
	case tokenIn:
		return weiToFloat(amountIn) * basePrice
	case tokenOut:
		return weiToFloat(amountOut) * basePrice
	default:
		return 0
	}
}

func (p *TradeProcessor) updateTraderProfile(tx *gorm.DB, trader, token string, usdValue float64, ts int64) error {
	existing, err := store.GetTraderProfile(tx, trader, token)
	if err != nil {
		return err
	}
	profile := &store.TraderProfile{Address: trader, TokenAddress: token}
	if existing != nil {
		*profile = *existing
	}
	profile.TradeCount++
	profile.TotalVolumeUSD += usdValue
	profile.AvgTradeUSD = profile.TotalVolumeUSD / float64(profile.TradeCount)
	if profile.FirstSeenAt == 0 {
		profile.FirstSeenAt = ts
	}
	profile.LastSeenAt = ts
	if profile.TotalVolumeUSD >= whaleVolumeThresholdUSD {
		profile.IsWhale = true
	}
	return store.UpsertTraderProfile(tx, profile)
}

func (p *TradeProcessor) publishTrade(ctx context.Context, trade *store.Trade, priceUSD, priceChange24h, volume24h float64) {
	if err := p.KV.Publish(ctx, kv.ChannelTradeEvents, kv.Envelope{Event: kv.EventNewTrade, Data: trade, Timestamp: trade.Timestamp}); err != nil {
		p.Log.Warnf("publish trade-events failed", map[string]any{"tx": trade.TxHash, "error": err.Error()})
	}
	if err := p.KV.Publish(ctx, kv.ChannelWSTrade, trade); err != nil {
		p.Log.Warnf("publish websocket:trade failed", map[string]any{"tx": trade.TxHash, "error": err.Error()})
	}
	// spec.md §4.9: websocket:price_update carries price, 24h change, 24h volume.
	if err := p.KV.Publish(ctx, kv.ChannelWSPriceUpdate, map[string]interface{}{
		"pair":             trade.Pair,
		"price":            priceUSD,
		"price_change_24h": priceChange24h,
		"volume_24h":       volume24h,
		"timestamp":        trade.Timestamp,
	}); err != nil {
		p.Log.Warnf("publish websocket:price_update failed", map[string]any{"tx": trade.TxHash, "error": err.Error()})
	}

	recent := kv.RecentTradesKey(trade.Pair)
	if err := p.KV.LPush(ctx, recent, mustJSON(trade)); err == nil {
		_ = p.KV.LTrim(ctx, recent, 0, 99)
	}
	tokenKey := kv.TokenTradesKey(trade.TokenIn)
	if err := p.KV.LPush(ctx, tokenKey, mustJSON(trade)); err == nil {
		_ = p.KV.LTrim(ctx, tokenKey, 0, 49)
		_ = p.KV.Expire(ctx, tokenKey, time.Hour)
	}
}

func reservesFor(pair *store.Pair, tokenIn common.Address) (*big.Int, *big.Int) {
	r0 := store.ParseBigInt(pair.Reserve0)
	r1 := store.ParseBigInt(pair.Reserve1)
	if strings.EqualFold(pair.Token0, tokenIn.Hex()) {
		return r0, r1
	}
	return r1, r0
}

func nonBaseToken(tokenIn, tokenOut, base common.Address) string {
	if tokenIn == base {
		return strings.ToLower(tokenOut.Hex())
	}
	return strings.ToLower(tokenIn.Hex())
}
