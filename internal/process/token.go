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
	"github.com/riftindex/chainindexer/internal/analytics"
	"github.com/riftindex/chainindexer/internal/chain"
	"github.com/riftindex/chainindexer/internal/evt"
	"github.com/riftindex/chainindexer/internal/kv"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/store"
)

// defaultTotalSupply is the fixed bonding-curve token supply spec.md §4.5
// assigns at mint: 1,000,000 tokens at 18 decimals.
var defaultTotalSupply, _ = new(big.Int).SetString("1000000000000000000000000", 10)

// TokenProcessor derives Token/TokenAnalytics rows and alerts from factory
// log events, per spec.md §4.8.
type TokenProcessor struct {
	Chain     *chain.Client
	Analytics *analytics.Engine
	Alerts    *alert.Router
	KV        *kv.Client
	Log       *obslog.Logger
}

// NewTokenProcessor builds a TokenProcessor.
func NewTokenProcessor(c *chain.Client, eng *analytics.Engine, alerts *alert.Router, kvc *kv.Client, log *obslog.Logger) *TokenProcessor {
	return &TokenProcessor{Chain: c, Analytics: eng, Alerts: alerts, KV: kvc, Log: log.With("token_processor")}
}

// OnNewToken handles a decoded TokenCreated log: inserts the Token row,
// enriches it with best-effort contract reads, computes analytics, and
// emits every alert spec.md §4.8 names.
func (p *TokenProcessor) OnNewToken(ctx context.Context, tx *gorm.DB, e evt.TokenCreated) ([]func(context.Context), error) {
	addr := strings.ToLower(e.Token.Hex())
	t := &store.Token{
		Address:         addr,
		Name:            e.Name,
		Symbol:          e.Symbol,
		Decimals:        18,
		TotalSupply:     store.FormatBigInt(defaultTotalSupply),
		Creator:         strings.ToLower(e.Creator.Hex()),
		CreatedAtUnix:   int64(e.Timestamp),
		BlockNumber:     e.BlockNumber,
		TxHash:          e.TxHash.Hex(),
		FirstSeenTxHash: e.TxHash.Hex(),
		Status:          store.TokenStatusCreated,
	}
	if err := store.CreateTokenIfAbsent(tx, t); err != nil {
		return nil, fmt.Errorf("process: create token %s: %w", addr, err)
	}

	meta := readMetadata(ctx, p.Chain, e.Token)
	controls := readTradingControls(ctx, p.Chain, e.Token)
	if err := store.UpdateToken(tx, addr, map[string]interface{}{
		"description":     meta.Description,
		"image_url":       meta.Image,
		"twitter":         meta.Twitter,
		"telegram":        meta.Telegram,
		"website":         meta.Website,
		"max_wallet":      store.FormatBigInt(controls.MaxWallet),
		"max_transaction": store.FormatBigInt(controls.MaxTransaction),
		"trading_enabled": controls.TradingEnabled,
	}); err != nil {
		return nil, fmt.Errorf("process: enrich token %s: %w", addr, err)
	}

	profile := readHoneypotProfile(ctx, p.Chain, e.Token, e.Creator, defaultTotalSupply)
	in := analytics.Input{
		ContractVerified:          profile.ContractVerified,
		OwnershipRenounced:        profile.OwnershipRenounced,
		LiquidityLocked:           profile.LiquidityLocked,
		OwnershipConcentrationPct: profile.OwnershipConcentrationPct,
		BuyTaxPct:                 profile.BuyTaxPct,
		SellTaxPct:                profile.SellTaxPct,
		HoneypotSimulationReverts: false,
		CirculatingSupply:         defaultTotalSupply,
		Decimals:                  18,
	}
	out, err := p.Analytics.Compute(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("process: analytics for %s: %w", addr, err)
	}

	row := &store.TokenAnalytics{
		TokenAddress:           addr,
		RugScore:               out.RugScore,
		IsHoneypot:             out.IsHoneypot,
		OwnershipConcentration: profile.OwnershipConcentrationPct,
		LiquidityUSD:           out.LiquidityUSD,
		PriceUSD:               out.PriceUSD,
		MarketCapUSD:           out.MarketCapUSD,
		CirculatingSupply:      store.FormatBigInt(defaultTotalSupply),
		BuyTax:                 profile.BuyTaxPct,
		SellTax:                profile.SellTaxPct,
		IsRenounced:            profile.OwnershipRenounced,
		LiquidityLocked:        profile.LiquidityLocked,
	}
	if err := store.UpsertTokenAnalytics(tx, row); err != nil {
		return nil, fmt.Errorf("process: upsert analytics %s: %w", addr, err)
	}

	now := time.Now().Unix()
	var postCommit []func(context.Context)
	emit := func(id, typ, severity, msg string, data interface{}) error {
		fn, err := p.Alerts.Emit(tx, id, typ, severity, addr, msg, data, now)
		if err != nil {
			return err
		}
		postCommit = append(postCommit, fn)
		return nil
	}

	if err := emit(alert.NewTokenID(addr), "NEW_TOKEN", store.SeverityLow,
		fmt.Sprintf("new token %s (%s)", e.Name, e.Symbol), t); err != nil {
		return nil, err
	}
	if out.IsHoneypot {
		if err := emit(alert.HoneypotID(addr), "HONEYPOT_DETECTED", store.SeverityCritical,
			"honeypot heuristic triggered", row); err != nil {
			return nil, err
		}
	}
	if out.RugScore > 80 {
		if err := emit(alert.RugWarningID(addr), "RUG_WARNING", store.SeverityHigh,
			"rug score exceeds threshold", row); err != nil {
			return nil, err
		}
	} else if profile.BuyTaxPct > 10 || profile.SellTaxPct > 10 {
		if err := emit(alert.TaxRugWarningID(addr), "RUG_WARNING", store.SeverityMedium,
			"tax exceeds 10%", row); err != nil {
			return nil, err
		}
	}
	if profile.OwnershipConcentrationPct > 50 {
		if err := emit(alert.WhaleActivityTokenID(addr), "WHALE_ACTIVITY", store.SeverityMedium,
			"ownership concentration exceeds 50%", row); err != nil {
			return nil, err
		}
	}

	postCommit = append(postCommit, func(ctx context.Context) { p.cacheToken(ctx, addr, t, row) })
	return postCommit, nil
}

// OnLaunch handles a token's bonding-curve graduation onto the DEX.
func (p *TokenProcessor) OnLaunch(ctx context.Context, tx *gorm.DB, e evt.TokenLaunched) ([]func(context.Context), error) {
	addr := strings.ToLower(e.Token.Hex())
	if err := store.UpdateToken(tx, addr, map[string]interface{}{"status": store.TokenStatusLaunched}); err != nil {
		return nil, fmt.Errorf("process: launch token %s: %w", addr, err)
	}
	now := time.Now().Unix()
	fn, err := p.Alerts.Emit(tx, alert.TokenLaunchedID(addr), "TOKEN_LAUNCHED", store.SeverityMedium,
		addr, "token launched to dex", e, now)
	if err != nil {
		return nil, err
	}
	return []func(context.Context){fn, func(ctx context.Context) {
		p.KV.Publish(ctx, kv.ChannelTokenEvents, kv.Envelope{Event: kv.EventTokenLaunched, Data: e, Timestamp: now})
	}}, nil
}

// OnRenounce re-reads a token's owner() view and, if it now resolves to the
// zero address, flips ownership_renounced and lowers its rug score. This is
// invoked from the periodic re-enrichment sweep (cmd/indexer), not from a
// single factory log, since no factory event announces renouncement
// directly.
func (p *TokenProcessor) OnRenounce(ctx context.Context, tx *gorm.DB, token common.Address) ([]func(context.Context), error) {
	addr := strings.ToLower(token.Hex())
	owner := readAddress(ctx, p.Chain, token, selOwner, common.Address{1})
	if owner != (common.Address{}) {
		return nil, nil
	}
	existing, err := store.GetTokenAnalytics(tx, addr)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsRenounced {
		return nil, nil
	}
	if err := store.UpdateToken(tx, addr, map[string]interface{}{"ownership_renounced": true}); err != nil {
		return nil, err
	}
	if existing != nil {
		existing.IsRenounced = true
		existing.RugScore -= 20
		if existing.RugScore < 0 {
			existing.RugScore = 0
		}
		if err := store.UpsertTokenAnalytics(tx, existing); err != nil {
			return nil, err
		}
	}
	now := time.Now().Unix()
	fn, err := p.Alerts.Emit(tx, alert.OwnershipRenouncedID(addr), "OWNERSHIP_RENOUNCED", store.SeverityLow,
		addr, "ownership renounced", nil, now)
	if err != nil {
		return nil, err
	}
	return []func(context.Context){fn}, nil
}

func (p *TokenProcessor) cacheToken(ctx context.Context, addr string, t *store.Token, a *store.TokenAnalytics) {
	combined := map[string]interface{}{"token": t, "analytics": a}
	if err := p.KV.SetJSON(ctx, kv.TokenCacheKey(addr), combined, 300*time.Second); err != nil {
		p.Log.Warnf("cache token failed", map[string]any{"token": addr, "error": err.Error()})
	}
	if err := p.KV.ZAdd(ctx, kv.ZSetTokensByCreation, float64(t.CreatedAtUnix), addr); err != nil {
		p.Log.Warnf("zadd by_creation failed", map[string]any{"token": addr, "error": err.Error()})
	}
	if err := p.KV.ZAdd(ctx, kv.ZSetTokensByRugScore, float64(a.RugScore), addr); err != nil {
		p.Log.Warnf("zadd by_rug_score failed", map[string]any{"token": addr, "error": err.Error()})
	}
	if err := p.KV.ZAdd(ctx, kv.ZSetTokensByLiquidity, a.LiquidityUSD, addr); err != nil {
		p.Log.Warnf("zadd by_liquidity failed", map[string]any{"token": addr, "error": err.Error()})
	}
	now := time.Now().Unix()
	if err := p.KV.Publish(ctx, kv.ChannelTokenEvents, kv.Envelope{Event: kv.EventNewToken, Data: t, Timestamp: now}); err != nil {
		p.Log.Warnf("publish token-events failed", map[string]any{"token": addr, "error": err.Error()})
	}
	if err := p.KV.Publish(ctx, kv.ChannelWSNewToken, t); err != nil {
		p.Log.Warnf("publish websocket:new_token failed", map[string]any{"token": addr, "error": err.Error()})
	}
}
