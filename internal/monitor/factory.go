package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/chain"
	"github.com/riftindex/chainindexer/internal/config"
	"github.com/riftindex/chainindexer/internal/evt"
	"github.com/riftindex/chainindexer/internal/kv"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/process"
	"github.com/riftindex/chainindexer/internal/store"
)

// FactoryMonitor watches the bonding-curve token factory, per spec.md
// §4.5: TokenCreated/TokenLaunched dispatch into TokenProcessor;
// TokenPurchased/TokenSold publish directly to the KV bus rather than
// becoming Trade rows (Open Question §9(b) — DESIGN.md); FeesWithdrawn/
// CreationFeeUpdated/TradingFeeUpdated are logged, causing no state
// change.
type FactoryMonitor struct {
	*base
	addr   common.Address
	tokens *process.TokenProcessor
	kv     *kv.Client
}

// NewFactoryMonitor builds a FactoryMonitor watching cfg.Factory.Address.
func NewFactoryMonitor(c *chain.Client, s *store.Store, cfg config.Config, tokens *process.TokenProcessor, kvc *kv.Client, log *obslog.Logger) (*FactoryMonitor, error) {
	if !common.IsHexAddress(cfg.Factory.Address) {
		return nil, fmt.Errorf("monitor: invalid factory address %q", cfg.Factory.Address)
	}
	return &FactoryMonitor{
		base:   newBase("factory_monitor", c, s, cfg, log),
		addr:   common.HexToAddress(cfg.Factory.Address),
		tokens: tokens,
		kv:     kvc,
	}, nil
}

func (m *FactoryMonitor) Name() string { return m.name }

func (m *FactoryMonitor) Run(ctx context.Context) error {
	return m.run(ctx, m.processRangeLogs)
}

func (m *FactoryMonitor) processRangeLogs(ctx context.Context, from, to uint64) error {
	logs, err := m.chain.Logs(ctx, chain.Filter{From: from, To: to, Addresses: []common.Address{m.addr}})
	if err != nil {
		return err
	}

	var postCommit []func(context.Context)
	err = m.store.CommitRange(ctx, m.Name(), to, func(tx *gorm.DB) error {
		for _, l := range logs {
			e, err := evt.DecodeFactoryLog(l)
			if err != nil {
				m.log.Warnf("decode factory log failed, skipping", map[string]any{"tx": l.TxHash.Hex(), "error": err.Error()})
				continue
			}
			if e == nil {
				continue
			}
			fns, err := m.dispatch(ctx, tx, e)
			if err != nil {
				return fmt.Errorf("monitor factory: dispatch %T: %w", e, err)
			}
			postCommit = append(postCommit, fns...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, fn := range postCommit {
		fn(ctx)
	}
	return nil
}

func (m *FactoryMonitor) dispatch(ctx context.Context, tx *gorm.DB, e evt.Event) ([]func(context.Context), error) {
	switch ev := e.(type) {
	case evt.TokenCreated:
		return m.tokens.OnNewToken(ctx, tx, ev)
	case evt.TokenLaunched:
		return m.tokens.OnLaunch(ctx, tx, ev)
	case evt.TokenPurchased:
		return nil, m.publishPurchase(ctx, ev)
	case evt.TokenSold:
		return nil, m.publishSale(ctx, ev)
	case evt.FeesWithdrawn:
		m.log.Infof("fees withdrawn", map[string]any{"recipient": ev.Recipient.Hex(), "amount": ev.Amount.String()})
		return nil, nil
	case evt.CreationFeeUpdated:
		m.log.Infof("creation fee updated", map[string]any{"new_fee": ev.NewFee.String()})
		return nil, nil
	case evt.TradingFeeUpdated:
		m.log.Infof("trading fee updated", map[string]any{"new_fee_bps": ev.NewFeeBps.String()})
		return nil, nil
	default:
		return nil, nil
	}
}

func (m *FactoryMonitor) publishPurchase(ctx context.Context, e evt.TokenPurchased) error {
	if err := m.kv.Publish(ctx, kv.ChannelTokenEvents, kv.Envelope{
		Event: kv.EventTokenPurchased, Data: e, Timestamp: time.Now().Unix(),
	}); err != nil {
		m.log.Warnf("publish token purchase failed", map[string]any{"token": e.Token.Hex(), "error": err.Error()})
	}
	return nil
}

func (m *FactoryMonitor) publishSale(ctx context.Context, e evt.TokenSold) error {
	if err := m.kv.Publish(ctx, kv.ChannelTokenEvents, kv.Envelope{
		Event: kv.EventTokenSold, Data: e, Timestamp: time.Now().Unix(),
	}); err != nil {
		m.log.Warnf("publish token sale failed", map[string]any{"token": e.Token.Hex(), "error": err.Error()})
	}
	return nil
}
