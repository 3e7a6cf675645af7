package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/chain"
	"github.com/riftindex/chainindexer/internal/config"
	"github.com/riftindex/chainindexer/internal/evt"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/process"
	"github.com/riftindex/chainindexer/internal/store"
)

// pairBatchSize bounds how many pair addresses go into a single Logs
// call, per spec.md §4.6.
const pairBatchSize = 10

// DexMonitor watches the DEX factory for PairCreated and every known pair
// for Swap/Mint/Burn/Sync, per spec.md §4.6. The pair watch-set is
// in-memory, seeded from the Pair table at INIT and grown as
// PairCreated logs are observed; grounded on go-tableland's
// eventfeed.go packEvents (merge + reorder by block/log-index before
// dispatch) since no teacher repo watches a dynamic contract set.
type DexMonitor struct {
	*base
	factoryAddr common.Address
	dexName     string

	liquidity *process.LiquidityProcessor
	trades    *process.TradeProcessor

	mu    sync.Mutex
	pairs map[common.Address]struct{}
}

// NewDexMonitor builds a DexMonitor watching cfg.DEX.Address's factory
// and seeds its pair watch-set from Store at first Run.
func NewDexMonitor(c *chain.Client, s *store.Store, cfg config.Config, liquidity *process.LiquidityProcessor, trades *process.TradeProcessor, log *obslog.Logger) (*DexMonitor, error) {
	if !common.IsHexAddress(cfg.DEX.Address) {
		return nil, fmt.Errorf("monitor: invalid dex factory address %q", cfg.DEX.Address)
	}
	return &DexMonitor{
		base:        newBase("dex_monitor", c, s, cfg, log),
		factoryAddr: common.HexToAddress(cfg.DEX.Address),
		dexName:     "basicdex",
		liquidity:   liquidity,
		trades:      trades,
		pairs:       make(map[common.Address]struct{}),
	}, nil
}

func (m *DexMonitor) Name() string { return m.name }

func (m *DexMonitor) Run(ctx context.Context) error {
	if err := m.loadWatchSet(ctx); err != nil {
		return fmt.Errorf("monitor dex: load watch set: %w", err)
	}
	return m.run(ctx, m.processRangeLogs)
}

// loadWatchSet rebuilds the in-memory pair set from every known pair row
// at INIT (spec.md §4.6), so a restart doesn't miss Swap/Mint/Burn/Sync
// on pairs created before the process last exited.
func (m *DexMonitor) loadWatchSet(ctx context.Context) error {
	pairs, err := store.ListPairs(m.store.DB().WithContext(ctx))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pairs {
		m.pairs[common.HexToAddress(p.Address)] = struct{}{}
	}
	return nil
}

func (m *DexMonitor) watchedAddrs() []common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]common.Address, 0, len(m.pairs))
	for a := range m.pairs {
		addrs = append(addrs, a)
	}
	return addrs
}

func (m *DexMonitor) watch(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[addr] = struct{}{}
}

type taggedLog struct {
	log    types.Log
	fromID string // "factory" or "pair", informs decode path
}

func (m *DexMonitor) processRangeLogs(ctx context.Context, from, to uint64) error {
	factoryLogs, err := m.chain.Logs(ctx, chain.Filter{From: from, To: to, Addresses: []common.Address{m.factoryAddr}})
	if err != nil {
		return err
	}

	var pairLogs []types.Log
	addrs := m.watchedAddrs()
	for i := 0; i < len(addrs); i += pairBatchSize {
		end := i + pairBatchSize
		if end > len(addrs) {
			end = len(addrs)
		}
		logs, err := m.chain.Logs(ctx, chain.Filter{From: from, To: to, Addresses: addrs[i:end]})
		if err != nil {
			return err
		}
		pairLogs = append(pairLogs, logs...)
	}

	merged := make([]taggedLog, 0, len(factoryLogs)+len(pairLogs))
	for _, l := range factoryLogs {
		merged = append(merged, taggedLog{log: l, fromID: "factory"})
	}
	for _, l := range pairLogs {
		merged = append(merged, taggedLog{log: l, fromID: "pair"})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].log.BlockNumber != merged[j].log.BlockNumber {
			return merged[i].log.BlockNumber < merged[j].log.BlockNumber
		}
		return merged[i].log.Index < merged[j].log.Index
	})

	var postCommit []func(context.Context)
	err = m.store.CommitRange(ctx, m.Name(), to, func(tx *gorm.DB) error {
		for _, tl := range merged {
			var e evt.Event
			var err error
			if tl.fromID == "factory" {
				e, err = evt.DecodeDexFactoryLog(tl.log)
			} else {
				e, err = evt.DecodePairLog(tl.log)
			}
			if err != nil {
				m.log.Warnf("decode dex log failed, skipping", map[string]any{"tx": tl.log.TxHash.Hex(), "error": err.Error()})
				continue
			}
			if e == nil {
				continue
			}
			fns, err := m.dispatch(ctx, tx, e)
			if err != nil {
				return fmt.Errorf("monitor dex: dispatch %T: %w", e, err)
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

func (m *DexMonitor) dispatch(ctx context.Context, tx *gorm.DB, e evt.Event) ([]func(context.Context), error) {
	switch ev := e.(type) {
	case evt.PairCreated:
		fns, err := m.liquidity.OnPairCreated(ctx, tx, ev, m.dexName)
		if err == nil {
			m.watch(ev.Pair)
		}
		return fns, err
	case evt.Swap:
		return m.trades.OnSwap(ctx, tx, ev)
	case evt.Mint:
		return m.liquidity.OnMint(ctx, tx, ev)
	case evt.Burn:
		return m.liquidity.OnBurn(ctx, tx, ev)
	case evt.Sync:
		return m.liquidity.OnSync(ctx, tx, ev)
	default:
		return nil, nil
	}
}
