package monitor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/chain"
	"github.com/riftindex/chainindexer/internal/config"
	"github.com/riftindex/chainindexer/internal/evt"
	"github.com/riftindex/chainindexer/internal/kv"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/store"
)

// holderSetTTLDefault backs the bounded holder-count cache when config
// doesn't override it (config.Default's holder_set_ttl).
const holderSetTTLDefault = 6 * time.Hour

// backfillWindow is TransferMonitor's own range size, per spec.md §4.7
// ("historical back-fill in 1000-block windows") — intentionally wider
// than the cross-monitor default BatchSize since Transfer volume per
// token is typically much lower than factory/DEX volume.
const backfillWindow = 1000

// TransferMonitor watches Transfer logs across a dynamic set of tokens,
// maintaining token_holders balances with zero-clamp deletion and a
// denormalised holders_count, per spec.md §4.7. Grounded on the same
// decode-batch-commit shape as FactoryMonitor/DexMonitor; the holder_set
// cache is the bounded LRU of holderset.go (REDESIGN FLAGS §9).
type TransferMonitor struct {
	*base
	kv        *kv.Client
	transfer  common.Hash
	holderSet *holderSetLRU

	mu     sync.Mutex
	tokens map[common.Address]struct{}
}

// NewTransferMonitor builds a TransferMonitor seeded with cfg's bootstrap
// watched-token list; additional tokens are added via Watch as
// FactoryMonitor observes new TokenCreated logs.
func NewTransferMonitor(c *chain.Client, s *store.Store, cfg config.Config, kvc *kv.Client, log *obslog.Logger) (*TransferMonitor, error) {
	topic, err := evt.TransferTopic()
	if err != nil {
		return nil, fmt.Errorf("monitor transfer: load transfer topic: %w", err)
	}
	ttl := cfg.HolderSetTTL
	if ttl <= 0 {
		ttl = holderSetTTLDefault
	}
	backfillCfg := cfg
	backfillCfg.BatchSize = backfillWindow

	m := &TransferMonitor{
		base:      newBase("transfer_monitor", c, s, backfillCfg, log),
		kv:        kvc,
		transfer:  topic,
		holderSet: newHolderSetLRU(ttl),
		tokens:    make(map[common.Address]struct{}),
	}
	for _, addr := range cfg.WatchedTokens {
		if common.IsHexAddress(addr) {
			m.tokens[common.HexToAddress(addr)] = struct{}{}
		}
	}
	return m, nil
}

func (m *TransferMonitor) Name() string { return m.name }

// Watch adds token to the live watch-set, called by cmd/indexer when
// TokenProcessor observes a new TokenCreated log.
func (m *TransferMonitor) Watch(token common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = struct{}{}
}

func (m *TransferMonitor) watchedAddrs() []common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]common.Address, 0, len(m.tokens))
	for a := range m.tokens {
		addrs = append(addrs, a)
	}
	return addrs
}

func (m *TransferMonitor) Run(ctx context.Context) error {
	return m.run(ctx, m.processRangeLogs)
}

func (m *TransferMonitor) processRangeLogs(ctx context.Context, from, to uint64) error {
	addrs := m.watchedAddrs()
	if len(addrs) == 0 {
		return nil
	}

	logs, err := m.chain.Logs(ctx, chain.Filter{
		From: from, To: to, Addresses: addrs, Topics: [][]common.Hash{{m.transfer}},
	})
	if err != nil {
		return err
	}

	touched := make(map[string]struct{})
	deltas := make(map[string]int64)
	err = m.store.CommitRange(ctx, m.Name(), to, func(tx *gorm.DB) error {
		for _, l := range logs {
			e, err := evt.DecodeTransferLog(l)
			if err != nil {
				m.log.Warnf("decode transfer log failed, skipping", map[string]any{"tx": l.TxHash.Hex(), "error": err.Error()})
				continue
			}
			if e == nil {
				continue
			}
			tr := e.(evt.Transfer)
			token := strings.ToLower(tr.Token.Hex())
			delta, err := m.applyTransfer(tx, tr, token)
			if err != nil {
				return fmt.Errorf("monitor transfer: apply %s log %d: %w", tr.TxHash.Hex(), tr.LogIndex, err)
			}
			touched[token] = struct{}{}
			deltas[token] += delta
		}
		return nil
	})
	if err != nil {
		return err
	}

	for token := range touched {
		// A fresh cache entry can absorb this range's net holder-count
		// change without a COUNT query; a miss or expired entry falls back
		// to a full recompute (spec.md §4.7 post-commit step).
		if count, ok := m.holderSet.bump(token, deltas[token]); ok {
			m.publishHoldersCount(ctx, token, count)
			continue
		}
		m.refreshHoldersCount(ctx, token)
	}
	return nil
}

// applyTransfer idempotently records a Transfer (duplicate deliveries are
// a no-op, spec.md §3 invariant 5) and mutates the two touched holder
// balances, deleting a balance row that reaches zero. The returned delta
// is the net change in holder count this transfer causes (-1/0/+1),
// feeding the holder-set cache's incremental bump path.
func (m *TransferMonitor) applyTransfer(tx *gorm.DB, tr evt.Transfer, token string) (int64, error) {
	row := &store.TransferEvent{
		TxHash: tr.TxHash.Hex(), LogIndex: tr.LogIndex, BlockNumber: tr.BlockNumber,
		FromAddr: strings.ToLower(tr.From.Hex()), ToAddr: strings.ToLower(tr.To.Hex()),
		Value: store.FormatBigInt(tr.Value), TokenAddress: token, Timestamp: time.Now().Unix(),
	}
	fresh, err := store.InsertTransferEvent(tx, row)
	if err != nil {
		return 0, err
	}
	if !fresh {
		return 0, nil
	}

	var delta int64
	zero := common.Address{}
	if tr.From != zero {
		removed, err := m.debit(tx, token, strings.ToLower(tr.From.Hex()), tr.Value, row.Timestamp)
		if err != nil {
			return 0, err
		}
		if removed {
			delta--
		}
	}
	if tr.To != zero {
		added, err := m.credit(tx, token, strings.ToLower(tr.To.Hex()), tr.Value, row.Timestamp)
		if err != nil {
			return 0, err
		}
		if added {
			delta++
		}
	}
	return delta, nil
}

// debit subtracts value from holder's balance, deleting the row (and
// reporting removed=true) if it reaches zero.
func (m *TransferMonitor) debit(tx *gorm.DB, token, holder string, value *big.Int, ts int64) (removed bool, err error) {
	hb, err := store.GetHolderBalance(tx, token, holder)
	if err != nil {
		return false, err
	}
	if hb == nil {
		// A debit against an untracked holder means this is a mint-only
		// or pre-backfill transfer; nothing to subtract from.
		return false, nil
	}
	bal := store.ParseBigInt(hb.Balance)
	bal.Sub(bal, value)
	if bal.Sign() <= 0 {
		return true, store.DeleteHolderBalance(tx, token, holder)
	}
	hb.Balance = store.FormatBigInt(bal)
	hb.LastUpdated = ts
	return false, store.UpsertHolderBalance(tx, hb)
}

// credit adds value to holder's balance, reporting added=true if this
// creates a previously-absent holder row.
func (m *TransferMonitor) credit(tx *gorm.DB, token, holder string, value *big.Int, ts int64) (added bool, err error) {
	hb, err := store.GetHolderBalance(tx, token, holder)
	if err != nil {
		return false, err
	}
	if hb == nil {
		hb = &store.HolderBalance{TokenAddress: token, HolderAddress: holder, Balance: "0"}
		added = true
	}
	bal := store.ParseBigInt(hb.Balance)
	bal.Add(bal, value)
	hb.Balance = store.FormatBigInt(bal)
	hb.LastUpdated = ts
	return added, store.UpsertHolderBalance(tx, hb)
}

// refreshHoldersCount recomputes a token's holder count with a fresh COUNT
// query, seeds the cache with the result, and publishes token:update, per
// spec.md §4.7's post-commit step. Used when the holder-set cache has no
// fresh entry to incrementally bump.
func (m *TransferMonitor) refreshHoldersCount(ctx context.Context, token string) {
	count, err := store.CountHolders(m.store.DB().WithContext(ctx), token)
	if err != nil {
		m.log.Warnf("count holders failed", map[string]any{"token": token, "error": err.Error()})
		return
	}
	m.holderSet.set(token, count)
	m.publishHoldersCount(ctx, token, count)
}

// publishHoldersCount persists the denormalised holders_count column and
// announces it on kv.ChannelTokenUpdate.
func (m *TransferMonitor) publishHoldersCount(ctx context.Context, token string, count int64) {
	if err := store.SetHoldersCount(m.store.DB().WithContext(ctx), token, count); err != nil {
		m.log.Warnf("set holders count failed", map[string]any{"token": token, "error": err.Error()})
		return
	}
	now := time.Now().Unix()
	if err := m.kv.Publish(ctx, kv.ChannelTokenUpdate, kv.TokenUpdate{Address: token, Holders: count, Timestamp: now}); err != nil {
		m.log.Warnf("publish token:update failed", map[string]any{"token": token, "error": err.Error()})
	}
}

// EvictStaleHolderSets drops LRU entries untouched past holder_set_ttl,
// called periodically by cmd/indexer's supervisor loop.
func (m *TransferMonitor) EvictStaleHolderSets() { m.holderSet.evictExpired() }
