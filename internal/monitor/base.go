// Package monitor implements the EventMonitor component family of
// spec.md §4.4: a shared polling state machine (INIT -> CATCHING_UP ->
// LIVE -> RECONNECTING) driving three concrete monitors (FactoryMonitor,
// DexMonitor, TransferMonitor). Grounded on go-tableland's
// pkg/eventprocessor/eventfeed/impl/eventfeed.go Start loop — the
// from/to-height batching, RangeTooLarge backoff, and head-polling loop
// are the same shape, generalized into a `Monitor` interface per REDESIGN
// FLAGS §9 instead of one monolithic EventFeed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/riftindex/chainindexer/internal/chain"
	"github.com/riftindex/chainindexer/internal/config"
	"github.com/riftindex/chainindexer/internal/obs"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/store"
)

// State is a monitor's position in the spec.md §4.4 state machine.
type State int

const (
	StateInit State = iota
	StateCatchingUp
	StateLive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCatchingUp:
		return "CATCHING_UP"
	case StateLive:
		return "LIVE"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Status is the externally-observable snapshot a Monitor reports, the Go
// realization of the per-minute status line named in spec.md §7.
type Status struct {
	Name      string
	State     State
	Cursor    uint64
	Head      uint64
	LagBlocks uint64
}

// Monitor is the abstract EventMonitor of spec.md §4.4.
type Monitor interface {
	Name() string
	Run(ctx context.Context) error
	Status() Status
}

// errFatal signals that processRange cannot make progress even on a
// single-block range and the monitor must stop (spec.md §8 boundary:
// "RangeTooLarge on a single block is fatal, not bisectable").
var errFatal = errors.New("monitor: fatal, range cannot be narrowed further")

// pollInterval is how often base polls HeadBlock when no streaming
// subscription is available (or after one degrades), per spec.md §4.4.
const pollInterval = 3 * time.Second

// base is the shared state machine embedded (not inherited, per REDESIGN
// FLAGS §9's "abstract hooks -> interface" transform) by every concrete
// monitor. A concrete monitor supplies processFn (decode+handle+commit
// over one block range) to run(); base owns cursor tracking, confirmation
// depth, range sizing/bisection, retry/backoff, and status reporting.
type base struct {
	name  string
	chain *chain.Client
	store *store.Store
	cfg   config.Config
	log   *obslog.Logger

	state   State
	nextRow uint64 // next block to process
	head    uint64
}

// defaultStartLookback implements spec.md §4.4's INIT fallback when
// neither a durable cursor nor config.start_block is available: begin
// 1000 blocks behind head.
func defaultStartLookback(head uint64) uint64 {
	if head <= 1000 {
		return 0
	}
	return head - 1000
}

func newBase(name string, c *chain.Client, s *store.Store, cfg config.Config, log *obslog.Logger) *base {
	return &base{name: name, chain: c, store: s, cfg: cfg, log: log.With(name), state: StateInit}
}

// Status reports the current position, satisfying Monitor.Status for any
// embedding concrete type.
func (b *base) Status() Status {
	cursor := uint64(0)
	if b.nextRow > 0 {
		cursor = b.nextRow - 1
	}
	lag := uint64(0)
	if b.head > cursor {
		lag = b.head - cursor
	}
	return Status{Name: b.name, State: b.state, Cursor: cursor, Head: b.head, LagBlocks: lag}
}

// run drives the INIT -> CATCHING_UP -> LIVE/RECONNECTING loop, per
// spec.md §4.4: when a streaming endpoint is configured, new heads trigger
// processing as they arrive; the poll ticker keeps running concurrently
// regardless ("so no gap accumulates"), and also carries the whole loop
// when streaming is unavailable or has degraded. It is shared verbatim by
// every concrete monitor's Run method.
func (b *base) run(ctx context.Context, processFn func(ctx context.Context, from, to uint64) error) error {
	cursor, found, err := b.store.Cursor(ctx, b.name)
	if err != nil {
		return fmt.Errorf("monitor %s: load cursor: %w", b.name, err)
	}
	switch {
	case found:
		b.nextRow = cursor + 1
	case b.cfg.StartBlock != nil:
		b.nextRow = *b.cfg.StartBlock
	default:
		head, err := b.chain.HeadBlock(ctx)
		if err != nil {
			return fmt.Errorf("monitor %s: head for INIT start block: %w", b.name, err)
		}
		b.nextRow = defaultStartLookback(head)
	}
	b.state = StateCatchingUp

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var heads <-chan *types.Header
	if b.chain.StreamingAvailable() {
		if ch, ok := b.chain.SubscribeHeads(ctx); ok {
			heads = ch
		} else {
			b.state = StateReconnecting
			b.log.Warnf("head subscription unavailable, falling back to polling", nil)
		}
	}

	for {
		var head uint64
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h, err := b.chain.HeadBlock(ctx)
			if err != nil {
				b.state = StateReconnecting
				b.log.Warnf("head poll failed", map[string]any{"error": err.Error()})
				continue
			}
			head = h
		case hdr, ok := <-heads:
			if !ok {
				// Subscription exhausted its reconnect attempts (chain.Client
				// already did the bounded-retry dance) and degraded to
				// polling; stop selecting on a closed channel and rely on
				// the ticker from here on (spec.md §4.4 RECONNECTING ->
				// polling fallback).
				heads = nil
				b.state = StateReconnecting
				b.log.Warnf("head subscription closed, degraded to polling", nil)
				continue
			}
			head = hdr.Number.Uint64()
		}

		if err := b.processHead(ctx, head, processFn); err != nil {
			if errors.Is(err, errFatal) {
				return fmt.Errorf("monitor %s: fatal: %w", b.name, err)
			}
			// processHead already logged the range-specific failure.
		}
	}
}

// processHead advances the monitor's cursor as far as the confirmed
// window around head allows, per spec.md §4.4. Called from both the poll
// ticker and the streaming-heads branch of run's select loop.
func (b *base) processHead(ctx context.Context, head uint64, processFn func(ctx context.Context, from, to uint64) error) error {
	b.head = head
	obs.MonitorCursor.WithLabelValues(b.name).Set(float64(b.nextRow - 1))

	from, to, hasWork, lagging := nextWindow(head, b.cfg.Confirmations, b.nextRow, b.cfg.BatchSize)
	if !hasWork {
		b.state = StateLive
		return nil
	}
	if lagging {
		b.state = StateCatchingUp
	} else {
		b.state = StateLive
	}

	if err := b.processRange(ctx, from, to, processFn); err != nil {
		if errors.Is(err, errFatal) {
			return fmt.Errorf("at block %d: %w", from, errFatal)
		}
		b.log.Errorf("BLOCK_PROCESSING_FAILED", map[string]any{
			"monitor": b.name, "from": from, "to": to, "error": err.Error(),
		})
		return nil
	}
	b.nextRow = to + 1
	confirmedHead := uint64(0)
	if head > b.cfg.Confirmations {
		confirmedHead = head - b.cfg.Confirmations
	}
	lag := uint64(0)
	if confirmedHead > to {
		lag = confirmedHead - to
	}
	obs.MonitorLagBlocks.WithLabelValues(b.name).Set(float64(lag))
	return nil
}

// nextWindow computes the next block range to process given the current
// head, confirmation depth, and the monitor's position, per spec.md §4.4's
// CATCHING_UP/LIVE window sizing and the confirmation-depth reorg guard
// (§8 scenario 5: blocks within the confirmation window are never
// processed). hasWork is false when the confirmed head hasn't reached
// nextRow yet.
func nextWindow(head, confirmations, nextRow, batchSize uint64) (from, to uint64, hasWork, lagging bool) {
	var confirmedHead uint64
	if head > confirmations {
		confirmedHead = head - confirmations
	}
	if confirmedHead < nextRow {
		return 0, 0, false, false
	}
	lagging = confirmedHead-nextRow+1 > batchSize
	to = confirmedHead
	if lagging {
		to = nextRow + batchSize - 1
	}
	return nextRow, to, true, lagging
}

// processRange runs processFn over [from,to], bisecting on a
// RangeTooLarge classification and retrying other failures with the
// configured backoff, per spec.md §4.4 and §8's boundary case. It
// escalates to errFatal when a single-block range still fails with
// RangeTooLarge, since there is nothing left to bisect.
func (b *base) processRange(ctx context.Context, from, to uint64, processFn func(ctx context.Context, from, to uint64) error) error {
	attempts := 0
	for {
		err := b.tryProcessRange(ctx, from, to, processFn)
		if err == nil {
			return nil
		}
		kind := chain.ClassifyError(err)
		if kind == chain.KindRangeTooLarge {
			if from == to {
				return errFatal
			}
			mid := from + (to-from)/2
			if err := b.processRange(ctx, from, mid, processFn); err != nil {
				return err
			}
			return b.processRange(ctx, mid+1, to, processFn)
		}
		attempts++
		if attempts > b.cfg.RetryAttempts {
			return fmt.Errorf("monitor %s: range [%d,%d] failed after %d attempts: %w", b.name, from, to, attempts-1, err)
		}
		delay := b.cfg.RetryDelay()
		for i := 0; i < attempts-1; i++ {
			delay *= 2
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// tryProcessRange runs one attempt of processFn, converting a panic into
// an error so it fails that attempt instead of crashing the monitor. The
// recovery covers the whole attempt, not a single log: processRange
// retries it like any other error, and a panic that repeats fails the
// range. Logs that fail to decode are skipped by the concrete monitors.
func (b *base) tryProcessRange(ctx context.Context, from, to uint64, processFn func(ctx context.Context, from, to uint64) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor %s: recovered panic processing [%d,%d]: %v", b.name, from, to, r)
		}
	}()
	return processFn(ctx, from, to)
}
