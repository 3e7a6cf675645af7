// Package alert is the AlertRouter of spec.md §4.12: it dedupes alerts by
// their deterministic ID (insert-if-absent in Store) and fans them out by
// severity onto the KV bus — websocket channel, telegram queue, webhook
// queue, and a critical-log sink. Grounded on the pub_sub broker shape in
// other_examples (non-blocking per-consumer fan-out) wired through
// internal/kv's redis-backed lists/channels instead of an in-process
// broker, since the consumers here (telegram bot, webhook worker,
// websocket broadcaster) are external collaborators per spec.md §1.
package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/kv"
	"github.com/riftindex/chainindexer/internal/obs"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/store"
)

// Router emits and routes alerts.
type Router struct {
	kv         *kv.Client
	log        *obslog.Logger
	webhookURL string
}

// NewRouter builds a Router. webhookURL is the configured default webhook
// endpoint queued entries carry; empty means the external webhook worker
// is responsible for resolving a destination itself.
func NewRouter(k *kv.Client, log *obslog.Logger, webhookURL string) *Router {
	return &Router{kv: k, log: log.With("alert"), webhookURL: webhookURL}
}

// Emit persists a dedup-by-ID alert inside tx and returns the
// non-transactional post-commit routing work (spec.md §4.2: routing is a
// side effect, never part of the write transaction). If id was already
// persisted by a prior emission, the returned func is a no-op — this is
// the "distinct emissions collapse to one persisted row" invariant
// (spec.md §3 invariant 6).
func (r *Router) Emit(tx *gorm.DB, id, typ, severity, tokenAddress, message string, data interface{}, ts int64) (func(context.Context), error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("alert: marshal data for %s: %w", id, err)
	}
	a := &store.Alert{
		ID: id, Type: typ, Severity: severity, TokenAddress: tokenAddress,
		Message: message, Data: string(payload), Timestamp: ts,
	}
	inserted, err := store.InsertAlertIfAbsent(tx, a)
	if err != nil {
		return nil, fmt.Errorf("alert: insert %s: %w", id, err)
	}
	if !inserted {
		return func(context.Context) {}, nil
	}
	return func(ctx context.Context) { r.route(ctx, a) }, nil
}

// route fans a freshly-persisted alert out by severity, per spec.md
// §4.12: CRITICAL -> telegram(urgent)+websocket+webhook+critical-log;
// HIGH -> telegram+websocket+webhook; MEDIUM -> websocket+webhook;
// LOW -> websocket only.
func (r *Router) route(ctx context.Context, a *store.Alert) {
	wsPayload := alertPayload(a)

	if err := r.kv.Publish(ctx, kv.ChannelWSAlerts, wsPayload); err != nil {
		r.log.Warnf("publish websocket alert failed", map[string]any{"id": a.ID, "error": err.Error()})
	}

	switch a.Severity {
	case store.SeverityLow:
		return
	case store.SeverityMedium:
		r.enqueueWebhook(ctx, a)
	case store.SeverityHigh:
		r.enqueueTelegram(ctx, a, false)
		r.enqueueWebhook(ctx, a)
	case store.SeverityCritical:
		obs.AlertsCriticalTotal.Inc()
		r.log.Errorf("critical alert", map[string]any{
			"id": a.ID, "type": a.Type, "token": a.TokenAddress, "message": a.Message,
		})
		r.enqueueTelegram(ctx, a, true)
		r.enqueueWebhook(ctx, a)
	}
}

func (r *Router) enqueueTelegram(ctx context.Context, a *store.Alert, urgent bool) {
	payload := alertPayload(a)
	payload["urgent"] = urgent
	b, err := json.Marshal(payload)
	if err != nil {
		r.log.Warnf("marshal telegram alert failed", map[string]any{"id": a.ID, "error": err.Error()})
		return
	}
	if err := r.kv.LPush(ctx, kv.ListTelegramAlerts, b); err != nil {
		r.log.Warnf("enqueue telegram alert failed", map[string]any{"id": a.ID, "error": err.Error()})
	}
}

func (r *Router) enqueueWebhook(ctx context.Context, a *store.Alert) {
	entry := kv.WebhookQueueEntry{URL: r.webhookURL, Payload: alertPayload(a), Retries: 0}
	b, err := json.Marshal(entry)
	if err != nil {
		r.log.Warnf("marshal webhook entry failed", map[string]any{"id": a.ID, "error": err.Error()})
		return
	}
	if err := r.kv.LPush(ctx, kv.ListWebhooksQueue, b); err != nil {
		r.log.Warnf("enqueue webhook entry failed", map[string]any{"id": a.ID, "error": err.Error()})
	}
}

func alertPayload(a *store.Alert) map[string]interface{} {
	return map[string]interface{}{
		"id": a.ID, "type": a.Type, "severity": a.Severity,
		"token_address": a.TokenAddress, "message": a.Message,
		"data": json.RawMessage(a.Data), "timestamp": a.Timestamp,
	}
}

// Deterministic alert ID constructors (spec.md §3 invariant 6 and the
// concrete scenarios of §8: "new-token-0xaa", "critical-liquidity-removal-<tx>").

func NewTokenID(token string) string            { return fmt.Sprintf("new-token-%s", token) }
func TokenLaunchedID(token string) string       { return fmt.Sprintf("token-launched-%s", token) }
func OwnershipRenouncedID(token string) string  { return fmt.Sprintf("ownership-renounced-%s", token) }
func HoneypotID(token string) string            { return fmt.Sprintf("honeypot-detected-%s", token) }
func RugWarningID(token string) string          { return fmt.Sprintf("rug-warning-%s", token) }
func WhaleActivityTokenID(token string) string  { return fmt.Sprintf("whale-activity-%s", token) }
func TaxRugWarningID(token string) string        { return fmt.Sprintf("tax-rug-warning-%s", token) }
func NewPairID(pair string) string              { return fmt.Sprintf("new-pair-%s", pair) }
func LargeBuyID(txHash string) string           { return fmt.Sprintf("large-buy-%s", txHash) }
func LargeSellID(txHash string) string          { return fmt.Sprintf("large-sell-%s", txHash) }
func WhaleActivityTradeID(txHash string) string { return fmt.Sprintf("whale-activity-%s", txHash) }
func LiquidityAddedID(txHash string) string     { return fmt.Sprintf("liquidity-added-%s", txHash) }
func LiquidityRemovedID(txHash string) string   { return fmt.Sprintf("liquidity-removed-%s", txHash) }
func CriticalLiquidityRemovalID(txHash string) string {
	return fmt.Sprintf("critical-liquidity-removal-%s", txHash)
}
