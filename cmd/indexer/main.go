// Command indexer is the process entrypoint: it wires config, chain
// client, store/kv, monitors, processors, and the alert router together
// and runs them until a shutdown signal arrives. Grounded on the
// teacher's cmd/main.go (ethclient.Dial, panic-on-startup-error,
// unbuffered-channel supervision) generalized from a single
// wallet+strategy wiring into the multi-monitor supervisor spec.md §5
// describes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/riftindex/chainindexer/internal/alert"
	"github.com/riftindex/chainindexer/internal/analytics"
	"github.com/riftindex/chainindexer/internal/chain"
	"github.com/riftindex/chainindexer/internal/config"
	"github.com/riftindex/chainindexer/internal/kv"
	"github.com/riftindex/chainindexer/internal/monitor"
	"github.com/riftindex/chainindexer/internal/obs"
	"github.com/riftindex/chainindexer/internal/obslog"
	"github.com/riftindex/chainindexer/internal/priceoracle"
	"github.com/riftindex/chainindexer/internal/process"
	"github.com/riftindex/chainindexer/internal/store"
	"github.com/riftindex/chainindexer/internal/wsbroadcast"
)

const (
	chainConcurrency = 10  // limit of chain.Client's errgroup, which no call uses
	chainRatePerSec   = 50 // spec.md §4.4: token-bucket rate cap
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the indexer's YAML configuration")
	listenAddr := flag.String("listen", ":8090", "address the websocket broadcaster and /metrics endpoint bind to")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "indexer: godotenv.Load: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indexer: %v\n", err)
		os.Exit(1)
	}
	applyEnvOverrides(cfg)

	log := obslog.New("chainindexer", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *listenAddr); err != nil {
		log.Errorf("fatal startup error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// applyEnvOverrides lets deployment secrets (RPC URL, store DSN, KV URL)
// come from the environment/`.env` rather than live in config.yml,
// mirroring the teacher's ENC_PK/KEY env-sourced secrets.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv("STORE_DSN"); v != "" {
		cfg.StoreDSN = v
	}
	if v := os.Getenv("KV_URL"); v != "" {
		cfg.KVURL = v
	}
}

func run(ctx context.Context, cfg *config.Config, log *obslog.Logger, listenAddr string) error {
	backendURL := cfg.RPCURL
	streaming := false
	if cfg.WSURL != "" {
		backendURL = cfg.WSURL
		streaming = true
	}
	backend, err := ethclient.DialContext(ctx, backendURL)
	if err != nil {
		return fmt.Errorf("dial chain endpoint %s: %w", backendURL, err)
	}
	chainClient := chain.New(backend, chainConcurrency, chainRatePerSec, chain.WithStreaming(streaming))

	st, err := store.NewMySQLStore(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer st.Close()

	kvClient, err := kv.New(cfg.KVURL)
	if err != nil {
		return fmt.Errorf("connect kv: %w", err)
	}
	defer kvClient.Close()

	registry := prometheus.NewRegistry()
	obs.Register(registry)

	priceProvider := buildPriceProvider(cfg)
	analyticsEngine := analytics.New(priceProvider)
	alertRouter := alert.NewRouter(kvClient, log, "")

	baseToken := common.HexToAddress(cfg.BaseToken)
	tokenProc := process.NewTokenProcessor(chainClient, analyticsEngine, alertRouter, kvClient, log)
	tradeProc := process.NewTradeProcessor(chainClient, alertRouter, kvClient, log, priceProvider, baseToken)
	liqProc := process.NewLiquidityProcessor(alertRouter, kvClient, log, priceProvider, baseToken)

	factoryMon, err := monitor.NewFactoryMonitor(chainClient, st, *cfg, tokenProc, kvClient, log)
	if err != nil {
		return fmt.Errorf("build factory monitor: %w", err)
	}
	dexMon, err := monitor.NewDexMonitor(chainClient, st, *cfg, liqProc, tradeProc, log)
	if err != nil {
		return fmt.Errorf("build dex monitor: %w", err)
	}
	transferMon, err := monitor.NewTransferMonitor(chainClient, st, *cfg, kvClient, log)
	if err != nil {
		return fmt.Errorf("build transfer monitor: %w", err)
	}

	hub := wsbroadcast.NewHub(kvClient, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: listenAddr, Handler: mux}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server failed", map[string]any{"error": err.Error()})
		}
	}()

	wg.Add(1)
	go func() { defer wg.Done(); hub.Run(ctx) }()

	unwatchNewTokens := watchNewTokens(ctx, kvClient, transferMon, log)
	defer unwatchNewTokens()

	monitors := []monitor.Monitor{factoryMon, dexMon, transferMon}
	for _, m := range monitors {
		wg.Add(1)
		go func(m monitor.Monitor) {
			defer wg.Done()
			runSupervised(ctx, m, log)
		}(m)
	}

	wg.Add(1)
	go func() { defer wg.Done(); runStatusSnapshots(ctx, cfg.Network, monitors, log) }()

	wg.Add(1)
	go func() { defer wg.Done(); runRenounceSweep(ctx, st, tokenProc, log) }()

	wg.Add(1)
	go func() { defer wg.Done(); runHolderSetEviction(ctx, transferMon) }()

	<-ctx.Done()
	log.Infof("shutdown signal received, draining", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	wg.Wait()
	return nil
}

func buildPriceProvider(cfg *config.Config) priceoracle.PriceProvider {
	fallback := priceoracle.StaticPriceProvider{Value: cfg.PriceOracleFallback}
	if cfg.PriceOracleURL == "" {
		return fallback
	}
	return priceoracle.FallbackProvider{
		Primary:  priceoracle.NewHTTPPriceProvider(cfg.PriceOracleURL, "price"),
		Fallback: fallback,
	}
}

// runSupervised restarts m.Run from its durable cursor after a Fatal
// error, per spec.md §4.4 ("supervisor may restart from durable
// cursor"). A monitor's own panics are already recovered per block range
// inside base.processRange; this only catches Run returning an error.
func runSupervised(ctx context.Context, m monitor.Monitor, log *obslog.Logger) {
	backoff := chain.DefaultBackoff()
	attempt := 0
	for {
		err := m.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Errorf("monitor stopped, restarting from durable cursor", map[string]any{
			"monitor": m.Name(), "error": err.Error(), "attempt": attempt,
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.Duration(attempt)):
		}
		attempt++
	}
}

// watchNewTokens subscribes to token-events and registers every newly
// observed token with the TransferMonitor's dynamic watch set, since
// FactoryMonitor and TransferMonitor are independently scheduled
// monitors with no direct call path between them (spec.md §5).
func watchNewTokens(ctx context.Context, kvClient *kv.Client, transferMon *monitor.TransferMonitor, log *obslog.Logger) func() {
	msgs, unsubscribe := kvClient.Subscribe(ctx, kv.ChannelTokenEvents)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-msgs:
				if !ok {
					return
				}
				handleTokenEvent(payload, transferMon, log)
			}
		}
	}()
	return unsubscribe
}

type tokenEventEnvelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func handleTokenEvent(payload []byte, transferMon *monitor.TransferMonitor, log *obslog.Logger) {
	var env tokenEventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warnf("decode token-events payload failed", map[string]any{"error": err.Error()})
		return
	}
	if env.Event != kv.EventNewToken {
		return
	}
	var t struct {
		Address string `json:"Address"`
	}
	if err := json.Unmarshal(env.Data, &t); err != nil || t.Address == "" {
		return
	}
	addr := strings.ToLower(t.Address)
	if !common.IsHexAddress(addr) {
		return
	}
	transferMon.Watch(common.HexToAddress(addr))
}

// runStatusSnapshots emits the per-minute {network, running, monitors}
// status line required by spec.md §7.
func runStatusSnapshots(ctx context.Context, network string, monitors []monitor.Monitor, log *obslog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snapshot := map[string]any{"network": network, "running": true}
		perMonitor := make(map[string]any, len(monitors))
		for _, m := range monitors {
			s := m.Status()
			perMonitor[s.Name] = map[string]any{
				"running":              s.State != monitor.StateReconnecting,
				"state":                s.State.String(),
				"last_processed_block": s.Cursor,
				"lag_blocks":           s.LagBlocks,
			}
		}
		snapshot["monitors"] = perMonitor
		log.Infof("status", snapshot)
	}
}

// renounceSweepInterval bounds how often cmd/indexer re-polls owner()
// for tokens not yet flagged renounced, since no factory event
// announces renouncement directly (spec.md §4.8).
const renounceSweepInterval = 5 * time.Minute

func runRenounceSweep(ctx context.Context, st *store.Store, tokenProc *process.TokenProcessor, log *obslog.Logger) {
	ticker := time.NewTicker(renounceSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tokens, err := store.ListTokensNotRenounced(st.DB().WithContext(ctx))
		if err != nil {
			log.Warnf("renounce sweep: list tokens failed", map[string]any{"error": err.Error()})
			continue
		}
		for _, t := range tokens {
			addr := common.HexToAddress(t.Address)
			var postCommit []func(context.Context)
			err := st.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				fns, err := tokenProc.OnRenounce(ctx, tx, addr)
				postCommit = fns
				return err
			})
			if err != nil {
				log.Warnf("renounce sweep: check token failed", map[string]any{"token": t.Address, "error": err.Error()})
				continue
			}
			for _, fn := range postCommit {
				fn(ctx)
			}
		}
	}
}

func runHolderSetEviction(ctx context.Context, transferMon *monitor.TransferMonitor) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		transferMon.EvictStaleHolderSets()
	}
}
