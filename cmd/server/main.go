// Command server wires the backfill driver, the realtime subscription
// manager, and the HTTP/WS façade together into one long-running process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"candle-retriever/config"
	"candle-retriever/internal/backfill"
	"candle-retriever/internal/exchange"
	"candle-retriever/internal/httpapi"
	"candle-retriever/internal/logger"
	"candle-retriever/internal/metrics"
	"candle-retriever/internal/realtime"
	"candle-retriever/internal/store/sqlite"
)

const provider = "binance"

func main() {
	log := logger.WithProvider(logger.Init("candle-retriever", slog.LevelInfo), provider)
	cfg := config.Load()

	if err := os.MkdirAll(cfg.DBDir, 0o755); err != nil {
		log.Error("create db dir failed", "dir", cfg.DBDir, "error", err)
		os.Exit(1)
	}

	symbols := cfg.ParseSymbols()
	timeframes := cfg.ParseTimeframes()
	if len(symbols) == 0 {
		log.Error("no symbols configured")
		os.Exit(1)
	}
	log.Info("starting", "symbols", symbols, "timeframes", timeframes)

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetActiveSymbols(symbols)
	metricsSrv := metrics.NewServer(":9090", health)
	metricsSrv.Start()

	exchangeClient := exchange.New(exchange.Config{RESTBatchInterval: cfg.RESTBatchInterval}, log)
	exchangeClient.Metrics = prom

	stores := &storeRegistry{dbDir: cfg.DBDir, opened: make(map[string]*sqlite.Store)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- realtime subscription manager ----
	// The manager opens and closes a store handle per closed-candle
	// persistence job (see realtime.New's doc comment),
	// so this must NOT hand back the façade's long-lived cached handle —
	// that handle would be closed out from under every other reader the
	// moment the first candle closes.
	rt := realtime.New(
		provider,
		realtime.ExchangeStreamer{Client: exchangeClient},
		func(symbol string) (realtime.PersistStore, error) {
			return sqlite.Open(filepath.Join(cfg.DBDir, symbol+".db"))
		},
		log,
	)
	rt.SetMetrics(prom)
	go rt.Run(ctx)
	health.SetExchangeStreamConnected(true)

	// ---- background historical backfill, one driver per symbol ----
	floor := time.Now().AddDate(0, 0, -cfg.BackfillFloorDays).UnixMilli()
	for _, symbol := range symbols {
		symbol := symbol
		go func() {
			// Same reasoning as the realtime manager above: the driver
			// opens and closes its own handle per batch, once per active
			// timeframe per iteration, so each call must open fresh.
			d := &backfill.Driver{
				Provider: provider,
				Exchange: exchangeClient,
				OpenStore: func(string) (backfill.Store, error) {
					return sqlite.Open(filepath.Join(cfg.DBDir, symbol+".db"))
				},
				Log:       log,
				RSIPeriod: cfg.RSIPeriod,
				Metrics:   prom,
			}
			if err := d.Run(ctx, symbol, floor, timeframes); err != nil && ctx.Err() == nil {
				log.Warn("backfill driver stopped", "symbol", symbol, "error", err)
			}
		}()
		rt.Subscribe(ctx, symbol, timeframes)
	}

	// ---- HTTP/WS façade ----
	backfiller := &ondemandBackfiller{provider: provider, exchange: exchangeClient, stores: stores, log: log, rsiPeriod: cfg.RSIPeriod, metrics: prom}

	facade := httpapi.New(provider, cfg.DBDir, stores.open, rt, backfiller, log)
	facade.Metrics = prom

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: facade,
	}
	go func() {
		log.Info("http façade listening", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http façade error", "error", err)
		}
	}()

	<-sigCh
	log.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	rt.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	stores.closeAll()

	log.Info("shutdown complete")
}

// storeRegistry keeps one *sqlite.Store handle open per symbol for the
// lifetime of the process, shared by the HTTP façade's read path and the
// on-demand backfill path triggered through it.
type storeRegistry struct {
	dbDir string

	mu     sync.Mutex
	opened map[string]*sqlite.Store
}

// open returns the cached handle for symbol, but never creates a store
// file: a symbol with no prior backfill or on-demand fetch returns
// os.ErrNotExist so the façade's read routes can 404 rather than serve
// an empty, freshly-created database. This is the only opener wired
// into httpapi.New.
func (r *storeRegistry) open(symbol string) (*sqlite.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.opened[symbol]; ok {
		return st, nil
	}
	if _, err := os.Stat(filepath.Join(r.dbDir, symbol+".db")); err != nil {
		return nil, err
	}
	return r.openLocked(symbol)
}

// openOrCreate opens symbol's store, creating the file if absent. Used
// only by ondemandBackfiller, whose entire purpose is to populate a
// symbol's first rows on a cache miss.
func (r *storeRegistry) openOrCreate(symbol string) (*sqlite.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.opened[symbol]; ok {
		return st, nil
	}
	return r.openLocked(symbol)
}

// openLocked opens and caches symbol's store; callers must hold r.mu.
func (r *storeRegistry) openLocked(symbol string) (*sqlite.Store, error) {
	st, err := sqlite.Open(filepath.Join(r.dbDir, symbol+".db"))
	if err != nil {
		return nil, err
	}
	r.opened[symbol] = st
	return st, nil
}

func (r *storeRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.opened {
		st.Close()
	}
}

// ondemandBackfiller adapts backfill.Fetcher to httpapi.OnDemandBackfiller,
// reusing the process's shared per-symbol store handle instead of opening
// a fresh one per request.
type ondemandBackfiller struct {
	provider  string
	exchange  *exchange.Client
	stores    *storeRegistry
	log       *slog.Logger
	rsiPeriod int
	metrics   *metrics.Metrics
}

func (b *ondemandBackfiller) FetchUntilExhaustedOrLimit(ctx context.Context, symbol, timeframe string, maxIterations int) (int, int, error) {
	st, err := b.stores.openOrCreate(symbol)
	if err != nil {
		return 0, 0, err
	}
	od := &backfill.OnDemand{
		Provider: b.provider,
		Fetcher:  &backfill.Fetcher{Store: st, Exchange: b.exchange, Log: b.log, RSIPeriod: b.rsiPeriod, Metrics: b.metrics},
	}
	return od.FetchUntilExhaustedOrLimit(ctx, symbol, timeframe, maxIterations)
}
