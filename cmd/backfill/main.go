// Command backfill runs a one-shot historical backfill for a single
// symbol, to exhaustion across the requested timeframes, then exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"candle-retriever/internal/backfill"
	"candle-retriever/internal/exchange"
	"candle-retriever/internal/logger"
	"candle-retriever/internal/store/sqlite"
)

const provider = "binance"

func main() {
	var (
		symbol     string
		startDate  string
		dbDir      string
		timeframes string
		rsiPeriod  int
	)

	root := &cobra.Command{
		Use:   "backfill",
		Short: "Backfill historical candles for one symbol to exhaustion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(symbol, startDate, dbDir, timeframes, rsiPeriod)
		},
	}

	root.Flags().StringVar(&symbol, "symbol", "", "trading symbol to backfill, e.g. BTCUSDT (required)")
	root.Flags().StringVar(&startDate, "start-date", "", "stop backfilling once open_time reaches this date, YYYY-MM-DD (default: no floor)")
	root.Flags().StringVar(&dbDir, "db-dir", ".", "directory holding per-symbol SQLite files")
	root.Flags().StringVar(&timeframes, "timeframes", "1m,5m,15m,1h,4h,1d", "comma-separated timeframes to backfill")
	root.Flags().IntVar(&rsiPeriod, "rsi-period", backfill.DefaultRSIPeriod, "RSI window recomputed over each fetched batch")
	root.MarkFlagRequired("symbol")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(symbol, startDate, dbDir, timeframesCSV string, rsiPeriod int) error {
	log := logger.WithProvider(logger.Init("candle-backfill", slog.LevelInfo), provider)

	var floorMs int64
	if startDate != "" {
		t, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return fmt.Errorf("invalid --start-date %q: %w", startDate, err)
		}
		floorMs = t.UnixMilli()
	}

	timeframes := splitCSV(timeframesCSV)
	if len(timeframes) == 0 {
		return fmt.Errorf("no timeframes given")
	}

	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}

	path := filepath.Join(dbDir, symbol+".db")
	// A quick open-then-close up front surfaces a bad --db-dir/schema
	// error immediately instead of inside the driver's first goroutine.
	probe, err := sqlite.Open(path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	probe.Close()

	exchangeClient := exchange.New(exchange.DefaultConfig(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("interrupt received, stopping after current batch")
		cancel()
	}()

	// The driver opens and closes a store handle per active timeframe per
	// iteration, so OpenStore must hand back a fresh handle every call
	// rather than one shared connection multiple goroutines would race to
	// close.
	driver := &backfill.Driver{
		Provider:  provider,
		Exchange:  exchangeClient,
		OpenStore: func(string) (backfill.Store, error) { return sqlite.Open(path) },
		Log:       log,
		RSIPeriod: rsiPeriod,
	}

	log.Info("backfill starting", "symbol", symbol, "timeframes", timeframes, "floor", startDate)
	if err := driver.Run(ctx, symbol, floorMs, timeframes); err != nil {
		if ctx.Err() != nil {
			log.Info("backfill interrupted")
			return nil
		}
		return fmt.Errorf("backfill: %w", err)
	}

	log.Info("backfill exhausted for all timeframes", "symbol", symbol)
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
