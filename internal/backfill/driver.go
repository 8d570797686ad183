package backfill

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"candle-retriever/internal/metrics"
	"candle-retriever/internal/model"
	"candle-retriever/internal/timeframe"
)

// IterationDelay is the rate-limit spacing between driver iterations,
// matching the source's ~200ms sleep.
const IterationDelay = 200 * time.Millisecond

// StoreOpener opens (or reopens) a store handle for a symbol. Each
// per-timeframe work unit acquires its own handle for its lifetime
// rather than sharing a connection pool with inter-task transactions —
// simpler, and the underlying file locking already serializes writers.
type StoreOpener func(symbol string) (Store, error)

// Driver runs the backward fetcher to exhaustion across a dynamic set of
// timeframes for one symbol, in parallel.
type Driver struct {
	Provider  string
	Exchange  exchangeClient
	OpenStore StoreOpener
	Log       *slog.Logger

	// RSIPeriod is forwarded to every Fetcher this driver spawns; zero
	// falls back to DefaultRSIPeriod.
	RSIPeriod int

	// Metrics is optional; when set, it is forwarded to every Fetcher
	// this driver spawns and used to count per-timeframe exhaustion.
	Metrics *metrics.Metrics
}

// Run drives symbol across timeframes (default: timeframe.SupportedTags())
// until every one is exhausted (or floorMs is reached for that tf).
// Returns once active is empty or ctx is cancelled.
func (d *Driver) Run(ctx context.Context, symbol string, floorMs int64, timeframes []string) error {
	active := make([]string, len(timeframes))
	copy(active, timeframes)
	if len(active) == 0 {
		active = timeframe.SupportedTags()
	}

	for len(active) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		results := make([]batchResult, len(active))
		g, gctx := errgroup.WithContext(context.Background()) // each tf owns its own lifetime; a sibling's error must not cancel others
		g.SetLimit(len(active))

		for i, tf := range active {
			i, tf := i, tf
			g.Go(func() error {
				results[i] = d.runOne(gctx, symbol, tf, floorMs)
				return nil
			})
		}
		_ = g.Wait() // runOne never returns an error; failures are captured per-result

		var next []string
		for i, tf := range active {
			r := results[i]
			if r.err != nil {
				d.Log.Warn("backfill batch failed, retrying next iteration", "symbol", symbol, "timeframe", tf, "error", r.err)
				next = append(next, tf)
				continue
			}
			if r.exhausted {
				d.Log.Info("timeframe exhausted", "symbol", symbol, "timeframe", tf, "inserted", r.inserted)
				if d.Metrics != nil {
					d.Metrics.BackfillExhausted.WithLabelValues(symbol, tf).Inc()
				}
				continue
			}
			next = append(next, tf)
		}
		active = next

		if len(active) == 0 {
			break
		}
		sleepOrDone(ctx, IterationDelay)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

type batchResult struct {
	inserted  int
	exhausted bool
	err       error
}

func (d *Driver) runOne(ctx context.Context, symbol, tf string, floorMs int64) batchResult {
	st, err := d.OpenStore(symbol)
	if err != nil {
		return batchResult{err: err}
	}
	defer func() {
		if closer, ok := st.(interface{ Close() error }); ok {
			closer.Close()
		}
	}()

	fetcher := &Fetcher{Store: st, Exchange: d.Exchange, Log: d.Log, RSIPeriod: d.RSIPeriod, Metrics: d.Metrics}
	key := model.Key{Provider: d.Provider, Symbol: symbol, Timeframe: tf}

	inserted, exhausted, err := fetcher.FetchOneBatch(ctx, key, floorMs)
	return batchResult{inserted: inserted, exhausted: exhausted, err: err}
}
