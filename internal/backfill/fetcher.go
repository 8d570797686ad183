// Package backfill implements the backward-walking historical ingestion
// engine: a single-batch fetcher (component F) and a per-symbol driver
// that runs it to exhaustion across a set of timeframes in parallel
// (component G).
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"candle-retriever/internal/exchange"
	"candle-retriever/internal/gapfill"
	"candle-retriever/internal/metrics"
	"candle-retriever/internal/model"
	"candle-retriever/internal/rsi"
)

// DefaultRSIPeriod is used when a Fetcher's RSIPeriod is left at zero.
const DefaultRSIPeriod = 14

// BatchSize is the number of candles requested per exchange call.
const BatchSize = 1000

// TransientGrace is the sleep applied after a transient exchange error
// before returning control to the driver, matching the source's ~5s
// grace period.
const TransientGrace = 5 * time.Second

// Store is the subset of internal/store/sqlite.Store the fetcher needs.
type Store interface {
	InsertBatch(rows []model.Candle) (int, error)
	ReadProgress(provider, symbol, timeframe string) (int64, bool, error)
	UpdateProgress(provider, symbol, timeframe string, oldestCandleMs int64) error
	RangeScan(provider, symbol, timeframe string, startMs, endMs int64) ([]model.Candle, error)
	UpsertRSI(provider, symbol, timeframe string, period int, openTime int64, value float64) error
}

// exchangeClient is the subset of internal/exchange.Client the fetcher
// needs.
type exchangeClient interface {
	FetchKlines(ctx context.Context, symbol, tf string, limit int, endTimeMs int64) ([]model.Candle, error)
}

// Fetcher drives one (provider, symbol, timeframe) through repeated
// single-batch fetches.
type Fetcher struct {
	Store    Store
	Exchange exchangeClient
	Log      *slog.Logger

	// RSIPeriod is the window recomputed over each batch's span after
	// gap-fill; DefaultRSIPeriod is used when left zero.
	RSIPeriod int

	// Metrics is optional; when set, batch/insert/gap-fill counts and
	// batch duration are recorded against it.
	Metrics *metrics.Metrics
}

// FetchOneBatch runs steps 1-10 of the backward fetcher state machine:
// determine end_time from the progress cursor (or now, on first run),
// fetch one batch, discard any in-progress candle, insert, advance the
// ledger, gap-fill the batch's own span, and report whether this
// timeframe is now exhausted.
//
// floorMs, if non-zero, additionally exhausts the timeframe once the
// batch's oldest open_time reaches or passes it.
func (f *Fetcher) FetchOneBatch(ctx context.Context, key model.Key, floorMs int64) (inserted int, exhausted bool, err error) {
	start := time.Now()
	defer func() {
		if f.Metrics != nil {
			f.Metrics.BackfillDuration.Observe(time.Since(start).Seconds())
		}
	}()

	endTime, hasProgress, err := f.Store.ReadProgress(key.Provider, key.Symbol, key.Timeframe)
	if err != nil {
		return 0, false, fmt.Errorf("read progress: %w", err)
	}
	if !hasProgress {
		endTime = time.Now().UnixMilli()
	}

	candles, err := f.Exchange.FetchKlines(ctx, key.Symbol, key.Timeframe, BatchSize, endTime)
	if err != nil {
		var transient *exchange.TransientError
		if errors.As(err, &transient) {
			f.Log.Warn("transient fetch error, backing off", "key", key, "error", err)
			sleepOrDone(ctx, TransientGrace)
		}
		return 0, false, err
	}
	if f.Metrics != nil {
		f.Metrics.BatchesFetched.WithLabelValues(key.Symbol, key.Timeframe).Inc()
	}

	now := time.Now().UnixMilli()
	filtered := candles[:0:0]
	for _, c := range candles {
		if c.CloseTime >= now {
			continue // in-progress candle cannot be persisted
		}
		filtered = append(filtered, c)
	}

	if len(filtered) == 0 {
		return 0, true, nil // exhausted: the exchange gave no usable history
	}

	oldest, newest := filtered[0].OpenTime, filtered[0].OpenTime
	for _, c := range filtered {
		if c.OpenTime < oldest {
			oldest = c.OpenTime
		}
		if c.OpenTime > newest {
			newest = c.OpenTime
		}
	}

	inserted, err = f.Store.InsertBatch(filtered)
	if err != nil {
		return 0, false, fmt.Errorf("insert batch: %w", err)
	}
	if f.Metrics != nil && inserted > 0 {
		f.Metrics.CandlesInserted.WithLabelValues(key.Symbol, key.Timeframe).Add(float64(inserted))
	}

	if err := f.Store.UpdateProgress(key.Provider, key.Symbol, key.Timeframe, oldest); err != nil {
		return inserted, false, fmt.Errorf("update progress: %w", err)
	}

	gapStart := time.Now()
	filled, err := gapfill.Fill(f.Store, key, oldest, newest)
	if err != nil {
		return inserted, false, fmt.Errorf("gap fill: %w", err)
	}
	if f.Metrics != nil {
		f.Metrics.GapFillDuration.Observe(time.Since(gapStart).Seconds())
		if filled > 0 {
			f.Metrics.GapsFilled.WithLabelValues(key.Symbol, key.Timeframe).Add(float64(filled))
		}
	}

	period := f.RSIPeriod
	if period == 0 {
		period = DefaultRSIPeriod
	}
	if _, err := rsi.RecalculateRange(f.Store, key, period, oldest, newest); err != nil {
		return inserted, false, fmt.Errorf("rsi recalculate: %w", err)
	}

	exhausted = inserted == 0 || (floorMs != 0 && oldest <= floorMs)
	return inserted, exhausted, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
