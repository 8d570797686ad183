// Package rsi computes Wilder's smoothed Relative Strength Index over a
// close-price array and recalculates it for a stored candle range. The
// backfill fetcher calls RecalculateRange inside each batch, over that
// batch's span, right after gap-fill.
package rsi

import (
	"fmt"

	"candle-retriever/internal/model"
)

// store is the subset of internal/store/sqlite.Store this package needs.
type store interface {
	RangeScan(provider, symbol, timeframe string, startMs, endMs int64) ([]model.Candle, error)
	UpsertRSI(provider, symbol, timeframe string, period int, openTime int64, value float64) error
}

// Calculate computes RSI over closes with the given period. The first
// `period` entries (and the whole series, if there isn't enough history)
// are nil: a simple average seeds the first value, then every
// subsequent value uses Wilder's exponential smoothing.
func Calculate(closes []float64, period int) []*float64 {
	results := make([]*float64, len(closes))
	if len(closes) < period+1 {
		return results
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = -change
		}
	}

	if len(gains) < period {
		return results
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	results[period] = rsiValue(avgGain, avgLoss)

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		results[i+1] = rsiValue(avgGain, avgLoss)
	}

	return results
}

func rsiValue(avgGain, avgLoss float64) *float64 {
	v := 100.0 // no losses: RS is unbounded and RSI saturates at 100
	if avgLoss != 0 {
		rs := avgGain / avgLoss
		v = 100.0 - (100.0 / (1.0 + rs))
	}
	return &v
}

// RecalculateRange loads closes for (provider, symbol, timeframe) in
// [startMs, endMs], computes RSI over them, and upserts every non-nil
// value into rsi_values. Returns the count of values written.
func RecalculateRange(s store, key model.Key, period int, startMs, endMs int64) (int, error) {
	candles, err := s.RangeScan(key.Provider, key.Symbol, key.Timeframe, startMs, endMs)
	if err != nil {
		return 0, fmt.Errorf("rsi range scan: %w", err)
	}
	if len(candles) < period+1 {
		return 0, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	values := Calculate(closes, period)
	count := 0
	for i, v := range values {
		if v == nil {
			continue
		}
		if err := s.UpsertRSI(key.Provider, key.Symbol, key.Timeframe, period, candles[i].OpenTime, *v); err != nil {
			return count, fmt.Errorf("rsi upsert: %w", err)
		}
		count++
	}
	return count, nil
}
