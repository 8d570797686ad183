// Package gapfill detects missing candles inside a stored time window and
// synthesizes them by linear interpolation between the candles bracketing
// each gap.
package gapfill

import (
	"candle-retriever/internal/model"
	"candle-retriever/internal/timeframe"
)

// store is the subset of internal/store/sqlite.Store this package needs,
// kept narrow so gap-fill can be unit tested against a fake.
type store interface {
	RangeScan(provider, symbol, timeframe string, startMs, endMs int64) ([]model.Candle, error)
	InsertBatch(rows []model.Candle) (int, error)
}

// Fill loads the candles already stored for key in [startMs, endMs], and
// for every consecutive pair whose open_time gap exceeds one interval,
// inserts the missing candles via linear interpolation. Returns the
// number of rows inserted. Insertion uses upsert-ignore so a concurrent
// real fetch covering the same range cannot be clobbered.
func Fill(s store, key model.Key, startMs, endMs int64) (int, error) {
	candles, err := s.RangeScan(key.Provider, key.Symbol, key.Timeframe, startMs, endMs)
	if err != nil {
		return 0, err
	}
	if len(candles) < 2 {
		return 0, nil
	}

	interval := timeframe.Interval(key.Timeframe)
	var synthetic []model.Candle

	for i := 0; i < len(candles)-1; i++ {
		current, next := candles[i], candles[i+1]
		diff := next.OpenTime - current.OpenTime
		if diff <= interval {
			continue
		}
		missing := diff/interval - 1
		for j := int64(1); j <= missing; j++ {
			ratio := float64(j) / float64(missing+1)
			synthetic = append(synthetic, interpolate(current, next, ratio, j, interval))
		}
	}

	if len(synthetic) == 0 {
		return 0, nil
	}
	return s.InsertBatch(synthetic)
}

// CountGaps is Fill's read-only counterpart: it returns the number of
// missing candles in [startMs, endMs] without writing anything.
func CountGaps(s store, key model.Key, startMs, endMs int64) (int64, error) {
	candles, err := s.RangeScan(key.Provider, key.Symbol, key.Timeframe, startMs, endMs)
	if err != nil {
		return 0, err
	}
	if len(candles) < 2 {
		return 0, nil
	}

	interval := timeframe.Interval(key.Timeframe)
	var total int64
	for i := 0; i < len(candles)-1; i++ {
		diff := candles[i+1].OpenTime - candles[i].OpenTime
		if diff > interval {
			total += diff/interval - 1
		}
	}
	return total, nil
}

// interpolate computes the synthetic candle at position j out of
// missing+1 steps between current and next: value = a + (b - a) * ratio
// for every numeric field. open_time is derived as current.OpenTime +
// j*interval using pure integer arithmetic so it always lands on an
// exact multiple of interval, never a floating-point-rounded
// approximation of one. number_of_trades interpolates in floating point
// then truncates to an integer.
func interpolate(current, next model.Candle, ratio float64, j, interval int64) model.Candle {
	openTime := current.OpenTime + j*interval

	lerp := func(a, b float64) float64 { return a + (b-a)*ratio }

	trades := float64(current.NumberOfTrades) + (float64(next.NumberOfTrades)-float64(current.NumberOfTrades))*ratio

	return model.Candle{
		Provider:              current.Provider,
		Symbol:                current.Symbol,
		Timeframe:             current.Timeframe,
		OpenTime:              openTime,
		CloseTime:             openTime + interval - 1,
		Open:                  lerp(current.Open, next.Open),
		High:                  lerp(current.High, next.High),
		Low:                   lerp(current.Low, next.Low),
		Close:                 lerp(current.Close, next.Close),
		Volume:                lerp(current.Volume, next.Volume),
		QuoteAssetVolume:      lerp(current.QuoteAssetVolume, next.QuoteAssetVolume),
		NumberOfTrades:        int64(trades),
		TakerBuyBaseAssetVol:  lerp(current.TakerBuyBaseAssetVol, next.TakerBuyBaseAssetVol),
		TakerBuyQuoteAssetVol: lerp(current.TakerBuyQuoteAssetVol, next.TakerBuyQuoteAssetVol),
		Interpolated:          true,
	}
}
