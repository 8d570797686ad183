package httpapi

import (
	"candle-retriever/internal/model"
	"candle-retriever/internal/store/sqlite"
	"candle-retriever/internal/timeframe"
)

// resampleScanLimit bounds how many source-timeframe candles a downsample
// pass will read before aggregating.
const resampleScanLimit = 50_000

// downsample finds the largest stored timeframe strictly smaller than
// target (chosen among all stored timeframes, without regard to the
// requested range), scans up to resampleScanLimit of its candles in
// range, and aggregates them into target-timeframe buckets. If that
// timeframe has no candles in range, the result is empty.
func (s *Server) downsample(store *sqlite.Store, symbol, target string, startMs, endMs int64, limit int) ([]apiCandle, error) {
	smaller, err := findSmallerTimeframe(store, s.Provider, symbol, target)
	if err != nil {
		return nil, err
	}
	if smaller == "" {
		return nil, nil
	}

	source, err := store.RangeScanLimit(s.Provider, symbol, smaller, startMs, endMs, resampleScanLimit, 0)
	if err != nil {
		return nil, err
	}
	if len(source) == 0 {
		return nil, nil
	}

	targetInterval := timeframe.Interval(target)
	buckets := aggregateIntoBuckets(source, targetInterval)
	if len(buckets) > limit {
		buckets = buckets[:limit]
	}
	return buckets, nil
}

// findSmallerTimeframe returns the largest stored timeframe strictly
// smaller than target that actually has rows, or "" if none qualifies.
func findSmallerTimeframe(store *sqlite.Store, provider, symbol, target string) (string, error) {
	stored, err := store.DistinctTimeframes(provider, symbol)
	if err != nil {
		return "", err
	}

	targetInterval := timeframe.Interval(target)
	best := ""
	var bestInterval int64
	for _, tf := range stored {
		interval := timeframe.Interval(tf)
		if interval < targetInterval && interval > bestInterval {
			best = tf
			bestInterval = interval
		}
	}
	return best, nil
}

func aggregateIntoBuckets(source []model.Candle, targetIntervalMs int64) []apiCandle {
	var out []apiCandle
	var group []model.Candle
	groupStart := bucketStart(source[0].OpenTime, targetIntervalMs)

	flush := func() {
		if len(group) == 0 {
			return
		}
		out = append(out, aggregateGroup(group, groupStart))
		group = group[:0]
	}

	for _, c := range source {
		start := bucketStart(c.OpenTime, targetIntervalMs)
		if start != groupStart {
			flush()
			groupStart = start
		}
		group = append(group, c)
	}
	flush()

	return out
}

func bucketStart(openTimeMs, intervalMs int64) int64 {
	return (openTimeMs / intervalMs) * intervalMs
}

func aggregateGroup(group []model.Candle, bucketStartMs int64) apiCandle {
	agg := apiCandle{
		Time:  bucketStartMs / 1000,
		Open:  group[0].Open,
		Close: group[len(group)-1].Close,
		High:  group[0].High,
		Low:   group[0].Low,
	}
	for _, c := range group {
		if c.High > agg.High {
			agg.High = c.High
		}
		if c.Low < agg.Low {
			agg.Low = c.Low
		}
		agg.Volume += c.Volume
	}
	return agg
}
