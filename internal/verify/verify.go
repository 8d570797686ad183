// Package verify scans stored candles for a (provider, symbol, timeframe)
// series and reports spacing anomalies: gaps (missing candles), overlaps
// (duplicated or out-of-order timestamps), and the expected-vs-actual
// candle count.
package verify

import (
	"fmt"

	"candle-retriever/internal/model"
	"candle-retriever/internal/timeframe"
)

// store is the subset of internal/store/sqlite.Store this package needs.
type store interface {
	RangeScan(provider, symbol, timeframe string, startMs, endMs int64) ([]model.Candle, error)
}

// Gap describes a span where more time elapsed between two consecutive
// candles than the timeframe's interval allows.
type Gap struct {
	AfterOpenTime  int64 `json:"after_open_time"`
	IntervalMs     int64 `json:"interval_ms"`
	ExpectedMs     int64 `json:"expected_ms"`
	MissingCandles int64 `json:"missing_candles"`
}

// Overlap describes a span shorter than the timeframe's interval,
// indicating a duplicate or misaligned open_time.
type Overlap struct {
	AfterOpenTime int64 `json:"after_open_time"`
	IntervalMs    int64 `json:"interval_ms"`
	ExpectedMs    int64 `json:"expected_ms"`
}

// Report summarizes the spacing of a stored candle series.
type Report struct {
	Provider          string    `json:"provider"`
	Symbol            string    `json:"symbol"`
	Timeframe         string    `json:"timeframe"`
	ExpectedIntervalMs int64    `json:"expected_interval_ms"`
	TotalCount        int       `json:"total_count"`
	ExpectedCount     int64     `json:"expected_count"`
	InterpolatedCount int       `json:"interpolated_count"`
	FirstOpenTime     int64     `json:"first_open_time"`
	LastOpenTime      int64     `json:"last_open_time"`
	Gaps              []Gap     `json:"gaps"`
	Overlaps          []Overlap `json:"overlaps"`
}

// Clean reports whether the series has no gaps and no overlaps.
func (r Report) Clean() bool {
	return len(r.Gaps) == 0 && len(r.Overlaps) == 0
}

// Run scans every candle for key in [startMs, endMs] and builds a Report.
func Run(s store, key model.Key, startMs, endMs int64) (Report, error) {
	expected := timeframe.Interval(key.Timeframe)

	candles, err := s.RangeScan(key.Provider, key.Symbol, key.Timeframe, startMs, endMs)
	if err != nil {
		return Report{}, fmt.Errorf("verify range scan: %w", err)
	}

	report := Report{
		Provider:           key.Provider,
		Symbol:             key.Symbol,
		Timeframe:          key.Timeframe,
		ExpectedIntervalMs: expected,
	}
	if len(candles) == 0 {
		return report, nil
	}

	report.FirstOpenTime = candles[0].OpenTime
	report.LastOpenTime = candles[len(candles)-1].OpenTime
	report.TotalCount = len(candles)
	if candles[0].Interpolated {
		report.InterpolatedCount++
	}

	var previous int64 = candles[0].OpenTime
	for i := 1; i < len(candles); i++ {
		current := candles[i].OpenTime
		if candles[i].Interpolated {
			report.InterpolatedCount++
		}

		interval := current - previous
		switch {
		case interval > expected:
			report.Gaps = append(report.Gaps, Gap{
				AfterOpenTime:  previous,
				IntervalMs:     interval,
				ExpectedMs:     expected,
				MissingCandles: interval/expected - 1,
			})
		case interval < expected:
			report.Overlaps = append(report.Overlaps, Overlap{
				AfterOpenTime: previous,
				IntervalMs:    interval,
				ExpectedMs:    expected,
			})
		}

		previous = current
	}

	duration := report.LastOpenTime - report.FirstOpenTime
	report.ExpectedCount = duration/expected + 1

	return report, nil
}
