// Package timeframe maps timeframe tags to their interval length and
// formats the timestamps candles are keyed by.
package timeframe

import "time"

// intervalsMs is the enumerated set of supported timeframe tags mapped
// to their interval length in milliseconds.
var intervalsMs = map[string]int64{
	"1m":  60_000,
	"3m":  180_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"2h":  7_200_000,
	"4h":  14_400_000,
	"6h":  21_600_000,
	"8h":  28_800_000,
	"12h": 43_200_000,
	"1d":  86_400_000,
	"3d":  259_200_000,
	"1w":  604_800_000,
	"1M":  2_592_000_000,
}

// defaultIntervalMs is returned for any tag not in the enumerated set.
// This is a total function with no failure mode: unrecognized tags fall
// back to the conservative 5-minute default rather than erroring.
const defaultIntervalMs = 300_000

// Interval returns the interval length in milliseconds for tag. Unknown
// tags return the 5-minute default.
func Interval(tag string) int64 {
	if ms, ok := intervalsMs[tag]; ok {
		return ms
	}
	return defaultIntervalMs
}

// SupportedTags lists all enumerated timeframe tags, used as the default
// timeframe subset for the backfill driver when the caller specifies none.
func SupportedTags() []string {
	return []string{
		"1m", "3m", "5m", "15m", "30m",
		"1h", "2h", "4h", "6h", "8h", "12h",
		"1d", "3d", "1w", "1M",
	}
}

// CloseTime derives the close_time for a candle given its open_time and
// timeframe: close_time = open_time + interval - 1.
func CloseTime(openTimeMs int64, tag string) int64 {
	return openTimeMs + Interval(tag) - 1
}

// AlignedOpenTime floors ts (ms) to the nearest interval boundary for tag.
func AlignedOpenTime(ts int64, tag string) int64 {
	interval := Interval(tag)
	return (ts / interval) * interval
}

// FormatMillis renders an epoch-millisecond timestamp as RFC3339 UTC.
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
