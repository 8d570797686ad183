package rsi

import (
	"math"
	"testing"

	"candle-retriever/internal/model"
)

func TestCalculateShortSeriesAllNil(t *testing.T) {
	closes := []float64{1, 2, 3}
	got := Calculate(closes, 14)
	for i, v := range got {
		if v != nil {
			t.Errorf("index %d: got %v, want nil (series shorter than period)", i, *v)
		}
	}
}

func TestCalculateKnownSeries(t *testing.T) {
	// A monotonically increasing series has zero losses, so RSI should
	// saturate at 100 once the seed window is past.
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	got := Calculate(closes, 14)

	for i := 0; i < 14; i++ {
		if got[i] != nil {
			t.Errorf("index %d should be nil (before period), got %v", i, *got[i])
		}
	}
	if got[14] == nil {
		t.Fatal("index 14 should hold the first RSI value")
	}
	if math.Abs(*got[14]-100.0) > 1e-9 {
		t.Errorf("first RSI on an all-gains series = %v, want 100", *got[14])
	}
}

type fakeStore struct {
	candles []model.Candle
	written map[int64]float64
}

func (f *fakeStore) RangeScan(provider, symbol, timeframe string, startMs, endMs int64) ([]model.Candle, error) {
	return f.candles, nil
}

func (f *fakeStore) UpsertRSI(provider, symbol, timeframe string, period int, openTime int64, value float64) error {
	if f.written == nil {
		f.written = make(map[int64]float64)
	}
	f.written[openTime] = value
	return nil
}

func TestRecalculateRangeInsufficientData(t *testing.T) {
	f := &fakeStore{candles: []model.Candle{{OpenTime: 1, Close: 10}}}
	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "5m"}

	n, err := RecalculateRange(f, key, 14, 0, 100)
	if err != nil {
		t.Fatalf("RecalculateRange: %v", err)
	}
	if n != 0 {
		t.Fatalf("RecalculateRange with insufficient data = %d, want 0", n)
	}
}

func TestRecalculateRangeWritesValues(t *testing.T) {
	candles := make([]model.Candle, 20)
	for i := range candles {
		candles[i] = model.Candle{OpenTime: int64(i), Close: float64(i + 1)}
	}
	f := &fakeStore{candles: candles}
	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "5m"}

	n, err := RecalculateRange(f, key, 14, 0, 19)
	if err != nil {
		t.Fatalf("RecalculateRange: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one RSI value written")
	}
	if len(f.written) != n {
		t.Fatalf("written count mismatch: len(written)=%d, n=%d", len(f.written), n)
	}
}
