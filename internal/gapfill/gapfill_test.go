package gapfill

import (
	"testing"

	"candle-retriever/internal/model"
)

// fakeStore is an in-memory stand-in for internal/store/sqlite.Store,
// keyed by open_time, so Fill/CountGaps can be tested without touching
// disk.
type fakeStore struct {
	rows map[int64]model.Candle
}

func newFakeStore() *fakeStore { return &fakeStore{rows: make(map[int64]model.Candle)} }

func (f *fakeStore) RangeScan(provider, symbol, timeframe string, startMs, endMs int64) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range f.rows {
		if c.Provider == provider && c.Symbol == symbol && c.Timeframe == timeframe &&
			c.OpenTime >= startMs && c.OpenTime <= endMs {
			out = append(out, c)
		}
	}
	// simple insertion sort by OpenTime, good enough for small test fixtures
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].OpenTime < out[j-1].OpenTime; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (f *fakeStore) InsertBatch(rows []model.Candle) (int, error) {
	inserted := 0
	for _, c := range rows {
		if _, exists := f.rows[c.OpenTime]; exists {
			continue
		}
		f.rows[c.OpenTime] = c
		inserted++
	}
	return inserted, nil
}

const baseMs = int64(1_700_000_000_000)

func seedCandle(f *fakeStore, idx int, open float64) {
	ot := baseMs + int64(idx)*300_000
	f.rows[ot] = model.Candle{
		Provider: "binance", Symbol: "BTCUSDT", Timeframe: "5m",
		OpenTime: ot, CloseTime: ot + 300_000 - 1,
		Open: open, High: open + 2, Low: open - 1, Close: open + 1,
		Volume: 10, NumberOfTrades: 5,
	}
}

func TestFillSeedScenario(t *testing.T) {
	f := newFakeStore()
	// indices {0..4, 10..12, 16..18} at 5m spacing, open = 100 + 2*idx
	indices := []int{0, 1, 2, 3, 4, 10, 11, 12, 16, 17, 18}
	for _, idx := range indices {
		seedCandle(f, idx, 100+2*float64(idx))
	}

	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "5m"}
	filled, err := Fill(f, key, baseMs, baseMs+18*300_000)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if filled != 8 {
		t.Fatalf("Fill() = %d, want 8 (5 between idx4-10, 3 between idx12-16)", filled)
	}
	if len(f.rows) != 19 {
		t.Fatalf("final row count = %d, want 19", len(f.rows))
	}

	// Row at index 5: open = 108 + (120-108)*(1/6) = 110   [a=idx4 open=108, b=idx10 open=120]
	want := 108 + (120-108)*(1.0/6.0)
	got := f.rows[baseMs+5*300_000].Open
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("row[5].Open = %v, want %v", got, want)
	}

	for ot, c := range f.rows {
		isSeed := false
		for _, idx := range indices {
			if baseMs+int64(idx)*300_000 == ot {
				isSeed = true
				break
			}
		}
		if isSeed && c.Interpolated {
			t.Errorf("seed row at %d should not be interpolated", ot)
		}
		if !isSeed && !c.Interpolated {
			t.Errorf("synthetic row at %d should be interpolated", ot)
		}
	}
}

func TestFillExactlyOneIntervalGapProducesZeroFills(t *testing.T) {
	f := newFakeStore()
	seedCandle(f, 0, 100)
	seedCandle(f, 1, 102)

	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "5m"}
	filled, err := Fill(f, key, baseMs, baseMs+300_000)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if filled != 0 {
		t.Fatalf("Fill() on adjacent candles = %d, want 0", filled)
	}
}

func TestFillIsIdempotentAgainstConcurrentRealFill(t *testing.T) {
	f := newFakeStore()
	seedCandle(f, 0, 100)
	seedCandle(f, 5, 110)

	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "5m"}
	if _, err := Fill(f, key, baseMs, baseMs+5*300_000); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	// Simulate a real fetch landing one of the gap slots before the
	// second fill pass runs.
	realOpenTime := baseMs + 2*300_000
	real := f.rows[realOpenTime]
	real.Interpolated = false
	real.Open = 999
	f.rows[realOpenTime] = real

	if _, err := Fill(f, key, baseMs, baseMs+5*300_000); err != nil {
		t.Fatalf("Fill (second pass): %v", err)
	}
	if f.rows[realOpenTime].Open != 999 {
		t.Errorf("second Fill pass overwrote a real candle at %d", realOpenTime)
	}
}

// TestFillOpenTimeIsExactIntegerMultiple reproduces a gap size where
// ratio*interval does not round-trip exactly in floating point (interval
// 300000ms, 10 missing candles), and checks every synthetic open_time is
// still an exact a.open_time + k*interval rather than a
// float-truncated neighbor.
func TestFillOpenTimeIsExactIntegerMultiple(t *testing.T) {
	f := newFakeStore()
	seedCandle(f, 0, 100)
	seedCandle(f, 11, 200) // 11 intervals apart -> 10 missing candles

	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "5m"}
	filled, err := Fill(f, key, baseMs, baseMs+11*300_000)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if filled != 10 {
		t.Fatalf("Fill() = %d, want 10", filled)
	}

	const interval = int64(300_000)
	for k := int64(1); k <= 10; k++ {
		want := baseMs + k*interval
		if _, ok := f.rows[want]; !ok {
			t.Errorf("missing synthetic row at exact open_time %d (k=%d)", want, k)
		}
	}
}

func TestCountGaps(t *testing.T) {
	f := newFakeStore()
	seedCandle(f, 0, 100)
	seedCandle(f, 3, 106)

	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "5m"}
	n, err := CountGaps(f, key, baseMs, baseMs+3*300_000)
	if err != nil {
		t.Fatalf("CountGaps: %v", err)
	}
	if n != 2 {
		t.Fatalf("CountGaps = %d, want 2", n)
	}
	if len(f.rows) != 2 {
		t.Fatalf("CountGaps must not write rows, got %d rows", len(f.rows))
	}
}
