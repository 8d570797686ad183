package backfill

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"candle-retriever/internal/model"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memStore is a minimal in-memory stand-in for internal/store/sqlite.Store.
// Rows are unique per (timeframe, open_time), and a mutex makes it safe
// for the driver's parallel per-timeframe work units.
type memStore struct {
	mu       sync.Mutex
	rows     map[rowKey]model.Candle
	progress map[string]int64
	rsi      map[int64]float64
}

type rowKey struct {
	tf       string
	openTime int64
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[rowKey]model.Candle), progress: make(map[string]int64), rsi: make(map[int64]float64)}
}

func progKey(provider, symbol, tf string) string { return provider + "|" + symbol + "|" + tf }

func (m *memStore) InsertBatch(rows []model.Candle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range rows {
		k := rowKey{tf: c.Timeframe, openTime: c.OpenTime}
		if _, exists := m.rows[k]; exists {
			continue
		}
		m.rows[k] = c
		n++
	}
	return n, nil
}

func (m *memStore) ReadProgress(provider, symbol, tf string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.progress[progKey(provider, symbol, tf)]
	return v, ok, nil
}

func (m *memStore) UpdateProgress(provider, symbol, tf string, oldest int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[progKey(provider, symbol, tf)] = oldest
	return nil
}

func (m *memStore) UpsertRSI(provider, symbol, tf string, period int, openTime int64, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rsi[openTime] = value
	return nil
}

func (m *memStore) RangeScan(provider, symbol, tf string, startMs, endMs int64) ([]model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candle
	for _, c := range m.rows {
		if c.Timeframe == tf && c.OpenTime >= startMs && c.OpenTime <= endMs {
			out = append(out, c)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].OpenTime < out[j-1].OpenTime; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// pagedExchange serves fixed pages of candles then an empty page,
// mimicking the seed "idempotent backfill" scenario.
type pagedExchange struct {
	pages    [][]model.Candle
	page     int
	onceDone bool
}

func (p *pagedExchange) FetchKlines(ctx context.Context, symbol, tf string, limit int, endTimeMs int64) ([]model.Candle, error) {
	if p.page >= len(p.pages) {
		return nil, nil
	}
	out := p.pages[p.page]
	p.page++
	return out, nil
}

func makePage(startIdx int, n int, tf string) []model.Candle {
	interval := int64(3_600_000) // 1h
	base := int64(1_700_000_000_000)
	out := make([]model.Candle, 0, n)
	for i := 0; i < n; i++ {
		ot := base - int64(startIdx+i)*interval
		out = append(out, model.Candle{
			Provider: "binance", Symbol: "BTCUSDT", Timeframe: tf,
			OpenTime: ot, CloseTime: ot + interval - 1,
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 1,
		})
	}
	return out
}

func TestFetchOneBatchExhaustsOnEmptyPage(t *testing.T) {
	st := newMemStore()
	ex := &pagedExchange{pages: [][]model.Candle{}}
	f := &Fetcher{Store: st, Exchange: ex, Log: testLogger()}
	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "1h"}

	inserted, exhausted, err := f.FetchOneBatch(context.Background(), key, 0)
	if err != nil {
		t.Fatalf("FetchOneBatch: %v", err)
	}
	if inserted != 0 || !exhausted {
		t.Fatalf("FetchOneBatch on empty exchange = (%d, %v), want (0, true)", inserted, exhausted)
	}
}

func TestFetchOneBatchProgressMonotone(t *testing.T) {
	st := newMemStore()
	ex := &pagedExchange{pages: [][]model.Candle{
		makePage(0, 1000, "1h"),
		makePage(1000, 1000, "1h"),
	}}
	f := &Fetcher{Store: st, Exchange: ex, Log: testLogger()}
	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "1h"}

	_, _, err := f.FetchOneBatch(context.Background(), key, 0)
	if err != nil {
		t.Fatalf("FetchOneBatch (1): %v", err)
	}
	first, _, _ := st.ReadProgress("binance", "BTCUSDT", "1h")

	_, _, err = f.FetchOneBatch(context.Background(), key, 0)
	if err != nil {
		t.Fatalf("FetchOneBatch (2): %v", err)
	}
	second, _, _ := st.ReadProgress("binance", "BTCUSDT", "1h")

	if second >= first {
		t.Fatalf("progress cursor moved forward: first=%d second=%d, want second < first", first, second)
	}
}

func TestFetchOneBatchFloorReached(t *testing.T) {
	st := newMemStore()
	page := makePage(0, 10, "1h")
	ex := &pagedExchange{pages: [][]model.Candle{page}}
	f := &Fetcher{Store: st, Exchange: ex, Log: testLogger()}
	key := model.Key{Provider: "binance", Symbol: "BTCUSDT", Timeframe: "1h"}

	oldest := page[len(page)-1].OpenTime
	for _, c := range page {
		if c.OpenTime < oldest {
			oldest = c.OpenTime
		}
	}

	_, exhausted, err := f.FetchOneBatch(context.Background(), key, oldest)
	if err != nil {
		t.Fatalf("FetchOneBatch: %v", err)
	}
	if !exhausted {
		t.Fatal("expected exhausted=true when floor_ms equals oldest fetched")
	}
}
