package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"candle-retriever/internal/model"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeStreamer emits a scripted sequence of ticks per (symbol, tf) then
// blocks until ctx is cancelled, mimicking an idle live stream.
type fakeStreamer struct {
	mu     sync.Mutex
	ticks  map[streamKey][]streamTick
}

func (f *fakeStreamer) OpenKlineStream(ctx context.Context, symbol, tf string) (<-chan streamTick, error) {
	f.mu.Lock()
	ticks := f.ticks[streamKey{Symbol: symbol, Timeframe: tf}]
	f.mu.Unlock()

	out := make(chan streamTick, len(ticks)+1)
	go func() {
		defer close(out)
		for _, t := range ticks {
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return out, nil
}

// fakePersistStore records inserted candles in memory.
type fakePersistStore struct {
	mu   sync.Mutex
	rows []model.Candle
}

func (f *fakePersistStore) InsertBatch(rows []model.Candle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range rows {
		dup := false
		for _, existing := range f.rows {
			if existing.OpenTime == c.OpenTime && existing.Timeframe == c.Timeframe {
				dup = true
				break
			}
		}
		if !dup {
			f.rows = append(f.rows, c)
			n++
		}
	}
	return n, nil
}

func (f *fakePersistStore) Close() error { return nil }

func (f *fakePersistStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func TestRealtimeSubscribeIdempotent(t *testing.T) {
	st := &fakeStreamer{ticks: map[streamKey][]streamTick{}}
	m := New("binance", st, func(string) (PersistStore, error) { return &fakePersistStore{}, nil }, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Subscribe(ctx, "BTCUSDT", []string{"5m"})
	m.Subscribe(ctx, "BTCUSDT", []string{"5m"}) // duplicate: must be a no-op, not a second task

	m.cacheMu.RLock()
	_, exists := m.cache[streamKey{Symbol: "BTCUSDT", Timeframe: "5m"}]
	m.cacheMu.RUnlock()
	_ = exists // no ticks were scripted, so nothing in cache yet; just checking no panic/deadlock

	m.Unsubscribe(ctx, "BTCUSDT", []string{"5m"})
}

func TestRealtimePersistsClosedCandleOnce(t *testing.T) {
	key := streamKey{Symbol: "BTCUSDT", Timeframe: "5m"}
	ps := &fakePersistStore{}
	st := &fakeStreamer{ticks: map[streamKey][]streamTick{
		key: {
			{OpenTimeMs: 1_700_000_000_000, Close: 100, IsClosed: false},
			{OpenTimeMs: 1_700_000_000_000, Close: 101, IsClosed: false},
			{OpenTimeMs: 1_700_000_000_000, Close: 102, IsClosed: false},
			{OpenTimeMs: 1_700_000_000_000, Close: 103, IsClosed: false},
			{OpenTimeMs: 1_700_000_000_000, Close: 104, IsClosed: true},
			{OpenTimeMs: 1_700_000_300_000, Close: 105, IsClosed: false},
		},
	}}
	m := New("binance", st, func(string) (PersistStore, error) { return ps, nil }, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Subscribe(ctx, "BTCUSDT", []string{"5m"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ps.count() >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if ps.count() != 1 {
		t.Fatalf("persisted row count = %d, want 1", ps.count())
	}

	candles := m.GetCandles("BTCUSDT", []string{"5m"})
	c, ok := candles["5m"]
	if !ok {
		t.Fatal("expected a cached candle for BTCUSDT/5m")
	}
	if c.Close != 105 {
		t.Errorf("cached candle should reflect the latest tick (close=105), got %v", c.Close)
	}
}

func TestRealtimeBroadcastSubscription(t *testing.T) {
	key := streamKey{Symbol: "ETHUSDT", Timeframe: "1m"}
	st := &fakeStreamer{ticks: map[streamKey][]streamTick{
		key: {{OpenTimeMs: 1_700_000_000_000, Close: 50, IsClosed: false}},
	}}
	m := New("binance", st, func(string) (PersistStore, error) { return &fakePersistStore{}, nil }, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	sub := m.SubscribeUpdates()
	defer sub.Close()

	m.Subscribe(ctx, "ETHUSDT", []string{"1m"})

	select {
	case update := <-sub.C:
		if update.Symbol != "ETHUSDT" || update.Timeframe != "1m" {
			t.Errorf("unexpected update: %+v", update)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast update")
	}
}
