package realtime

import (
	"context"

	"candle-retriever/internal/model"
	"candle-retriever/internal/timeframe"
)

// startTask launches a stream task for key if one is not already active.
// Only ever called from the manager's command loop, so no lock is needed
// on the registry itself.
func (m *Manager) startTask(ctx context.Context, key streamKey) {
	if _, active := m.registry[key]; active {
		return // idempotent: duplicate subscribe is a no-op
	}
	taskCtx, cancel := context.WithCancel(ctx)
	m.registry[key] = cancel
	go m.runTask(taskCtx, key)
}

// stopTask cancels the task for key and evicts its cache entry. A no-op
// if key has no active task.
func (m *Manager) stopTask(key streamKey) {
	cancel, active := m.registry[key]
	if !active {
		return
	}
	cancel()
	delete(m.registry, key)

	m.cacheMu.Lock()
	delete(m.cache, key)
	m.cacheMu.Unlock()
}

// runTask is the per-(symbol, timeframe) stream loop: open the kline
// stream, and for each tick, replace the cache entry and publish an
// update. A closed tick triggers a non-blocking persistence job. The
// task stops, with no resource leaks, when ctx is cancelled — the
// underlying stream's OpenKlineStream already closes its channel on
// cancellation, which ends this loop.
func (m *Manager) runTask(ctx context.Context, key streamKey) {
	ticks, err := m.streamer.OpenKlineStream(ctx, key.Symbol, key.Timeframe)
	if err != nil {
		m.log.Error("failed to open kline stream", "symbol", key.Symbol, "timeframe", key.Timeframe, "error", err)
		return
	}

	for tick := range ticks {
		candle := model.RealtimeCandle{
			TimeSeconds: tick.OpenTimeMs / 1000,
			Open:        tick.Open,
			High:        tick.High,
			Low:         tick.Low,
			Close:       tick.Close,
			Volume:      tick.Volume,
			IsClosed:    tick.IsClosed,
		}

		m.cacheMu.Lock()
		m.cache[key] = candle
		m.cacheMu.Unlock()

		m.broadcaster.publish(model.CandleUpdate{
			Symbol:    key.Symbol,
			Timeframe: key.Timeframe,
			Candle:    candle,
		})

		if tick.IsClosed {
			go m.persistClosedCandle(key, tick)
		}
	}
}

// persistClosedCandle inserts a closed candle in a separate, non-blocking
// job: the websocket tick carries no quote_asset_volume / taker_buy_*
// fields, so those persist as zero, and interpolated is always false.
// insert-ignore means a duplicate close for the same open_time (e.g. a
// reconnect replaying the final tick) creates no duplicate row.
func (m *Manager) persistClosedCandle(key streamKey, tick streamTick) {
	st, err := m.openStore(key.Symbol)
	if err != nil {
		m.log.Error("persist closed candle: open store failed", "symbol", key.Symbol, "error", err)
		return
	}
	defer st.Close()

	candle := model.Candle{
		Provider:  m.provider,
		Symbol:    key.Symbol,
		Timeframe: key.Timeframe,
		OpenTime:  tick.OpenTimeMs,
		CloseTime: timeframe.CloseTime(tick.OpenTimeMs, key.Timeframe),
		Open:      tick.Open,
		High:      tick.High,
		Low:       tick.Low,
		Close:     tick.Close,
		Volume:    tick.Volume,
	}

	if _, err := st.InsertBatch([]model.Candle{candle}); err != nil {
		m.log.Error("persist closed candle: insert failed", "symbol", key.Symbol, "timeframe", key.Timeframe, "error", err)
	}
}
