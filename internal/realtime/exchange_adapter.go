package realtime

import (
	"context"

	"candle-retriever/internal/exchange"
)

// ExchangeStreamer adapts *exchange.Client to this package's streamer
// interface, translating exchange.KlineTick to the package-local
// streamTick so realtime's public API does not leak exchange's type.
type ExchangeStreamer struct {
	Client *exchange.Client
}

func (e ExchangeStreamer) OpenKlineStream(ctx context.Context, symbol, tf string) (<-chan streamTick, error) {
	src, err := e.Client.OpenKlineStream(ctx, symbol, tf)
	if err != nil {
		return nil, err
	}
	out := make(chan streamTick, cap(src))
	go func() {
		defer close(out)
		for t := range src {
			out <- streamTick{
				OpenTimeMs: t.OpenTimeMs,
				Open:       t.Open,
				High:       t.High,
				Low:        t.Low,
				Close:      t.Close,
				Volume:     t.Volume,
				IsClosed:   t.IsClosed,
			}
		}
	}()
	return out, nil
}
