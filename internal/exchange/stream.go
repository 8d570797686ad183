package exchange

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
)

// ReconnectDelay is the fixed backoff after any transport failure,
// matching the source's 5s reconnect sleep for realtime kline streams.
const ReconnectDelay = 5 * time.Second

// KlineTick is one decoded event from a live kline stream: the current
// (possibly still-open) candle plus whether it has closed.
type KlineTick struct {
	Symbol      string
	Timeframe   string
	OpenTimeMs  int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	IsClosed    bool
}

// OpenKlineStream returns a channel of decoded ticks for (symbol, tf).
// The stream is restartable: on any transport failure it waits
// ReconnectDelay and reopens, transparently to the caller, until ctx is
// cancelled. The returned channel is closed exactly once, when ctx is
// done.
func (c *Client) OpenKlineStream(ctx context.Context, symbol, tf string) (<-chan KlineTick, error) {
	out := make(chan KlineTick, 16)
	go c.runStream(ctx, symbol, tf, out)
	return out, nil
}

func (c *Client) runStream(ctx context.Context, symbol, tf string, out chan<- KlineTick) {
	defer close(out)

	for {
		if ctx.Err() != nil {
			return
		}

		doneC, stopC, err := binance.WsKlineServe(symbol, tf, func(event *binance.WsKlineEvent) {
			tick, ok := decodeTick(symbol, tf, event, c.log)
			if !ok {
				return
			}
			select {
			case out <- tick:
			case <-ctx.Done():
			}
		}, func(err error) {
			c.log.Warn("kline stream error", "symbol", symbol, "timeframe", tf, "error", err)
		})
		if err != nil {
			c.log.Warn("kline stream open failed", "symbol", symbol, "timeframe", tf, "error", err)
			c.countReconnect()
			if !sleepOrDone(ctx, ReconnectDelay) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			close(stopC)
			return
		case <-doneC:
			c.log.Info("kline stream closed, reconnecting", "symbol", symbol, "timeframe", tf)
			c.countReconnect()
			if !sleepOrDone(ctx, ReconnectDelay) {
				return
			}
		}
	}
}

func decodeTick(symbol, tf string, event *binance.WsKlineEvent, log *slog.Logger) (KlineTick, bool) {
	k := event.Kline
	parse := func(field, raw string) float64 {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Warn("malformed kline tick field", "error", (&MalformedRowError{Field: field, Raw: raw}).Error())
			return 0
		}
		return v
	}
	return KlineTick{
		Symbol:     strings.ToUpper(symbol),
		Timeframe:  tf,
		OpenTimeMs: k.StartTime,
		Open:       parse("open", k.Open),
		High:       parse("high", k.High),
		Low:        parse("low", k.Low),
		Close:      parse("close", k.Close),
		Volume:     parse("volume", k.Volume),
		IsClosed:   k.IsFinal,
	}, true
}

// countReconnect increments ExchangeReconnects when Metrics is wired.
func (c *Client) countReconnect() {
	if c.Metrics != nil {
		c.Metrics.ExchangeReconnects.Inc()
	}
}

// sleepOrDone waits for d or ctx cancellation, whichever first. Returns
// false if ctx was cancelled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
